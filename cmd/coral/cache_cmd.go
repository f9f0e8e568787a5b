package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coralrun/coral/internal/cache"
)

// cmdCache inspects or clears the local bundle/image cache indexes.
func cmdCache(args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: coral cache <list|clear>"))
	}
	switch args[0] {
	case "list":
		cmdCacheList()
	case "clear":
		cmdCacheClear()
	default:
		fatal(fmt.Errorf("usage: coral cache <list|clear>"))
	}
}

func cmdCacheList() {
	bundleIdx, err := cache.BundleIndex()
	if err != nil {
		fatal(err)
	}
	imageIdx, err := cache.ImageIndex()
	if err != nil {
		fatal(err)
	}
	fmt.Println("bundles:")
	for hash, entry := range bundleIdx.All() {
		fmt.Printf("  %s  %s\n", hash, entry.URI)
	}
	fmt.Println("images:")
	for hash, entry := range imageIdx.All() {
		fmt.Printf("  %s  %s\n", hash, entry.URI)
	}
}

func cmdCacheClear() {
	dir, err := cache.Dir()
	if err != nil {
		fatal(err)
	}
	for _, name := range []string{"bundles.json", "images.json"} {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fatal(err)
		}
	}
	fmt.Println("cache cleared")
}

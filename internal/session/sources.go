package session

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/coralrun/coral/internal/bundler"
	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
)

// resolveLocalSources turns an ImageSpec's LocalSources (plus, when
// includeSource is set, the function's own source file) into bundler
// roots for sync mode and a LocalSource list for copy mode. A
// LocalSource name is a filesystem path. If it names a directory, the
// directory is the root; if it names a file, the file's parent
// directory is the root. Two LocalSources that resolve to the same
// root are merged by taking the union of their ignore patterns (last
// writer does not simply win). os.Stat follows a symlink named
// directly as a LocalSource when deciding whether it is a directory;
// symlinks found inside a root are not followed by the bundler's walk.
func resolveLocalSources(image coralspec.ImageSpec, includeSourceFile string, includeSource bool) (syncRoots []bundler.Root, copySources []coralspec.LocalSource, err error) {
	type merged struct {
		ignore map[string]struct{}
		order  []string
	}
	syncByPath := make(map[string]*merged)
	copyByName := make(map[string]coralspec.LocalSource)

	addSync := func(resolvedPath string, ignore []string) {
		m, ok := syncByPath[resolvedPath]
		if !ok {
			m = &merged{ignore: make(map[string]struct{})}
			syncByPath[resolvedPath] = m
		}
		for _, pat := range ignore {
			if _, seen := m.ignore[pat]; !seen {
				m.ignore[pat] = struct{}{}
				m.order = append(m.order, pat)
			}
		}
	}

	for _, src := range image.LocalSources {
		root, statErr := resolveSourceRoot(src.Name)
		if statErr != nil {
			return nil, nil, statErr
		}
		switch src.Mode {
		case coralspec.SourceCopy:
			copyByName[src.Name] = coralspec.LocalSource{Name: root, Mode: coralspec.SourceCopy, Ignore: src.Ignore}
		default:
			addSync(root, src.Ignore)
		}
	}

	if includeSource && includeSourceFile != "" {
		root, statErr := resolveSourceRoot(includeSourceFile)
		if statErr != nil {
			return nil, nil, statErr
		}
		addSync(root, nil)
	}

	var paths []string
	for p := range syncByPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		m := syncByPath[p]
		sort.Strings(m.order)
		syncRoots = append(syncRoots, bundler.Root{Path: p, ExtraIgnore: m.order})
	}

	var copyNames []string
	for name := range copyByName {
		copyNames = append(copyNames, name)
	}
	sort.Strings(copyNames)
	for _, name := range copyNames {
		copySources = append(copySources, copyByName[name])
	}

	return syncRoots, copySources, nil
}

// resolveSourceRoot resolves name to an absolute directory: name itself
// if it is a directory, or its parent if it is a file.
func resolveSourceRoot(name string) (string, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", coralerr.Wrap(coralerr.PackagingError, "resolve local source "+name, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", coralerr.Wrap(coralerr.PackagingError, "stat local source "+name, err)
	}
	if info.IsDir() {
		return abs, nil
	}
	return filepath.Dir(abs), nil
}

// extraRootsKey produces bundleKey.extraRoots: a deterministic string
// from a set of sync roots, used only for cache-key equality, never
// for path resolution.
func extraRootsKey(roots []bundler.Root) string {
	names := make([]string, len(roots))
	for i, r := range roots {
		names[i] = r.Path
	}
	sort.Strings(names)
	out := ""
	for _, n := range names {
		out += n + "\x1f"
	}
	return out
}

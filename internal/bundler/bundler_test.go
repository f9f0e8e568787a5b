package bundler

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readArchive(t *testing.T, path string) ([]string, []byte) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var names []string
	var manifest []byte
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
		if hdr.Name == "coral_manifest.json" {
			manifest, _ = io.ReadAll(tr)
		}
	}
	return names, manifest
}

func TestBundleIgnoresCoralignorePatterns(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "pkg")
	writeFile(t, filepath.Join(pkgDir, "__init__.py"), "value = 42\n")
	writeFile(t, filepath.Join(pkgDir, "ignore.me"), "ignored\n")
	writeFile(t, filepath.Join(pkgDir, ".coralignore"), "ignore.me\n")

	result, err := Bundle([]Root{{Path: pkgDir}}, "0.0.0")
	if err != nil {
		t.Fatal(err)
	}

	names, manifestJSON := readArchive(t, result.Path)
	hasInit, hasIgnoreMe, hasCoralignore := false, false, false
	for _, n := range names {
		switch n {
		case "pkg/__init__.py":
			hasInit = true
		case "pkg/ignore.me":
			hasIgnoreMe = true
		case "pkg/.coralignore":
			hasCoralignore = true
		}
	}
	if !hasInit {
		t.Fatalf("expected pkg/__init__.py in archive, got %v", names)
	}
	if !hasCoralignore {
		t.Fatalf("expected pkg/.coralignore in archive, got %v", names)
	}
	if hasIgnoreMe {
		t.Fatalf("expected pkg/ignore.me to be excluded, got %v", names)
	}

	var manifest struct {
		Version string   `json:"version"`
		Ignore  []string `json:"ignore"`
	}
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		t.Fatal(err)
	}
	if manifest.Version != "0.0.0" {
		t.Fatalf("expected manifest version 0.0.0, got %q", manifest.Version)
	}
	found := false
	for _, p := range manifest.Ignore {
		if p == "ignore.me" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ignore.me pattern in manifest ignore list, got %v", manifest.Ignore)
	}
}

func TestBundleDeterministic(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "a.py"), "a = 1\n")
	writeFile(t, filepath.Join(dir, "src", "b.py"), "b = 2\n")

	r1, err := Bundle([]Root{{Path: filepath.Join(dir, "src")}}, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	b1, err := os.ReadFile(r1.Path)
	if err != nil {
		t.Fatal(err)
	}

	r2, err := Bundle([]Root{{Path: filepath.Join(dir, "src")}}, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(r2.Path)
	if err != nil {
		t.Fatal(err)
	}

	if r1.Hash != r2.Hash {
		t.Fatalf("expected identical hash, got %s vs %s", r1.Hash, r2.Hash)
	}
	if !bytes.Equal(decompress(t, b1), decompress(t, b2)) {
		t.Fatalf("expected byte-identical archives")
	}
}

func decompress(t *testing.T, b []byte) []byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestBundleEmptyRootsFails(t *testing.T) {
	if _, err := Bundle(nil, "1.0.0"); err == nil {
		t.Fatal("expected error for empty roots")
	}
}

func TestBundlePrunesDenylistedDirectories(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	root := filepath.Join(dir, "proj")
	writeFile(t, filepath.Join(root, "main.py"), "print(1)\n")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(root, "__pycache__", "main.cpython-311.pyc"), "junk")

	result, err := Bundle([]Root{{Path: root}}, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	names, _ := readArchive(t, result.Path)
	for _, n := range names {
		if n == ".git/HEAD" || n == "proj/.git/HEAD" {
			t.Fatalf("expected .git contents pruned, got %v", names)
		}
	}
}

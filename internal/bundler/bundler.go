// Package bundler produces a deterministic, content-addressed tar.gz
// archive of one or more source roots, per spec.md §4.1. Archive
// bytes and the resulting hash are independent of file mtimes, uids,
// and gids: every header is normalized before writing.
package bundler

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
)

// defaultDenylist mirrors the built-in ignore set spec.md §4.1
// requires regardless of any .gitignore/.coralignore present.
var defaultDenylist = []string{
	".git",
	".git/**",
	".venv",
	".venv/**",
	"__pycache__",
	"__pycache__/**",
	"**/__pycache__/**",
	"*.pyc",
	"node_modules",
	"node_modules/**",
	".idea",
	".idea/**",
	".vscode",
	".vscode/**",
	"build",
	"build/**",
	"dist",
	"dist/**",
}

// Root is one source tree to include in the bundle.
type Root struct {
	// Path is the absolute filesystem path to walk.
	Path string
	// ExtraIgnore are additional glob patterns layered on top of the
	// built-in denylist and any .gitignore/.coralignore found in Path.
	ExtraIgnore []string
}

type entry struct {
	archiveName string
	sourcePath  string
}

// Bundle walks roots depth-first, prunes ignored directories, and
// writes a deterministic tar.gz with a trailing coral_manifest.json
// entry. It fails with a PackagingError if roots is empty.
func Bundle(roots []Root, toolVersion string) (coralspec.BundleResult, error) {
	if len(roots) == 0 {
		return coralspec.BundleResult{}, coralerr.New(coralerr.PackagingError, "bundler: no source roots given")
	}

	var allEntries []entry
	var rootNames []string
	var allIgnorePatterns []string

	for _, root := range roots {
		absRoot, err := filepath.Abs(root.Path)
		if err != nil {
			return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "resolve root "+root.Path, err)
		}
		baseName := filepath.Base(absRoot)
		rootNames = append(rootNames, baseName)

		patterns := append([]string{}, defaultDenylist...)
		patterns = append(patterns, readIgnoreFile(filepath.Join(absRoot, ".gitignore"))...)
		patterns = append(patterns, readIgnoreFile(filepath.Join(absRoot, ".coralignore"))...)
		patterns = append(patterns, root.ExtraIgnore...)
		allIgnorePatterns = append(allIgnorePatterns, patterns...)

		rootEntries, err := walkRoot(absRoot, baseName, patterns)
		if err != nil {
			return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "walk root "+root.Path, err)
		}
		allEntries = append(allEntries, rootEntries...)
	}

	sort.Slice(allEntries, func(i, j int) bool { return allEntries[i].archiveName < allEntries[j].archiveName })

	manifest := coralspec.BundleManifest{
		Version: toolVersion,
		Roots:   rootNames,
		Ignore:  sortedUnique(allIgnorePatterns),
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "encode manifest", err)
	}

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, e := range allEntries {
		if err := writeTarEntry(tw, e); err != nil {
			return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "write "+e.archiveName, err)
		}
	}
	if err := tw.WriteHeader(normalizedHeader("coral_manifest.json", int64(len(manifestJSON)))); err != nil {
		return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "write manifest header", err)
	}
	if _, err := tw.Write(manifestJSON); err != nil {
		return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "write manifest body", err)
	}
	if err := tw.Close(); err != nil {
		return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "close tar", err)
	}
	tarBytes := tarBuf.Bytes()

	hashInput := append(append([]byte{}, tarBytes...), manifestJSON...)
	sum := sha256.Sum256(hashInput)
	hash := hex.EncodeToString(sum[:])

	path, err := writeGzip(tarBytes, hash)
	if err != nil {
		return coralspec.BundleResult{}, coralerr.Wrap(coralerr.PackagingError, "write archive", err)
	}

	return coralspec.BundleResult{Path: path, Hash: hash, Manifest: manifest}, nil
}

func walkRoot(absRoot, baseName string, patterns []string) ([]entry, error) {
	var out []entry
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absRoot {
			return nil
		}
		rel, relErr := filepath.Rel(absRoot, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if matchesAny(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		out = append(out, entry{
			archiveName: path.Join(baseName, rel),
			sourcePath:  p,
		})
		return nil
	})
	return out, err
}

func matchesAny(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// A bare name like "build" should also match as a path-segment
		// prefix, the way .gitignore treats directory names without slashes.
		if ok, _ := doublestar.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}

func readIgnoreFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func normalizedHeader(name string, size int64) *tar.Header {
	return &tar.Header{
		Name:  name,
		Size:  size,
		Mode:  0644,
		Uid:   0,
		Gid:   0,
		Uname: "root",
		Gname: "root",
		// ModTime left at zero value: normalized, per spec.md §4.1.
	}
}

func writeTarEntry(tw *tar.Writer, e entry) error {
	info, err := os.Lstat(e.sourcePath)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(e.sourcePath)
		if err != nil {
			return err
		}
		hdr := normalizedHeader(e.archiveName, 0)
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		return tw.WriteHeader(hdr)
	}
	hdr := normalizedHeader(e.archiveName, info.Size())
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(e.sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// writeGzip compresses tarBytes into the per-user scratch bundle file
// named in spec.md §6 ("bundle.tar.gz — scratch workspace for the most
// recent bundle") and returns its path.
func writeGzip(tarBytes []byte, hash string) (string, error) {
	dir, err := scratchDir()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "bundle.tar.gz")
	tmp := dest + ".tmp-" + hash[:12]

	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(tarBytes); err != nil {
		gz.Close()
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return dest, nil
}

func scratchDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".coral", "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

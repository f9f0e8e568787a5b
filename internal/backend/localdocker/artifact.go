package localdocker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
)

// PutBundle copies the bundler's scratch archive into a content
// addressed location under the driver's state directory: the scratch
// file bundler.Bundle writes is reused across calls and would
// otherwise be clobbered before a later call can reference it.
func (d *Driver) PutBundle(ctx context.Context, path, hash string) (coralspec.BundleRef, error) {
	destDir := filepath.Join(d.stateDir, "bundles")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return coralspec.BundleRef{}, err
	}
	dest := filepath.Join(destDir, hash+".tar.gz")
	if _, err := os.Stat(dest); err == nil {
		return coralspec.BundleRef{URI: "file://" + dest, Hash: hash}, nil
	}
	if err := copyFile(path, dest); err != nil {
		return coralspec.BundleRef{}, coralerr.Wrap(coralerr.ArtifactError, "store bundle", err)
	}
	return coralspec.BundleRef{URI: "file://" + dest, Hash: hash}, nil
}

// ResultURI returns the file path a call's worker should upload its
// result to, wrapped in a file:// URI.
func (d *Driver) ResultURI(ctx context.Context, callID string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(d.resultPath(callID)), 0o755); err != nil {
		return "", err
	}
	return "file://" + d.resultPath(callID), nil
}

// GetResult reads a result previously uploaded to a file:// URI.
func (d *Driver) GetResult(ctx context.Context, ref string) ([]byte, error) {
	p := strings.TrimPrefix(ref, "file://")
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, coralerr.Wrap(coralerr.ArtifactError, "read result", err)
	}
	return b, nil
}

// SignedURL is unsupported for a local backend: callers should use
// GetResult directly.
func (d *Driver) SignedURL(ctx context.Context, uri string, ttlSeconds int, method string) (string, bool, error) {
	return "", false, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

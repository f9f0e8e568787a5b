package jobsim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coralrun/coral/internal/coralspec"
)

// PutBundle re-homes the bundler's scratch file into a content-addressed
// path under the driver's state directory, the same move localdocker
// makes: the bundler always writes to one mutable filename, so a later
// bundle call must not be allowed to invalidate an earlier reference.
func (d *Driver) PutBundle(ctx context.Context, path, hash string) (coralspec.BundleRef, error) {
	dst := d.bundlePath(hash)
	if _, err := os.Stat(dst); err == nil {
		return coralspec.BundleRef{URI: "file://" + dst, Hash: hash}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return coralspec.BundleRef{}, err
	}
	if err := copyFile(path, dst); err != nil {
		return coralspec.BundleRef{}, err
	}
	return coralspec.BundleRef{URI: "file://" + dst, Hash: hash}, nil
}

// ResultURI reports where Submit will ask the simulated worker to
// deposit callID's result.
func (d *Driver) ResultURI(ctx context.Context, callID string) (string, error) {
	return "file://" + d.resultPath(callID), nil
}

// GetResult reads back a result written by a file:// ref.
func (d *Driver) GetResult(ctx context.Context, ref string) ([]byte, error) {
	return os.ReadFile(strings.TrimPrefix(ref, "file://"))
}

// SignedURL fabricates a short-lived presigned-style URL the way a
// real object store would, so callers exercising the signed-URL path
// (e.g. handing a result link to an external viewer) have something
// realistic to work against even against the in-process simulator.
func (d *Driver) SignedURL(ctx context.Context, uri string, ttlSeconds int, method string) (string, bool, error) {
	expires := time.Now().Add(time.Duration(ttlSeconds) * time.Second).Unix()
	sum := sha256.Sum256([]byte(uri + method + strconv.FormatInt(expires, 10)))
	sig := hex.EncodeToString(sum[:])[:16]
	return fmt.Sprintf("%s?method=%s&expires=%d&sig=%s", uri, method, expires, sig), true, nil
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

// Command coral-worker is the static binary that runs inside a
// resolved image (or on the host, in no-build mode) to materialize a
// bundle, resolve the target callable from the compiled-in registry,
// invoke it, and write back a result. It speaks the env-var protocol
// described in spec.md §6: CALLSPEC_B64 plus RUNTIME_SETUP_B64,
// BUNDLE_URI/BUNDLE_B64(_CHUNKS), and RESULT_URI.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/worker"

	// A real deployment's build step generates an init()-only package
	// here that calls worker.Register for every bundled callable; user
	// code is out of core scope (spec.md §1), so none is wired in.
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func main() {
	if os.Getenv("VERBOSE") == "1" {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "coral-worker")

	env := environMap()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := worker.Deps{
		FetchBundle:       fetchBundle,
		UploadResult:      uploadResult,
		ApplyRuntimeSetup: worker.ApplyHostRuntimeSetup,
	}

	code := worker.Run(ctx, env, deps, os.Stdout)
	if code != 0 {
		log.WithField("exit_code", code).Warn("call did not complete successfully")
	}
	os.Exit(code)
}

func environMap() map[string]string {
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// fetchBundle supports file:// (no-build/local-docker binds) and
// http(s):// (remote artifact stores) URIs.
func fetchBundle(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return os.ReadFile(strings.TrimPrefix(uri, "file://"))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, coralerr.New(coralerr.ArtifactError, "fetch bundle: unexpected status "+resp.Status)
		}
		return io.ReadAll(resp.Body)
	default:
		return nil, coralerr.New(coralerr.ArtifactError, "unsupported BUNDLE_URI scheme: "+uri)
	}
}

// uploadResult mirrors fetchBundle's scheme support for RESULT_URI.
func uploadResult(ctx context.Context, uri string, data []byte) error {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return os.WriteFile(strings.TrimPrefix(uri, "file://"), data, 0o644)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, strings.NewReader(string(data)))
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return coralerr.New(coralerr.ArtifactError, "upload result: unexpected status "+resp.Status)
		}
		return nil
	default:
		return coralerr.New(coralerr.ArtifactError, "unsupported RESULT_URI scheme: "+uri)
	}
}

package worker

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/protocol"
)

// defaultBundleDest is where the bundle is materialized inside the
// container, per design notes §9: a sibling directory of the worker's
// own sources, never one of the user's sync roots, to avoid shadowing.
const defaultBundleDest = "/opt/coral/src"

// Deps are the worker's external side effects, injected so Run can be
// exercised in-process by the worker tests (spec.md scenario 4) and by
// the jobsim backend without a real container or network.
type Deps struct {
	// FetchBundle retrieves the tar.gz bytes named by BUNDLE_URI.
	FetchBundle func(ctx context.Context, uri string) ([]byte, error)
	// UploadResult uploads result bytes to RESULT_URI.
	UploadResult func(ctx context.Context, uri string, data []byte) error
	// BundleDest overrides defaultBundleDest, for tests.
	BundleDest string
	// ApplyRuntimeSetup performs the no-build-mode setup described by a
	// decoded RuntimeSetup. Nil is a valid no-op default.
	ApplyRuntimeSetup func(ctx context.Context, rs protocol.RuntimeSetup) error
}

// Run executes the full worker algorithm against env (a getenv-style
// lookup) and returns the process exit code per spec.md §6: 0 success,
// 1 the call raised, other values a worker-internal error.
func Run(ctx context.Context, env map[string]string, deps Deps, stdout io.Writer) int {
	result, stdoutMode, err := run(ctx, env, deps)
	if err != nil {
		writeMarkerIfNeeded(stdout, env, stdoutMode, false, []byte(err.Error()))
		return exitCodeFor(err)
	}
	writeMarkerIfNeeded(stdout, env, stdoutMode, result.success, result.output)
	if !result.success {
		return 1
	}
	return 0
}

type invocationResult struct {
	success bool
	output  []byte
}

func run(ctx context.Context, env map[string]string, deps Deps) (invocationResult, string, error) {
	callSpecB64 := env["CALLSPEC_B64"]
	if strings.TrimSpace(callSpecB64) == "" {
		return invocationResult{}, "", coralerr.New(coralerr.ProtocolError, "CALLSPEC_B64 is required")
	}
	raw, err := base64.StdEncoding.DecodeString(callSpecB64)
	if err != nil {
		return invocationResult{}, "", coralerr.Wrap(coralerr.ProtocolError, "decode CALLSPEC_B64", err)
	}
	callSpec, err := protocol.FromJSON(raw)
	if err != nil {
		return invocationResult{}, string(callSpec.StdoutMode), err
	}
	stdoutMode := string(callSpec.StdoutMode)

	if setupB64, ok := env["RUNTIME_SETUP_B64"]; ok && setupB64 != "" {
		rs, err := protocol.DecodeRuntimeSetup(setupB64)
		if err != nil {
			return invocationResult{}, stdoutMode, err
		}
		if deps.ApplyRuntimeSetup != nil {
			if err := deps.ApplyRuntimeSetup(ctx, rs); err != nil {
				return invocationResult{}, stdoutMode, coralerr.Wrap(coralerr.ProtocolError, "apply runtime setup", err)
			}
		}
	}

	dest := deps.BundleDest
	if dest == "" {
		dest = defaultBundleDest
	}
	if err := materializeBundle(ctx, env, deps, dest); err != nil {
		return invocationResult{}, stdoutMode, err
	}

	fn, err := Lookup(callSpec.Module, callSpec.QualifiedName)
	if err != nil {
		return invocationResult{}, stdoutMode, err
	}

	var args []any
	if callSpec.ArgsB64 != "" {
		if err := protocol.DecodeArgs(callSpec.ArgsB64, &args); err != nil {
			return invocationResult{}, stdoutMode, err
		}
	}
	var kwargs map[string]any
	if callSpec.KwargsB64 != "" {
		if err := protocol.DecodeKwargs(callSpec.KwargsB64, &kwargs); err != nil {
			return invocationResult{}, stdoutMode, err
		}
	}

	output, callErr := invoke(ctx, fn, args, kwargs)
	result := invocationResult{success: callErr == nil}
	if callErr != nil {
		result.output = []byte(callErr.Error())
	} else {
		result.output = output
	}

	resultURI := env["RESULT_URI"]
	if resultURI != "" && deps.UploadResult != nil {
		if err := deps.UploadResult(ctx, resultURI, result.output); err != nil {
			return result, stdoutMode, coralerr.Wrap(coralerr.ArtifactError, "upload result", err)
		}
	}

	if !result.success {
		return result, stdoutMode, coralerr.New(coralerr.CallError, string(result.output))
	}
	return result, stdoutMode, nil
}

// invoke calls fn, converting a panic into a CallError the way the
// Python worker converts an uncaught exception into a traceback.
func invoke(ctx context.Context, fn Func, args []any, kwargs map[string]any) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = coralerr.New(coralerr.CallError, fmt.Sprintf("panic: %v", r))
		}
	}()
	value, callErr := fn(ctx, args, kwargs)
	if callErr != nil {
		return nil, coralerr.New(coralerr.CallError, callErr.Error())
	}
	encoded, encErr := protocol.EncodeValue(value)
	if encErr != nil {
		return nil, encErr
	}
	return encoded, nil
}

func materializeBundle(ctx context.Context, env map[string]string, deps Deps, dest string) error {
	var tarGz []byte
	switch {
	case env["BUNDLE_B64"] != "":
		decoded, err := base64.StdEncoding.DecodeString(env["BUNDLE_B64"])
		if err != nil {
			return coralerr.Wrap(coralerr.ProtocolError, "decode BUNDLE_B64", err)
		}
		tarGz = decoded
	case env["BUNDLE_B64_CHUNKS"] != "":
		count, err := strconv.Atoi(env["BUNDLE_B64_CHUNKS"])
		if err != nil {
			return coralerr.Wrap(coralerr.ProtocolError, "parse BUNDLE_B64_CHUNKS", err)
		}
		joined, err := protocol.JoinEnvChunks("BUNDLE_B64", count, func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		})
		if err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(joined)
		if err != nil {
			return coralerr.Wrap(coralerr.ProtocolError, "decode chunked bundle", err)
		}
		tarGz = decoded
	case env["BUNDLE_URI"] != "":
		if deps.FetchBundle == nil {
			return coralerr.New(coralerr.ArtifactError, "BUNDLE_URI set but no fetcher configured")
		}
		fetched, err := deps.FetchBundle(ctx, env["BUNDLE_URI"])
		if err != nil {
			return coralerr.Wrap(coralerr.ArtifactError, "fetch bundle", err)
		}
		tarGz = fetched
	default:
		// No bundle shipped: acceptable when the callable needs no
		// sync sources (e.g. pure stdlib logic baked into the image).
		return nil
	}
	return extractTarGz(tarGz, dest)
}

func extractTarGz(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return coralerr.Wrap(coralerr.ArtifactError, "open bundle gzip", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return coralerr.Wrap(coralerr.ArtifactError, "read bundle tar", err)
		}
		if hdr.Name == "coral_manifest.json" {
			continue
		}
		target := filepath.Join(dest, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
	return nil
}

// SearchRoots lists dest and its direct subdirectories, skipping any
// that look like a Python package marker directory, for a caller
// wiring up a module search path. Go has no import-path equivalent at
// runtime, but the worker registry model still benefits callers that
// want to enumerate what shipped in a bundle (e.g. logging it).
func SearchRoots(dest string) ([]string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	roots := []string{dest}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "__pycache__" || strings.HasPrefix(name, ".") {
			continue
		}
		roots = append(roots, filepath.Join(dest, name))
	}
	return roots, nil
}

func writeMarkerIfNeeded(stdout io.Writer, env map[string]string, stdoutMode string, success bool, payload []byte) {
	if env["RESULT_STDOUT"] != "1" {
		return
	}
	_ = stdoutMode
	encoded := base64.StdEncoding.EncodeToString(payload)
	if success {
		fmt.Fprintf(stdout, "__CORAL_RESULT_B64__:%s\n", encoded)
	} else {
		fmt.Fprintf(stdout, "__CORAL_ERROR_B64__:%s\n", encoded)
	}
}

func exitCodeFor(err error) int {
	if coralerr.Is(err, coralerr.CallError) {
		return 1
	}
	return 2
}

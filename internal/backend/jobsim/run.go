package jobsim

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coralrun/coral/internal/backoff"
	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/protocol"
	"github.com/coralrun/coral/internal/worker"
)

// Submit records a SUBMITTED RunRecord and hands the call to a
// goroutine that drives it through worker.Run exactly as a real
// worker process would, reading CALLSPEC_B64/BUNDLE_URI/RESULT_URI
// from an env map instead of a container's environment.
func (d *Driver) Submit(ctx context.Context, call coralspec.CallSpec, image coralspec.ImageRef, bundle coralspec.BundleRef, resources coralspec.ResourceSpec, env map[string]string, labels map[string]string) (coralspec.RunHandle, error) {
	providerRef := d.nextProviderRef()
	runID := labels["run_id"]
	if runID == "" {
		runID = call.CallID
	}

	rec := coralspec.RunRecord{
		RunID:       runID,
		CallID:      call.CallID,
		ProviderRef: providerRef,
		State:       coralspec.RunSubmitted,
		SubmittedAt: time.Now(),
	}
	if err := d.runs.Set(providerRef, rec); err != nil {
		return coralspec.RunHandle{}, err
	}

	callSpecJSON, err := protocol.ToJSON(call)
	if err != nil {
		return coralspec.RunHandle{}, err
	}
	workerEnv := make(map[string]string, len(env)+3)
	for k, v := range env {
		workerEnv[k] = v
	}
	workerEnv["CALLSPEC_B64"] = base64.StdEncoding.EncodeToString(callSpecJSON)
	resultPath := strings.TrimPrefix(call.ResultRef, "file://")
	if resultPath == "" {
		resultPath = d.resultPath(call.CallID)
	}
	workerEnv["RESULT_URI"] = "file://" + resultPath
	if bundle.URI != "" {
		workerEnv["BUNDLE_URI"] = bundle.URI
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancels[providerRef] = cancel
	d.mu.Unlock()

	go d.run(runCtx, providerRef, workerEnv)

	return coralspec.RunHandle{RunID: runID, CallID: call.CallID, ProviderRef: providerRef}, nil
}

func (d *Driver) run(ctx context.Context, providerRef string, env map[string]string) {
	rec, _ := d.runs.Get(providerRef)
	rec.State = coralspec.RunRunning
	_ = d.runs.Set(providerRef, rec)

	deps := worker.Deps{
		FetchBundle: func(ctx context.Context, uri string) ([]byte, error) {
			return os.ReadFile(strings.TrimPrefix(uri, "file://"))
		},
		UploadResult: func(ctx context.Context, uri string, data []byte) error {
			path := strings.TrimPrefix(uri, "file://")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			return os.WriteFile(path, data, 0o644)
		},
	}

	code := worker.Run(ctx, env, deps, io.Discard)

	d.mu.Lock()
	delete(d.cancels, providerRef)
	d.mu.Unlock()

	rec, _ = d.runs.Get(providerRef)
	if rec.State == coralspec.RunStopped {
		return
	}
	now := time.Now()
	rec.CompletedAt = &now
	rec.Success = code == 0
	if rec.Success {
		rec.State = coralspec.RunSucceeded
	} else {
		rec.State = coralspec.RunFailed
	}
	if output, err := os.ReadFile(strings.TrimPrefix(env["RESULT_URI"], "file://")); err == nil {
		rec.Output = output
	}
	_ = d.runs.Set(providerRef, rec)
}

// Wait polls the RunRecord for a terminal state.
func (d *Driver) Wait(ctx context.Context, handle coralspec.RunHandle) (coralspec.RunResult, error) {
	rec, err := backoff.PollUntil(ctx, func(ctx context.Context) (coralspec.RunRecord, bool, error) {
		rec, ok := d.runs.Get(handle.ProviderRef)
		if !ok {
			return coralspec.RunRecord{}, false, coralerr.New(coralerr.ExecutorError, "unknown run "+handle.ProviderRef)
		}
		return rec, rec.State.Terminal(), nil
	})
	if err != nil {
		return coralspec.RunResult{}, err
	}
	if rec.State == coralspec.RunStopped {
		return coralspec.RunResult{CallID: handle.CallID, Success: false, Output: []byte("run stopped")}, nil
	}
	return coralspec.RunResult{CallID: handle.CallID, Success: rec.Success, Output: rec.Output}, nil
}

// Cancel stops a non-terminal run's goroutine and marks its record
// STOPPED. It is a no-op if the run already reached a terminal state.
func (d *Driver) Cancel(ctx context.Context, handle coralspec.RunHandle) error {
	rec, ok := d.runs.Get(handle.ProviderRef)
	if !ok {
		return coralerr.New(coralerr.ExecutorError, "unknown run "+handle.ProviderRef)
	}
	if rec.State.Terminal() {
		return nil
	}
	d.mu.Lock()
	cancel, ok := d.cancels[handle.ProviderRef]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	now := time.Now()
	rec.State = coralspec.RunStopped
	rec.CompletedAt = &now
	return d.runs.Set(handle.ProviderRef, rec)
}

// Stream has no log transport to offer: jobsim runs in-process rather
// than through a logged container, so it returns a channel that
// closes immediately.
func (d *Driver) Stream(ctx context.Context, handle coralspec.RunHandle) (<-chan string, error) {
	lines := make(chan string)
	close(lines)
	return lines, nil
}

// Cleanup drops the RunRecord once the caller is done with it, unless
// the run is detached and may still be polled later.
func (d *Driver) Cleanup(ctx context.Context, handle coralspec.RunHandle, detached bool) error {
	if detached {
		return nil
	}
	return d.runs.Delete(handle.ProviderRef)
}

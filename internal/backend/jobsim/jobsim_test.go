package jobsim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/protocol"
	"github.com/coralrun/coral/internal/worker"
)

func init() {
	worker.Register("jobsimtest", "double", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		n, _ := args[0].(int64)
		return n * 2, nil
	})
	worker.Register("jobsimtest", "boom", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, errJobsimBoom{}
	})
	worker.Register("jobsimtest", "slow", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return int64(1), nil
	})
}

type errJobsimBoom struct{}

func (errJobsimBoom) Error() string { return "boom" }

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func buildCall(t *testing.T, module, qualname string, args []any) coralspec.CallSpec {
	t.Helper()
	argsB64, err := protocol.EncodeArgs(args)
	if err != nil {
		t.Fatal(err)
	}
	kwargsB64, err := protocol.EncodeKwargs(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	return protocol.NewCallSpec(protocol.NewCallID(), module, qualname, argsB64, kwargsB64, "", coralspec.StdoutSwallow, map[string]string{})
}

func waitForTerminal(t *testing.T, d *Driver, handle coralspec.RunHandle) coralspec.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := d.Wait(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestSubmitAndWaitSucceeds(t *testing.T) {
	d := newTestDriver(t)
	call := buildCall(t, "jobsimtest", "double", []any{int64(21)})

	handle, err := d.Submit(context.Background(), call, coralspec.ImageRef{}, coralspec.BundleRef{}, coralspec.ResourceSpec{}, nil, map[string]string{"run_id": "r1"})
	if err != nil {
		t.Fatal(err)
	}

	result := waitForTerminal(t, d, handle)
	if !result.Success {
		t.Fatalf("expected success, got output %s", result.Output)
	}

	var decoded int64
	if err := protocol.DecodeValue(result.Output, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != 42 {
		t.Fatalf("expected 42, got %d", decoded)
	}
}

func TestSubmitAndWaitSurfacesCallError(t *testing.T) {
	d := newTestDriver(t)
	call := buildCall(t, "jobsimtest", "boom", nil)

	handle, err := d.Submit(context.Background(), call, coralspec.ImageRef{}, coralspec.BundleRef{}, coralspec.ResourceSpec{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := waitForTerminal(t, d, handle)
	if result.Success {
		t.Fatal("expected failure")
	}
}

func TestRunRecordPersistsAcrossIndexReopen(t *testing.T) {
	d := newTestDriver(t)
	call := buildCall(t, "jobsimtest", "double", []any{int64(1)})
	handle, err := d.Submit(context.Background(), call, coralspec.ImageRef{}, coralspec.BundleRef{}, coralspec.ResourceSpec{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	waitForTerminal(t, d, handle)

	reopened, err := New(Options{StateDir: d.stateDir})
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := reopened.runs.Get(handle.ProviderRef)
	if !ok {
		t.Fatal("expected run record to survive reopen")
	}
	if rec.State != coralspec.RunSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", rec.State)
	}
}

func TestCancelStopsBeforeCompletion(t *testing.T) {
	d := newTestDriver(t)
	call := buildCall(t, "jobsimtest", "slow", nil)
	handle, err := d.Submit(context.Background(), call, coralspec.ImageRef{}, coralspec.BundleRef{}, coralspec.ResourceSpec{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Cancel(context.Background(), handle); err != nil {
		t.Fatal(err)
	}
	rec, ok := d.runs.Get(handle.ProviderRef)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.State != coralspec.RunStopped {
		t.Fatalf("expected STOPPED, got %s", rec.State)
	}
}

func TestResolveImageIsDeterministicPerPlanHash(t *testing.T) {
	d := newTestDriver(t)
	spec := coralspec.ImageSpec{BaseImage: "scratch"}
	ref1, err := d.ResolveImage(context.Background(), spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := d.ResolveImage(context.Background(), spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ref1.URI != ref2.URI {
		t.Fatalf("expected stable image URI, got %q vs %q", ref1.URI, ref2.URI)
	}
}

func TestPutBundleIsIdempotentAndContentAddressed(t *testing.T) {
	d := newTestDriver(t)
	src := filepath.Join(t.TempDir(), "bundle.tar.gz")
	if err := os.WriteFile(src, []byte("fake-bundle"), 0o644); err != nil {
		t.Fatal(err)
	}
	ref1, err := d.PutBundle(context.Background(), src, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := d.PutBundle(context.Background(), src, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if ref1.URI != ref2.URI {
		t.Fatalf("expected stable bundle URI, got %q vs %q", ref1.URI, ref2.URI)
	}
}

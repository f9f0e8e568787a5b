package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/protocol"
)

func TestApplyHostRuntimeSetupExportsEnvAndChdir(t *testing.T) {
	dir := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })

	rs := protocol.RuntimeSetup{
		Env:     map[string]string{"CORAL_RUNTIME_TEST": "1"},
		Workdir: dir,
	}
	if err := ApplyHostRuntimeSetup(context.Background(), rs); err != nil {
		t.Fatal(err)
	}
	if os.Getenv("CORAL_RUNTIME_TEST") != "1" {
		t.Fatal("expected env var to be exported")
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	resolvedWd, _ := filepath.EvalSymlinks(wd)
	resolvedDir, _ := filepath.EvalSymlinks(dir)
	if resolvedWd != resolvedDir {
		t.Fatalf("expected cwd %q, got %q", resolvedDir, resolvedWd)
	}
}

func TestApplyHostRuntimeSetupNoopWithoutPackagesOrWorkdir(t *testing.T) {
	if err := ApplyHostRuntimeSetup(context.Background(), protocol.RuntimeSetup{}); err != nil {
		t.Fatal(err)
	}
}

func TestApplyHostRuntimeSetupInstallsRuntimeRequirementsBeforePackages(t *testing.T) {
	t.Setenv("PATH", "")
	rs := protocol.RuntimeSetup{
		RuntimeRequirements: []string{"coral-worker-runtime==1"},
		RuntimePackages:     []string{"numpy"},
	}
	err := ApplyHostRuntimeSetup(context.Background(), rs)
	if !coralerr.Is(err, coralerr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(err.Error(), "runtime requirements") {
		t.Fatalf("expected error to name the runtime-requirements install step, got %v", err)
	}
}

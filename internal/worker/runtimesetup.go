package worker

import (
	"context"
	"os"
	"os/exec"
	"sort"

	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/protocol"
)

// ApplyHostRuntimeSetup performs on the host what a built image would
// otherwise have baked in via its Dockerfile RUN lines: install
// system packages, install the worker runtime's own pinned
// requirements (the same fixed list internal/planhash bakes into
// every plan hash), install the image spec's runtime packages, export
// env vars, and chdir into the workdir. It is the cmd/coral-worker
// default for Deps.ApplyRuntimeSetup in no-build mode.
func ApplyHostRuntimeSetup(ctx context.Context, rs protocol.RuntimeSetup) error {
	if len(rs.SystemPackages) > 0 {
		args := append([]string{"install", "-y", "--no-install-recommends"}, rs.SystemPackages...)
		if out, err := exec.CommandContext(ctx, "apt-get", args...).CombinedOutput(); err != nil {
			return coralerr.Wrap(coralerr.ConfigError, "apt-get install: "+string(out), err)
		}
	}
	if len(rs.RuntimeRequirements) > 0 {
		if out, err := exec.CommandContext(ctx, "coral-runtime-install", rs.RuntimeRequirements...).CombinedOutput(); err != nil {
			return coralerr.Wrap(coralerr.ConfigError, "coral-runtime-install (runtime requirements): "+string(out), err)
		}
	}
	if len(rs.RuntimePackages) > 0 {
		if out, err := exec.CommandContext(ctx, "coral-runtime-install", rs.RuntimePackages...).CombinedOutput(); err != nil {
			return coralerr.Wrap(coralerr.ConfigError, "coral-runtime-install: "+string(out), err)
		}
	}
	keys := make([]string, 0, len(rs.Env))
	for k := range rs.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := os.Setenv(k, rs.Env[k]); err != nil {
			return err
		}
	}
	if rs.Workdir != "" {
		if err := os.Chdir(rs.Workdir); err != nil {
			return coralerr.Wrap(coralerr.ConfigError, "chdir to workdir", err)
		}
	}
	return nil
}

package session

import (
	"github.com/coralrun/coral/internal/backend"
)

// Options configures one run session, per spec.md §4.5.
type Options struct {
	Detached       bool
	Env            map[string]string
	Verbose        bool
	NoCache        bool
	StatusCallback backend.StatusFunc
	// WorkerRuntimeRoot, if set, is an absolute path to the worker
	// runtime's own source tree. It is appended as a sync root only
	// when a call runs in no-build mode, so the remote host can
	// materialize the runtime alongside the user's bundle (spec.md
	// §4.5 step 2).
	WorkerRuntimeRoot string
	// ToolVersion is recorded in every bundle manifest.
	ToolVersion string
}

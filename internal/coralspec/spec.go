// Package coralspec holds the immutable value types exchanged between
// user code, the run session, and the backend: image recipes,
// resource demands, function registrations, and the call envelope.
package coralspec

import (
	"sort"
	"time"
)

// SourceMode selects whether a LocalSource ships with the call
// (sync) or is baked into the image at build time (copy).
type SourceMode string

const (
	SourceSync SourceMode = "sync"
	SourceCopy SourceMode = "copy"
)

// LocalSource is one source root contributed to an ImageSpec.
type LocalSource struct {
	Name   string     `json:"name"`
	Mode   SourceMode `json:"mode"`
	Ignore []string   `json:"ignore"`
}

// ImageSpec is the immutable container-image recipe. Two specs that
// PlanHash identically MUST be interchangeable for caching purposes;
// see internal/planhash.
type ImageSpec struct {
	BaseImage      string            `json:"base_image"`
	RuntimeVersion string            `json:"runtime_version"`
	SystemPackages []string          `json:"system_packages"`
	RuntimePackages []string         `json:"runtime_packages"`
	Env            map[string]string `json:"env"`
	Workdir        string            `json:"workdir"`
	LocalSources   []LocalSource     `json:"local_sources"`
}

// ResourceSpec declares per-call resource demands.
type ResourceSpec struct {
	CPU            int    `json:"cpu"`
	Memory         string `json:"memory"`
	GPU            string `json:"gpu,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Retries        int    `json:"retries"`
}

// FunctionSpec is the registration of one callable. Immutable once
// added to an App (App.Register replaces wholesale on re-registration,
// it never mutates a previously returned FunctionSpec value).
type FunctionSpec struct {
	Name          string
	ModulePath    string
	QualifiedName string
	SourceFile    string
	Resources     ResourceSpec
	Image         *ImageSpec
	BuildImage    bool
}

// App is a named collection of function registrations sharing one
// default ImageSpec.
type App struct {
	Name          string
	Image         ImageSpec
	IncludeSource bool
	Functions     map[string]FunctionSpec

	// currentSession is the exclusive "current session" slot described
	// in spec.md §4.5 / §5. It is unexported: other packages set or
	// clear it only through TrySetSession/ClearSession below.
	currentSession any
}

// NewApp constructs an empty App ready for Register calls.
func NewApp(name string, image ImageSpec) *App {
	return &App{
		Name:      name,
		Image:     image,
		Functions: make(map[string]FunctionSpec),
	}
}

// Register adds or replaces a function registration by name.
func (a *App) Register(fn FunctionSpec) {
	a.Functions[fn.Name] = fn
}

// TrySetSession claims the App's session slot. It returns false if the
// slot is already occupied by any session, including this one
// (sessions do not nest on the same App).
func (a *App) TrySetSession(session any) bool {
	if a.currentSession != nil {
		return false
	}
	a.currentSession = session
	return true
}

// ClearSession releases the App's session slot. It is a no-op if the
// slot is already clear or held by a different session, so it is safe
// to call unconditionally from every exit path.
func (a *App) ClearSession(session any) {
	if a.currentSession == session {
		a.currentSession = nil
	}
}

// CurrentSession returns whatever session currently holds the App's
// slot, or nil.
func (a *App) CurrentSession() any { return a.currentSession }

// StdoutMode is the CallSpec's stdout_mode field. The worker does not
// act on it: result markers on stdout are governed by RESULT_STDOUT.
type StdoutMode string

const (
	StdoutStream  StdoutMode = "stream"
	StdoutSwallow StdoutMode = "swallow"
)

// ProtocolVersion is the frozen worker-protocol version this build speaks.
const ProtocolVersion = "1"

// CallSpec is the wire envelope a session hands to the backend and the
// worker decodes. Field names and JSON keys match spec.md §6's
// "CallSpec JSON (protocol v1)" table.
type CallSpec struct {
	CallID          string            `json:"call_id"`
	Module          string            `json:"module"`
	QualifiedName   string            `json:"qualname"`
	ArgsB64         string            `json:"args_b64"`
	KwargsB64       string            `json:"kwargs_b64"`
	Serialization   string            `json:"serialization"`
	ResultRef       string            `json:"result_ref,omitempty"`
	StdoutMode      StdoutMode        `json:"stdout_mode"`
	LogLabels       map[string]string `json:"log_labels"`
	ProtocolVersion string            `json:"protocol_version"`
}

// BundleRef identifies a reconciled bundle: where it lives and its
// content hash.
type BundleRef struct {
	URI  string `json:"uri"`
	Hash string `json:"hash"`
}

// ImageRef identifies a reconciled container image.
type ImageRef struct {
	URI      string            `json:"uri"`
	Digest   string            `json:"digest"`
	Metadata map[string]string `json:"metadata"`
}

// RunHandle is the backend-opaque token for one submitted call.
type RunHandle struct {
	RunID       string
	CallID      string
	ProviderRef string
}

// RunResult is the terminal outcome of a call.
type RunResult struct {
	CallID  string
	Success bool
	Output  []byte
}

// BundleManifest is the sorted-key JSON manifest written as the final
// entry of every bundle archive.
type BundleManifest struct {
	Version        string   `json:"version"`
	RuntimeVersion string   `json:"runtime_version"`
	Roots          []string `json:"roots"`
	Ignore         []string `json:"ignore"`
}

// BundleResult is the outcome of a bundler invocation.
type BundleResult struct {
	Path     string
	Hash     string
	Manifest BundleManifest
}

// RunState is the lifecycle state of a RunRecord tracked by a
// queue-style backend (one that accepts a call and executes it
// asynchronously rather than blocking Submit on completion).
type RunState string

const (
	RunSubmitted RunState = "SUBMITTED"
	RunRunning   RunState = "RUNNING"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
	RunStopped   RunState = "STOPPED"
)

// Terminal reports whether state is one a RunRecord will not leave on
// its own.
func (s RunState) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunStopped:
		return true
	default:
		return false
	}
}

// RunRecord is the persisted state of one call accepted by a
// queue-style backend. It is the unit jobsim's store keeps in its
// on-disk index, the way agents/resource-broker/main.go's request
// tracks one pending operation.
type RunRecord struct {
	RunID       string     `json:"run_id"`
	CallID      string     `json:"call_id"`
	ProviderRef string     `json:"provider_ref"`
	State       RunState   `json:"state"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Success     bool       `json:"success"`
	Output      []byte     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SortedEnvKeys returns env's keys sorted, a convenience used anywhere
// env needs a deterministic iteration order (hashing, log fields).
func SortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

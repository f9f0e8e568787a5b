// Package backend declares the capability contracts a compute
// backend must satisfy (spec.md §4.4). The run session treats any
// implementation polymorphically; optional capabilities are detected
// with a type assertion, per design notes §9.
package backend

import (
	"context"

	"github.com/coralrun/coral/internal/coralspec"
)

// ImageBuilder resolves an ImageSpec to a concrete ImageRef, building
// only on cache miss.
type ImageBuilder interface {
	ResolveImage(ctx context.Context, spec coralspec.ImageSpec, copySources []coralspec.LocalSource) (coralspec.ImageRef, error)
}

// ArtifactStore moves bundles to the backend and results back.
type ArtifactStore interface {
	PutBundle(ctx context.Context, path, hash string) (coralspec.BundleRef, error)
	GetResult(ctx context.Context, ref string) ([]byte, error)
	ResultURI(ctx context.Context, callID string) (string, error)
	SignedURL(ctx context.Context, uri string, ttlSeconds int, method string) (string, bool, error)
}

// Executor submits calls and waits for their terminal state.
type Executor interface {
	Submit(ctx context.Context, call coralspec.CallSpec, image coralspec.ImageRef, bundle coralspec.BundleRef, resources coralspec.ResourceSpec, env map[string]string, labels map[string]string) (coralspec.RunHandle, error)
	Wait(ctx context.Context, handle coralspec.RunHandle) (coralspec.RunResult, error)
	Cancel(ctx context.Context, handle coralspec.RunHandle) error
}

// LogStreamer tails a run's log lines. The returned channel is closed
// when the caller's context is cancelled or the backend determines
// there are no more lines to produce.
type LogStreamer interface {
	Stream(ctx context.Context, handle coralspec.RunHandle) (<-chan string, error)
}

// CleanupManager releases backend-side resources for a finished run.
type CleanupManager interface {
	Cleanup(ctx context.Context, handle coralspec.RunHandle, detached bool) error
}

// Backend bundles the five required capabilities. Concrete drivers
// embed this (or implement it directly) and may additionally satisfy
// StatusCallbackSetter / CustomTemplater below.
type Backend interface {
	ImageBuilder
	ArtifactStore
	Executor
	LogStreamer
	CleanupManager

	// SupportsNoBuild reports whether the backend can run a call
	// without a pre-built image (the "no-build capability" of spec.md
	// §4.5 step 2).
	SupportsNoBuild() bool
}

// StatusFunc receives session boundary events: "Uploading files",
// "Image ready", "Spawning container", "Container running", "Completed".
type StatusFunc func(event string, handle coralspec.RunHandle)

// StatusCallbackSetter is an optional capability: a backend that wants
// the session's status events.
type StatusCallbackSetter interface {
	SetStatusCallback(fn StatusFunc)
}

// CustomTemplater is an optional capability: a backend-side
// indirection mapping a registry image URI to a launchable template id.
type CustomTemplater interface {
	EnsureCustomTemplate(ctx context.Context, ref coralspec.ImageRef) (string, error)
}

// AsStatusCallbackSetter type-asserts b into the optional capability.
func AsStatusCallbackSetter(b Backend) (StatusCallbackSetter, bool) {
	s, ok := b.(StatusCallbackSetter)
	return s, ok
}

// AsCustomTemplater type-asserts b into the optional capability.
func AsCustomTemplater(b Backend) (CustomTemplater, bool) {
	c, ok := b.(CustomTemplater)
	return c, ok
}

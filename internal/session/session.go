// Package session implements the run session: the object that owns a
// backend for the duration of one or more Submit/Wait calls, reconciles
// bundles and images against the on-disk caches, and enforces the
// single-active-session-per-App rule (spec.md §4.5/§5).
package session

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coralrun/coral/internal/backend"
	"github.com/coralrun/coral/internal/cache"
	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/protocol"
)

// bundleKey identifies one reconciled bundle within a session, per
// spec.md §4.5: plan_hash, sync-vs-copy mode, storage mode, and the
// sorted set of extra roots layered on top of the function's own.
type bundleKey struct {
	planHash   string
	mode       string
	storage    string
	extraRoots string
}

// Session is the live handle returned by Open. It is not safe for
// concurrent Submit calls from multiple goroutines against the same
// function unless the backend itself tolerates it; the session's own
// bookkeeping (bundles/images maps) is mutex-guarded regardless.
type Session struct {
	backend backend.Backend
	app     *coralspec.App
	opts    Options
	runID   string
	log     *logrus.Entry

	mu      sync.Mutex
	bundles map[bundleKey]coralspec.BundleRef
	images  map[string]coralspec.ImageRef

	bundleIndex *cache.Index[cache.BundleEntry]
	imageIndex  *cache.Index[cache.ImageEntry]

	closed bool
}

// Open claims app's session slot and returns a Session bound to b. It
// fails with a ConfigError if app already has an active session.
func Open(b backend.Backend, app *coralspec.App, opts Options) (*Session, error) {
	s := &Session{
		backend: b,
		app:     app,
		opts:    opts,
		runID:   protocol.NewRunID(),
		bundles: make(map[bundleKey]coralspec.BundleRef),
		images:  make(map[string]coralspec.ImageRef),
		log:     logrus.WithField("run_id", ""),
	}
	if !app.TrySetSession(s) {
		return nil, coralerr.New(coralerr.ConfigError, fmt.Sprintf("app %q already has an active session", app.Name))
	}
	s.log = logrus.WithFields(logrus.Fields{"run_id": s.runID, "app": app.Name})

	bundleIdx, err := cache.BundleIndex()
	if err != nil {
		app.ClearSession(s)
		return nil, coralerr.Wrap(coralerr.ConfigError, "open bundle index", err)
	}
	imageIdx, err := cache.ImageIndex()
	if err != nil {
		app.ClearSession(s)
		return nil, coralerr.Wrap(coralerr.ConfigError, "open image index", err)
	}
	s.bundleIndex = bundleIdx
	s.imageIndex = imageIdx

	if setter, ok := backend.AsStatusCallbackSetter(b); ok && opts.StatusCallback != nil {
		setter.SetStatusCallback(opts.StatusCallback)
	}

	return s, nil
}

// Close releases the App's session slot. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.app.ClearSession(s)
	return nil
}

// RunID returns the session's run identifier, shared across every call
// submitted through it.
func (s *Session) RunID() string { return s.runID }

func (s *Session) emit(event string, handle coralspec.RunHandle) {
	if s.opts.StatusCallback != nil {
		s.opts.StatusCallback(event, handle)
	}
}

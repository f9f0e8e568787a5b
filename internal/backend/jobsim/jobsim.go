// Package jobsim implements backend.Backend as an in-process stand-in
// for a remote batch job queue: Submit enqueues a RunRecord and hands
// the call off to a goroutine immediately, the way a real provider
// would hand it to a worker fleet, while Wait polls the record for a
// terminal state. It is grounded in
// agents/resource-broker/main.go's store: a mutex-guarded map
// persisted to disk with a write-to-tmp-then-rename, here holding
// coralspec.RunRecord instead of a broker request. Unlike
// localdocker, jobsim never shells out to a container runtime; it
// drives the call through the same worker.Run contract a real worker
// process speaks, so the two backends exercise identical call
// semantics end to end.
package jobsim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coralrun/coral/internal/backend"
	"github.com/coralrun/coral/internal/cache"
	"github.com/coralrun/coral/internal/coralspec"
)

// Driver is a backend.Backend that simulates a remote job queue
// in-process, for demos and tests that want realistic async-submit
// semantics without a container runtime.
type Driver struct {
	stateDir string
	runs     *cache.Index[coralspec.RunRecord]
	log      *logrus.Entry

	mu       sync.Mutex
	nextID   int
	cancels  map[string]context.CancelFunc
	statusFn backend.StatusFunc
}

var _ backend.Backend = (*Driver)(nil)
var _ backend.StatusCallbackSetter = (*Driver)(nil)

// Options configures a Driver.
type Options struct {
	// StateDir holds the run index and artifact scratch files.
	// Defaults to ~/.coral/jobsim when empty.
	StateDir string
}

// New opens (or creates) a jobsim state directory and its run index.
func New(opts Options) (*Driver, error) {
	stateDir := opts.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		stateDir = filepath.Join(home, ".coral", "jobsim")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	runs, err := cache.Open[coralspec.RunRecord](filepath.Join(stateDir, "runs.json"))
	if err != nil {
		return nil, err
	}
	return &Driver{
		stateDir: stateDir,
		runs:     runs,
		log:      logrus.WithField("backend", "jobsim"),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// SetStatusCallback implements backend.StatusCallbackSetter.
func (d *Driver) SetStatusCallback(fn backend.StatusFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusFn = fn
}

// SupportsNoBuild reports true: jobsim has no build step of its own,
// so a no-build call costs it nothing extra.
func (d *Driver) SupportsNoBuild() bool { return true }

func (d *Driver) nextProviderRef() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return fmt.Sprintf("jobsim-%d", d.nextID)
}

func (d *Driver) bundlePath(hash string) string {
	return filepath.Join(d.stateDir, "bundles", hash+".tar.gz")
}

func (d *Driver) resultPath(callID string) string {
	return filepath.Join(d.stateDir, "results", callID+".bin")
}

// Runs returns every RunRecord currently tracked by the driver, keyed
// by provider ref. It backs the coral CLI's "jobs" listing.
func (d *Driver) Runs() map[string]coralspec.RunRecord {
	return d.runs.All()
}

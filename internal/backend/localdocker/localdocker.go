// Package localdocker implements backend.Backend against a local
// Docker Engine, the way a developer runs calls on their own machine
// before pointing a profile at a remote provider. It is grounded in
// agents/shared/docker/client.go's Client wrapper: connection
// negotiation, container exec, log draining, and container lifecycle
// all follow that file's shape, rewritten around coral's domain types
// instead of sandboxed dev-container workspaces.
package localdocker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"

	"github.com/coralrun/coral/internal/backend"
	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
)

// Driver is a backend.Backend that builds images and runs calls as
// local Docker containers.
type Driver struct {
	api                 *client.Client
	defaultRuntimeImage string
	stateDir            string
	log                 *logrus.Entry

	mu       sync.Mutex
	statusFn backend.StatusFunc
}

var _ backend.Backend = (*Driver)(nil)
var _ backend.StatusCallbackSetter = (*Driver)(nil)

// Options configures a Driver.
type Options struct {
	// DefaultRuntimeImage is used in no-build mode, where there is no
	// ImageSpec to build from.
	DefaultRuntimeImage string
	// StateDir holds bundle scratch files and call results. Defaults
	// to ~/.coral/localdocker when empty.
	StateDir string
}

// New connects to the local Docker daemon the way client.NewClient
// does in agents/shared/docker: negotiate the API version against
// whatever DOCKER_HOST (or the platform default socket) provides.
func New(opts Options) (*Driver, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, coralerr.Wrap(coralerr.ConfigError, "connect to local docker", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := api.Ping(pingCtx); err != nil {
		_ = api.Close()
		return nil, coralerr.Wrap(coralerr.ConfigError, "ping local docker daemon", err)
	}

	stateDir := opts.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			_ = api.Close()
			return nil, err
		}
		stateDir = filepath.Join(home, ".coral", "localdocker")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		_ = api.Close()
		return nil, err
	}

	return &Driver{
		api:                 api,
		defaultRuntimeImage: opts.DefaultRuntimeImage,
		stateDir:            stateDir,
		log:                 logrus.WithField("backend", "localdocker"),
	}, nil
}

// Close releases the underlying Docker client.
func (d *Driver) Close() error {
	if d == nil || d.api == nil {
		return nil
	}
	return d.api.Close()
}

// SetStatusCallback implements backend.StatusCallbackSetter.
func (d *Driver) SetStatusCallback(fn backend.StatusFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusFn = fn
}

// SupportsNoBuild reports whether DefaultRuntimeImage is configured:
// a call with BuildImage=false runs against DefaultRuntimeImage with its runtime setup applied in
// no-build mode via the RUNTIME_SETUP_B64 contract.
func (d *Driver) SupportsNoBuild() bool {
	return d.defaultRuntimeImage != ""
}

func (d *Driver) resultPath(callID string) string {
	return filepath.Join(d.stateDir, "results", callID+".bin")
}

func tagFor(planHash string) string {
	return "coral-local/" + planHash[:16] + ":latest"
}

// imageExists checks the local image cache before building, making
// ResolveImage itself cache-aware per spec.md §4.5.
func (d *Driver) imageExists(ctx context.Context, tag string) (coralspec.ImageRef, bool, error) {
	args := filters.NewArgs(filters.Arg("reference", tag))
	images, err := d.api.ImageList(ctx, types.ImageListOptions{Filters: args})
	if err != nil {
		return coralspec.ImageRef{}, false, err
	}
	if len(images) == 0 {
		return coralspec.ImageRef{}, false, nil
	}
	return coralspec.ImageRef{URI: tag, Digest: images[0].ID}, true, nil
}

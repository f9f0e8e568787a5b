package jobsim

import (
	"context"

	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/planhash"
)

// ResolveImage never builds anything: jobsim has no container runtime
// to build for, so it hands back a stable reference derived from the
// plan hash alone. A real queue-style provider would do its own
// server-side build here; jobsim's job is only to exercise the
// session's reconciliation/caching contract, not to reproduce a
// builder.
func (d *Driver) ResolveImage(ctx context.Context, spec coralspec.ImageSpec, copySources []coralspec.LocalSource) (coralspec.ImageRef, error) {
	hash, err := planhash.Hash(spec)
	if err != nil {
		return coralspec.ImageRef{}, err
	}
	return coralspec.ImageRef{
		URI:    "jobsim://image/" + hash,
		Digest: hash,
	}, nil
}

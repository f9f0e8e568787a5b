package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/coralrun/coral/internal/backend"
	"github.com/coralrun/coral/internal/bundler"
	"github.com/coralrun/coral/internal/cache"
	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/planhash"
)

// prepared is the outcome of reconciling one function's bundle and
// image ahead of submission.
type prepared struct {
	bundle coralspec.BundleRef
	image  coralspec.ImageRef
}

// prepareBundleAndImage resolves a call's bundle and image concurrently
// (spec.md §4.5: the two reconciliations are independent once local
// sources are split into sync vs copy roots), fanning out with
// errgroup so a failure in either cancels the other's context.
func (s *Session) prepareBundleAndImage(ctx context.Context, effectiveImage coralspec.ImageSpec, syncRoots []bundler.Root, copySources []coralspec.LocalSource) (prepared, error) {
	var out prepared
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ref, err := s.prepareBundle(gctx, effectiveImage, syncRoots)
		if err != nil {
			return err
		}
		out.bundle = ref
		return nil
	})
	g.Go(func() error {
		ref, err := s.prepareImage(gctx, effectiveImage, copySources)
		if err != nil {
			return err
		}
		out.image = ref
		return nil
	})
	if err := g.Wait(); err != nil {
		return prepared{}, err
	}
	return out, nil
}

// prepareBundle reconciles the bundle for one image's sync roots,
// keyed on (plan_hash, mode, storage_mode, extra_roots_sorted) per
// spec.md §4.3's bundle index, with the plan hash standing in for
// "whatever the call's ImageSpec resolves to" since sync roots are
// themselves a function of the ImageSpec.
func (s *Session) prepareBundle(ctx context.Context, image coralspec.ImageSpec, syncRoots []bundler.Root) (coralspec.BundleRef, error) {
	planHash, err := planhash.Hash(image)
	if err != nil {
		return coralspec.BundleRef{}, err
	}
	key := bundleKey{planHash: planHash, mode: "sync", storage: "store", extraRoots: extraRootsKey(syncRoots)}

	s.mu.Lock()
	if !s.opts.NoCache {
		if ref, ok := s.bundles[key]; ok {
			s.mu.Unlock()
			return ref, nil
		}
	}
	s.mu.Unlock()

	result, err := bundler.Bundle(syncRoots, s.opts.ToolVersion)
	if err != nil {
		return coralspec.BundleRef{}, err
	}

	if !s.opts.NoCache {
		if entry, ok := s.bundleIndex.Get(result.Hash); ok {
			ref := coralspec.BundleRef{URI: entry.URI, Hash: result.Hash}
			s.mu.Lock()
			s.bundles[key] = ref
			s.mu.Unlock()
			return ref, nil
		}
	}

	ref, err := s.backend.PutBundle(ctx, result.Path, result.Hash)
	if err != nil {
		return coralspec.BundleRef{}, err
	}
	if err := s.bundleIndex.Set(result.Hash, cache.BundleEntry{URI: ref.URI}); err != nil {
		return coralspec.BundleRef{}, err
	}

	s.mu.Lock()
	s.bundles[key] = ref
	s.mu.Unlock()
	return ref, nil
}

// prepareImage reconciles the image for plan_hash(image). Per
// spec.md §4.5: on an in-session hit, return it; otherwise call the
// builder, which is itself cache-aware. The session persists the
// result to the on-disk image index but, unlike bundles, does not
// consult that index before calling the builder — the builder is
// responsible for its own remote-registry cache check.
func (s *Session) prepareImage(ctx context.Context, image coralspec.ImageSpec, copySources []coralspec.LocalSource) (coralspec.ImageRef, error) {
	hash, err := planhash.Hash(image)
	if err != nil {
		return coralspec.ImageRef{}, err
	}

	s.mu.Lock()
	if ref, ok := s.images[hash]; ok {
		s.mu.Unlock()
		return ref, nil
	}
	s.mu.Unlock()

	ref, err := s.backend.ResolveImage(ctx, image, copySources)
	if err != nil {
		return coralspec.ImageRef{}, err
	}

	if templater, ok := backend.AsCustomTemplater(s.backend); ok {
		templateID, err := templater.EnsureCustomTemplate(ctx, ref)
		if err != nil {
			return coralspec.ImageRef{}, err
		}
		if ref.Metadata == nil {
			ref.Metadata = map[string]string{}
		}
		ref.Metadata["custom_template_id"] = templateID
	}

	if err := s.imageIndex.Set(hash, cache.ImageEntry{URI: ref.URI, Digest: ref.Digest, Metadata: ref.Metadata}); err != nil {
		return coralspec.ImageRef{}, err
	}

	s.mu.Lock()
	s.images[hash] = ref
	s.mu.Unlock()
	return ref, nil
}

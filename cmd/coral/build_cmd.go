package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coralrun/coral/internal/cache"
	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/planhash"
)

// cmdBuild reconciles (and caches) an image without submitting a
// call, for pre-warming a backend's image cache ahead of a batch of
// runs.
func cmdBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	profilePath := fs.String("profile", "", "path to config.toml")
	profileName := fs.String("profile-name", "", "profile table to select from config.toml (default: CORAL_PROFILE or \"default\")")
	baseImage := fs.String("image-base", "", "base image (required)")
	runtimeVersion := fs.String("image-runtime-version", "", "runtime version recorded in the image plan")
	workdir := fs.String("image-workdir", "/app", "image workdir")
	var systemPackages, runtimePackages, envPairs multiFlag
	fs.Var(&systemPackages, "system-package", "system package to install (repeatable)")
	fs.Var(&runtimePackages, "runtime-package", "runtime package to install (repeatable)")
	fs.Var(&envPairs, "env", "KEY=VALUE env var (repeatable)")
	fs.Parse(args)

	if *baseImage == "" {
		fatal(fmt.Errorf("build requires --image-base"))
	}
	env, err := parseEnvPairs(envPairs)
	if err != nil {
		fatal(err)
	}

	profile := loadProfile(*profilePath, *profileName)
	b, err := buildBackend(profile)
	if err != nil {
		fatal(err)
	}

	spec := coralspec.ImageSpec{
		BaseImage:       *baseImage,
		RuntimeVersion:  *runtimeVersion,
		SystemPackages:  []string(systemPackages),
		RuntimePackages: []string(runtimePackages),
		Env:             env,
		Workdir:         *workdir,
	}

	hash, err := planhash.Hash(spec)
	if err != nil {
		fatal(err)
	}
	imageIdx, err := cache.ImageIndex()
	if err != nil {
		fatal(err)
	}
	if entry, ok := imageIdx.Get(hash); ok {
		fmt.Printf("cached plan_hash=%s uri=%s\n", hash, entry.URI)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ref, err := b.ResolveImage(ctx, spec, nil)
	if err != nil {
		fatal(err)
	}
	if err := imageIdx.Set(hash, cache.ImageEntry{URI: ref.URI, Digest: ref.Digest, Metadata: ref.Metadata}); err != nil {
		fatal(err)
	}
	fmt.Printf("built plan_hash=%s uri=%s digest=%s\n", hash, ref.URI, ref.Digest)
}

package session

import (
	"context"

	"github.com/coralrun/coral/internal/bundler"
	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/planhash"
	"github.com/coralrun/coral/internal/protocol"
)

// Submit reconciles fn's bundle and image, builds a CallSpec, and hands
// the call to the backend's executor. It implements spec.md §4.5's
// seven-step submission sequence.
func (s *Session) Submit(ctx context.Context, fn coralspec.FunctionSpec, args []any, kwargs map[string]any) (coralspec.RunHandle, error) {
	effectiveImage := s.app.Image
	if fn.Image != nil {
		effectiveImage = *fn.Image
	}

	noBuild := !fn.BuildImage && s.backend.SupportsNoBuild()
	if noBuild && s.opts.Detached {
		return coralspec.RunHandle{}, coralerr.New(coralerr.ConfigError, "detached runs require a pre-built image; this backend cannot run a no-build call in the background")
	}

	syncRoots, copySources, err := resolveLocalSources(effectiveImage, fn.SourceFile, s.app.IncludeSource)
	if err != nil {
		return coralspec.RunHandle{}, err
	}

	var imageRef coralspec.ImageRef
	var runtimeSetupB64 string
	if noBuild {
		if s.opts.WorkerRuntimeRoot != "" {
			syncRoots = append(syncRoots, bundler.Root{Path: s.opts.WorkerRuntimeRoot})
		}
		imageRef = coralspec.ImageRef{Metadata: map[string]string{"image_build_disabled": "1"}}
		encoded, err := protocol.EncodeRuntimeSetup(protocol.RuntimeSetup{
			SystemPackages:      effectiveImage.SystemPackages,
			RuntimePackages:     effectiveImage.RuntimePackages,
			RuntimeRequirements: planhash.RuntimeRequirements,
			Env:                 effectiveImage.Env,
			Workdir:             effectiveImage.Workdir,
		})
		if err != nil {
			return coralspec.RunHandle{}, err
		}
		runtimeSetupB64 = encoded
	}

	s.emit("Uploading files", coralspec.RunHandle{RunID: s.runID})
	var bundleRef coralspec.BundleRef
	if noBuild {
		bundleRef, err = s.prepareBundle(ctx, effectiveImage, syncRoots)
		if err != nil {
			return coralspec.RunHandle{}, err
		}
	} else {
		result, err := s.prepareBundleAndImage(ctx, effectiveImage, syncRoots, copySources)
		if err != nil {
			return coralspec.RunHandle{}, err
		}
		bundleRef = result.bundle
		imageRef = result.image
	}
	s.emit("Image ready", coralspec.RunHandle{RunID: s.runID})

	callID := protocol.NewCallID()
	argsB64, err := protocol.EncodeArgs(args)
	if err != nil {
		return coralspec.RunHandle{}, err
	}
	kwargsB64, err := protocol.EncodeKwargs(kwargs)
	if err != nil {
		return coralspec.RunHandle{}, err
	}
	resultURI, err := s.backend.ResultURI(ctx, callID)
	if err != nil {
		return coralspec.RunHandle{}, err
	}

	stdoutMode := coralspec.StdoutSwallow
	if s.opts.Verbose {
		stdoutMode = coralspec.StdoutStream
	}

	labels := map[string]string{
		"run_id":   s.runID,
		"app_name": s.app.Name,
		"call_id":  callID,
	}
	cs := protocol.NewCallSpec(callID, fn.ModulePath, fn.QualifiedName, argsB64, kwargsB64, resultURI, stdoutMode, labels)

	env := s.composeEnv(effectiveImage.Env, noBuild, runtimeSetupB64)

	handle := coralspec.RunHandle{RunID: s.runID, CallID: callID}
	s.emit("Spawning container", handle)
	handle, err = s.backend.Submit(ctx, cs, imageRef, bundleRef, fn.Resources, env, labels)
	if err != nil {
		return coralspec.RunHandle{}, err
	}
	if handle.RunID == "" {
		handle.RunID = s.runID
	}
	if handle.CallID == "" {
		handle.CallID = callID
	}
	s.emit("Container running", handle)
	return handle, nil
}

// composeEnv layers user-supplied env over the image's own env and
// adds the worker contract variables spec.md §4.5 step 5 names.
func (s *Session) composeEnv(imageEnv map[string]string, noBuild bool, runtimeSetupB64 string) map[string]string {
	env := make(map[string]string, len(imageEnv)+len(s.opts.Env)+4)
	for k, v := range imageEnv {
		env[k] = v
	}
	for k, v := range s.opts.Env {
		env[k] = v
	}
	if s.opts.Verbose {
		env["VERBOSE"] = "1"
	}
	if s.opts.Detached {
		env["DETACHED"] = "1"
	}
	if noBuild {
		env["IMAGE_BUILD_DISABLED"] = "1"
		if runtimeSetupB64 != "" {
			env["RUNTIME_SETUP_B64"] = runtimeSetupB64
		}
	}
	return env
}

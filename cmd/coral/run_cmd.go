package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coralrun/coral/internal/coralspec"
	"github.com/coralrun/coral/internal/profileconfig"
	"github.com/coralrun/coral/internal/protocol"
	"github.com/coralrun/coral/internal/session"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	profilePath := fs.String("profile", "", "path to config.toml (default: CORAL_CONFIG or ~/.coral/config.toml)")
	profileName := fs.String("profile-name", "", "profile table to select from config.toml (default: CORAL_PROFILE or \"default\")")
	appName := fs.String("app", "coral-cli", "App name the run session is scoped to")
	module := fs.String("module", "", "module the callable is registered under (required)")
	qualname := fs.String("qualname", "", "qualified name of the callable (required)")
	baseImage := fs.String("image-base", "", "base image (required unless --no-build)")
	runtimeVersion := fs.String("image-runtime-version", "", "runtime version recorded in the image plan")
	workdir := fs.String("image-workdir", "/app", "image workdir")
	buildImage := fs.Bool("build-image", true, "build/resolve an image before submitting (false submits to the no-build path)")
	detached := fs.Bool("detached", false, "submit without waiting for a result")
	verbose := fs.Bool("verbose", false, "stream container stdout instead of swallowing it")
	noCache := fs.Bool("no-cache", false, "bypass the session's bundle cache and the on-disk bundle index")
	cpu := fs.Int("cpu", 0, "CPU cores requested")
	memory := fs.String("memory", "", "memory requested, e.g. 512Mi")
	gpu := fs.String("gpu", "", "GPU requested, e.g. A100:1")
	timeoutSeconds := fs.Int("timeout", 0, "call timeout in seconds")
	retries := fs.Int("retries", 0, "retry count the backend should honor")
	argsJSON := fs.String("args", "[]", "JSON array of positional arguments")
	kwargsJSON := fs.String("kwargs", "{}", "JSON object of keyword arguments")

	var systemPackages, runtimePackages, sourceRoots, envPairs multiFlag
	fs.Var(&systemPackages, "system-package", "system package to install (repeatable)")
	fs.Var(&runtimePackages, "runtime-package", "runtime package to install (repeatable)")
	fs.Var(&sourceRoots, "source", "local source root to sync, optionally name:mode (repeatable)")
	fs.Var(&envPairs, "env", "KEY=VALUE image/call env var (repeatable)")
	fs.Parse(args)

	if *module == "" || *qualname == "" {
		fatal(fmt.Errorf("run requires --module and --qualname"))
	}
	if *buildImage && *baseImage == "" {
		fatal(fmt.Errorf("run requires --image-base unless --build-image=false"))
	}

	profile := loadProfile(*profilePath, *profileName)
	b, err := buildBackend(profile)
	if err != nil {
		fatal(err)
	}

	env, err := parseEnvPairs(envPairs)
	if err != nil {
		fatal(err)
	}
	sources, err := parseSourceRoots(sourceRoots)
	if err != nil {
		fatal(err)
	}

	image := coralspec.ImageSpec{
		BaseImage:       *baseImage,
		RuntimeVersion:  *runtimeVersion,
		SystemPackages:  []string(systemPackages),
		RuntimePackages: []string(runtimePackages),
		Env:             env,
		Workdir:         *workdir,
		LocalSources:    sources,
	}
	app := coralspec.NewApp(*appName, image)
	fn := coralspec.FunctionSpec{
		Name:          *module + "." + *qualname,
		ModulePath:    *module,
		QualifiedName: *qualname,
		Resources: coralspec.ResourceSpec{
			CPU:            *cpu,
			Memory:         *memory,
			GPU:            *gpu,
			TimeoutSeconds: *timeoutSeconds,
			Retries:        *retries,
		},
		Image:      &image,
		BuildImage: *buildImage,
	}
	app.Register(fn)

	var callArgs []any
	if err := json.Unmarshal([]byte(*argsJSON), &callArgs); err != nil {
		fatal(fmt.Errorf("parse --args: %w", err))
	}
	var callKwargs map[string]any
	if err := json.Unmarshal([]byte(*kwargsJSON), &callKwargs); err != nil {
		fatal(fmt.Errorf("parse --kwargs: %w", err))
	}

	opts := session.Options{
		Detached: *detached,
		Env:      env,
		Verbose:  *verbose,
		NoCache:  *noCache,
		StatusCallback: func(event string, handle coralspec.RunHandle) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", handle.RunID, event)
		},
	}

	sess, err := session.Open(b, app, opts)
	if err != nil {
		fatal(err)
	}
	defer sess.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handle, err := sess.Submit(ctx, fn, callArgs, callKwargs)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("run_id=%s call_id=%s\n", handle.RunID, handle.CallID)
	if *detached {
		return
	}

	result, err := sess.Wait(ctx, handle)
	if err != nil {
		fatal(err)
	}
	if !result.Success {
		fmt.Fprintf(os.Stderr, "call failed: %s\n", result.Output)
		os.Exit(1)
	}
	var decoded any
	if err := protocol.DecodeValue(result.Output, &decoded); err == nil {
		encoded, _ := json.Marshal(decoded)
		fmt.Println(string(encoded))
	} else {
		os.Stdout.Write(result.Output)
	}
}

func loadProfile(explicitPath, explicitName string) profileconfig.Profile {
	path := explicitPath
	if path == "" {
		var err error
		path, err = profileconfig.DefaultPath()
		if err != nil {
			fatal(err)
		}
	}
	profile, err := profileconfig.Load(path, explicitName)
	if err != nil {
		fatal(err)
	}
	return profile
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env %q, expected KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

func parseSourceRoots(raw []string) ([]coralspec.LocalSource, error) {
	sources := make([]coralspec.LocalSource, 0, len(raw))
	for _, r := range raw {
		name, mode, _ := strings.Cut(r, ":")
		sourceMode := coralspec.SourceSync
		if mode != "" {
			sourceMode = coralspec.SourceMode(mode)
			if sourceMode != coralspec.SourceSync && sourceMode != coralspec.SourceCopy {
				return nil, fmt.Errorf("invalid source mode %q in --source %q", mode, r)
			}
		}
		sources = append(sources, coralspec.LocalSource{Name: name, Mode: sourceMode})
	}
	return sources, nil
}

// Package worker implements the in-container (or, in no-build mode,
// on-host) process that materializes a bundle and invokes the target
// callable, per spec.md §4.6.
//
// Design notes §9 replace Python's dynamic "import module, walk dotted
// name" resolution with a compile-time registry: user code calls
// Register in an init() function, the Go analogue of the source-side
// decorator that registers callables with an App (itself out of core
// scope, per spec.md §1).
package worker

import (
	"context"
	"strings"
	"sync"

	"github.com/coralrun/coral/internal/coralerr"
)

// Func is a registered callable. args/kwargs arrive CBOR-decoded into
// generic Go values (see internal/protocol); the function returns a
// value to be CBOR-encoded back to the caller, or an error that
// becomes a CallError.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Func)
)

// Register adds fn under "module.qualifiedName". Re-registering the
// same key replaces the previous entry, matching App.Register's
// replace-on-duplicate semantics.
func Register(module, qualifiedName string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	registry[key(module, qualifiedName)] = fn
}

// Lookup resolves a registered callable. It first tries the exact
// key, then strips a trailing ".<locals>.N" segment for interop with
// bundles whose CallSpec was produced by a Python-side FunctionSpec
// (see spec.md §4.6's wrapper-unwrap step, which this registry model
// replaces with a direct lookup plus one fallback strip).
func Lookup(module, qualifiedName string) (Func, error) {
	mu.RLock()
	defer mu.RUnlock()
	if fn, ok := registry[key(module, qualifiedName)]; ok {
		return fn, nil
	}
	if stripped, ok := stripLocals(qualifiedName); ok {
		if fn, ok := registry[key(module, stripped)]; ok {
			return fn, nil
		}
	}
	return nil, coralerr.New(coralerr.ResolverError, "no function registered for "+key(module, qualifiedName))
}

func key(module, qualifiedName string) string {
	return module + "." + qualifiedName
}

// stripLocals removes a trailing "<locals>.N" segment, mirroring the
// Python resolver's treatment of closures registered inside a
// function body.
func stripLocals(qualifiedName string) (string, bool) {
	const marker = ".<locals>."
	idx := strings.LastIndex(qualifiedName, marker)
	if idx < 0 {
		return "", false
	}
	return qualifiedName[:idx], true
}

// Package planhash computes the canonical cache key for an ImageSpec,
// per spec.md §4.2: a fixed-order field dict, sorted-key JSON, SHA-256.
package planhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/coralrun/coral/internal/coralspec"
)

// RuntimeRequirements is baked into every plan hash so that bumping the
// worker library's own requirements forces a rebuild of every cached
// image, even for users who never touch their ImageSpec. The no-build
// path installs the same fixed list on the host, via
// internal/worker.ApplyHostRuntimeSetup, since there is no image layer
// to have baked it in.
var RuntimeRequirements = []string{"coral-worker-runtime==1"}

type localSourcePlan struct {
	Name   string   `json:"name"`
	Mode   string   `json:"mode"`
	Ignore []string `json:"ignore"`
}

// canonicalPlan mirrors spec.md's fixed field order. json.Marshal on a
// struct already emits fields in declaration order and sorts map keys,
// which gives us both "fixed order" and "sorted keys" for free.
type canonicalPlan struct {
	BaseImage           string            `json:"base_image"`
	RuntimeVersion      string            `json:"runtime_version"`
	SystemPackages      []string          `json:"system_packages"`
	RuntimePackages     []string          `json:"runtime_packages"`
	Env                 map[string]string `json:"env"`
	Workdir             string            `json:"workdir"`
	LocalSources        []localSourcePlan `json:"local_sources"`
	RuntimeRequirements []string          `json:"runtime_requirements"`
}

// Hash returns plan_hash(spec): a stable hex-encoded SHA-256 digest.
// Permuting spec.Env's keys does not change the result; reordering
// SystemPackages or RuntimePackages does, because order there is
// semantic (install order).
func Hash(spec coralspec.ImageSpec) (string, error) {
	plan := canonicalPlan{
		BaseImage:           spec.BaseImage,
		RuntimeVersion:      spec.RuntimeVersion,
		SystemPackages:      nonNil(spec.SystemPackages),
		RuntimePackages:     nonNil(spec.RuntimePackages),
		Env:                 spec.Env,
		Workdir:             spec.Workdir,
		LocalSources:        make([]localSourcePlan, len(spec.LocalSources)),
		RuntimeRequirements: RuntimeRequirements,
	}
	for i, src := range spec.LocalSources {
		plan.LocalSources[i] = localSourcePlan{
			Name:   src.Name,
			Mode:   string(src.Mode),
			Ignore: nonNil(src.Ignore),
		}
	}

	encoded, err := json.Marshal(plan)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// MustHash is Hash without an error return, for call sites where the
// spec is known-valid (e.g. tests building a literal ImageSpec).
func MustHash(spec coralspec.ImageSpec) string {
	h, err := Hash(spec)
	if err != nil {
		panic(err)
	}
	return h
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

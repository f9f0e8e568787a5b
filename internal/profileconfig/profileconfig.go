// Package profileconfig resolves ~/.coral/config.toml into a Profile.
// It is the only package in the repo that touches TOML: every other
// component receives a resolved Profile value, per spec.md §6. The
// on-disk shape mirrors original_source's coral/config.py:get_profile
// (a `[profile.<name>]` table naming a provider, plus a nested
// `[profile.<name>.<provider>]` table holding that provider's
// settings); the atomic-write discipline is lifted from
// tools/si/settings.go's settingsPath/writeSettingsFileAtomic pair.
package profileconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/coralrun/coral/internal/coralerr"
)

// Profile is the resolved provider configuration handed to a backend
// constructor. Data holds whatever provider-specific keys the
// selected profile's provider table declared; the core and session
// packages never inspect it themselves.
type Profile struct {
	Name     string
	Provider string
	Data     map[string]any
}

// fileSchema mirrors config.toml's `[profile.<name>]` tables. Each
// entry's map holds a "provider" string key plus, nested under the
// provider's own name, that provider's settings table.
type fileSchema struct {
	Profile map[string]map[string]any `toml:"profile"`
}

const (
	envOverride        = "CORAL_CONFIG"
	profileEnvOverride = "CORAL_PROFILE"
	defaultProfileName = "default"
)

// DefaultPath resolves the config.toml location: CORAL_CONFIG if set,
// else ~/.coral/config.toml.
func DefaultPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv(envOverride)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coral", "config.toml"), nil
}

// ResolveProfileName picks the profile table to load: an explicit
// name wins, then CORAL_PROFILE, then "default".
func ResolveProfileName(explicit string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	if name := strings.TrimSpace(os.Getenv(profileEnvOverride)); name != "" {
		return name
	}
	return defaultProfileName
}

// Load reads path, selects the profile named by ResolveProfileName(name),
// and lifts that profile's provider table into Data. A profile the
// file doesn't declare, or one missing a provider, is a ConfigError
// naming both the profile and the path.
func Load(path string, name string) (Profile, error) {
	profileName := ResolveProfileName(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, coralerr.Wrap(coralerr.ConfigError, "read "+path, err)
	}
	var schema fileSchema
	if err := toml.Unmarshal(data, &schema); err != nil {
		return Profile{}, coralerr.Wrap(coralerr.ConfigError, "parse "+path, err)
	}

	table, ok := schema.Profile[profileName]
	if !ok {
		return Profile{}, coralerr.New(coralerr.ConfigError, fmt.Sprintf("profile %q not found in %s", profileName, path))
	}
	provider, _ := table["provider"].(string)
	if strings.TrimSpace(provider) == "" {
		return Profile{}, coralerr.New(coralerr.ConfigError, fmt.Sprintf("profile %q missing provider in %s", profileName, path))
	}
	providerData, _ := table[provider].(map[string]any)

	return Profile{Name: profileName, Provider: provider, Data: providerData}, nil
}

// Save writes a single profile to path atomically (write to a sibling
// temp file, then rename), the same discipline tools/si/settings.go
// uses for its own settings file. It replaces the whole file: callers
// that want to preserve sibling profiles should Load, merge, and Save
// the merged schema themselves.
func Save(path string, p Profile) error {
	table := map[string]any{"provider": p.Provider}
	if p.Data != nil {
		table[p.Provider] = p.Data
	}
	schema := fileSchema{Profile: map[string]map[string]any{p.Name: table}}

	encoded, err := toml.Marshal(schema)
	if err != nil {
		return coralerr.Wrap(coralerr.ConfigError, "encode profile", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "config-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

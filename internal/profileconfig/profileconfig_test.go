package profileconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coralrun/coral/internal/coralerr"
)

func TestLoadSelectsNamedProfileAndLiftsProviderTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[profile.gpu-box]
provider = "localdocker"

[profile.gpu-box.localdocker]
default_runtime_image = "ghcr.io/coralrun/worker:latest"
state_dir = "/var/lib/coral"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	profile, err := Load(path, "gpu-box")
	if err != nil {
		t.Fatal(err)
	}
	if profile.Name != "gpu-box" || profile.Provider != "localdocker" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.Data["state_dir"] != "/var/lib/coral" {
		t.Fatalf("expected state_dir in data, got %+v", profile.Data)
	}
}

func TestLoadDefaultsToDefaultProfileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[profile.default]
provider = "jobsim"

[profile.default.jobsim]
state_dir = "/tmp/jobsim"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	profile, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if profile.Name != "default" {
		t.Fatalf("expected default name, got %q", profile.Name)
	}
}

func TestLoadHonorsCoralProfileEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[profile.staging]
provider = "jobsim"

[profile.staging.jobsim]
state_dir = "/tmp/staging"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(profileEnvOverride, "staging")
	profile, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if profile.Name != "staging" {
		t.Fatalf("expected staging name, got %q", profile.Name)
	}
}

func TestLoadMissingProfileNamesProfileAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[profile.default]
provider = "jobsim"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, "nonexistent")
	if !coralerr.Is(err, coralerr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(err.Error(), `"nonexistent"`) || !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error to name profile and path, got %v", err)
	}
}

func TestLoadRejectsProfileMissingProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[profile.default]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, "default"); !coralerr.Is(err, coralerr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), "default")
	if !coralerr.Is(err, coralerr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	want := Profile{Name: "demo", Provider: "jobsim", Data: map[string]any{"state_dir": "/tmp/jobsim"}}
	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != want.Name || got.Provider != want.Provider {
		t.Fatalf("unexpected round trip: %+v", got)
	}
	if got.Data["state_dir"] != "/tmp/jobsim" {
		t.Fatalf("expected state_dir to round trip, got %+v", got.Data)
	}
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Profile{Name: "x", Provider: "jobsim"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "config.toml" {
			t.Fatalf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestDefaultPathHonorsEnvOverride(t *testing.T) {
	t.Setenv(envOverride, "/etc/coral/config.toml")
	path, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != "/etc/coral/config.toml" {
		t.Fatalf("expected override path, got %q", path)
	}
}

func TestResolveProfileNamePrecedence(t *testing.T) {
	t.Setenv(profileEnvOverride, "from-env")
	if got := ResolveProfileName("explicit"); got != "explicit" {
		t.Fatalf("explicit name should win, got %q", got)
	}
	if got := ResolveProfileName(""); got != "from-env" {
		t.Fatalf("expected env override, got %q", got)
	}
	t.Setenv(profileEnvOverride, "")
	if got := ResolveProfileName(""); got != "default" {
		t.Fatalf("expected default fallback, got %q", got)
	}
}

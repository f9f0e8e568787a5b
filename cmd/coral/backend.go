package main

import (
	"github.com/coralrun/coral/internal/backend"
	"github.com/coralrun/coral/internal/backend/jobsim"
	"github.com/coralrun/coral/internal/backend/localdocker"
	"github.com/coralrun/coral/internal/coralerr"
	"github.com/coralrun/coral/internal/profileconfig"
)

// buildBackend constructs the backend.Backend named by profile.Provider.
func buildBackend(profile profileconfig.Profile) (backend.Backend, error) {
	switch profile.Provider {
	case "localdocker":
		return localdocker.New(localdocker.Options{
			DefaultRuntimeImage: stringField(profile.Data, "default_runtime_image"),
			StateDir:            stringField(profile.Data, "state_dir"),
		})
	case "jobsim":
		d, err := jobsim.New(jobsim.Options{StateDir: stringField(profile.Data, "state_dir")})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, coralerr.New(coralerr.ConfigError, "unknown provider: "+profile.Provider)
	}
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

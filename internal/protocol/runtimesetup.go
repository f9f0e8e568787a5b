package protocol

import (
	"encoding/base64"
	"encoding/json"

	"github.com/coralrun/coral/internal/coralerr"
)

// RuntimeSetup is the payload carried by RUNTIME_SETUP_B64 when an
// image build was skipped (spec.md §4.5 step 5 / §4.6).
type RuntimeSetup struct {
	SystemPackages      []string          `json:"system_packages"`
	RuntimePackages     []string          `json:"runtime_packages"`
	RuntimeRequirements []string          `json:"runtime_requirements"`
	Env                 map[string]string `json:"env"`
	Workdir             string            `json:"workdir"`
}

// EncodeRuntimeSetup base64-wraps the JSON encoding of a RuntimeSetup.
func EncodeRuntimeSetup(rs RuntimeSetup) (string, error) {
	b, err := json.Marshal(rs)
	if err != nil {
		return "", coralerr.Wrap(coralerr.ProtocolError, "encode runtime setup", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeRuntimeSetup reverses EncodeRuntimeSetup.
func DecodeRuntimeSetup(b64 string) (RuntimeSetup, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return RuntimeSetup{}, coralerr.Wrap(coralerr.ProtocolError, "base64 decode runtime setup", err)
	}
	var rs RuntimeSetup
	if err := json.Unmarshal(raw, &rs); err != nil {
		return RuntimeSetup{}, coralerr.Wrap(coralerr.ProtocolError, "decode runtime setup", err)
	}
	return rs, nil
}

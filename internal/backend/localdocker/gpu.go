package localdocker

import (
	"strconv"
	"strings"

	"github.com/coralrun/coral/internal/coralerr"
)

// parseGPU parses a ResourceSpec.GPU string of the form "<model>:<count>"
// (e.g. "A100:2"), per spec.md §8. A bare model name with no colon
// defaults to count 1; an empty string means no GPU requested.
func parseGPU(spec string) (model string, count int, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", 0, nil
	}
	parts := strings.SplitN(spec, ":", 2)
	model = parts[0]
	if len(parts) == 1 {
		return model, 1, nil
	}
	count, convErr := strconv.Atoi(parts[1])
	if convErr != nil || count <= 0 {
		return "", 0, coralerr.New(coralerr.ConfigError, "invalid gpu resource spec "+spec)
	}
	return model, count, nil
}

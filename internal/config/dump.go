package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dump renders cfg as YAML for diagnostics: `agentcore config dump` prints
// this so a user can see the fully-merged config (defaults plus
// config.toml plus any --profile overlay) in one place, independent of
// TOML's table syntax. Grounded on internal/templates/export.go's
// exportYAML path in the teacher.
func Dump(cfg Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("config: dump: %w", err)
	}
	return string(out), nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// legacyFeatureNames maps a renamed [features] flag's old name to its
// current one. Each Load that reads an old name returns a FeatureDeprecated
// notice for it, mirroring config_tools.go's deprecation-notice pattern
// (original_source/codex-rs/core/tests/suite/deprecation_notice.rs).
var legacyFeatureNames = map[string]string{
	"experimental_unified_exec": "unified_exec",
	"experimental_apply_patch":  "apply_patch",
}

// Load reads config.toml under home (returning Default() if the file does
// not exist), decodes it with BurntSushi/toml over Default(), and returns both the
// config and any FeatureDeprecated notices produced by legacy flag names.
func Load(home string) (Config, []FeatureDeprecated, error) {
	cfg := Default()

	path := filepath.Join(home, "config.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil, nil
	}
	if err != nil {
		return Config{}, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var notices []FeatureDeprecated
	for legacy, current := range legacyFeatureNames {
		if enabled, ok := cfg.Features[legacy]; ok {
			if cfg.Features == nil {
				cfg.Features = map[string]bool{}
			}
			delete(cfg.Features, legacy)
			cfg.Features[current] = enabled
			notices = append(notices, FeatureDeprecated{Legacy: legacy, Current: current})
		}
	}

	return cfg, notices, nil
}

// FeatureDeprecated records that a legacy [features] flag name was read
// from config.toml, translated to its current name, and should be
// surfaced to the UI as a background_event.
type FeatureDeprecated struct {
	Legacy  string
	Current string
}

func (f FeatureDeprecated) String() string {
	return fmt.Sprintf("config feature %q is deprecated, use %q instead", f.Legacy, f.Current)
}

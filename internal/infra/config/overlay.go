package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// overlayPath returns the environment overlay next to base:
// config.yaml + "production" -> config.production.yaml.
func overlayPath(base, environment string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".yaml"
	}
	return stem + "." + environment + ext
}

// applyEnvironmentOverlay merges config.<environment>.yaml onto cfg when it
// exists. A missing overlay is not an error.
func applyEnvironmentOverlay(cfg *Config, basePath string) error {
	if cfg.Environment == "" {
		return nil
	}
	path := overlayPath(basePath, cfg.Environment)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config overlay: read %q: %w", path, err)
	}
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config overlay: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	env := cfg.Environment
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config overlay: parse %q: %w", path, err)
	}
	// An overlay cannot switch to another environment.
	cfg.Environment = env
	return nil
}

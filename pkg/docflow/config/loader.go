package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile reads a .yaml, .yml or .json configuration file.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml", "yml" or "json").
func Parse(data []byte, format string) (Config, error) {
	var (
		m   map[string]any
		err error
	)
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &m)
	case "json":
		err = json.Unmarshal(data, &m)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", format, err)
	}
	return New(m), nil
}

// Load reads path (when non-empty), applies DOCFLOW_* environment overrides
// and the API key, and returns validated Settings.
func Load(path string) (Settings, error) {
	cfg := New(nil)
	if path != "" {
		var err error
		if cfg, err = FromFile(path); err != nil {
			return Settings{}, err
		}
	}
	cfg = cfg.WithEnv(EnvPrefix, Keys, os.LookupEnv)

	s := FromConfig(cfg)
	if key, ok := os.LookupEnv(APIKeyEnv); ok {
		s.APIKey = key
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

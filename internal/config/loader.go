// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hjson/hjson-go/v4"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment-variable overrides, e.g.
// OVERSEER_SERVER_PORT.
const EnvPrefix = "OVERSEER"

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path, applying
// environment-variable overrides and defaults.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to an intermediate map first, so comments and
	// unquoted keys are accepted.
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides layers environment variables on top of the file-loaded
// config using viper's automatic env binding. Environment inputs are read
// once at startup and never reread.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if val := v.GetString("server.host"); val != "" {
		cfg.Server.Host = val
	}
	if val := v.GetInt("server.port"); val != 0 {
		cfg.Server.Port = val
	}
	if val := v.GetString("workspace.root"); val != "" {
		cfg.Workspace.Root = val
	}
	if val := v.GetString("workspace.log_root"); val != "" {
		cfg.Workspace.LogRoot = val
	}
	if val := v.GetString("workspace.artifacts_root"); val != "" {
		cfg.Workspace.ArtifactRoot = val
	}
	if val := v.GetInt("server.max_concurrent_instances"); val != 0 {
		cfg.Server.MaxConcurrentInsts = val
	}
	if val := v.GetString("logging.level"); val != "" {
		cfg.Logging.Level = val
	}
	if val := v.GetString("provider.api_key"); val != "" {
		cfg.Provider.APIKey = val
	}
}

// FindConfig searches for a config file in the current directory, looking
// for overseer.hjson first, then overseer.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{"overseer.hjson", "overseer.json"}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for overseer.hjson, overseer.json)")
}

// Default returns a Config with every field at its default value, used by
// `orchestrator stdio` when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

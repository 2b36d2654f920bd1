// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and environment
// overrides for the orchestrator.
package config

import "time"

// Config is the root configuration structure for the orchestrator.
type Config struct {
	Version    string           `json:"version"`
	Server     ServerConfig     `json:"server"`
	Workspace  WorkspaceConfig  `json:"workspace"`
	Logging    LoggingConfig    `json:"logging"`
	Artifacts  ArtifactsConfig  `json:"artifacts"`
	Provider   ProviderConfig   `json:"provider"`
	Supervisor SupervisorConfig `json:"supervisor"`
}

// ServerConfig configures the long-running HTTP RPC transport.
type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	TLSCert             string `json:"tls_cert"`
	TLSKey              string `json:"tls_key"`
	MaxConcurrentInsts  int    `json:"max_concurrent_instances"`
}

// WorkspaceConfig controls where instance working directories and
// orchestrator logs live on disk.
type WorkspaceConfig struct {
	Root        string `json:"root"`         // <workspace-root>/<id>
	LogRoot     string `json:"log_root"`     // <log-root>/...
	ArtifactRoot string `json:"artifacts_root"` // <artifacts-root>/<id>
}

// LoggingConfig configures the ambient orchestrator log.
type LoggingConfig struct {
	Level        string `json:"level"` // debug, info, warn, error
	MaxSizeMB    int    `json:"max_size_mb"`
	MaxBackups   int    `json:"max_backups"`
}

// ArtifactsConfig controls artifact preservation on instance
// termination. Preservation is on unless explicitly disabled, so the
// zero value of this struct does the safe thing.
type ArtifactsConfig struct {
	Disabled bool     `json:"disabled"`
	Patterns []string `json:"patterns"` // e.g. ["*.diff", "*.patch", "output/**"]
}

// Enabled reports whether terminate-time artifact preservation runs.
func (a ArtifactsConfig) Enabled() bool { return !a.Disabled }

// ProviderConfig carries the assistant provider API key, read once at
// startup and never re-read.
type ProviderConfig struct {
	APIKey string `json:"api_key"`
}

// SupervisorConfig configures the periodic evaluator.
type SupervisorConfig struct {
	IntervalSeconds          int `json:"interval_seconds"`
	StuckThresholdSeconds    int `json:"stuck_threshold_seconds"`
	ErrorLoopThreshold       int `json:"error_loop_threshold"`
	WaitingThresholdSeconds  int `json:"waiting_threshold_seconds"`
	MaxInterventionsPerInst  int `json:"max_interventions_per_instance"`
	CooldownSeconds          int `json:"cooldown_seconds"`
}

// Interval returns the supervisor tick interval as a time.Duration.
func (s SupervisorConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// StuckThreshold returns the stuck-detection threshold as a time.Duration.
func (s SupervisorConfig) StuckThreshold() time.Duration {
	return time.Duration(s.StuckThresholdSeconds) * time.Second
}

// WaitingThreshold returns the waiting-detection threshold as a time.Duration.
func (s SupervisorConfig) WaitingThreshold() time.Duration {
	return time.Duration(s.WaitingThresholdSeconds) * time.Second
}

// Cooldown returns the per-instance intervention cooldown as a time.Duration.
func (s SupervisorConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}
	if cfg.Server.MaxConcurrentInsts == 0 {
		cfg.Server.MaxConcurrentInsts = 10
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = ".overseer/workspace"
	}
	if cfg.Workspace.LogRoot == "" {
		cfg.Workspace.LogRoot = ".overseer/logs"
	}
	if cfg.Workspace.ArtifactRoot == "" {
		cfg.Workspace.ArtifactRoot = ".overseer/artifacts"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}

	if len(cfg.Artifacts.Patterns) == 0 {
		cfg.Artifacts.Patterns = []string{"*.diff", "*.patch"}
	}

	if cfg.Supervisor.IntervalSeconds == 0 {
		cfg.Supervisor.IntervalSeconds = 30
	}
	if cfg.Supervisor.StuckThresholdSeconds == 0 {
		cfg.Supervisor.StuckThresholdSeconds = 300
	}
	if cfg.Supervisor.ErrorLoopThreshold == 0 {
		cfg.Supervisor.ErrorLoopThreshold = 3
	}
	if cfg.Supervisor.WaitingThresholdSeconds == 0 {
		cfg.Supervisor.WaitingThresholdSeconds = 120
	}
	if cfg.Supervisor.MaxInterventionsPerInst == 0 {
		cfg.Supervisor.MaxInterventionsPerInst = 3
	}
	if cfg.Supervisor.CooldownSeconds == 0 {
		cfg.Supervisor.CooldownSeconds = 60
	}
}

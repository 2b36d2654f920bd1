// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `{
  version: "1"

  // HTTP RPC transport. Used by "orchestrator serve".
  server: {
    host: "127.0.0.1"
    port: 8765
    tls_cert: ""
    tls_key: ""
    max_concurrent_instances: 10
  }

  // Where instance working directories, logs, and preserved artifacts live.
  workspace: {
    root: ".overseer/workspace"
    log_root: ".overseer/logs"
    artifacts_root: ".overseer/artifacts"
  }

  logging: {
    level: "info"
    max_size_mb: 10
    max_backups: 5
  }

  artifacts: {
    disabled: false
    patterns: ["*.diff", "*.patch"]
  }

  provider: {
    // api_key can also be set via OVERSEER_PROVIDER_API_KEY
    api_key: ""
  }

  supervisor: {
    interval_seconds: 30
    stuck_threshold_seconds: 300
    error_loop_threshold: 3
    waiting_threshold_seconds: 120
    max_interventions_per_instance: 3
    cooldown_seconds: 60
  }
}
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter overseer.hjson configuration file",
		Long: `init writes a commented overseer.hjson into the current
directory with every field at its default value. Review and
edit it, then run "orchestrator serve" or "orchestrator stdio".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			const configFile = "overseer.hjson"

			if _, err := os.Stat(configFile); err == nil {
				return fmt.Errorf("%s already exists; remove it first if you want to regenerate it", configFile)
			}

			if err := os.WriteFile(configFile, []byte(starterConfig), 0644); err != nil {
				return fmt.Errorf("write %s: %w", configFile, err)
			}

			fmt.Printf("wrote %s\n", configFile)
			return nil
		},
	}
}

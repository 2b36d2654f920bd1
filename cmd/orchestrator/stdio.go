// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaycode/overseer/internal/orchestrator"
	"github.com/relaycode/overseer/internal/rpc/stdiotransport"
)

func newStdioCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Run a one-off stdio RPC endpoint on this process's stdin/stdout",
		Long: `stdio runs the same Tool Surface operations as serve, but framed as
newline-delimited JSON over this process's own stdin/stdout instead of
HTTP. A Codex-style child instance is launched with its stdio pointed at
an invocation of this subcommand so it can drive the orchestrator
without an HTTP round trip.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			orch, err := orchestrator.New(cfg)
			if err != nil {
				return err
			}
			defer orch.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go orch.RunSupervisor(ctx)

			return stdiotransport.Serve(ctx, os.Stdin, os.Stdout, orch.ToolRegistry())
		},
	}
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command orchestrator is the operator CLI: `serve` starts the
// long-running HTTP RPC transport, `stdio` runs a one-off stdio RPC
// endpoint on this process's own file descriptors, and `init` writes a
// starter config. Built on spf13/cobra because the two serving
// subcommands have distinct lifecycles and flag sets.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// shutdownGrace bounds how long `serve` waits for in-flight RPC calls to
// finish once a shutdown signal arrives before the process exits anyway.
const shutdownGrace = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "overseer:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "orchestrator",
		Short:   "Orchestrates a hierarchical network of coding-assistant CLI processes",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: auto-detect)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newStdioCmd(&configPath))
	root.AddCommand(newInitCmd())

	return root
}

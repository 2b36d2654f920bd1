// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaycode/overseer/internal/config"
	"github.com/relaycode/overseer/internal/orchestrator"
	"github.com/relaycode/overseer/internal/rpc/httptransport"
)

func newServeCmd(configPath *string) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the long-running HTTP RPC transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			orch, err := orchestrator.New(cfg)
			if err != nil {
				return fmt.Errorf("build orchestrator: %w", err)
			}
			defer orch.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go orch.RunSupervisor(ctx)

			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			server := httptransport.NewServer(addr, orch.ToolRegistry(), orch.Feed)

			errCh := make(chan error, 1)
			go func() {
				tlsEnabled, err := httptransport.CheckTLSConfig(cfg.Server.TLSCert, cfg.Server.TLSKey)
				if err != nil {
					errCh <- err
					return
				}
				orch.Plane.Log.Info().Str("addr", addr).Bool("tls", tlsEnabled).Msg("rpc server listening")
				if tlsEnabled {
					errCh <- server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
					return
				}
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err.Error() != "http: Server closed" {
					return fmt.Errorf("rpc server: %w", err)
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()

	if path == "" {
		found, err := loader.FindConfig()
		if err != nil {
			return config.Default(), nil
		}
		path = found
	}

	return loader.Load(path)
}

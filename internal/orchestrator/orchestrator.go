// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator wires every component — Registry, Bus, Engine,
// Coordinator, Supervisor, Log Plane, Monitor Feed, and the Tool
// Surface registry built from them — into the single long-lived value
// the rest of the process depends on: one struct built once at startup
// by New and passed by reference to every HTTP/stdio handler, never
// reached through an ambient global.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycode/overseer/internal/bus"
	"github.com/relaycode/overseer/internal/config"
	"github.com/relaycode/overseer/internal/coordinator"
	"github.com/relaycode/overseer/internal/engine"
	"github.com/relaycode/overseer/internal/logplane"
	"github.com/relaycode/overseer/internal/monitor"
	"github.com/relaycode/overseer/internal/paneio"
	"github.com/relaycode/overseer/internal/pasteio"
	"github.com/relaycode/overseer/internal/registry"
	"github.com/relaycode/overseer/internal/rpc"
	"github.com/relaycode/overseer/internal/supervisor"
)

// Orchestrator holds every process-wide component, constructed once by
// New. Both the HTTP and stdio transports are handed the same
// Orchestrator.Registry() (operation registry) so a call made through
// either transport has identical semantics.
type Orchestrator struct {
	cfg *config.Config

	Reg         *registry.Registry
	Bus         *bus.Bus
	Plane       *logplane.Plane
	Exec        paneio.Executor
	Writer      *pasteio.Writer
	Engine      *engine.Engine
	Coordinator *coordinator.Coordinator
	Supervisor  *supervisor.Supervisor
	Feed        *monitor.Feed

	toolReg *rpc.Registry
}

// Binary names for the two supported assistant CLI kinds, overridable
// for tests. The CLI front-ends are black boxes driven through their
// panes; only their invocation names matter here.
const (
	DefaultClaudeBinary = "claude"
	DefaultCodexBinary  = "codex"
)

// New builds every component from cfg and returns the assembled
// Orchestrator with its Supervisor not yet running (call RunSupervisor
// to start the periodic evaluation loop and the transports separately).
func New(cfg *config.Config) (*Orchestrator, error) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	plane, err := logplane.New(cfg.Workspace.LogRoot, level, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	if err != nil {
		return nil, fmt.Errorf("build log plane: %w", err)
	}

	exec := paneio.NewTmuxExecutor()
	writer := pasteio.NewWriter(exec, plane.Log)

	reg := registry.New()
	mbus := bus.New()
	eng := engine.New(reg, exec, writer, plane, mbus, engine.Options{
		ClaudeBinary:      DefaultClaudeBinary,
		CodexBinary:       DefaultCodexBinary,
		WorkspaceRoot:     cfg.Workspace.Root,
		ArtifactRoot:      cfg.Workspace.ArtifactRoot,
		PreserveArtifacts: cfg.Artifacts.Enabled(),
		ArtifactPatterns:  cfg.Artifacts.Patterns,
		MaxInstances:      cfg.Server.MaxConcurrentInsts,
		ToolBaseURL:       fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
	})
	coord := coordinator.New(reg, eng)
	feed := monitor.New()

	o := &Orchestrator{
		cfg:         cfg,
		Reg:         reg,
		Bus:         mbus,
		Plane:       plane,
		Exec:        exec,
		Writer:      writer,
		Engine:      eng,
		Coordinator: coord,
		Feed:        feed,
	}

	superCfg := supervisor.Config{
		Interval:                cfg.Supervisor.Interval(),
		StuckThreshold:          cfg.Supervisor.StuckThreshold(),
		ErrorLoopThreshold:      cfg.Supervisor.ErrorLoopThreshold,
		WaitingThreshold:        cfg.Supervisor.WaitingThreshold(),
		MaxInterventionsPerInst: cfg.Supervisor.MaxInterventionsPerInst,
		Cooldown:                cfg.Supervisor.Cooldown(),
	}
	o.Supervisor = supervisor.New(reg, eng, mbus, feed, plane, superCfg, o.spawnHelper)

	o.toolReg = rpc.BuildRegistry(rpc.Deps{
		Registry:     reg,
		Engine:       eng,
		Bus:          mbus,
		Coordinator:  coord,
		Supervisor:   o.Supervisor,
		Feed:         feed,
		Plane:        plane,
		ArtifactRoot: cfg.Workspace.ArtifactRoot,
		StartedAt:    time.Now(),
	})

	return o, nil
}

// spawnHelper is the Supervisor's helperSpawner callback: parentID names
// the stuck instance, and the debugger-role helper is spawned as its
// sibling, under the stuck instance's own parent.
func (o *Orchestrator) spawnHelper(ctx context.Context, parentID string) error {
	parent, err := o.Reg.Get(parentID)
	if err != nil {
		return err
	}

	// The helper joins the stuck instance's team, not the stuck instance
	// itself: it shares the same parent so team artifact collection and
	// broadcasts reach both.
	_, err = o.Engine.Spawn(ctx, engine.SpawnOptions{
		Name:     "helper-" + parentID[:8],
		Kind:     parent.Kind,
		Role:     "debugger",
		ParentID: parent.ParentID,
	})
	return err
}

// ToolRegistry returns the Tool Surface operation registry both
// transports dispatch through.
func (o *Orchestrator) ToolRegistry() *rpc.Registry {
	return o.toolReg
}

// RunSupervisor starts the periodic evaluation loop, blocking until ctx
// is canceled. Run it in its own goroutine alongside the RPC transport.
func (o *Orchestrator) RunSupervisor(ctx context.Context) {
	o.Supervisor.Run(ctx)
}

// Close releases every resource the Orchestrator owns that needs
// explicit teardown (currently just the Log Plane's open file
// handles). It does not terminate any live instance — that is an
// explicit operator decision via the Tool Surface, not an implicit side
// effect of process shutdown.
func (o *Orchestrator) Close() error {
	return o.Plane.Close()
}

// Config returns the configuration the Orchestrator was built from.
func (o *Orchestrator) Config() *config.Config {
	return o.cfg
}

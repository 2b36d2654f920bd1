// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry tracks every instance the orchestrator has spawned:
// its identity, lineage, lifecycle state, and exchange statistics.
package registry

import (
	"time"

	"github.com/relaycode/overseer/internal/paneio"
)

// Kind distinguishes the two supported assistant CLI families, each
// with its own prompt submission and tool-surface wiring conventions.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
)

// State is an instance's lifecycle state.
type State string

const (
	StateSpawning     State = "spawning"
	StateInitializing State = "initializing"
	StateRunning      State = "running"

	// StateBusy and StateIdle refine StateRunning: busy while a send is
	// in flight or a reply is awaited, idle once the last exchange
	// completed. Both count as running for every liveness check.
	StateBusy State = "busy"
	StateIdle State = "idle"

	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"

	// StateError is a terminal state reached only from StateSpawning or
	// StateInitializing when the pane never reaches running.
	// It is distinct from StateTerminated: reaching it means spawn
	// failed, not that a clean instance_terminate ever ran.
	StateError State = "error"
)

// Active reports whether the state is one of the running family
// (running, busy, idle) — the states the supervisor evaluates and sends
// against.
func (s State) Active() bool {
	return s == StateRunning || s == StateBusy || s == StateIdle
}

// Terminal reports whether the state is one no instance ever leaves.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateError
}

// Instance is one long-lived assistant CLI process under management.
type Instance struct {
	ID       string
	Name     string
	Kind     Kind
	ParentID string // empty for a root instance

	// Role is a free-form tag ("general", "debugger", "reviewer")
	// carried for lineage queries and supervisor helper spawns.
	Role string

	// InitialPrompt is the system prompt passed to the assistant CLI as
	// a launch argument, recorded so artifact metadata can reproduce how
	// the instance was started.
	InitialPrompt string

	State   State
	Handle  paneio.Handle
	WorkDir string

	// Exchange statistics, updated by the engine after every send.
	RequestCount  int
	TokenEstimate int
	CostEstimate  float64
	LastActivity  time.Time

	// Generation is the instance's process generation counter, advanced
	// only by Registry.BumpGeneration. The engine never respawns an
	// instance's process, so engine-spawned instances stay at 0.
	Generation int

	CreatedAt    time.Time
	TerminatedAt time.Time

	// LastInterventionReason records why the supervisor most recently
	// acted on this instance, for operator visibility; empty if the
	// supervisor has never intervened.
	LastInterventionReason string
}

// Clone returns a value copy of i, safe to hand to a caller outside the
// registry's lock.
func (i *Instance) Clone() *Instance {
	cp := *i
	return &cp
}

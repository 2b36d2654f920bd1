// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package paneio abstracts the terminal multiplexer that hosts each
// assistant process: creating sessions, writing keystrokes, and capturing
// rendered output.
package paneio

import (
	"context"
	"errors"
)

// Handle identifies one pane: a tmux session paired with a window inside
// it. Most instances get a dedicated session with a single window.
type Handle struct {
	Session string
	Window  string
}

// Target returns the tmux-style "session:window" addressing string.
func (h Handle) Target() string {
	if h.Window == "" {
		return h.Session
	}
	return h.Session + ":" + h.Window
}

// NamedKey is a single named keystroke sent to a pane, distinct from
// literal text.
type NamedKey string

const (
	// KeySubmit finalizes a message so the assistant CLI processes it.
	KeySubmit NamedKey = "Submit"
	// KeyNewlineNoSubmit inserts a literal newline into a multiline input
	// box without submitting — used by the Paste-Safe Writer between lines.
	KeyNewlineNoSubmit NamedKey = "NewlineNoSubmit"
)

// ErrPaneGone is returned by any operation on a pane whose underlying
// terminal session has exited.
var ErrPaneGone = errors.New("paneio: pane gone")

// Executor is the Pane Adapter contract. All operations are
// synchronous and return ErrPaneGone if the underlying session has
// exited. Implementations: TmuxExecutor (real tmux) and PTYExecutor (a
// local pseudo-terminal fallback used by tests and a non-tmux dev mode).
type Executor interface {
	// Create starts a new pane in workingDir, named sessionName.
	Create(ctx context.Context, sessionName, workingDir string) (Handle, error)

	// SendText writes raw bytes to the pane. If submit is true, a submit
	// keystroke is appended after the text.
	SendText(ctx context.Context, h Handle, text string, submit bool) error

	// SendKey sends one named keystroke.
	SendKey(ctx context.Context, h Handle, key NamedKey) error

	// CaptureScrollback returns a bounded tail of rendered pane output.
	// maxLines <= 0 means "the whole available scrollback."
	CaptureScrollback(ctx context.Context, h Handle, maxLines int) (string, error)

	// Kill terminates the pane's underlying session.
	Kill(ctx context.Context, h Handle) error

	// Alive reports whether the pane's session (and, where the executor
	// can determine it, its foreground process) is still running.
	Alive(ctx context.Context, h Handle) bool
}

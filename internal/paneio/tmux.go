// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package paneio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// TmuxExecutor drives real tmux sessions, stripping the TMUX
// environment variable on session creation so a spawned session never
// nests inside the orchestrator's own tmux client if it happens to be
// running under one.
type TmuxExecutor struct{}

// NewTmuxExecutor creates a tmux-backed pane executor.
func NewTmuxExecutor() *TmuxExecutor {
	return &TmuxExecutor{}
}

var _ Executor = (*TmuxExecutor)(nil)

func (e *TmuxExecutor) hasSession(ctx context.Context, session string) bool {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", session)
	return cmd.Run() == nil
}

// Create starts a fresh detached tmux session in workingDir.
func (e *TmuxExecutor) Create(ctx context.Context, sessionName, workingDir string) (Handle, error) {
	args := []string{"new-session", "-d", "-s", sessionName}
	if workingDir != "" {
		args = append(args, "-c", workingDir)
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = filterTMUXEnv(os.Environ())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Handle{}, fmt.Errorf("tmux new-session failed: %s: %w", stderr.String(), err)
	}

	return Handle{Session: sessionName}, nil
}

// SendText writes text into the pane with a single tmux send-keys call
// using the literal flag, then optionally submits. Multi-line, paste-safe
// delivery is the Paste-Safe Writer's job (internal/pasteio); this method
// is the primitive it is built from.
func (e *TmuxExecutor) SendText(ctx context.Context, h Handle, text string, submit bool) error {
	if !e.hasSession(ctx, h.Session) {
		return ErrPaneGone
	}

	if text != "" {
		args := []string{"send-keys", "-t", h.Target(), "-l", text}
		if err := exec.CommandContext(ctx, "tmux", args...).Run(); err != nil {
			if !e.hasSession(ctx, h.Session) {
				return ErrPaneGone
			}
			return fmt.Errorf("tmux send-keys failed: %w", err)
		}
	}

	if submit {
		return e.SendKey(ctx, h, KeySubmit)
	}
	return nil
}

// tmuxKeyName maps a NamedKey to the literal tmux key name.
func tmuxKeyName(key NamedKey) string {
	switch key {
	case KeySubmit:
		return "Enter"
	case KeyNewlineNoSubmit:
		// Most assistant CLIs bind Ctrl-J to "insert literal newline" in
		// their multiline input box, distinct from the Enter that submits.
		return "C-j"
	default:
		return string(key)
	}
}

// SendKey sends one named keystroke to the pane.
func (e *TmuxExecutor) SendKey(ctx context.Context, h Handle, key NamedKey) error {
	if !e.hasSession(ctx, h.Session) {
		return ErrPaneGone
	}
	args := []string{"send-keys", "-t", h.Target(), tmuxKeyName(key)}
	if err := exec.CommandContext(ctx, "tmux", args...).Run(); err != nil {
		if !e.hasSession(ctx, h.Session) {
			return ErrPaneGone
		}
		return fmt.Errorf("tmux send-keys %s failed: %w", key, err)
	}
	return nil
}

// CaptureScrollback captures rendered pane content, trimmed to maxLines.
func (e *TmuxExecutor) CaptureScrollback(ctx context.Context, h Handle, maxLines int) (string, error) {
	if !e.hasSession(ctx, h.Session) {
		return "", ErrPaneGone
	}

	args := []string{"capture-pane", "-t", h.Target(), "-p", "-e", "-S", "-"}
	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		if !e.hasSession(ctx, h.Session) {
			return "", ErrPaneGone
		}
		return "", fmt.Errorf("tmux capture-pane failed: %w", err)
	}

	if maxLines <= 0 {
		return string(out), nil
	}

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n"), nil
}

// Kill terminates the tmux session.
func (e *TmuxExecutor) Kill(ctx context.Context, h Handle) error {
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", h.Session)
	return cmd.Run()
}

// Alive reports whether the tmux session still exists and, when
// resolvable, whether the pane's process (tmux's pane_pid, the first
// process started in the pane) is still in the process table.
func (e *TmuxExecutor) Alive(ctx context.Context, h Handle) bool {
	if !e.hasSession(ctx, h.Session) {
		return false
	}

	pid, err := e.panePID(ctx, h)
	if err != nil {
		// Session exists but we couldn't resolve a pid; treat as alive.
		return true
	}

	proc, err := ps.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc != nil
}

// panePID resolves tmux's pane_pid: the pid of the first process started
// in the pane.
func (e *TmuxExecutor) panePID(ctx context.Context, h Handle) (int, error) {
	args := []string{"display-message", "-t", h.Target(), "-p", "#{pane_pid}"}
	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(out)))
}

// filterTMUXEnv filters out the TMUX environment variable so a spawned
// session never nests inside an already-running client.
func filterTMUXEnv(env []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			result = append(result, e)
		}
	}
	return result
}

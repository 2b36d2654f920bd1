// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package paneio

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// PTYExecutor is a tmux-free Executor backed by a local pseudo-terminal
// running a shell. It exists for tests and for a non-tmux dev mode where
// installing tmux is inconvenient; it implements the same Executor
// contract as TmuxExecutor but keeps no multi-window addressing (Handle.
// Window is ignored).
type PTYExecutor struct {
	mu    sync.Mutex
	panes map[string]*ptyPane
}

type ptyPane struct {
	cmd    *exec.Cmd
	pty    *os.File
	mu     sync.Mutex
	buf    strings.Builder
	closed bool
}

// NewPTYExecutor creates an empty PTY-backed pane executor.
func NewPTYExecutor() *PTYExecutor {
	return &PTYExecutor{panes: make(map[string]*ptyPane)}
}

var _ Executor = (*PTYExecutor)(nil)

// Create spawns a shell under a pty, rooted at workingDir.
func (e *PTYExecutor) Create(ctx context.Context, sessionName, workingDir string) (Handle, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return Handle{}, fmt.Errorf("pty start failed: %w", err)
	}

	p := &ptyPane{cmd: cmd, pty: f}
	e.mu.Lock()
	e.panes[sessionName] = p
	e.mu.Unlock()

	go p.drain()

	return Handle{Session: sessionName}, nil
}

// drain continuously reads pty output into the pane's capture buffer.
func (p *ptyPane) drain() {
	reader := bufio.NewReaderSize(p.pty, 64*1024)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.buf.Write(buf[:n])
			p.mu.Unlock()
		}
		if err != nil {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			return
		}
	}
}

func (e *PTYExecutor) get(session string) (*ptyPane, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.panes[session]
	return p, ok
}

// SendText writes text to the pty, then optionally submits with a
// newline (pty shells treat \n as Enter).
func (e *PTYExecutor) SendText(ctx context.Context, h Handle, text string, submit bool) error {
	p, ok := e.get(h.Session)
	if !ok {
		return ErrPaneGone
	}
	if _, err := p.pty.WriteString(text); err != nil {
		return ErrPaneGone
	}
	if submit {
		return e.SendKey(ctx, h, KeySubmit)
	}
	return nil
}

// SendKey sends one named keystroke. Submit writes \n; NewlineNoSubmit
// writes a literal newline too, since a plain shell has no distinct
// "insert newline without submit" binding — callers testing against
// PTYExecutor should expect line-buffered semantics.
func (e *PTYExecutor) SendKey(ctx context.Context, h Handle, key NamedKey) error {
	p, ok := e.get(h.Session)
	if !ok {
		return ErrPaneGone
	}
	_, err := p.pty.WriteString("\n")
	if err != nil {
		return ErrPaneGone
	}
	return nil
}

// CaptureScrollback returns the accumulated output buffer, trimmed to
// maxLines.
func (e *PTYExecutor) CaptureScrollback(ctx context.Context, h Handle, maxLines int) (string, error) {
	p, ok := e.get(h.Session)
	if !ok {
		return "", ErrPaneGone
	}

	p.mu.Lock()
	content := p.buf.String()
	p.mu.Unlock()

	if maxLines <= 0 {
		return content, nil
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n"), nil
}

// Kill terminates the pty's child process.
func (e *PTYExecutor) Kill(ctx context.Context, h Handle) error {
	p, ok := e.get(h.Session)
	if !ok {
		return nil
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	_ = p.pty.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	e.mu.Lock()
	delete(e.panes, h.Session)
	e.mu.Unlock()

	return nil
}

// Alive reports whether the pane's child process is still running.
func (e *PTYExecutor) Alive(ctx context.Context, h Handle) bool {
	p, ok := e.get(h.Session)
	if !ok {
		return false
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return false
	}

	if p.cmd.ProcessState != nil {
		return !p.cmd.ProcessState.Exited()
	}
	return true
}

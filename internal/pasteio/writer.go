// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pasteio implements the paste-safe delivery of text into a pane.
// Many assistant CLIs run a readline-style input box that treats a fast
// burst of keystrokes as a "bracketed paste" and either mangles it or
// requires an explicit paste-mode toggle the orchestrator cannot see.
// Sending line by line with small, size-adjusted delays between
// keystrokes avoids tripping that detector.
package pasteio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycode/overseer/internal/paneio"
)

// Clock abstracts time so tests can run without real sleeps.
type Clock interface {
	Sleep(d time.Duration)
	Now() time.Time
}

type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
func (realClock) Now() time.Time        { return time.Now() }

// Writer delivers text to a pane line by line, with an adaptive pause
// between keystrokes and a final settle pause before submitting.
type Writer struct {
	exec  paneio.Executor
	clock Clock
	log   zerolog.Logger
}

// NewWriter builds a Writer around the given pane executor.
func NewWriter(exec paneio.Executor, log zerolog.Logger) *Writer {
	return &Writer{exec: exec, clock: realClock{}, log: log}
}

// WithClock overrides the clock, for deterministic tests.
func (w *Writer) WithClock(c Clock) *Writer {
	w.clock = c
	return w
}

// interKeystrokeDelay scales with payload size: larger payloads get
// longer delays, since the receiving CLI's paste-bracket heuristic
// usually keys off burst size more than burst duration.
func interKeystrokeDelay(payloadLen int) time.Duration {
	switch {
	case payloadLen >= 3072:
		return 20 * time.Millisecond
	case payloadLen >= 1024:
		return 15 * time.Millisecond
	default:
		return 10 * time.Millisecond
	}
}

const finalSettlePause = 50 * time.Millisecond

// Result reports what a Send call actually did, for the communication
// journal.
type Result struct {
	PayloadBytes   int
	LineCount      int
	Keystrokes     int
	KeystrokeDelay time.Duration
	WallTime       time.Duration
}

// SendFailedError reports a mid-stream pane loss, including how many
// bytes of the payload were already delivered.
type SendFailedError struct {
	BytesSent int
	Cause     error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("pasteio: send failed after %d bytes: %v", e.BytesSent, e.Cause)
}

func (e *SendFailedError) Unwrap() error { return e.Cause }

// Send delivers text to the pane h line by line and submits it. It never
// uses the executor's own multi-line SendText in one shot; each line is
// its own SendText(submit=false) call, separated by a NewlineNoSubmit
// keystroke and the adaptive delay, with a final settle pause and Submit
// keystroke once every line has landed.
func (w *Writer) Send(ctx context.Context, h paneio.Handle, text string) (Result, error) {
	start := w.clock.Now()

	lines := strings.Split(text, "\n")
	delay := interKeystrokeDelay(len(text))

	// The pause follows every keystroke, the text write and the newline
	// key alike: two consecutive un-paused writes are exactly what the
	// receiving CLI's burst-rate heuristic flags as a paste.
	sent := 0
	keystrokes := 0
	for i, line := range lines {
		if line != "" {
			if err := w.exec.SendText(ctx, h, line, false); err != nil {
				w.log.Warn().
					Str("target", h.Target()).
					Int("bytes_sent", sent).
					Err(err).
					Msg("paste-safe send failed mid-stream")
				return Result{}, &SendFailedError{BytesSent: sent, Cause: err}
			}
			sent += len(line)
			keystrokes++
			w.clock.Sleep(delay)
		}

		if i < len(lines)-1 {
			if err := w.exec.SendKey(ctx, h, paneio.KeyNewlineNoSubmit); err != nil {
				return Result{}, &SendFailedError{BytesSent: sent, Cause: err}
			}
			sent++ // the newline itself
			keystrokes++
			w.clock.Sleep(delay)
		}
	}

	w.clock.Sleep(finalSettlePause)

	if err := w.exec.SendKey(ctx, h, paneio.KeySubmit); err != nil {
		return Result{}, &SendFailedError{BytesSent: sent, Cause: err}
	}
	keystrokes++

	res := Result{
		PayloadBytes:   len(text),
		LineCount:      len(lines),
		Keystrokes:     keystrokes,
		KeystrokeDelay: delay,
		WallTime:       w.clock.Now().Sub(start),
	}

	w.log.Debug().
		Str("target", h.Target()).
		Int("payload_bytes", res.PayloadBytes).
		Int("line_count", res.LineCount).
		Int("keystrokes", res.Keystrokes).
		Dur("keystroke_delay", res.KeystrokeDelay).
		Dur("wall_time", res.WallTime).
		Msg("paste-safe send complete")

	return res, nil
}

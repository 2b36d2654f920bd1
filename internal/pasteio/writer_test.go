// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pasteio

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycode/overseer/internal/paneio"
)

// fakeExecutor records every call made against it, for assertions on
// call order and on the no-submit-until-last-keystroke invariant.
type fakeExecutor struct {
	mu       sync.Mutex
	lines    []string
	keys     []paneio.NamedKey
	gone     bool
	failAfter int // fail on the Nth SendText call (1-indexed), 0 = never
	calls    int
}

var _ paneio.Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) Create(ctx context.Context, sessionName, workingDir string) (paneio.Handle, error) {
	return paneio.Handle{Session: sessionName}, nil
}

func (f *fakeExecutor) SendText(ctx context.Context, h paneio.Handle, text string, submit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAfter != 0 && f.calls >= f.failAfter {
		f.gone = true
		return paneio.ErrPaneGone
	}
	f.lines = append(f.lines, text)
	return nil
}

func (f *fakeExecutor) SendKey(ctx context.Context, h paneio.Handle, key paneio.NamedKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return paneio.ErrPaneGone
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeExecutor) CaptureScrollback(ctx context.Context, h paneio.Handle, maxLines int) (string, error) {
	return "", nil
}

func (f *fakeExecutor) Kill(ctx context.Context, h paneio.Handle) error { return nil }
func (f *fakeExecutor) Alive(ctx context.Context, h paneio.Handle) bool { return !f.gone }

type instantClock struct{}

func (instantClock) Sleep(time.Duration) {}
func (instantClock) Now() time.Time      { return time.Time{} }

// countingClock accumulates slept durations so wall-time assertions run
// without real sleeps.
type countingClock struct {
	base    time.Time
	elapsed time.Duration
	sleeps  int
}

func (c *countingClock) Sleep(d time.Duration) {
	c.elapsed += d
	c.sleeps++
}

func (c *countingClock) Now() time.Time { return c.base.Add(c.elapsed) }

func TestWriterSendsLineByLine(t *testing.T) {
	fe := &fakeExecutor{}
	w := NewWriter(fe, zerolog.Nop()).WithClock(instantClock{})

	h := paneio.Handle{Session: "s1"}
	res, err := w.Send(context.Background(), h, "line one\nline two\nline three")
	require.NoError(t, err)

	assert.Equal(t, []string{"line one", "line two", "line three"}, fe.lines)
	// two NewlineNoSubmit between the three lines, plus a final Submit.
	assert.Equal(t, []paneio.NamedKey{
		paneio.KeyNewlineNoSubmit, paneio.KeyNewlineNoSubmit, paneio.KeySubmit,
	}, fe.keys)
	assert.Equal(t, 3, res.LineCount)
}

func TestWriterSubmitIsLastKeystroke(t *testing.T) {
	fe := &fakeExecutor{}
	w := NewWriter(fe, zerolog.Nop()).WithClock(instantClock{})

	_, err := w.Send(context.Background(), paneio.Handle{Session: "s1"}, "single line")
	require.NoError(t, err)

	require.NotEmpty(t, fe.keys)
	assert.Equal(t, paneio.KeySubmit, fe.keys[len(fe.keys)-1])
}

func TestWriterDelayScalesWithPayloadSize(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, interKeystrokeDelay(100))
	assert.Equal(t, 15*time.Millisecond, interKeystrokeDelay(1024))
	assert.Equal(t, 20*time.Millisecond, interKeystrokeDelay(3072))
}

func TestWriterMidStreamFailureReportsOffset(t *testing.T) {
	fe := &fakeExecutor{failAfter: 2}
	w := NewWriter(fe, zerolog.Nop()).WithClock(instantClock{})

	_, err := w.Send(context.Background(), paneio.Handle{Session: "s1"}, "aaaa\nbbbb\ncccc")

	require.Error(t, err)
	var sendFailed *SendFailedError
	require.ErrorAs(t, err, &sendFailed)
	assert.Equal(t, 5, sendFailed.BytesSent) // "aaaa" + the inserted newline
}

func TestWriterEmptyTextStillSubmits(t *testing.T) {
	fe := &fakeExecutor{}
	w := NewWriter(fe, zerolog.Nop()).WithClock(instantClock{})

	_, err := w.Send(context.Background(), paneio.Handle{Session: "s1"}, "")
	require.NoError(t, err)
	assert.Equal(t, []paneio.NamedKey{paneio.KeySubmit}, fe.keys)
}

func TestWriterPausesAfterEveryKeystroke(t *testing.T) {
	fe := &fakeExecutor{}
	clock := &countingClock{}
	w := NewWriter(fe, zerolog.Nop()).WithClock(clock)

	res, err := w.Send(context.Background(), paneio.Handle{Session: "s1"}, "one\ntwo\nthree")
	require.NoError(t, err)

	// 3 text writes + 2 newline keys + 1 submit.
	assert.Equal(t, 6, res.Keystrokes)
	// One pause per pre-submit keystroke plus the final settle pause.
	assert.Equal(t, 6, clock.sleeps)
	assert.GreaterOrEqual(t, res.WallTime, 5*res.KeystrokeDelay)
}

func TestWriterWallTimeScalesWithPayload(t *testing.T) {
	fe := &fakeExecutor{}
	clock := &countingClock{}
	w := NewWriter(fe, zerolog.Nop()).WithClock(clock)

	// 200 lines, ~3.5KB, lands in the slowest delay tier.
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "line payload text"
	}
	res, err := w.Send(context.Background(), paneio.Handle{Session: "s1"}, strings.Join(lines, "\n"))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, res.KeystrokeDelay)
	// 200 text writes + 199 newline keys, each followed by a pause.
	assert.GreaterOrEqual(t, res.WallTime, 399*res.KeystrokeDelay)
}

func TestWriterJoinedLinesRoundTrip(t *testing.T) {
	fe := &fakeExecutor{}
	w := NewWriter(fe, zerolog.Nop()).WithClock(instantClock{})

	text := "first\nsecond"
	_, err := w.Send(context.Background(), paneio.Handle{Session: "s1"}, text)
	require.NoError(t, err)

	assert.Equal(t, text, strings.Join(fe.lines, "\n"))
}

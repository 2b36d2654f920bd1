// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package paneio

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPTYExecutorRoundTrip(t *testing.T) {
	e := NewPTYExecutor()
	ctx := context.Background()

	h, err := e.Create(ctx, "pty-roundtrip", t.TempDir())
	require.NoError(t, err)
	defer e.Kill(ctx, h)

	require.NoError(t, e.SendText(ctx, h, "echo hello-pty", true))

	var out string
	for i := 0; i < 50; i++ {
		time.Sleep(20 * time.Millisecond)
		out, err = e.CaptureScrollback(ctx, h, 0)
		require.NoError(t, err)
		if strings.Contains(out, "hello-pty") {
			break
		}
	}
	assert.Contains(t, out, "hello-pty")
	assert.True(t, e.Alive(ctx, h))
}

func TestPTYExecutorKillMarksGone(t *testing.T) {
	e := NewPTYExecutor()
	ctx := context.Background()

	h, err := e.Create(ctx, "pty-kill", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, e.Kill(ctx, h))
	assert.False(t, e.Alive(ctx, h))

	err = e.SendText(ctx, h, "echo nope", true)
	assert.ErrorIs(t, err, ErrPaneGone)
}

func TestPTYExecutorUnknownSession(t *testing.T) {
	e := NewPTYExecutor()
	ctx := context.Background()
	h := Handle{Session: "never-created"}

	_, err := e.CaptureScrollback(ctx, h, 0)
	assert.ErrorIs(t, err, ErrPaneGone)
	assert.False(t, e.Alive(ctx, h))
}

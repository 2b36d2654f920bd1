// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycode/overseer/internal/overseer"
)

func TestDeliverAndReceiveFIFO(t *testing.T) {
	b := New()
	e1 := NewEnvelope("a", "b", "first", false)
	e2 := NewEnvelope("a", "b", "second", false)

	require.NoError(t, b.Deliver(e1))
	require.NoError(t, b.Deliver(e2))

	got1, ok := b.Receive("b")
	require.True(t, ok)
	assert.Equal(t, "first", got1.Body)

	got2, ok := b.Receive("b")
	require.True(t, ok)
	assert.Equal(t, "second", got2.Body)

	_, ok = b.Receive("b")
	assert.False(t, ok)
}

func TestDeliverQueueFull(t *testing.T) {
	b := New()
	for i := 0; i < QueueCapacity; i++ {
		require.NoError(t, b.Deliver(NewEnvelope("a", "b", "msg", false)))
	}

	err := b.Deliver(NewEnvelope("a", "b", "overflow", false))
	require.Error(t, err)

	var oerr *overseer.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, overseer.QueueFull, oerr.Kind)
}

func TestAwaitReplyResolvesOnReply(t *testing.T) {
	b := New()
	env := NewEnvelope("a", "b", "question", true)
	require.NoError(t, b.Deliver(env))

	go func() {
		time.Sleep(5 * time.Millisecond)
		reply := NewEnvelope("b", "a", "answer", false)
		reply.ID = env.ID
		require.NoError(t, b.Reply(env.ID, reply))
	}()

	got, err := b.AwaitReply(context.Background(), env.ID)
	require.NoError(t, err)
	assert.Equal(t, "answer", got.Body)
}

func TestAwaitReplyTimesOut(t *testing.T) {
	b := New()
	env := NewEnvelope("a", "b", "question", true)
	require.NoError(t, b.Deliver(env))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := b.AwaitReply(ctx, env.ID)
	require.Error(t, err)

	var oerr *overseer.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, overseer.Timeout, oerr.Kind)
}

func TestCancelUnblocksAwaitReply(t *testing.T) {
	b := New()
	env := NewEnvelope("a", "b", "question", true)
	require.NoError(t, b.Deliver(env))

	go func() {
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, b.Cancel(env.ID))
	}()

	_, err := b.AwaitReply(context.Background(), env.ID)
	require.Error(t, err)
}

func TestFallbackPollSameAsReceive(t *testing.T) {
	b := New()
	require.NoError(t, b.Deliver(NewEnvelope("a", "b", "polled", false)))

	got, ok := b.FallbackPoll("b")
	require.True(t, ok)
	assert.Equal(t, "polled", got.Body)
}

func TestQueueDepth(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.QueueDepth("c"))
	require.NoError(t, b.Deliver(NewEnvelope("a", "c", "x", false)))
	assert.Equal(t, 1, b.QueueDepth("c"))
}

func TestTrackRegistersOutstandingWithoutQueueing(t *testing.T) {
	b := New()
	env := NewEnvelope("a", "b", "pane-delivered", true)
	b.Track(env)

	_, ok := b.Receive("b")
	assert.False(t, ok, "tracked envelopes never appear in the inbound queue")

	go func() {
		reply := NewEnvelope("b", "a", "answer", false)
		require.NoError(t, b.Reply(env.ID, reply))
	}()

	got, err := b.AwaitReply(context.Background(), env.ID)
	require.NoError(t, err)
	assert.Equal(t, "answer", got.Body)
}

func TestLatestOutstandingForPicksNewest(t *testing.T) {
	b := New()

	older := NewEnvelope("x", "b", "first", true)
	older.SentAt = time.Now().Add(-time.Minute)
	newer := NewEnvelope("y", "b", "second", true)

	b.Track(older)
	b.Track(newer)

	id, ok := b.LatestOutstandingFor("b")
	require.True(t, ok)
	assert.Equal(t, newer.ID, id)

	_, ok = b.LatestOutstandingFor("nobody")
	assert.False(t, ok)
}

func TestWaitForGraphDerivedFromOutstanding(t *testing.T) {
	b := New()
	b.Track(NewEnvelope("a", "b", "q1", true))
	b.Track(NewEnvelope("b", "a", "q2", true))
	b.Track(NewEnvelope("external", "a", "ignored", true))

	graph := b.WaitForGraph()
	assert.Equal(t, map[string]string{"a": "b", "b": "a"}, graph)
}

func TestWaitForGraphPrefersOldestEdgePerSource(t *testing.T) {
	b := New()

	first := NewEnvelope("a", "b", "older", true)
	first.SentAt = time.Now().Add(-time.Minute)
	second := NewEnvelope("a", "c", "newer", true)

	b.Track(first)
	b.Track(second)

	graph := b.WaitForGraph()
	assert.Equal(t, "b", graph["a"])
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/relaycode/overseer/internal/overseer"
)

// QueueCapacity is the bounded size of each target's inbound queue. A
// sender that outruns the target's consumption rate gets QueueFull
// rather than blocking the whole orchestrator.
const QueueCapacity = 100

// pendingRequest is one outstanding await_reply call. The originating
// envelope is kept so the wait-for graph (deadlock detection) and the
// reply-to-caller lookup can be derived from the table on demand.
type pendingRequest struct {
	env       Envelope
	replyCh   chan Envelope
	cancelled bool
}

// Bus is the Message Bus: one bounded FIFO queue per target plus an
// outstanding-request table correlating replies back to their waiting
// caller.
type Bus struct {
	mu        sync.Mutex
	queues    map[string]chan Envelope
	outstanding map[string]*pendingRequest
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		queues:      make(map[string]chan Envelope),
		outstanding: make(map[string]*pendingRequest),
	}
}

func (b *Bus) queueFor(targetID string) chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[targetID]
	if !ok {
		q = make(chan Envelope, QueueCapacity)
		b.queues[targetID] = q
	}
	return q
}

// Deliver enqueues env onto its target's inbound queue. If env.ReplyTo
// is set, it also registers an outstanding request the sender can later
// AwaitReply on using env.ID.
func (b *Bus) Deliver(env Envelope) error {
	q := b.queueFor(env.ToID)

	select {
	case q <- env:
	default:
		return overseer.New(overseer.QueueFull, "inbound queue full for "+env.ToID).
			WithHint("the target instance is not draining its queue fast enough")
	}

	if env.ReplyTo {
		b.mu.Lock()
		b.outstanding[env.ID] = &pendingRequest{env: env, replyCh: make(chan Envelope, 1)}
		b.mu.Unlock()
	}

	return nil
}

// Track registers env in the outstanding-request table without
// enqueueing it anywhere. The engine uses this for pane-delivered
// messages: the text reaches the instance through keystrokes rather
// than its inbound queue, but the reply still correlates by id.
func (b *Bus) Track(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outstanding[env.ID] = &pendingRequest{env: env, replyCh: make(chan Envelope, 1)}
}

// LatestOutstandingFor returns the id of the most recently delivered
// outstanding message whose target is targetID. This is what lets an
// assistant call reply_to_caller without quoting the correlation tag:
// the bus resolves "the message I am currently answering" for it.
func (b *Bus) LatestOutstandingFor(targetID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var bestID string
	var bestAt time.Time
	for id, pending := range b.outstanding {
		if pending.env.ToID != targetID || pending.cancelled {
			continue
		}
		if bestID == "" || pending.env.SentAt.After(bestAt) {
			bestID = id
			bestAt = pending.env.SentAt
		}
	}
	return bestID, bestID != ""
}

// WaitForGraph derives the source→target wait-for edges from the
// outstanding-request table: an edge A→B means A has an unanswered
// message out to B. The graph is rebuilt on every call and never
// stored. When one source has several outstanding requests,
// the oldest one wins, since it is the one a deadlock would have
// formed around first.
func (b *Bus) WaitForGraph() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldest := make(map[string]time.Time)
	graph := make(map[string]string)
	for _, pending := range b.outstanding {
		if pending.cancelled || pending.env.FromID == "" || pending.env.FromID == "external" {
			continue
		}
		at, seen := oldest[pending.env.FromID]
		if !seen || pending.env.SentAt.Before(at) {
			oldest[pending.env.FromID] = pending.env.SentAt
			graph[pending.env.FromID] = pending.env.ToID
		}
	}
	return graph
}

// Receive dequeues the next pending envelope for targetID without
// blocking. ok is false if the queue is empty.
func (b *Bus) Receive(targetID string) (Envelope, bool) {
	q := b.queueFor(targetID)
	select {
	case env := <-q:
		return env, true
	default:
		return Envelope{}, false
	}
}

// FallbackPoll is an alias for Receive kept distinct in the public API
// so callers using the request/reply pattern can express intent: a
// client polling for a reply it expected to get pushed, after a
// connection hiccup.
func (b *Bus) FallbackPoll(targetID string) (Envelope, bool) {
	return b.Receive(targetID)
}

// AwaitReply blocks until requestID's reply arrives, ctx is canceled, or
// the bus-level Cancel is called against it.
func (b *Bus) AwaitReply(ctx context.Context, requestID string) (Envelope, error) {
	b.mu.Lock()
	pending, ok := b.outstanding[requestID]
	b.mu.Unlock()

	if !ok {
		return Envelope{}, overseer.New(overseer.InvalidArgument, "no outstanding request: "+requestID)
	}

	select {
	case env, ok := <-pending.replyCh:
		if !ok {
			return Envelope{}, overseer.New(overseer.Internal, "request canceled: "+requestID)
		}
		b.mu.Lock()
		delete(b.outstanding, requestID)
		b.mu.Unlock()
		return env, nil
	case <-ctx.Done():
		return Envelope{}, overseer.Wrap(overseer.Timeout, "await_reply timed out for "+requestID, ctx.Err())
	}
}

// Reply resolves the outstanding request requestID with env. It is a
// no-op (not an error) if the request has already been resolved or
// canceled, since a race between timeout and a late reply is expected.
func (b *Bus) Reply(requestID string, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, ok := b.outstanding[requestID]
	if !ok {
		return nil
	}

	select {
	case pending.replyCh <- env:
	default:
	}
	return nil
}

// Cancel abandons an outstanding request, unblocking any AwaitReply
// call on it with an error.
func (b *Bus) Cancel(requestID string) error {
	b.mu.Lock()
	pending, ok := b.outstanding[requestID]
	if ok {
		delete(b.outstanding, requestID)
	}
	b.mu.Unlock()

	if ok && !pending.cancelled {
		pending.cancelled = true
		close(pending.replyCh)
	}
	return nil
}

// QueueDepth reports how many envelopes are currently queued for
// targetID, for supervisor/monitor diagnostics.
func (b *Bus) QueueDepth(targetID string) int {
	q := b.queueFor(targetID)
	return len(q)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bus delivers messages between instances: a bounded FIFO
// inbound queue per target plus an outstanding-request table that
// correlates replies back to their waiting caller by message id.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is one message traveling through the bus.
type Envelope struct {
	ID            string
	FromID        string
	ToID          string
	Body          string
	CorrelationTag string // optional "[MSG:<id>]"-style tag a sender attaches
	SentAt        time.Time

	// ReplyTo is set when this envelope expects a reply; the bus tracks
	// it in the outstanding-request table until Reply or Cancel resolves
	// it, or it times out.
	ReplyTo bool
}

// NewEnvelope builds an Envelope with a fresh id and the current time.
func NewEnvelope(fromID, toID, body string, replyTo bool) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		FromID:  fromID,
		ToID:    toID,
		Body:    body,
		SentAt:  time.Now(),
		ReplyTo: replyTo,
	}
}

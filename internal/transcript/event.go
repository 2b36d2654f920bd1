// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transcript parses the NDJSON stream an assistant CLI writes to
// its pane (or stdout, when run without a pane) into a small set of
// typed events, and deduplicates repeated lines caused by terminal
// redraws and overlapping scrollback captures.
package transcript

import "time"

// EventKind classifies one parsed transcript line.
type EventKind string

const (
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventText       EventKind = "text"
)

// Event is one classified, orchestrator-timestamped unit of assistant
// output. A line that is neither a known JSON shape nor a plain line
// matching the parser's progress-word pattern never produces an Event;
// it is retained only in the raw scrollback capture log.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	ToolName  string // set for EventToolUse / EventToolResult
	Text      string // human-readable payload: tool input/output summary, or text content
	Raw       string // the original line, for audit journaling
}

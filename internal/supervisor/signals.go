// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor periodically mines each running instance's
// transcript for signals of progress, looks for anomalies against
// configurable thresholds, and applies a bounded escalation of
// interventions through the same send surface every other caller uses.
package supervisor

import (
	"regexp"

	"github.com/relaycode/overseer/internal/transcript"
)

// SignalKind classifies what a matched pattern says about an
// instance's state.
type SignalKind string

const (
	SignalCompletion SignalKind = "completion"
	SignalActive     SignalKind = "active"
	SignalBlocked    SignalKind = "blocked"
	SignalError      SignalKind = "error"
	SignalToolUse    SignalKind = "tool_use"
)

// Signal is one pattern match extracted from an instance's output,
// carrying a confidence score since text-pattern matching is
// inherently approximate.
type Signal struct {
	Kind       SignalKind
	Confidence float64
	Excerpt    string
}

type signalPattern struct {
	kind       SignalKind
	re         *regexp.Regexp
	confidence float64
}

// patterns are checked in order; every matching pattern against one
// line produces a Signal (a line can, e.g., both look like an error
// and look like it is asking a blocking question). Word-boundary,
// case-insensitive matching throughout.
var patterns = []signalPattern{
	{SignalCompletion, regexp.MustCompile(`(?i)\b(done|finished|completed)\b`), 0.85},
	{SignalActive, regexp.MustCompile(`(?i)\b(working|analyzing|processing)\b`), 0.8},
	{SignalBlocked, regexp.MustCompile(`(?i)\b(blocked|stuck|waiting for)\b`), 0.9},
	{SignalError, regexp.MustCompile(`(?i)\b(error|failed|exception)\b`), 0.95},
}

// ExtractSignals scans ev's text for known patterns. Tool-use events
// always also yield a SignalToolUse signal with high confidence, since
// their kind is already unambiguous from the transcript parser.
func ExtractSignals(ev transcript.Event) []Signal {
	var signals []Signal

	if ev.Kind == transcript.EventToolUse {
		signals = append(signals, Signal{Kind: SignalToolUse, Confidence: 0.95, Excerpt: ev.ToolName})
	}

	for _, p := range patterns {
		if loc := p.re.FindString(ev.Text); loc != "" {
			signals = append(signals, Signal{Kind: p.kind, Confidence: p.confidence, Excerpt: loc})
		}
	}

	return signals
}

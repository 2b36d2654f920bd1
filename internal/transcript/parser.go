// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"encoding/json"
	"hash/fnv"
	"regexp"
	"sync"
	"time"
)

// rawLine mirrors the small slice of an assistant CLI's stream-json
// shape that the orchestrator actually interprets. Everything else in
// the line is ignored; unknown "type" values produce no Event.
type rawLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	// tool_use
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// tool_result
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`

	// text / assistant message delta
	Text string `json:"text"`
}

// retainPattern keeps the plain-text lines the progress evaluator's
// word lists care about; every other non-JSON line is discarded from
// the event stream (it still lands in the raw capture log).
var retainPattern = regexp.MustCompile(`(?i)\b(done|finished|completed|working|analyzing|processing|blocked|stuck|waiting for|error|failed|exception)\b`)

// Parser classifies NDJSON lines into Events and deduplicates lines the
// assistant CLI's own terminal redraw has repeated. Safe for concurrent
// use; each instance owns one, shared by its send and capture paths.
type Parser struct {
	mu       sync.Mutex
	seen     map[uint64]struct{}
	order    []uint64
	capacity int
}

const defaultDedupCapacity = 2000

// NewParser builds a Parser with the default line-fingerprint ring
// capacity (2000 lines), matching the orchestrator's bounded memory
// budget for long-lived instances.
func NewParser() *Parser {
	return &Parser{
		seen:     make(map[uint64]struct{}, defaultDedupCapacity),
		capacity: defaultDedupCapacity,
	}
}

// fingerprint returns a 64-bit FNV-1a hash of a raw line, used as the
// dedup key. Collisions are accepted: an occasional missed duplicate or
// falsely-dropped distinct line is harmless for transcript mining.
func fingerprint(line string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(line))
	return h.Sum64()
}

// Seen reports whether line has already been processed, recording it as
// seen if not. The backing ring evicts the oldest fingerprint once
// capacity is exceeded, so very long-lived instances never grow the set
// unbounded.
func (p *Parser) Seen(line string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fp := fingerprint(line)
	if _, ok := p.seen[fp]; ok {
		return true
	}

	if len(p.order) >= p.capacity {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.seen, oldest)
	}
	p.seen[fp] = struct{}{}
	p.order = append(p.order, fp)
	return false
}

// Parse classifies a single NDJSON line, stamping it with ts (the time
// the orchestrator observed the line, not a time embedded in the line
// itself — the assistant CLI's own timestamps are not trusted).
// Non-JSON lines are retained as text events only when they match the
// progress-word retain pattern; everything else returns ok=false and
// survives only in the raw capture log the caller writes.
func (p *Parser) Parse(line string, ts time.Time) (Event, bool) {
	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return p.retainPlain(line, ts)
	}

	switch raw.Type {
	case "tool_use":
		return Event{
			Kind:      EventToolUse,
			Timestamp: ts,
			ToolName:  raw.Name,
			Text:      string(raw.Input),
			Raw:       line,
		}, true
	case "tool_result":
		return Event{
			Kind:      EventToolResult,
			Timestamp: ts,
			ToolName:  raw.ToolUseID,
			Text:      string(raw.Content),
			Raw:       line,
		}, true
	case "text", "assistant", "message_delta":
		if raw.Text == "" {
			return Event{}, false
		}
		return Event{
			Kind:      EventText,
			Timestamp: ts,
			Text:      raw.Text,
			Raw:       line,
		}, true
	default:
		// Unknown JSON types are ignored outright; only non-JSON lines
		// go through the retain-pattern check.
		return Event{}, false
	}
}

func (p *Parser) retainPlain(line string, ts time.Time) (Event, bool) {
	if !retainPattern.MatchString(line) {
		return Event{}, false
	}
	return Event{
		Kind:      EventText,
		Timestamp: ts,
		Text:      line,
		Raw:       line,
	}, true
}

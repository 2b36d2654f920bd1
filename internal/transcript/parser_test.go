// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolUse(t *testing.T) {
	p := NewParser()
	ts := time.Now()

	ev, ok := p.Parse(`{"type":"tool_use","name":"bash","input":{"command":"ls"}}`, ts)
	require.True(t, ok)
	assert.Equal(t, EventToolUse, ev.Kind)
	assert.Equal(t, "bash", ev.ToolName)
	assert.Equal(t, ts, ev.Timestamp)
}

func TestParseToolResult(t *testing.T) {
	p := NewParser()
	ev, ok := p.Parse(`{"type":"tool_result","tool_use_id":"abc123","content":"ok"}`, time.Now())
	require.True(t, ok)
	assert.Equal(t, EventToolResult, ev.Kind)
	assert.Equal(t, "abc123", ev.ToolName)
}

func TestParseText(t *testing.T) {
	p := NewParser()
	ev, ok := p.Parse(`{"type":"text","text":"hello there"}`, time.Now())
	require.True(t, ok)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "hello there", ev.Text)
}

func TestParseUnknownTypeIgnored(t *testing.T) {
	p := NewParser()
	_, ok := p.Parse(`{"type":"system_init","model":"whatever"}`, time.Now())
	assert.False(t, ok)
}

func TestParseInvalidJSONIgnored(t *testing.T) {
	p := NewParser()
	_, ok := p.Parse(`not json at all`, time.Now())
	assert.False(t, ok)
}

func TestParseEmptyTextIgnored(t *testing.T) {
	p := NewParser()
	_, ok := p.Parse(`{"type":"text","text":""}`, time.Now())
	assert.False(t, ok)
}

func TestParseRetainsPlainLinesMatchingProgressWords(t *testing.T) {
	p := NewParser()

	ev, ok := p.Parse(`Build failed with 3 errors`, time.Now())
	require.True(t, ok)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "Build failed with 3 errors", ev.Text)

	ev, ok = p.Parse(`still waiting for the lock to release`, time.Now())
	require.True(t, ok)
	assert.Equal(t, EventText, ev.Kind)
	_ = ev
}

func TestSeenDeduplicatesRepeatedLine(t *testing.T) {
	p := NewParser()
	line := `{"type":"text","text":"same line"}`

	assert.False(t, p.Seen(line))
	assert.True(t, p.Seen(line))
	assert.True(t, p.Seen(line))
}

func TestSeenEvictsOldestBeyondCapacity(t *testing.T) {
	p := NewParser()
	p.capacity = 4

	for i := 0; i < 4; i++ {
		line := fmt.Sprintf(`{"type":"text","text":"line-%d"}`, i)
		assert.False(t, p.Seen(line))
	}

	// Pushing a 5th line evicts line-0's fingerprint, so it is reported
	// as unseen again.
	assert.False(t, p.Seen(`{"type":"text","text":"line-4"}`))
	assert.False(t, p.Seen(`{"type":"text","text":"line-0"}`))
}

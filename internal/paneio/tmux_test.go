// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package paneio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleTarget(t *testing.T) {
	assert.Equal(t, "sess", Handle{Session: "sess"}.Target())
	assert.Equal(t, "sess:win", Handle{Session: "sess", Window: "win"}.Target())
}

func TestTmuxKeyName(t *testing.T) {
	assert.Equal(t, "Enter", tmuxKeyName(KeySubmit))
	assert.Equal(t, "C-j", tmuxKeyName(KeyNewlineNoSubmit))
	assert.Equal(t, "PageUp", tmuxKeyName(NamedKey("PageUp")))
}

func TestFilterTMUXEnv(t *testing.T) {
	in := []string{"PATH=/usr/bin", "TMUX=/tmp/tmux-0/default,1234,0", "TMUX_PANE=%1", "HOME=/root"}
	out := filterTMUXEnv(in)

	assert.Contains(t, out, "PATH=/usr/bin")
	assert.Contains(t, out, "TMUX_PANE=%1")
	assert.Contains(t, out, "HOME=/root")
	assert.NotContains(t, out, "TMUX=/tmp/tmux-0/default,1234,0")
	assert.Len(t, out, 3)
}

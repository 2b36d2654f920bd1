// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycode/overseer/internal/overseer"
)

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register(Operation{
		Name: "echo",
		Handler: func(ctx context.Context, input json.RawMessage) (interface{}, error) {
			return string(input), nil
		},
	})

	result, err := r.Invoke(context.Background(), "echo", json.RawMessage(`"hi"`))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, result)
}

func TestInvokeUnknownOperation(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "nope", nil)

	var oerr *overseer.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, overseer.NotFound, oerr.Kind)
}

func TestNamesAreSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(Operation{Name: "zebra"})
	r.Register(Operation{Name: "apple"})
	r.Register(Operation{Name: "mango"})

	names := r.Names()
	require.Len(t, names, 3)
	assert.True(t, sort.StringsAreSorted(names))
}

// TestBothTransportsShareOneRegistry pins the transport-equivalence
// invariant at the construction level: httptransport and stdiotransport
// both take a *Registry built once by BuildRegistry, so there is no
// code path where one transport's route table and the other's operation
// set could drift apart.
func TestBothTransportsShareOneRegistry(t *testing.T) {
	deps := Deps{} // zero-value deps: this only exercises registration, not invocation
	reg := BuildRegistry(deps)

	names := reg.Names()
	want := []string{
		"spawn_instance", "send_message", "terminate_instance", "get_output",
		"list_instances", "get_children", "get_instance", "purge_instances",
		"deliver_message", "await_reply", "reply_message", "reply_to_caller",
		"cancel_message", "receive_message", "fallback_poll", "queue_depth",
		"broadcast", "coordinate", "collect_team_artifacts",
		"evaluate_now", "get_progress", "list_progress", "detect_deadlock", "wait_for_graph",
		"recent_events", "get_communication_log", "get_audit_log", "health_check",
		"list_operations",
	}
	for _, name := range want {
		assert.Contains(t, names, name)
	}
	assert.Len(t, names, len(want))
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycode/overseer/internal/bus"
	"github.com/relaycode/overseer/internal/coordinator"
	"github.com/relaycode/overseer/internal/engine"
	"github.com/relaycode/overseer/internal/logplane"
	"github.com/relaycode/overseer/internal/monitor"
	"github.com/relaycode/overseer/internal/overseer"
	"github.com/relaycode/overseer/internal/paneio"
	"github.com/relaycode/overseer/internal/pasteio"
	"github.com/relaycode/overseer/internal/registry"
	"github.com/relaycode/overseer/internal/supervisor"
)

// fakeExecutor buffers pane writes in memory so every operation handler
// can run end-to-end without a terminal. Both transports dispatch
// through the same Registry.Invoke these tests use, so passing here
// pins the behavior for HTTP and stdio alike.
type fakeExecutor struct {
	mu    sync.Mutex
	panes map[string]*strings.Builder
}

var _ paneio.Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) Create(ctx context.Context, sessionName, workingDir string) (paneio.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes[sessionName] = &strings.Builder{}
	return paneio.Handle{Session: sessionName}, nil
}

func (f *fakeExecutor) SendText(ctx context.Context, h paneio.Handle, text string, submit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.panes[h.Session]
	if !ok {
		return paneio.ErrPaneGone
	}
	b.WriteString(text)
	if submit {
		b.WriteString("\n")
	}
	return nil
}

func (f *fakeExecutor) SendKey(ctx context.Context, h paneio.Handle, key paneio.NamedKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.panes[h.Session]
	if !ok {
		return paneio.ErrPaneGone
	}
	b.WriteString("\n")
	return nil
}

func (f *fakeExecutor) CaptureScrollback(ctx context.Context, h paneio.Handle, maxLines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.panes[h.Session]
	if !ok {
		return "", paneio.ErrPaneGone
	}
	return b.String(), nil
}

func (f *fakeExecutor) Kill(ctx context.Context, h paneio.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.panes, h.Session)
	return nil
}

func (f *fakeExecutor) Alive(ctx context.Context, h paneio.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.panes[h.Session]
	return ok
}

func newTestSurface(t *testing.T) (*Registry, Deps) {
	t.Helper()
	reg := registry.New()
	exec := &fakeExecutor{panes: make(map[string]*strings.Builder)}
	writer := pasteio.NewWriter(exec, zerolog.Nop())
	plane, err := logplane.New(t.TempDir(), zerolog.InfoLevel, 0, 0)
	require.NoError(t, err)

	mbus := bus.New()
	eng := engine.New(reg, exec, writer, plane, mbus, engine.Options{MaxInstances: 20, ArtifactRoot: t.TempDir()})
	coord := coordinator.New(reg, eng)
	feed := monitor.New()
	sup := supervisor.New(reg, eng, mbus, feed, plane, supervisor.Config{
		Interval:                time.Second,
		StuckThreshold:          time.Hour,
		ErrorLoopThreshold:      3,
		WaitingThreshold:        time.Hour,
		MaxInterventionsPerInst: 3,
		Cooldown:                time.Minute,
	}, nil)

	deps := Deps{
		Registry:     reg,
		Engine:       eng,
		Bus:          mbus,
		Coordinator:  coord,
		Supervisor:   sup,
		Feed:         feed,
		Plane:        plane,
		ArtifactRoot: t.TempDir(),
		StartedAt:    time.Now(),
	}
	return BuildRegistry(deps), deps
}

func invoke(t *testing.T, r *Registry, op, input string, out interface{}) error {
	t.Helper()
	result, err := r.Invoke(context.Background(), op, json.RawMessage(input))
	if err != nil {
		return err
	}
	if out != nil {
		data, err := json.Marshal(result)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return nil
}

func TestOpsSpawnListTerminateRoundTrip(t *testing.T) {
	r, _ := newTestSurface(t)

	var inst struct {
		ID    string `json:"ID"`
		State string `json:"State"`
	}
	require.NoError(t, invoke(t, r, "spawn_instance", `{"name":"w1","kind":"claude","work_dir":"`+t.TempDir()+`"}`, &inst))
	require.NotEmpty(t, inst.ID)
	assert.Equal(t, "running", inst.State)

	var listed []struct {
		ID string `json:"ID"`
	}
	require.NoError(t, invoke(t, r, "list_instances", `{}`, &listed))
	require.Len(t, listed, 1)

	require.NoError(t, invoke(t, r, "terminate_instance", `{"instance_id":"`+inst.ID+`"}`, nil))

	require.NoError(t, invoke(t, r, "list_instances", `{}`, &listed))
	assert.Empty(t, listed)

	require.NoError(t, invoke(t, r, "list_instances", `{"include_terminated":true}`, &listed))
	assert.Len(t, listed, 1)
}

func TestOpsSendToUnknownInstanceIsNotFound(t *testing.T) {
	r, _ := newTestSurface(t)

	err := invoke(t, r, "send_message", `{"instance_id":"ghost","text":"hi"}`, nil)
	var oerr *overseer.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, overseer.NotFound, oerr.Kind)
}

func TestOpsReplyToCallerResolvesLatestPending(t *testing.T) {
	r, deps := newTestSurface(t)

	var inst struct {
		ID string `json:"ID"`
	}
	require.NoError(t, invoke(t, r, "spawn_instance", `{"name":"w2","kind":"claude","work_dir":"`+t.TempDir()+`"}`, &inst))

	done := make(chan string, 1)
	go func() {
		reply, err := deps.Engine.Send(context.Background(), inst.ID, "question?", engine.SendOptions{
			FromID:       "external",
			WaitForReply: true,
			Timeout:      5 * time.Second,
		})
		if err != nil {
			done <- "error: " + err.Error()
			return
		}
		done <- reply
	}()

	// Poll until the send's tracked request shows up, then answer it the
	// way an assistant would: through reply_to_caller.
	require.Eventually(t, func() bool {
		_, ok := deps.Bus.LatestOutstandingFor(inst.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, invoke(t, r, "reply_to_caller", `{"from_id":"`+inst.ID+`","body":"the answer"}`, nil))

	select {
	case reply := <-done:
		assert.Equal(t, "the answer", reply)
	case <-time.After(5 * time.Second):
		t.Fatal("send never resolved")
	}
}

func TestOpsReplyToCallerWithNothingPending(t *testing.T) {
	r, _ := newTestSurface(t)

	err := invoke(t, r, "reply_to_caller", `{"from_id":"nobody","body":"x"}`, nil)
	var oerr *overseer.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, overseer.NotFound, oerr.Kind)
}

func TestOpsBroadcastReportsPerChild(t *testing.T) {
	r, _ := newTestSurface(t)

	var parent struct {
		ID string `json:"ID"`
	}
	require.NoError(t, invoke(t, r, "spawn_instance", `{"name":"p","kind":"claude","work_dir":"`+t.TempDir()+`"}`, &parent))

	var child struct {
		ID string `json:"ID"`
	}
	require.NoError(t, invoke(t, r, "spawn_instance", `{"name":"c","kind":"claude","parent_id":"`+parent.ID+`","work_dir":"`+t.TempDir()+`"}`, &child))

	var results map[string]string
	require.NoError(t, invoke(t, r, "broadcast", `{"from_id":"external","parent_id":"`+parent.ID+`","text":"status"}`, &results))
	require.Len(t, results, 1)
	assert.Empty(t, results[child.ID])
}

func TestOpsHealthCheckCountsInstances(t *testing.T) {
	r, _ := newTestSurface(t)

	var out struct {
		OK            bool `json:"ok"`
		LiveInstances int  `json:"live_instances"`
	}
	require.NoError(t, invoke(t, r, "health_check", `{}`, &out))
	assert.True(t, out.OK)
	assert.Zero(t, out.LiveInstances)
}

func TestOpsQueueDepthAndDeliver(t *testing.T) {
	r, _ := newTestSurface(t)

	require.NoError(t, invoke(t, r, "deliver_message", `{"from_id":"a","to_id":"b","body":"hi"}`, nil))

	var depth struct {
		Depth int `json:"depth"`
	}
	require.NoError(t, invoke(t, r, "queue_depth", `{"target_id":"b"}`, &depth))
	assert.Equal(t, 1, depth.Depth)
}

func TestOpsGetCommunicationLogAfterSend(t *testing.T) {
	r, _ := newTestSurface(t)

	var inst struct {
		ID string `json:"ID"`
	}
	require.NoError(t, invoke(t, r, "spawn_instance", `{"name":"w3","kind":"claude","work_dir":"`+t.TempDir()+`"}`, &inst))
	require.NoError(t, invoke(t, r, "send_message", `{"instance_id":"`+inst.ID+`","from_id":"external","text":"logged"}`, nil))

	var out struct {
		Records []struct {
			Event string `json:"event"`
			Body  string `json:"body"`
		} `json:"records"`
	}
	require.NoError(t, invoke(t, r, "get_communication_log", `{"instance_id":"`+inst.ID+`"}`, &out))
	require.Len(t, out.Records, 1)
	assert.Equal(t, "sent", out.Records[0].Event)
	assert.Contains(t, out.Records[0].Body, "logged")
}

func TestOpsDetectDeadlockUsesBusWhenNoGraphGiven(t *testing.T) {
	r, deps := newTestSurface(t)

	deps.Bus.Track(bus.NewEnvelope("a", "b", "q", true))
	deps.Bus.Track(bus.NewEnvelope("b", "a", "q", true))

	var out struct {
		Found bool     `json:"found"`
		Cycle []string `json:"cycle"`
	}
	require.NoError(t, invoke(t, r, "detect_deadlock", ``, &out))
	assert.True(t, out.Found)
	assert.ElementsMatch(t, []string{"a", "b"}, out.Cycle)
}

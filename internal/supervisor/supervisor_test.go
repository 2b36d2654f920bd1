// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycode/overseer/internal/bus"
	"github.com/relaycode/overseer/internal/engine"
	"github.com/relaycode/overseer/internal/logplane"
	"github.com/relaycode/overseer/internal/monitor"
	"github.com/relaycode/overseer/internal/paneio"
	"github.com/relaycode/overseer/internal/pasteio"
	"github.com/relaycode/overseer/internal/registry"
	"github.com/relaycode/overseer/internal/transcript"
)

// fakeExecutor buffers pane text in memory so supervisor passes run
// against deterministic scrollback without a terminal.
type fakeExecutor struct {
	mu    sync.Mutex
	panes map[string]*strings.Builder
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{panes: make(map[string]*strings.Builder)}
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

func TestExtractSignalsCompletionAndError(t *testing.T) {
	completion := ExtractSignals(transcriptEvent("All done, ready for the next task."))
	require.NotEmpty(t, completion)
	assertHasKind(t, completion, SignalCompletion)

	errSignals := ExtractSignals(transcriptEvent("Error: nil pointer dereference"))
	require.NotEmpty(t, errSignals)
	assertHasKind(t, errSignals, SignalError)
}

func TestExtractSignalsBlockedAndActive(t *testing.T) {
	blocked := ExtractSignals(transcriptEvent("I am stuck on the failing migration"))
	assertHasKind(t, blocked, SignalBlocked)

	active := ExtractSignals(transcriptEvent("analyzing the dependency graph"))
	assertHasKind(t, active, SignalActive)
}

func TestExtractSignalsToolUseAlwaysHighConfidence(t *testing.T) {
	ev := transcriptEventToolUse("bash")
	signals := ExtractSignals(ev)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalToolUse, signals[0].Kind)
	assert.Greater(t, signals[0].Confidence, 0.9)
}

func TestDetectAnomaliesStuck(t *testing.T) {
	now := time.Now()
	track := &instanceTrack{lastOutputAt: now.Add(-10 * time.Minute)}

	anomalies := detectAnomalies(track, now, 5*time.Minute, 2*time.Minute, 3)
	assertHasAnomaly(t, anomalies, AnomalyStuck)
}

func TestDetectAnomaliesErrorLoop(t *testing.T) {
	now := time.Now()
	track := &instanceTrack{consecutiveErrors: 3}

	anomalies := detectAnomalies(track, now, 5*time.Minute, 2*time.Minute, 3)
	assertHasAnomaly(t, anomalies, AnomalyErrorLoop)
}

func TestNextActionEscalatesAndCaps(t *testing.T) {
	assert.Equal(t, ActionStatusCheck, nextAction(1))
	assert.Equal(t, ActionHelpOffer, nextAction(2))
	assert.Equal(t, ActionSpawnHelper, nextAction(3))
	assert.Equal(t, ActionEscalate, nextAction(4))
	assert.Equal(t, ActionEscalate, nextAction(10))
}

func TestClassifyPrecedence(t *testing.T) {
	now := time.Now()
	track := &instanceTrack{lastOutputAt: now}

	both := []Anomaly{{Kind: AnomalyStuck}, {Kind: AnomalyErrorLoop}}
	assert.Equal(t, ClassErrorLoop, classify(track, both, now, 5*time.Minute))

	assert.Equal(t, ClassStuck, classify(track, []Anomaly{{Kind: AnomalyStuck}}, now, 5*time.Minute))
	assert.Equal(t, ClassWaiting, classify(track, []Anomaly{{Kind: AnomalyWaiting}}, now, 5*time.Minute))
	assert.Equal(t, ClassHealthy, classify(track, nil, now, 5*time.Minute))

	track.recentToolUse = true
	assert.Equal(t, ClassActive, classify(track, nil, now, 5*time.Minute))

	idle := &instanceTrack{lastOutputAt: now.Add(-4 * time.Minute)}
	assert.Equal(t, ClassIdle, classify(idle, nil, now, 5*time.Minute))
}

func TestDetectDeadlockFindsSimpleCycle(t *testing.T) {
	waitFor := map[string]string{"a": "b", "b": "a"}
	cycle, found := DetectDeadlock(waitFor)
	require.True(t, found)
	assert.ElementsMatch(t, []string{"a", "b"}, cycle)
}

func TestDetectDeadlockNoCycle(t *testing.T) {
	waitFor := map[string]string{"a": "b"}
	_, found := DetectDeadlock(waitFor)
	assert.False(t, found)
}

func TestDetectDeadlockDeterministicAcrossCalls(t *testing.T) {
	waitFor := map[string]string{"a": "b", "b": "c", "c": "a", "d": "a"}
	first, _ := DetectDeadlock(waitFor)
	second, _ := DetectDeadlock(waitFor)
	assert.Equal(t, first, second)
}

type testHarness struct {
	reg  *registry.Registry
	eng  *engine.Engine
	mbus *bus.Bus
	feed *monitor.Feed
	sup  *Supervisor
	exec *fakeExecutor
}

func newHarness(t *testing.T, cfg Config, helper func(ctx context.Context, parentID string) error) *testHarness {
	t.Helper()
	reg := registry.New()
	exec := newFakeExecutor()
	writer := pasteio.NewWriter(exec, zerolog.Nop())
	plane, err := logplane.New(t.TempDir(), zerolog.InfoLevel, 0, 0)
	require.NoError(t, err)

	mbus := bus.New()
	eng := engine.New(reg, exec, writer, plane, mbus, engine.Options{MaxInstances: 20})
	feed := monitor.New()

	return &testHarness{
		reg:  reg,
		eng:  eng,
		mbus: mbus,
		feed: feed,
		sup:  New(reg, eng, mbus, feed, plane, cfg, helper),
		exec: exec,
	}
}

func stuckConfig() Config {
	return Config{
		Interval:                time.Second,
		StuckThreshold:          0, // force immediate stuck detection
		ErrorLoopThreshold:      3,
		WaitingThreshold:        time.Minute,
		MaxInterventionsPerInst: 3,
		Cooldown:                0,
	}
}

func TestSupervisorEvaluateOnceSendsStatusCheckWhenStuck(t *testing.T) {
	h := newHarness(t, stuckConfig(), nil)

	inst, err := h.eng.Spawn(context.Background(), engine.SpawnOptions{
		Name: "stuck-one", Kind: registry.KindClaude, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)

	track := h.sup.trackFor(inst.ID)
	track.lastOutputAt = time.Now().Add(-time.Hour)

	h.sup.EvaluateOnce(context.Background())

	got, err := h.reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastInterventionReason, "status_check")
}

func TestSupervisorLadderEndsInOneShotEscalation(t *testing.T) {
	helperCalls := 0
	h := newHarness(t, stuckConfig(), func(ctx context.Context, parentID string) error {
		helperCalls++
		return nil
	})

	inst, err := h.eng.Spawn(context.Background(), engine.SpawnOptions{
		Name: "stuck-two", Kind: registry.KindClaude, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)

	track := h.sup.trackFor(inst.ID)
	for cycle := 0; cycle < 6; cycle++ {
		track.lastOutputAt = time.Now().Add(-time.Hour)
		track.lastInterventionAt = time.Time{} // bypass cooldown between cycles
		h.sup.EvaluateOnce(context.Background())
	}

	assert.Equal(t, 1, helperCalls)
	assert.True(t, track.escalated)
	assert.Equal(t, 3, track.interventionCount)
}

func TestSupervisorErrorLoopProbeFiresOnce(t *testing.T) {
	h := newHarness(t, Config{
		Interval:                time.Second,
		StuckThreshold:          time.Hour,
		ErrorLoopThreshold:      2,
		WaitingThreshold:        time.Hour,
		MaxInterventionsPerInst: 3,
		Cooldown:                0,
	}, nil)

	inst, err := h.eng.Spawn(context.Background(), engine.SpawnOptions{
		Name: "erroring", Kind: registry.KindClaude, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)

	track := h.sup.trackFor(inst.ID)
	track.lastOutputAt = time.Now()
	track.consecutiveErrors = 5

	h.sup.EvaluateOnce(context.Background())
	first := track.errorLoopMessaged

	track.consecutiveErrors = 5
	h.sup.EvaluateOnce(context.Background())

	assert.True(t, first)

	got, err := h.reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastInterventionReason, "error_loop_probe")

	out, err := h.exec.CaptureScrollback(context.Background(), got.Handle, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "hitting the same error repeatedly"))
}

func TestSupervisorSnapshotExposesClassification(t *testing.T) {
	h := newHarness(t, stuckConfig(), nil)

	inst, err := h.eng.Spawn(context.Background(), engine.SpawnOptions{
		Name: "snap", Kind: registry.KindClaude, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)

	track := h.sup.trackFor(inst.ID)
	track.lastOutputAt = time.Now().Add(-time.Hour)

	h.sup.EvaluateOnce(context.Background())

	snap, ok := h.sup.Snapshot(inst.ID)
	require.True(t, ok)
	assert.Equal(t, ClassStuck, snap.Classification)
	assert.Equal(t, inst.ID, snap.InstanceID)
}

func TestSupervisorBreaksDeadlockViaHighestID(t *testing.T) {
	h := newHarness(t, Config{
		Interval:                time.Second,
		StuckThreshold:          time.Hour,
		ErrorLoopThreshold:      99,
		WaitingThreshold:        time.Hour,
		MaxInterventionsPerInst: 3,
		Cooldown:                0,
	}, nil)

	a, err := h.eng.Spawn(context.Background(), engine.SpawnOptions{
		Name: "a", Kind: registry.KindClaude, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	b, err := h.eng.Spawn(context.Background(), engine.SpawnOptions{
		Name: "b", Kind: registry.KindClaude, WorkDir: t.TempDir(),
	})
	require.NoError(t, err)

	// Each instance has an unanswered request out to the other.
	envAB := bus.NewEnvelope(a.ID, b.ID, "need your result", true)
	envBA := bus.NewEnvelope(b.ID, a.ID, "need yours first", true)
	h.mbus.Track(envAB)
	h.mbus.Track(envBA)

	h.sup.EvaluateOnce(context.Background())

	highest := a.ID
	if b.ID > highest {
		highest = b.ID
	}

	got, err := h.reg.Get(highest)
	require.NoError(t, err)
	inst := got

	out, err := h.exec.CaptureScrollback(context.Background(), inst.Handle, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "interim result")
}

func transcriptEvent(text string) transcript.Event {
	return transcript.Event{Kind: transcript.EventText, Text: text}
}

func transcriptEventToolUse(name string) transcript.Event {
	return transcript.Event{Kind: transcript.EventToolUse, ToolName: name}
}

func assertHasKind(t *testing.T, signals []Signal, kind SignalKind) {
	t.Helper()
	for _, s := range signals {
		if s.Kind == kind {
			return
		}
	}
	t.Fatalf("expected a %s signal among %+v", kind, signals)
}

func assertHasAnomaly(t *testing.T, anomalies []Anomaly, kind AnomalyKind) {
	t.Helper()
	for _, a := range anomalies {
		if a.Kind == kind {
			return
		}
	}
	t.Fatalf("expected a %s anomaly among %+v", kind, anomalies)
}

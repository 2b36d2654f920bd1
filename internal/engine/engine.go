// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package engine implements instance lifecycle operations: spawn, send,
// terminate, get_output. Every instance gets one owning goroutine that
// serializes writes to its pane, so two concurrent Send calls (or a
// Send racing a supervisor intervention) can never interleave
// keystrokes.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycode/overseer/internal/bus"
	"github.com/relaycode/overseer/internal/logplane"
	"github.com/relaycode/overseer/internal/overseer"
	"github.com/relaycode/overseer/internal/paneio"
	"github.com/relaycode/overseer/internal/pasteio"
	"github.com/relaycode/overseer/internal/registry"
	"github.com/relaycode/overseer/internal/transcript"
)

// CostEstimator maps an exchange's estimated token count to a cost
// figure for the given assistant kind. The exact formula is provider
// business logic the orchestrator has no authority over; the built-in
// default is a flat per-token rate kept only so statistics are never
// zero.
type CostEstimator func(kind registry.Kind, tokens int) float64

func defaultCostEstimator(kind registry.Kind, tokens int) float64 {
	rate := 3.0 // per million tokens
	if kind == registry.KindCodex {
		rate = 2.0
	}
	return float64(tokens) * rate / 1e6
}

// estimateTokens is the usual rough chars/4 heuristic; good enough for
// the running totals the registry keeps.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// codexModels are the model names the Codex-style CLI accepts. Older
// model names are rejected up front with InvalidArgument rather than
// letting the CLI fail after the pane is already created.
var codexModels = []string{"gpt-5-codex", "o4-mini", "codex-mini-latest"}

func validCodexModel(model string) bool {
	for _, m := range codexModels {
		if m == model {
			return true
		}
	}
	return false
}

// SpawnOptions configures a new instance.
type SpawnOptions struct {
	Name          string
	Kind          registry.Kind
	Role          string
	ParentID      string
	WorkDir       string   // override; defaults to <workspace-root>/<id>
	Model         string   // optional model override, validated for Codex-style
	InitialPrompt string   // passed as a launch argument, never keystrokes
	LaunchArgs    []string // extra CLI args appended to the assistant binary invocation
	ToolNames     []string // tool-surface operations this instance should be configured with

	// WaitForReady blocks Spawn until the pane shows the CLI's ready
	// sentinel, bounded by Options.ReadyTimeout.
	WaitForReady bool
}

// SendOptions controls one Send call.
type SendOptions struct {
	FromID       string // "external" when the caller is not an instance
	WaitForReply bool
	Timeout      time.Duration // reply budget; defaults to 30s
}

// actor is the runtime state the engine keeps per instance beyond what
// the registry persists: its transcript parser and its owning
// goroutine's command queue.
type actor struct {
	cmds   chan func()
	parser *transcript.Parser
	done   chan struct{}
}

// Options configures an Engine at construction.
type Options struct {
	ClaudeBinary  string
	CodexBinary   string
	WorkspaceRoot string
	ArtifactRoot  string

	// PreserveArtifacts gates the terminate-time artifact scan; Patterns
	// is the filename pattern list it matches.
	PreserveArtifacts bool
	ArtifactPatterns  []string

	MaxInstances  int // 0 means the default cap of 10
	ReadyTimeout  time.Duration
	CostEstimator CostEstimator

	// ToolBaseURL is the HTTP RPC endpoint written into a Claude-style
	// instance's tool-surface config file, one URL per operation.
	ToolBaseURL string

	// StdioCommand is the command line a Codex-style instance's `tool
	// add` entries point at, since that CLI only speaks stdio.
	StdioCommand []string
}

const (
	defaultMaxInstances = 10
	defaultReadyTimeout = 120 * time.Second
	defaultReplyTimeout = 30 * time.Second

	// killGrace is how long a non-forced Terminate waits for the pane to
	// die before escalating to a second, forced kill.
	killGrace = 5 * time.Second
)

// readySentinel is the pane text that marks an assistant CLI as ready
// for input, per kind.
func readySentinel(kind registry.Kind) string {
	if kind == registry.KindCodex {
		return "Ctrl+C to quit"
	}
	return "? for shortcuts"
}

// Engine owns spawn/send/terminate/get_output for every instance.
type Engine struct {
	reg    *registry.Registry
	exec   paneio.Executor
	writer *pasteio.Writer
	plane  *logplane.Plane
	bus    *bus.Bus
	opts   Options

	mu     sync.Mutex
	actors map[string]*actor
}

// New builds an Engine. Zero-value Options fields fall back to the
// documented defaults.
func New(reg *registry.Registry, exec paneio.Executor, writer *pasteio.Writer, plane *logplane.Plane, mbus *bus.Bus, opts Options) *Engine {
	if opts.MaxInstances == 0 {
		opts.MaxInstances = defaultMaxInstances
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.CostEstimator == nil {
		opts.CostEstimator = defaultCostEstimator
	}
	if opts.ClaudeBinary == "" {
		opts.ClaudeBinary = "claude"
	}
	if opts.CodexBinary == "" {
		opts.CodexBinary = "codex"
	}
	if opts.ToolBaseURL == "" {
		opts.ToolBaseURL = "http://127.0.0.1:8765"
	}
	if len(opts.StdioCommand) == 0 {
		opts.StdioCommand = []string{"orchestrator", "stdio"}
	}

	return &Engine{
		reg:    reg,
		exec:   exec,
		writer: writer,
		plane:  plane,
		bus:    mbus,
		opts:   opts,
		actors: make(map[string]*actor),
	}
}

func (e *Engine) getActor(id string) (*actor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actors[id]
	return a, ok
}

// run enqueues fn on id's owning goroutine and blocks until it runs.
func (e *Engine) run(id string, fn func() error) error {
	a, ok := e.getActor(id)
	if !ok {
		return overseer.New(overseer.NotFound, "no such instance: "+id)
	}

	errCh := make(chan error, 1)
	select {
	case a.cmds <- func() { errCh <- fn() }:
	case <-a.done:
		return overseer.New(overseer.PaneGone, "instance actor shut down: "+id)
	}

	select {
	case err := <-errCh:
		return err
	case <-a.done:
		return overseer.New(overseer.PaneGone, "instance actor shut down: "+id)
	}
}

// shellQuote wraps s in single quotes for safe inclusion in the pane's
// launch command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// launchCommand builds the shell command line that starts the assistant
// CLI in its freshly created pane. The initial prompt travels as a CLI
// argument, not keystrokes, so the paste-detection heuristic never sees
// it.
func (e *Engine) launchCommand(opts SpawnOptions) string {
	bin := e.opts.ClaudeBinary
	flags := []string{"--dangerously-skip-permissions"}
	if opts.Kind == registry.KindCodex {
		bin = e.opts.CodexBinary
		flags = []string{"--full-auto"}
	}

	parts := append([]string{bin}, flags...)
	if opts.Model != "" {
		parts = append(parts, "--model", opts.Model)
	}
	parts = append(parts, opts.LaunchArgs...)
	if opts.InitialPrompt != "" {
		parts = append(parts, shellQuote(opts.InitialPrompt))
	}
	return strings.Join(parts, " ")
}

// writeToolSurfaceConfig writes the Claude-style tool-surface config
// file a freshly spawned instance reads on startup: one entry per
// operation name mapped to its HTTP RPC URL (URL entries carry no
// transport tag; a command entry would mark stdio). Codex-style
// instances instead receive `tool add` commands once running (see
// Spawn), since their CLI keeps configuration in its own TOML under
// the user home and reads no per-workspace file.
func writeToolSurfaceConfig(workDir, baseURL string, toolNames []string) error {
	if len(toolNames) == 0 {
		return nil
	}

	entries := make(map[string]map[string]string, len(toolNames))
	for _, name := range toolNames {
		entries[name] = map[string]string{"url": baseURL + "/rpc/" + name}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workDir, ".assistant_tools.json"), data, 0644)
}

// Spawn creates a new instance: its working directory, its pane, and
// (for Claude-kind instances) its tool-surface config file, then starts
// the assistant CLI and the instance's owning goroutine.
func (e *Engine) Spawn(ctx context.Context, opts SpawnOptions) (*registry.Instance, error) {
	if opts.Kind != registry.KindClaude && opts.Kind != registry.KindCodex {
		return nil, overseer.New(overseer.InvalidArgument, "unknown instance kind: "+string(opts.Kind)).
			WithHint(`valid kinds: "claude", "codex"`)
	}
	if opts.Kind == registry.KindCodex && opts.Model != "" && !validCodexModel(opts.Model) {
		return nil, overseer.New(overseer.InvalidArgument, "unsupported codex model: "+opts.Model).
			WithHint("valid models: " + strings.Join(codexModels, ", "))
	}
	if e.reg.LiveCount() >= e.opts.MaxInstances {
		return nil, overseer.New(overseer.CapacityExceeded,
			fmt.Sprintf("instance cap of %d reached", e.opts.MaxInstances)).
			WithHint("terminate an existing instance or raise max_concurrent_instances")
	}

	id := uuid.NewString()

	workDir := opts.WorkDir
	if workDir == "" {
		root := e.opts.WorkspaceRoot
		if root == "" {
			root = filepath.Join(os.TempDir(), "overseer-instances")
		}
		workDir = filepath.Join(root, id)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, overseer.Wrap(overseer.SpawnFailed, "create working directory", err)
	}

	if opts.Kind == registry.KindClaude {
		if err := writeToolSurfaceConfig(workDir, e.opts.ToolBaseURL, opts.ToolNames); err != nil {
			return nil, overseer.Wrap(overseer.SpawnFailed, "write tool-surface config", err)
		}
	}

	handle, err := e.exec.Create(ctx, "overseer-"+id, workDir)
	if err != nil {
		return nil, overseer.Wrap(overseer.SpawnFailed, "create pane", err)
	}

	inst := &registry.Instance{
		ID:            id,
		Name:          opts.Name,
		Kind:          opts.Kind,
		Role:          opts.Role,
		ParentID:      opts.ParentID,
		InitialPrompt: opts.InitialPrompt,
		State:         registry.StateSpawning,
		Handle:        handle,
		WorkDir:       workDir,
		CreatedAt:     time.Now(),
	}
	if err := e.reg.Insert(inst); err != nil {
		_ = e.exec.Kill(ctx, handle)
		return nil, err
	}

	a := &actor{
		cmds:   make(chan func(), 16),
		parser: transcript.NewParser(),
		done:   make(chan struct{}),
	}
	e.mu.Lock()
	e.actors[id] = a
	e.mu.Unlock()
	go e.runActorLoop(a)

	_ = e.reg.UpdateState(id, registry.StateInitializing)

	launch := e.launchCommand(opts)
	if err := e.run(id, func() error {
		return e.exec.SendText(ctx, handle, launch, true)
	}); err != nil {
		e.failSpawn(ctx, id, handle)
		return nil, overseer.Wrap(overseer.SpawnFailed, "launch assistant CLI", err)
	}

	if opts.Kind == registry.KindCodex {
		// Only stdio entries exist for this kind; each becomes one
		// in-pane `tool add` command, HTTP entries having been filtered
		// out by the caller.
		for _, name := range opts.ToolNames {
			cmd := "tool add " + name + " " + strings.Join(e.opts.StdioCommand, " ")
			if err := e.run(id, func() error {
				return e.exec.SendText(ctx, handle, cmd, true)
			}); err != nil {
				e.failSpawn(ctx, id, handle)
				return nil, overseer.Wrap(overseer.SpawnFailed, "configure codex tool", err)
			}
		}
	}

	if opts.WaitForReady {
		if err := e.awaitReady(ctx, handle, opts.Kind); err != nil {
			e.failSpawn(ctx, id, handle)
			return nil, err
		}
	}

	_ = e.reg.UpdateState(id, registry.StateRunning)
	inst.State = registry.StateRunning

	_ = e.plane.AppendAudit(logplane.AuditRecord{
		Timestamp: time.Now(),
		Action:    "instance_spawn",
		TargetID:  id,
		Detail: map[string]interface{}{
			"kind":   string(opts.Kind),
			"name":   opts.Name,
			"role":   opts.Role,
			"parent": opts.ParentID,
		},
	})

	return inst, nil
}

// awaitReady polls the pane until the kind's ready sentinel shows up in
// the scrollback or ReadyTimeout elapses.
func (e *Engine) awaitReady(ctx context.Context, handle paneio.Handle, kind registry.Kind) error {
	sentinel := readySentinel(kind)
	deadline := time.Now().Add(e.opts.ReadyTimeout)

	for {
		out, err := e.exec.CaptureScrollback(ctx, handle, 50)
		if err != nil {
			return overseer.Wrap(overseer.SpawnFailed, "capture during ready wait", err)
		}
		if strings.Contains(out, sentinel) {
			return nil
		}
		if time.Now().After(deadline) {
			return overseer.New(overseer.SpawnFailed, "assistant CLI never became ready").
				WithHint("expected pane text: " + sentinel)
		}

		select {
		case <-ctx.Done():
			return overseer.Wrap(overseer.SpawnFailed, "ready wait canceled", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// failSpawn tears down a freshly created instance that never reached
// StateRunning: it kills the pane (best effort), retires the owning
// actor goroutine, and marks the instance StateError rather than
// StateTerminated, since no clean shutdown or artifact preservation
// ever ran against it.
func (e *Engine) failSpawn(ctx context.Context, id string, handle paneio.Handle) {
	_ = e.exec.Kill(ctx, handle)
	e.retireActor(id)
	_ = e.reg.UpdateState(id, registry.StateError)
}

// retireActor shuts down an instance's owning goroutine. Only done is
// closed; cmds stays open so a concurrent run can never hit a closed
// channel, it just observes done and backs off.
func (e *Engine) retireActor(id string) {
	e.mu.Lock()
	if a, ok := e.actors[id]; ok {
		close(a.done)
		delete(e.actors, id)
	}
	e.mu.Unlock()
}

func (e *Engine) runActorLoop(a *actor) {
	for {
		select {
		case fn := <-a.cmds:
			fn()
		case <-a.done:
			return
		}
	}
}

// Send delivers text to an instance's pane through the Paste-Safe
// Writer, serialized through its owning goroutine. With
// opts.WaitForReply the payload is wrapped in a visible [MSG:<id>]
// correlation tag and Send blocks for the reply: first on the bus's
// outstanding-request table (an explicit reply_to_caller resolves it),
// then, past the timeout, on one fallback scrollback capture — which is
// how assistants that never learned the explicit reply path still get
// answered for.
func (e *Engine) Send(ctx context.Context, id, text string, opts SendOptions) (string, error) {
	inst, err := e.reg.Get(id)
	if err != nil {
		return "", err
	}
	if inst.State.Terminal() {
		return "", overseer.New(overseer.NotFound, "instance already terminated: "+id)
	}
	if opts.FromID == "" {
		opts.FromID = "external"
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultReplyTimeout
	}

	env := bus.NewEnvelope(opts.FromID, id, text, opts.WaitForReply)
	delivered := text
	if opts.WaitForReply {
		env.CorrelationTag = "[MSG:" + env.ID + "]"
		delivered = env.CorrelationTag + " " + text
		e.bus.Track(env)
	}

	_ = e.reg.UpdateState(id, registry.StateBusy)
	defer func() {
		// A terminate that raced this send wins; only a still-busy
		// instance settles back to idle.
		if cur, err := e.reg.Get(id); err == nil && cur.State == registry.StateBusy {
			_ = e.reg.UpdateState(id, registry.StateIdle)
		}
	}()

	if err := e.run(id, func() error {
		_, sendErr := e.writer.Send(ctx, inst.Handle, delivered)
		return sendErr
	}); err != nil {
		if opts.WaitForReply {
			_ = e.bus.Cancel(env.ID)
		}
		if _, ok := err.(*overseer.Error); ok {
			return "", err
		}
		return "", overseer.Wrap(overseer.SendFailed, "pane write aborted", err)
	}

	// Pre-mark the delivered lines as seen so their pane echo is never
	// mined back out of the transcript as if the assistant produced it
	// (a supervisor probe mentioning "stuck" must not read as a stuck
	// signal next cycle).
	if a, ok := e.getActor(id); ok {
		for _, line := range strings.Split(delivered, "\n") {
			if line != "" {
				_ = a.parser.Seen(line)
			}
		}
	}

	_ = e.plane.AppendCommunication(id, logplane.CommunicationRecord{
		Timestamp: time.Now(),
		Event:     "sent",
		Direction: "outbound",
		MessageID: env.ID,
		FromID:    opts.FromID,
		ToID:      id,
		Body:      delivered,
	})

	tokens := estimateTokens(text)
	cost := e.opts.CostEstimator(inst.Kind, tokens)

	if !opts.WaitForReply {
		_ = e.reg.RecordExchange(id, tokens, cost)
		e.auditExchange(env.ID, opts.FromID, id, false)
		return "", nil
	}

	reply, err := e.awaitOrPoll(ctx, inst, env, opts.Timeout)
	if err != nil {
		return "", err
	}

	replyTokens := estimateTokens(reply)
	replyCost := e.opts.CostEstimator(inst.Kind, replyTokens)
	_ = e.plane.AppendCommunication(id, logplane.CommunicationRecord{
		Timestamp:    time.Now(),
		Event:        "received",
		Direction:    "inbound",
		MessageID:    env.ID,
		FromID:       id,
		ToID:         opts.FromID,
		Body:         reply,
		Tokens:       replyTokens,
		Cost:         replyCost,
		ResponseTime: time.Since(env.SentAt).Seconds(),
	})

	_ = e.reg.RecordExchange(id, tokens+replyTokens, cost+replyCost)
	e.auditExchange(env.ID, opts.FromID, id, true)
	return reply, nil
}

func (e *Engine) auditExchange(messageID, fromID, toID string, replied bool) {
	_ = e.plane.AppendAudit(logplane.AuditRecord{
		Timestamp: time.Now(),
		Action:    "message_exchange",
		ActorID:   fromID,
		TargetID:  toID,
		Detail: map[string]interface{}{
			"message_id": messageID,
			"replied":    replied,
		},
	})
}

// awaitOrPoll waits for an explicit reply to env, falling back to one
// scrollback capture once the timeout budget is spent.
func (e *Engine) awaitOrPoll(ctx context.Context, inst *registry.Instance, env bus.Envelope, timeout time.Duration) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := e.bus.AwaitReply(waitCtx, env.ID)
	if err == nil {
		return reply.Body, nil
	}

	_ = e.bus.Cancel(env.ID)

	polled, pollErr := e.fallbackPoll(ctx, inst, env.CorrelationTag)
	if pollErr == nil && polled != "" {
		return polled, nil
	}
	return "", overseer.New(overseer.Timeout, "no reply from "+inst.ID+" within "+timeout.String())
}

// FallbackPoll captures an instance's recent pane output and returns it
// with the given correlation tag's echo and prompt artifacts stripped.
// This is the same capture Send falls back on when a reply deadline
// passes; exposed so callers driving the bus directly can run the poll
// themselves.
func (e *Engine) FallbackPoll(ctx context.Context, id, tag string) (string, error) {
	inst, err := e.reg.Get(id)
	if err != nil {
		return "", err
	}
	if inst.State.Terminal() {
		return "", overseer.New(overseer.NotFound, "instance already terminated: "+id)
	}
	return e.fallbackPoll(ctx, inst, tag)
}

// fallbackPoll captures the pane's recent scrollback and returns
// everything rendered after the delivered message's correlation tag,
// with the tag echo and trailing prompt artifacts stripped.
func (e *Engine) fallbackPoll(ctx context.Context, inst *registry.Instance, tag string) (string, error) {
	raw, err := e.exec.CaptureScrollback(ctx, inst.Handle, 200)
	if err != nil {
		return "", err
	}

	lines := strings.Split(raw, "\n")
	start := 0
	for i, line := range lines {
		if tag != "" && strings.Contains(line, tag) {
			start = i + 1
		}
	}

	var out []string
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ">") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}

// GetOutput captures the instance's pane scrollback, classifies any
// lines not already seen into transcript Events, and journals each of
// those unseen raw lines (classified or not) to the raw scrollback
// capture log. Lines already seen, including text the engine itself
// delivered, are neither classified nor journaled. For
// a terminated instance it replays the persisted capture log instead,
// so post-mortem reads keep working after the pane is gone.
func (e *Engine) GetOutput(ctx context.Context, id string, maxLines int) ([]transcript.Event, error) {
	inst, err := e.reg.Get(id)
	if err != nil {
		return nil, err
	}

	a, ok := e.getActor(id)
	if !ok {
		return e.replayPersisted(id, maxLines)
	}

	raw, err := e.exec.CaptureScrollback(ctx, inst.Handle, maxLines)
	if err != nil {
		return nil, overseer.Wrap(overseer.Internal, "capture scrollback", err)
	}

	var events []transcript.Event
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		if a.parser.Seen(line) {
			continue
		}

		_ = e.plane.AppendRawCapture(id, line)

		if ev, ok := a.parser.Parse(line, time.Now()); ok {
			events = append(events, ev)
		}
	}

	return events, nil
}

// replayPersisted rebuilds transcript events from the raw capture log
// of an instance whose pane no longer exists.
func (e *Engine) replayPersisted(id string, maxLines int) ([]transcript.Event, error) {
	lines, err := e.plane.ReadRawCapture(id, maxLines)
	if err != nil {
		return nil, overseer.Wrap(overseer.Internal, "read persisted capture", err)
	}

	parser := transcript.NewParser()
	var events []transcript.Event
	for _, line := range lines {
		if parser.Seen(line) {
			continue
		}
		if ev, ok := parser.Parse(line, time.Now()); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// instanceMetadata is the _metadata.json written next to an instance's
// preserved artifacts, describing where they came from.
type instanceMetadata struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	Role          string    `json:"role,omitempty"`
	ParentID      string    `json:"parent_id,omitempty"`
	InitialPrompt string    `json:"initial_prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	TerminatedAt  time.Time `json:"terminated_at"`
	RequestCount  int       `json:"request_count"`
	TokenEstimate int       `json:"token_estimate"`
	CostEstimate  float64   `json:"cost_estimate"`
}

func writeInstanceMetadata(destDir string, inst *registry.Instance) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	meta := instanceMetadata{
		ID:            inst.ID,
		Name:          inst.Name,
		Kind:          string(inst.Kind),
		Role:          inst.Role,
		ParentID:      inst.ParentID,
		InitialPrompt: inst.InitialPrompt,
		CreatedAt:     inst.CreatedAt,
		TerminatedAt:  time.Now(),
		RequestCount:  inst.RequestCount,
		TokenEstimate: inst.TokenEstimate,
		CostEstimate:  inst.CostEstimate,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(destDir, "_metadata.json"), data, 0644)
}

// Terminate kills the instance's pane, preserves configured artifact
// patterns out of its working directory along with a _metadata.json
// describing the instance, deletes the workspace, and marks it
// terminated. With force=false a pane that refuses to die within a
// grace period is escalated to a second, forced kill rather than left
// running. Already-terminated instances are a no-op, not an error, so
// a coordinator collecting a team's artifacts can terminate descendants
// a prior call already tore down.
func (e *Engine) Terminate(ctx context.Context, id string, force bool) error {
	inst, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if inst.State.Terminal() {
		return nil
	}

	_ = e.reg.UpdateState(id, registry.StateTerminating)

	if e.opts.PreserveArtifacts {
		destDir := filepath.Join(e.opts.ArtifactRoot, id)
		if err := preserveArtifacts(inst.WorkDir, destDir, e.opts.ArtifactPatterns); err != nil {
			e.plane.Log.Warn().Str("instance", id).Err(err).Msg("artifact preservation failed")
		}
		if err := writeInstanceMetadata(destDir, inst); err != nil {
			e.plane.Log.Warn().Str("instance", id).Err(err).Msg("metadata write failed")
		}
	}

	_ = e.run(id, func() error {
		return e.exec.Kill(ctx, inst.Handle)
	})

	if !force {
		deadline := time.Now().Add(killGrace)
		for e.exec.Alive(ctx, inst.Handle) && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if e.exec.Alive(ctx, inst.Handle) {
			e.plane.Log.Warn().Str("instance", id).Msg("pane survived graceful kill; escalating to force")
			_ = e.exec.Kill(ctx, inst.Handle)
		}
	}

	e.retireActor(id)

	if inst.WorkDir != "" {
		if err := os.RemoveAll(inst.WorkDir); err != nil {
			e.plane.Log.Warn().Str("instance", id).Err(err).Msg("workspace deletion failed")
		}
	}

	if err := e.reg.UpdateState(id, registry.StateTerminated); err != nil {
		return err
	}

	final, _ := e.reg.Get(id)
	detail := map[string]interface{}{"force": force}
	if final != nil {
		detail["request_count"] = final.RequestCount
		detail["token_estimate"] = final.TokenEstimate
		detail["cost_estimate"] = final.CostEstimate
	}

	return e.plane.AppendAudit(logplane.AuditRecord{
		Timestamp: time.Now(),
		Action:    "instance_terminate",
		TargetID:  id,
		Detail:    detail,
	})
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaycode/overseer/internal/bus"
	"github.com/relaycode/overseer/internal/coordinator"
	"github.com/relaycode/overseer/internal/engine"
	"github.com/relaycode/overseer/internal/logplane"
	"github.com/relaycode/overseer/internal/monitor"
	"github.com/relaycode/overseer/internal/overseer"
	"github.com/relaycode/overseer/internal/registry"
	"github.com/relaycode/overseer/internal/supervisor"
)

// Deps aggregates every component an operation handler might need.
type Deps struct {
	Registry     *registry.Registry
	Engine       *engine.Engine
	Bus          *bus.Bus
	Coordinator  *coordinator.Coordinator
	Supervisor   *supervisor.Supervisor
	Feed         *monitor.Feed
	Plane        *logplane.Plane
	ArtifactRoot string
	StartedAt    time.Time
}

func decode(input json.RawMessage, v interface{}) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return overseer.Wrap(overseer.InvalidArgument, "invalid input", err)
	}
	return nil
}

// BuildRegistry constructs the full Tool Surface operation registry
// against deps. Every operation named here is available identically
// over HTTP and stdio.
func BuildRegistry(deps Deps) *Registry {
	r := NewRegistry()

	// Instance lifecycle.
	r.Register(Operation{Name: "spawn_instance", Description: "create a new assistant instance", Handler: opSpawnInstance(deps)})
	r.Register(Operation{Name: "send_message", Description: "deliver text to an instance's pane, optionally awaiting its reply", Handler: opSendMessage(deps)})
	r.Register(Operation{Name: "terminate_instance", Description: "kill an instance and preserve its artifacts", Handler: opTerminateInstance(deps)})
	r.Register(Operation{Name: "get_output", Description: "capture new transcript events from an instance", Handler: opGetOutput(deps)})
	r.Register(Operation{Name: "list_instances", Description: "list known instances", Handler: opListInstances(deps)})
	r.Register(Operation{Name: "get_children", Description: "list an instance's direct children", Handler: opGetChildren(deps)})
	r.Register(Operation{Name: "get_instance", Description: "fetch one instance by id", Handler: opGetInstance(deps)})
	r.Register(Operation{Name: "purge_instances", Description: "drop terminated instance records older than a cutoff", Handler: opPurgeInstances(deps)})

	// Message bus.
	r.Register(Operation{Name: "deliver_message", Description: "enqueue a message on the bus", Handler: opDeliverMessage(deps)})
	r.Register(Operation{Name: "await_reply", Description: "block until a delivered message's reply arrives", Handler: opAwaitReply(deps)})
	r.Register(Operation{Name: "reply_message", Description: "resolve an outstanding message by id with a reply", Handler: opReplyMessage(deps)})
	r.Register(Operation{Name: "reply_to_caller", Description: "resolve the caller's own latest pending request with a reply", Handler: opReplyToCaller(deps)})
	r.Register(Operation{Name: "cancel_message", Description: "abandon an outstanding message", Handler: opCancelMessage(deps)})
	r.Register(Operation{Name: "receive_message", Description: "non-blocking dequeue of a target's inbound queue", Handler: opReceiveMessage(deps)})
	r.Register(Operation{Name: "fallback_poll", Description: "capture an instance's recent pane output as a reply substitute", Handler: opFallbackPoll(deps)})
	r.Register(Operation{Name: "queue_depth", Description: "report how many envelopes wait in a target's inbound queue", Handler: opQueueDepth(deps)})

	// Coordination.
	r.Register(Operation{Name: "broadcast", Description: "send the same text to every live child of a parent", Handler: opBroadcast(deps)})
	r.Register(Operation{Name: "coordinate", Description: "run sequential, parallel, or consensus coordination", Handler: opCoordinate(deps)})
	r.Register(Operation{Name: "collect_team_artifacts", Description: "gather a team's preserved artifacts", Handler: opCollectTeamArtifacts(deps)})

	// Supervisor probes.
	r.Register(Operation{Name: "evaluate_now", Description: "force an immediate supervisor evaluation pass", Handler: opEvaluateNow(deps)})
	r.Register(Operation{Name: "get_progress", Description: "fetch one instance's latest progress snapshot", Handler: opGetProgress(deps)})
	r.Register(Operation{Name: "list_progress", Description: "fetch every instance's latest progress snapshot", Handler: opListProgress(deps)})
	r.Register(Operation{Name: "detect_deadlock", Description: "run the on-demand wait-for graph cycle check", Handler: opDetectDeadlock(deps)})
	r.Register(Operation{Name: "wait_for_graph", Description: "dump the current wait-for graph derived from outstanding messages", Handler: opWaitForGraph(deps)})

	// Observability.
	r.Register(Operation{Name: "recent_events", Description: "fetch the most recent monitor feed events", Handler: opRecentEvents(deps)})
	r.Register(Operation{Name: "get_communication_log", Description: "read the tail of an instance's communication journal", Handler: opGetCommunicationLog(deps)})
	r.Register(Operation{Name: "get_audit_log", Description: "read the tail of a day's audit journal", Handler: opGetAuditLog(deps)})
	r.Register(Operation{Name: "health_check", Description: "report orchestrator liveness and instance counts", Handler: opHealthCheck(deps)})

	// Registered last so both transports answer discovery identically;
	// the HTTP transport's GET /rpc is a convenience alias for this.
	r.Register(Operation{Name: "list_operations", Description: "list every operation this tool surface exposes", Handler: func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		return r.Names(), nil
	}})

	return r
}

func opSpawnInstance(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			Name          string   `json:"name"`
			Kind          string   `json:"kind"`
			Role          string   `json:"role"`
			ParentID      string   `json:"parent_id"`
			WorkDir       string   `json:"work_dir"`
			Model         string   `json:"model"`
			InitialPrompt string   `json:"initial_prompt"`
			LaunchArgs    []string `json:"launch_args"`
			ToolNames     []string `json:"tool_names"`
			WaitForReady  bool     `json:"wait_for_ready"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}

		inst, err := deps.Engine.Spawn(ctx, engine.SpawnOptions{
			Name:          req.Name,
			Kind:          registry.Kind(req.Kind),
			Role:          req.Role,
			ParentID:      req.ParentID,
			WorkDir:       req.WorkDir,
			Model:         req.Model,
			InitialPrompt: req.InitialPrompt,
			LaunchArgs:    req.LaunchArgs,
			ToolNames:     req.ToolNames,
			WaitForReady:  req.WaitForReady,
		})
		if err != nil {
			return nil, err
		}

		if deps.Feed != nil {
			deps.Feed.Publish(monitor.Event{Type: "instance_state_changed", Timestamp: time.Now(), Payload: map[string]interface{}{"instance_id": inst.ID, "state": string(inst.State)}})
		}
		return inst, nil
	}
}

func opSendMessage(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			InstanceID     string `json:"instance_id"`
			FromID         string `json:"from_id"`
			Text           string `json:"text"`
			WaitForReply   bool   `json:"wait_for_reply"`
			TimeoutSeconds int    `json:"timeout_seconds"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}

		reply, err := deps.Engine.Send(ctx, req.InstanceID, req.Text, engine.SendOptions{
			FromID:       req.FromID,
			WaitForReply: req.WaitForReply,
			Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}

		if deps.Feed != nil {
			deps.Feed.Publish(monitor.Event{Type: "message_exchange", Timestamp: time.Now(), Payload: map[string]interface{}{"instance_id": req.InstanceID, "from": req.FromID}})
		}
		if !req.WaitForReply {
			return map[string]interface{}{"ok": true}, nil
		}
		return map[string]interface{}{"ok": true, "reply": reply}, nil
	}
}

func opTerminateInstance(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			InstanceID string `json:"instance_id"`
			Force      bool   `json:"force"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		if err := deps.Engine.Terminate(ctx, req.InstanceID, req.Force); err != nil {
			return nil, err
		}
		if deps.Feed != nil {
			deps.Feed.Publish(monitor.Event{Type: "instance_state_changed", Timestamp: time.Now(), Payload: map[string]interface{}{"instance_id": req.InstanceID, "state": "terminated"}})
		}
		return map[string]interface{}{"ok": true}, nil
	}
}

func opGetOutput(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			InstanceID string `json:"instance_id"`
			MaxLines   int    `json:"max_lines"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		events, err := deps.Engine.GetOutput(ctx, req.InstanceID, req.MaxLines)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"events": events}, nil
	}
}

func opListInstances(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			IncludeTerminated bool   `json:"include_terminated"`
			Kind              string `json:"kind"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return deps.Registry.List(registry.ListOptions{
			IncludeTerminated: req.IncludeTerminated,
			Kind:              registry.Kind(req.Kind),
		}), nil
	}
}

func opGetChildren(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			ParentID          string `json:"parent_id"`
			IncludeTerminated bool   `json:"include_terminated"`
			Kind              string `json:"kind"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return deps.Registry.Children(req.ParentID, registry.ListOptions{
			IncludeTerminated: req.IncludeTerminated,
			Kind:              registry.Kind(req.Kind),
		}), nil
	}
}

func opGetInstance(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			InstanceID string `json:"instance_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return deps.Registry.Get(req.InstanceID)
	}
}

func opPurgeInstances(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			OlderThanSeconds int `json:"older_than_seconds"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		cutoff := time.Now().Add(-time.Duration(req.OlderThanSeconds) * time.Second)
		removed := deps.Registry.Purge(cutoff)
		return map[string]interface{}{"removed": removed}, nil
	}
}

func opDeliverMessage(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			FromID  string `json:"from_id"`
			ToID    string `json:"to_id"`
			Body    string `json:"body"`
			ReplyTo bool   `json:"reply_to"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		env := bus.NewEnvelope(req.FromID, req.ToID, req.Body, req.ReplyTo)
		if err := deps.Bus.Deliver(env); err != nil {
			return nil, err
		}
		if deps.Feed != nil {
			deps.Feed.Publish(monitor.Event{Type: "message_exchange", Timestamp: time.Now(), Payload: map[string]interface{}{"message_id": env.ID, "to": req.ToID}})
		}
		return env, nil
	}
}

func opAwaitReply(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			MessageID      string `json:"message_id"`
			TimeoutSeconds int    `json:"timeout_seconds"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}

		waitCtx := ctx
		if req.TimeoutSeconds > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
			defer cancel()
		}

		return deps.Bus.AwaitReply(waitCtx, req.MessageID)
	}
}

func opReplyMessage(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			MessageID string `json:"message_id"`
			FromID    string `json:"from_id"`
			ToID      string `json:"to_id"`
			Body      string `json:"body"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		env := bus.NewEnvelope(req.FromID, req.ToID, req.Body, false)
		env.ID = req.MessageID
		if err := deps.Bus.Reply(req.MessageID, env); err != nil {
			return nil, err
		}
		return map[string]interface{}{"ok": true}, nil
	}
}

// opReplyToCaller is the explicit reply path an assistant uses to close
// out the request it is currently serving without quoting the
// correlation tag: the bus resolves its latest pending message.
func opReplyToCaller(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			FromID    string `json:"from_id"`
			MessageID string `json:"message_id"` // optional; latest pending when empty
			Body      string `json:"body"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}

		messageID := req.MessageID
		if messageID == "" {
			id, ok := deps.Bus.LatestOutstandingFor(req.FromID)
			if !ok {
				return nil, overseer.New(overseer.NotFound, "no pending request addressed to "+req.FromID)
			}
			messageID = id
		}

		env := bus.NewEnvelope(req.FromID, "", req.Body, false)
		if err := deps.Bus.Reply(messageID, env); err != nil {
			return nil, err
		}
		return map[string]interface{}{"ok": true, "message_id": messageID}, nil
	}
}

func opCancelMessage(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			MessageID string `json:"message_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		if err := deps.Bus.Cancel(req.MessageID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"ok": true}, nil
	}
}

func opReceiveMessage(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			TargetID string `json:"target_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		env, ok := deps.Bus.Receive(req.TargetID)
		return map[string]interface{}{"envelope": env, "ok": ok}, nil
	}
}

func opFallbackPoll(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			InstanceID string `json:"instance_id"`
			Tag        string `json:"tag"` // optional "[MSG:<id>]" marker to strip from
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		text, err := deps.Engine.FallbackPoll(ctx, req.InstanceID, req.Tag)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"text": text}, nil
	}
}

func opQueueDepth(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			TargetID string `json:"target_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return map[string]interface{}{"depth": deps.Bus.QueueDepth(req.TargetID)}, nil
	}
}

func opBroadcast(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			FromID   string `json:"from_id"`
			ParentID string `json:"parent_id"`
			Text     string `json:"text"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		results := deps.Coordinator.Broadcast(ctx, req.FromID, req.ParentID, req.Text)

		out := make(map[string]string, len(results))
		for id, err := range results {
			if err != nil {
				out[id] = err.Error()
			} else {
				out[id] = ""
			}
		}
		return out, nil
	}
}

func opCoordinate(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			Mode               string   `json:"mode"`
			FromID             string   `json:"from_id"`
			TargetIDs          []string `json:"target_ids"`
			Text               string   `json:"text"`
			StepTimeoutSeconds int      `json:"step_timeout_seconds"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}

		// consensus with no caller-supplied reducer concatenates every
		// target's output, a reasonable default when the RPC caller has
		// no richer reduction logic of its own.
		var reduce coordinator.Reducer
		if coordinator.Mode(req.Mode) == coordinator.ModeConsensus {
			reduce = func(results []coordinator.StepResult) (string, error) {
				var combined string
				for _, r := range results {
					combined += r.Output
				}
				return combined, nil
			}
		}

		results, err := deps.Coordinator.Coordinate(ctx, coordinator.Mode(req.Mode), req.FromID, req.TargetIDs, req.Text,
			time.Duration(req.StepTimeoutSeconds)*time.Second, reduce)
		if err != nil {
			return nil, err
		}

		type stepOut struct {
			InstanceID string `json:"instance_id"`
			Output     string `json:"output"`
			Error      string `json:"error,omitempty"`
		}
		out := make([]stepOut, 0, len(results))
		for _, r := range results {
			so := stepOut{InstanceID: r.InstanceID, Output: r.Output}
			if r.Err != nil {
				so.Error = r.Err.Error()
			}
			out = append(out, so)
		}
		return out, nil
	}
}

func opCollectTeamArtifacts(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			ParentID string `json:"parent_id"`
			DestDir  string `json:"dest_dir"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		manifest, err := deps.Coordinator.CollectTeamArtifacts(req.ParentID, deps.ArtifactRoot, req.DestDir)
		if err != nil {
			return nil, err
		}
		return manifest, nil
	}
}

func opEvaluateNow(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		deps.Supervisor.EvaluateOnce(ctx)
		return map[string]interface{}{"ok": true}, nil
	}
}

func opGetProgress(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			InstanceID string `json:"instance_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		snap, ok := deps.Supervisor.Snapshot(req.InstanceID)
		if !ok {
			return nil, overseer.New(overseer.NotFound, "no progress snapshot for "+req.InstanceID).
				WithHint("the supervisor has not evaluated this instance yet; try evaluate_now")
		}
		return snap, nil
	}
}

func opListProgress(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		return deps.Supervisor.Snapshots(), nil
	}
}

func opDetectDeadlock(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			WaitFor map[string]string `json:"wait_for"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}

		graph := req.WaitFor
		if graph == nil {
			graph = deps.Bus.WaitForGraph()
		}
		cycle, found := supervisor.DetectDeadlock(graph)
		return map[string]interface{}{"found": found, "cycle": cycle}, nil
	}
}

func opWaitForGraph(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		return deps.Bus.WaitForGraph(), nil
	}
}

func opRecentEvents(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			Limit int `json:"limit"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return deps.Feed.Recent(req.Limit), nil
	}
}

func opGetCommunicationLog(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			InstanceID string `json:"instance_id"`
			Limit      int    `json:"limit"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		records, err := deps.Plane.ReadCommunication(req.InstanceID, req.Limit)
		if err != nil {
			return nil, overseer.Wrap(overseer.Internal, "read communication journal", err)
		}
		return map[string]interface{}{"records": records}, nil
	}
}

func opGetAuditLog(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			Day   string `json:"day"` // UTC "20060102"; empty means today
			Limit int    `json:"limit"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		records, err := deps.Plane.ReadAudit(req.Day, req.Limit)
		if err != nil {
			return nil, overseer.Wrap(overseer.Internal, "read audit journal", err)
		}
		return map[string]interface{}{"records": records}, nil
	}
}

func opHealthCheck(deps Deps) Handler {
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		live := deps.Registry.LiveCount()
		all := len(deps.Registry.List(registry.ListOptions{IncludeTerminated: true}))
		result := map[string]interface{}{
			"ok":              true,
			"live_instances":  live,
			"total_instances": all,
			"uptime_seconds":  time.Since(deps.StartedAt).Seconds(),
		}
		if deps.Feed != nil {
			deps.Feed.Publish(monitor.Event{Type: "health_check", Timestamp: time.Now(), Payload: result})
		}
		return result, nil
	}
}

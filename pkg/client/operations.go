// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"time"
)

// Instance mirrors registry.Instance's JSON shape, decoded independently
// so this package has no compile-time dependency on internal/registry.
type Instance struct {
	ID            string    `json:"ID"`
	Name          string    `json:"Name"`
	Kind          string    `json:"Kind"`
	Role          string    `json:"Role"`
	ParentID      string    `json:"ParentID"`
	State         string    `json:"State"`
	WorkDir       string    `json:"WorkDir"`
	Generation    int       `json:"Generation"`
	RequestCount  int       `json:"RequestCount"`
	TokenEstimate int       `json:"TokenEstimate"`
	CostEstimate  float64   `json:"CostEstimate"`
	CreatedAt     time.Time `json:"CreatedAt"`
	LastActivity  time.Time `json:"LastActivity"`
}

// TranscriptEvent mirrors transcript.Event.
type TranscriptEvent struct {
	Kind      string    `json:"Kind"`
	Text      string    `json:"Text"`
	ToolName  string    `json:"ToolName,omitempty"`
	Timestamp time.Time `json:"Timestamp"`
}

// SpawnRequest is the input to Spawn.
type SpawnRequest struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"` // "claude" | "codex"
	Role          string   `json:"role,omitempty"`
	ParentID      string   `json:"parent_id,omitempty"`
	WorkDir       string   `json:"work_dir,omitempty"`
	Model         string   `json:"model,omitempty"`
	InitialPrompt string   `json:"initial_prompt,omitempty"`
	LaunchArgs    []string `json:"launch_args,omitempty"`
	ToolNames     []string `json:"tool_names,omitempty"`
	WaitForReady  bool     `json:"wait_for_ready,omitempty"`
}

// Spawn creates a new assistant instance.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*Instance, error) {
	var out Instance
	if err := c.Call(ctx, "spawn_instance", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send delivers text to an instance's pane. With
// waitForReply it blocks until the instance answers (or the engine's
// fallback scrollback poll produces something), returning the reply
// text; otherwise the returned string is empty and only delivery is
// acknowledged.
func (c *Client) Send(ctx context.Context, instanceID, fromID, text string, waitForReply bool, timeout time.Duration) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	err := c.Call(ctx, "send_message", map[string]interface{}{
		"instance_id":     instanceID,
		"from_id":         fromID,
		"text":            text,
		"wait_for_reply":  waitForReply,
		"timeout_seconds": int(timeout / time.Second),
	}, &out)
	return out.Reply, err
}

// Terminate kills an instance and preserves its configured artifacts.
// force skips the graceful-kill grace period.
func (c *Client) Terminate(ctx context.Context, instanceID string, force bool) error {
	return c.Call(ctx, "terminate_instance", map[string]interface{}{
		"instance_id": instanceID,
		"force":       force,
	}, nil)
}

// GetOutput captures new transcript events from an instance's pane, or
// replays its persisted capture once terminated.
func (c *Client) GetOutput(ctx context.Context, instanceID string, maxLines int) ([]TranscriptEvent, error) {
	var out struct {
		Events []TranscriptEvent `json:"events"`
	}
	err := c.Call(ctx, "get_output", map[string]interface{}{
		"instance_id": instanceID,
		"max_lines":   maxLines,
	}, &out)
	return out.Events, err
}

// ListInstances lists known instances, optionally including terminated
// ones.
func (c *Client) ListInstances(ctx context.Context, includeTerminated bool, kind string) ([]Instance, error) {
	var out []Instance
	err := c.Call(ctx, "list_instances", map[string]interface{}{
		"include_terminated": includeTerminated,
		"kind":               kind,
	}, &out)
	return out, err
}

// GetChildren lists an instance's direct children.
func (c *Client) GetChildren(ctx context.Context, parentID string, includeTerminated bool) ([]Instance, error) {
	var out []Instance
	err := c.Call(ctx, "get_children", map[string]interface{}{
		"parent_id":          parentID,
		"include_terminated": includeTerminated,
	}, &out)
	return out, err
}

// GetInstance fetches one instance by id.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	var out Instance
	if err := c.Call(ctx, "get_instance", map[string]string{"instance_id": instanceID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PurgeInstances drops terminated instance records older than the given
// age, returning how many were removed.
func (c *Client) PurgeInstances(ctx context.Context, olderThan time.Duration) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.Call(ctx, "purge_instances", map[string]int{
		"older_than_seconds": int(olderThan / time.Second),
	}, &out)
	return out.Removed, err
}

// ReplyToCaller resolves the caller's latest pending request (or the
// one named by messageID) with body. This is the explicit reply path
// assistants use instead of relying on the fallback scrollback poll.
func (c *Client) ReplyToCaller(ctx context.Context, fromID, messageID, body string) error {
	return c.Call(ctx, "reply_to_caller", map[string]string{
		"from_id":    fromID,
		"message_id": messageID,
		"body":       body,
	}, nil)
}

// FallbackPoll captures an instance's recent pane output as a reply
// substitute. tag, when non-empty, is the "[MSG:<id>]"
// marker to strip the capture from.
func (c *Client) FallbackPoll(ctx context.Context, instanceID, tag string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.Call(ctx, "fallback_poll", map[string]string{
		"instance_id": instanceID,
		"tag":         tag,
	}, &out)
	return out.Text, err
}

// Broadcast sends the same text to every live child of parentID
// concurrently, returning a map of child id to error message (empty
// string on success).
func (c *Client) Broadcast(ctx context.Context, fromID, parentID, text string) (map[string]string, error) {
	var out map[string]string
	err := c.Call(ctx, "broadcast", map[string]interface{}{
		"from_id":   fromID,
		"parent_id": parentID,
		"text":      text,
	}, &out)
	return out, err
}

// StepResult is one target's outcome from Coordinate.
type StepResult struct {
	InstanceID string `json:"instance_id"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
}

// Coordinate runs sequential, parallel, or consensus coordination
// across targetIDs. mode is "sequential", "parallel", or
// "consensus"; consensus uses the server's built-in concatenation
// reducer since a Reducer func cannot cross the wire.
func (c *Client) Coordinate(ctx context.Context, mode, fromID string, targetIDs []string, text string, stepTimeout time.Duration) ([]StepResult, error) {
	var out []StepResult
	err := c.Call(ctx, "coordinate", map[string]interface{}{
		"mode":                 mode,
		"from_id":              fromID,
		"target_ids":           targetIDs,
		"text":                 text,
		"step_timeout_seconds": int(stepTimeout / time.Second),
	}, &out)
	return out, err
}

// ArtifactManifestEntry mirrors coordinator.ArtifactManifestEntry.
type ArtifactManifestEntry struct {
	InstanceID string `json:"instance_id"`
	Source     string `json:"source"`
	FileCount  int    `json:"file_count"`
}

// ArtifactManifest mirrors coordinator.ArtifactManifest.
type ArtifactManifest struct {
	ParentID string                  `json:"parent_id"`
	Entries  []ArtifactManifestEntry `json:"entries"`
}

// CollectTeamArtifacts gathers a team's preserved artifacts into
// destDir, returning the per-descendant source manifest.
func (c *Client) CollectTeamArtifacts(ctx context.Context, parentID, destDir string) (*ArtifactManifest, error) {
	var out ArtifactManifest
	err := c.Call(ctx, "collect_team_artifacts", map[string]string{
		"parent_id": parentID,
		"dest_dir":  destDir,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluateNow forces an immediate supervisor evaluation pass, mainly
// useful for tests and operator-triggered diagnostics.
func (c *Client) EvaluateNow(ctx context.Context) error {
	return c.Call(ctx, "evaluate_now", nil, nil)
}

// ProgressSnapshot mirrors supervisor.ProgressSnapshot.
type ProgressSnapshot struct {
	InstanceID         string    `json:"instance_id"`
	Classification     string    `json:"classification"`
	LastActivity       time.Time `json:"last_activity"`
	ToolUseCount       int       `json:"tool_use_count"`
	ErrorCount         int       `json:"error_count"`
	InterventionCount  int       `json:"intervention_count"`
	LastInterventionAt time.Time `json:"last_intervention_at"`
}

// GetProgress fetches one instance's latest supervisor snapshot.
func (c *Client) GetProgress(ctx context.Context, instanceID string) (*ProgressSnapshot, error) {
	var out ProgressSnapshot
	if err := c.Call(ctx, "get_progress", map[string]string{"instance_id": instanceID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProgress fetches every evaluated instance's latest snapshot.
func (c *Client) ListProgress(ctx context.Context) ([]ProgressSnapshot, error) {
	var out []ProgressSnapshot
	err := c.Call(ctx, "list_progress", nil, &out)
	return out, err
}

// DetectDeadlock runs the wait-for graph cycle check against the bus's
// live outstanding table.
func (c *Client) DetectDeadlock(ctx context.Context) (cycle []string, found bool, err error) {
	var out struct {
		Found bool     `json:"found"`
		Cycle []string `json:"cycle"`
	}
	err = c.Call(ctx, "detect_deadlock", nil, &out)
	return out.Cycle, out.Found, err
}

// MonitorEvent mirrors monitor.Event.
type MonitorEvent struct {
	Type      string                 `json:"Type"`
	Timestamp time.Time              `json:"Timestamp"`
	Payload   map[string]interface{} `json:"Payload"`
}

// RecentEvents fetches the most recent Monitor Feed events. limit <= 0
// returns everything still in the ring buffer.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]MonitorEvent, error) {
	var out []MonitorEvent
	err := c.Call(ctx, "recent_events", map[string]int{"limit": limit}, &out)
	return out, err
}

// CommunicationRecord mirrors logplane.CommunicationRecord.
type CommunicationRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Event        string    `json:"event"`
	Direction    string    `json:"direction"`
	MessageID    string    `json:"message_id"`
	Body         string    `json:"body"`
	Tokens       int       `json:"tokens,omitempty"`
	Cost         float64   `json:"cost,omitempty"`
	ResponseTime float64   `json:"response_time,omitempty"`
}

// GetCommunicationLog reads the tail of an instance's communication
// journal.
func (c *Client) GetCommunicationLog(ctx context.Context, instanceID string, limit int) ([]CommunicationRecord, error) {
	var out struct {
		Records []CommunicationRecord `json:"records"`
	}
	err := c.Call(ctx, "get_communication_log", map[string]interface{}{
		"instance_id": instanceID,
		"limit":       limit,
	}, &out)
	return out.Records, err
}

// HealthCheck reports orchestrator liveness and instance counts.
func (c *Client) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.Call(ctx, "health_check", nil, &out)
	return out, err
}

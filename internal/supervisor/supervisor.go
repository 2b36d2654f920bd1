// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaycode/overseer/internal/bus"
	"github.com/relaycode/overseer/internal/engine"
	"github.com/relaycode/overseer/internal/logplane"
	"github.com/relaycode/overseer/internal/monitor"
	"github.com/relaycode/overseer/internal/registry"
	"github.com/relaycode/overseer/internal/transcript"
)

// Config controls the supervisor's evaluation cadence and thresholds.
// Mirrors internal/config.SupervisorConfig field for field so the two
// packages don't need to import each other.
type Config struct {
	Interval                time.Duration
	StuckThreshold          time.Duration
	ErrorLoopThreshold      int
	WaitingThreshold        time.Duration
	MaxInterventionsPerInst int
	Cooldown                time.Duration
}

// Supervisor periodically evaluates every running instance and applies
// a bounded intervention policy to the ones showing anomalies. It has
// no privileged pane access: everything it does goes through the same
// engine Send/GetOutput surface any other caller uses.
type Supervisor struct {
	reg   *registry.Registry
	eng   *engine.Engine
	mbus  *bus.Bus
	feed  *monitor.Feed
	plane *logplane.Plane
	cfg   Config

	mu     sync.Mutex
	tracks map[string]*instanceTrack

	// helperSpawner lets Supervisor request a new debugger-role instance
	// without depending on the coordinator package, avoiding an import
	// cycle (coordinator already depends on engine).
	helperSpawner func(ctx context.Context, parentID string) error
}

// New builds a Supervisor. helperSpawner may be nil, in which case
// ActionSpawnHelper degrades to ActionEscalate.
func New(reg *registry.Registry, eng *engine.Engine, mbus *bus.Bus, feed *monitor.Feed, plane *logplane.Plane, cfg Config, helperSpawner func(ctx context.Context, parentID string) error) *Supervisor {
	return &Supervisor{
		reg:           reg,
		eng:           eng,
		mbus:          mbus,
		feed:          feed,
		plane:         plane,
		cfg:           cfg,
		tracks:        make(map[string]*instanceTrack),
		helperSpawner: helperSpawner,
	}
}

// Run evaluates every running instance once per cfg.Interval until ctx
// is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvaluateOnce(ctx)
		}
	}
}

func (s *Supervisor) trackFor(id string) *instanceTrack {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		t = &instanceTrack{}
		s.tracks[id] = t
	}
	return t
}

// Snapshot returns the latest progress snapshot for one instance; ok
// is false if the supervisor has never evaluated it.
func (s *Supervisor) Snapshot(id string) (ProgressSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return ProgressSnapshot{}, false
	}
	return t.snapshot(id, t.lastClass), true
}

// Snapshots returns the latest progress snapshot for every evaluated
// instance, sorted by instance id for stable output.
func (s *Supervisor) Snapshots() []ProgressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProgressSnapshot, 0, len(s.tracks))
	for id, t := range s.tracks {
		out = append(out, t.snapshot(id, t.lastClass))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// EvaluateOnce runs a single evaluation pass over every running
// instance: mine new transcript output for signals, update anomaly
// tracking state, classify, and intervene where a bounded policy
// action is due. Per-instance errors are recorded and skipped, never
// allowed to abort the pass.
func (s *Supervisor) EvaluateOnce(ctx context.Context) {
	now := time.Now()

	for _, inst := range s.reg.List(registry.ListOptions{}) {
		if !inst.State.Active() {
			continue
		}

		events, err := s.eng.GetOutput(ctx, inst.ID, 200)
		if err != nil {
			if s.plane != nil {
				s.plane.Log.Debug().Str("instance", inst.ID).Err(err).Msg("supervisor capture failed")
			}
			continue
		}

		track := s.trackFor(inst.ID)
		s.absorb(track, events, now)

		anomalies := detectAnomalies(track, now, s.cfg.StuckThreshold, s.cfg.WaitingThreshold, s.cfg.ErrorLoopThreshold)
		s.resetClearedEpisodes(track, anomalies)

		class := classify(track, anomalies, now, s.cfg.StuckThreshold)
		track.lastClass = class

		for _, anomaly := range anomalies {
			s.maybeIntervene(ctx, inst, track, anomaly, now)
		}

		if s.feed != nil {
			s.feed.Publish(monitor.Event{
				Type:      "progress_update",
				Timestamp: now,
				Payload: map[string]interface{}{
					"instance_id":    inst.ID,
					"classification": string(class),
					"tool_use_count": track.toolUseCount,
					"error_count":    track.errorCount,
				},
			})
		}
	}

	s.checkDeadlocks(ctx, now)
}

func (s *Supervisor) absorb(track *instanceTrack, events []transcript.Event, now time.Time) {
	if len(events) > 0 {
		track.lastOutputAt = now
	}
	track.recentToolUse = false

	for _, ev := range events {
		for _, sig := range ExtractSignals(ev) {
			switch sig.Kind {
			case SignalError:
				track.consecutiveErrors++
				track.errorCount++
			case SignalToolUse:
				track.consecutiveErrors = 0
				track.toolUseCount++
				track.recentToolUse = true
			case SignalCompletion, SignalActive:
				track.consecutiveErrors = 0
			case SignalBlocked:
				if track.blockedSince.IsZero() {
					track.blockedSince = now
				}
				continue
			}
			track.blockedSince = time.Time{}
		}
	}
}

// resetClearedEpisodes re-arms the one-shot waiting/error-loop policies
// once their anomaly is no longer in effect.
func (s *Supervisor) resetClearedEpisodes(track *instanceTrack, anomalies []Anomaly) {
	waiting, errorLoop := false, false
	for _, a := range anomalies {
		switch a.Kind {
		case AnomalyWaiting:
			waiting = true
		case AnomalyErrorLoop:
			errorLoop = true
		}
	}
	if !waiting {
		track.waitingProbed = false
	}
	if !errorLoop {
		track.errorLoopMessaged = false
	}
}

// maybeIntervene applies the per-anomaly intervention policy. Stuck
// instances climb the bounded escalation ladder; waiting instances get
// one standby probe per episode; error loops get one summarize request
// per episode. Every action respects the per-instance cooldown.
func (s *Supervisor) maybeIntervene(ctx context.Context, inst *registry.Instance, track *instanceTrack, anomaly Anomaly, now time.Time) {
	if !track.lastInterventionAt.IsZero() && now.Sub(track.lastInterventionAt) < s.cfg.Cooldown {
		return
	}

	switch anomaly.Kind {
	case AnomalyWaiting:
		if track.waitingProbed {
			return
		}
		track.waitingProbed = true
		track.lastInterventionAt = now
		s.deliver(ctx, inst.ID, "Standing by noticed. Is a new task incoming, or should you wrap up and report?")
		s.recordIntervention(inst, "waiting_probe", anomaly, now)

	case AnomalyErrorLoop:
		if track.errorLoopMessaged {
			return
		}
		track.errorLoopMessaged = true
		track.lastInterventionAt = now
		s.deliver(ctx, inst.ID, "You appear to be hitting the same error repeatedly. Summarize the last error and what you have tried so far.")
		s.recordIntervention(inst, "error_loop_probe", anomaly, now)

	case AnomalyStuck:
		s.climbLadder(ctx, inst, track, anomaly, now)
	}
}

// climbLadder advances a stuck instance one rung up the bounded
// escalation ladder: status check, then help offer, then a spawned
// helper, then a one-shot escalation mark after which the supervisor
// leaves the instance alone.
func (s *Supervisor) climbLadder(ctx context.Context, inst *registry.Instance, track *instanceTrack, anomaly Anomaly, now time.Time) {
	if track.escalated {
		return
	}

	var action InterventionAction
	if track.interventionCount >= s.cfg.MaxInterventionsPerInst {
		action = ActionEscalate
		track.escalated = true
		track.lastInterventionAt = now
	} else {
		track.interventionCount++
		track.lastInterventionAt = now
		action = nextAction(track.interventionCount)
	}

	switch action {
	case ActionStatusCheck, ActionHelpOffer:
		s.deliver(ctx, inst.ID, messageFor(action, anomaly))
	case ActionSpawnHelper:
		if s.helperSpawner != nil {
			if err := s.helperSpawner(ctx, inst.ID); err == nil {
				s.deliver(ctx, inst.ID, "A helper instance has been spawned alongside you; brief it on where you are stuck.")
			}
		} else {
			action = ActionEscalate
			track.escalated = true
		}
	case ActionEscalate:
		if s.plane != nil {
			s.plane.Log.Warn().
				Str("instance", inst.ID).
				Str("anomaly", string(anomaly.Kind)).
				Msg("supervisor escalation: operator attention required")
		}
	}

	s.recordIntervention(inst, string(action), anomaly, now)
}

// deliver sends an intervention message without blocking on a reply;
// the next evaluation pass reads the outcome from the transcript.
func (s *Supervisor) deliver(ctx context.Context, instanceID, text string) {
	_, _ = s.eng.Send(ctx, instanceID, text, engine.SendOptions{FromID: "supervisor"})
}

func (s *Supervisor) recordIntervention(inst *registry.Instance, action string, anomaly Anomaly, now time.Time) {
	reason := action + " (" + string(anomaly.Kind) + "): " + anomaly.Detail
	_ = s.reg.SetLastIntervention(inst.ID, reason)

	if s.plane != nil {
		_ = s.plane.AppendAudit(logplane.AuditRecord{
			Timestamp: now,
			Action:    "supervisor_intervention",
			TargetID:  inst.ID,
			Detail: map[string]interface{}{
				"intervention_action": action,
				"anomaly_kind":        string(anomaly.Kind),
			},
		})
	}

	if s.feed != nil {
		s.feed.Publish(monitor.Event{
			Type:      "supervisor.intervened",
			Timestamp: now,
			Payload: map[string]interface{}{
				"instance_id": inst.ID,
				"action":      action,
			},
		})
	}
}

// checkDeadlocks rebuilds the wait-for graph from the bus's outstanding
// table and, on a cycle, delivers an interim-result nudge to the
// participant with the highest id — a deterministic choice both sides
// of a two-party deadlock will agree on.
func (s *Supervisor) checkDeadlocks(ctx context.Context, now time.Time) {
	if s.mbus == nil {
		return
	}

	cycle, found := DetectDeadlock(s.mbus.WaitForGraph())
	if !found || len(cycle) == 0 {
		return
	}

	target := cycle[0] // normalizeCycle puts the highest id first

	s.deliver(ctx, target, "You and another instance are each waiting on the other's reply. Send whatever interim result you have now so the cycle breaks.")

	if s.plane != nil {
		_ = s.plane.AppendAudit(logplane.AuditRecord{
			Timestamp: now,
			Action:    "supervisor_intervention",
			TargetID:  target,
			Detail: map[string]interface{}{
				"intervention_action": "deadlock_break",
				"cycle":               cycle,
			},
		})
	}
	if s.feed != nil {
		s.feed.Publish(monitor.Event{
			Type:      "supervisor.intervened",
			Timestamp: now,
			Payload: map[string]interface{}{
				"instance_id": target,
				"action":      "deadlock_break",
			},
		})
	}
}

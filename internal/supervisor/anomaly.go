// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "time"

// AnomalyKind classifies why the supervisor thinks an instance needs
// attention.
type AnomalyKind string

const (
	AnomalyStuck     AnomalyKind = "stuck"      // no new output for StuckThreshold
	AnomalyErrorLoop AnomalyKind = "error_loop" // ErrorLoopThreshold consecutive error signals
	AnomalyWaiting   AnomalyKind = "waiting"    // blocked signal held for WaitingThreshold
)

// Anomaly is one detected problem with an instance, as of a given
// evaluation pass.
type Anomaly struct {
	Kind   AnomalyKind
	Since  time.Time
	Detail string
}

// instanceTrack is the supervisor's per-instance memory between
// evaluation passes: when it last saw new output, how many consecutive
// error signals it has seen, and when a blocked signal first appeared.
type instanceTrack struct {
	lastOutputAt      time.Time
	consecutiveErrors int
	blockedSince      time.Time
	recentToolUse     bool

	toolUseCount int
	errorCount   int

	interventionCount  int
	lastInterventionAt time.Time
	escalated          bool

	// One-shot flags for the non-stuck anomaly policies: the standby
	// probe for a waiting instance and the summarize-your-error message
	// for an error loop each fire once per episode, resetting when the
	// anomaly clears.
	waitingProbed     bool
	errorLoopMessaged bool

	lastClass Classification
}

// detectAnomalies compares track against now and the configured
// thresholds, returning every anomaly currently in effect.
func detectAnomalies(track *instanceTrack, now time.Time, stuckThreshold, waitingThreshold time.Duration, errorLoopThreshold int) []Anomaly {
	var anomalies []Anomaly

	if !track.lastOutputAt.IsZero() && now.Sub(track.lastOutputAt) >= stuckThreshold {
		anomalies = append(anomalies, Anomaly{
			Kind:   AnomalyStuck,
			Since:  track.lastOutputAt,
			Detail: "no new output observed",
		})
	}

	if track.consecutiveErrors >= errorLoopThreshold {
		anomalies = append(anomalies, Anomaly{
			Kind:   AnomalyErrorLoop,
			Detail: "repeated error signals with no intervening progress",
		})
	}

	if !track.blockedSince.IsZero() && now.Sub(track.blockedSince) >= waitingThreshold {
		anomalies = append(anomalies, Anomaly{
			Kind:   AnomalyWaiting,
			Since:  track.blockedSince,
			Detail: "blocked signal held past the waiting threshold",
		})
	}

	return anomalies
}

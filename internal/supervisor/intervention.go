// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

// InterventionAction is one rung of the bounded escalation ladder the
// supervisor climbs for a given anomalous instance.
type InterventionAction string

const (
	ActionStatusCheck InterventionAction = "status_check"
	ActionHelpOffer   InterventionAction = "help_offer"
	ActionSpawnHelper InterventionAction = "spawn_helper"
	ActionEscalate    InterventionAction = "escalate"
)

// ladder is the fixed escalation order. An instance's Nth intervention
// (1-indexed) uses ladder[min(N, len(ladder)) - 1], so once an instance
// has escalated it stays escalated rather than cycling back.
var ladder = []InterventionAction{
	ActionStatusCheck,
	ActionHelpOffer,
	ActionSpawnHelper,
	ActionEscalate,
}

// nextAction returns the action for an instance's interventionCount-th
// (about to be taken) intervention, 1-indexed.
func nextAction(interventionCount int) InterventionAction {
	idx := interventionCount
	if idx < 1 {
		idx = 1
	}
	if idx > len(ladder) {
		idx = len(ladder)
	}
	return ladder[idx-1]
}

// messageFor renders the pane text the supervisor sends for
// ActionStatusCheck and ActionHelpOffer. It returns "" for
// ActionSpawnHelper and ActionEscalate, whose handling (including the
// helper-spawned notice) lives in Supervisor.climbLadder.
func messageFor(action InterventionAction, anomaly Anomaly) string {
	switch action {
	case ActionStatusCheck:
		return "Checking in: are you still making progress? Please share a brief status."
	case ActionHelpOffer:
		return "I've noticed you may be stuck (" + anomaly.Detail + "). Would a hint or a second instance to pair with help?"
	default:
		return ""
	}
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "sort"

// DetectDeadlock builds a wait-for graph from waitFor (instance id ->
// the single instance id it is currently blocked on via an outstanding
// await_reply) and reports the first cycle found, walking candidate
// start nodes in deterministic (sorted, then highest-id-first within a
// discovered cycle) order so repeated calls against the same snapshot
// always report the same cycle. The graph is never persisted: callers
// rebuild waitFor from the bus's live outstanding-request table each
// time they want an answer.
func DetectDeadlock(waitFor map[string]string) (cycle []string, found bool) {
	starts := make([]string, 0, len(waitFor))
	for id := range waitFor {
		starts = append(starts, id)
	}
	sort.Strings(starts)

	for _, start := range starts {
		if path, ok := walkForCycle(waitFor, start); ok {
			return normalizeCycle(path), true
		}
	}
	return nil, false
}

// walkForCycle follows waitFor edges from start until it either runs
// off the graph (no deadlock reachable from start) or revisits a node
// (a cycle, possibly not including start itself).
func walkForCycle(waitFor map[string]string, start string) ([]string, bool) {
	visited := make(map[string]int) // node -> position in path
	path := []string{start}
	visited[start] = 0

	current := start
	for {
		next, ok := waitFor[current]
		if !ok {
			return nil, false
		}
		if pos, seen := visited[next]; seen {
			return path[pos:], true
		}
		visited[next] = len(path)
		path = append(path, next)
		current = next
	}
}

// normalizeCycle rotates cycle so it starts from its lexicographically
// greatest element, giving a deterministic canonical form independent
// of which node the search happened to start from.
func normalizeCycle(cycle []string) []string {
	if len(cycle) == 0 {
		return cycle
	}

	maxIdx := 0
	for i, id := range cycle {
		if id > cycle[maxIdx] {
			maxIdx = i
		}
	}

	rotated := make([]string, 0, len(cycle))
	rotated = append(rotated, cycle[maxIdx:]...)
	rotated = append(rotated, cycle[:maxIdx]...)
	return rotated
}

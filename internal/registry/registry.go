// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sync"
	"time"

	"github.com/relaycode/overseer/internal/overseer"
)

// Registry is the in-memory instance table: a primary map plus two
// secondary indices, name lookup and child enumeration. Terminated
// instances are retained until Purge, so include-terminated queries and
// post-mortem artifact collection keep working after an instance exits.
type Registry struct {
	mu sync.RWMutex

	byID         map[string]*Instance
	idByName     map[string]string
	childrenOf   map[string][]string // parent id -> ordered child ids
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:       make(map[string]*Instance),
		idByName:   make(map[string]string),
		childrenOf: make(map[string][]string),
	}
}

// Insert adds a new instance. It fails with InvalidArgument if the name
// is already taken by a live (non-terminated) instance.
func (r *Registry) Insert(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.idByName[inst.Name]; ok {
		if existing, ok := r.byID[existingID]; ok && !existing.State.Terminal() {
			return overseer.New(overseer.InvalidArgument, "instance name already in use").
				WithHint("choose a different name or terminate the existing instance first")
		}
	}

	cp := inst.Clone()
	r.byID[cp.ID] = cp
	r.idByName[cp.Name] = cp.ID

	if cp.ParentID != "" {
		r.childrenOf[cp.ParentID] = append(r.childrenOf[cp.ParentID], cp.ID)
	}

	return nil
}

// Get returns a copy of the instance with the given id.
func (r *Registry) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.byID[id]
	if !ok {
		return nil, overseer.New(overseer.NotFound, "no such instance: "+id)
	}
	return inst.Clone(), nil
}

// GetByName returns a copy of the instance with the given name.
func (r *Registry) GetByName(name string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idByName[name]
	if !ok {
		return nil, overseer.New(overseer.NotFound, "no such instance: "+name)
	}
	return r.byID[id].Clone(), nil
}

// UpdateState transitions an instance's lifecycle state. Transitioning
// to StateTerminated also stamps TerminatedAt.
func (r *Registry) UpdateState(id string, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return overseer.New(overseer.NotFound, "no such instance: "+id)
	}

	inst.State = state
	if state == StateTerminated {
		inst.TerminatedAt = time.Now()
	}
	return nil
}

// RecordExchange bumps an instance's request counter, adds the given
// token and cost estimates, and stamps LastActivity.
func (r *Registry) RecordExchange(id string, tokens int, cost float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return overseer.New(overseer.NotFound, "no such instance: "+id)
	}
	inst.RequestCount++
	inst.TokenEstimate += tokens
	inst.CostEstimate += cost
	inst.LastActivity = time.Now()
	return nil
}

// LiveCount reports how many instances are not yet in a terminal state,
// for the spawn capacity check.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, inst := range r.byID {
		if !inst.State.Terminal() {
			n++
		}
	}
	return n
}

// BumpGeneration increments an instance's generation counter and
// returns the new value. The engine does not call it.
func (r *Registry) BumpGeneration(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return 0, overseer.New(overseer.NotFound, "no such instance: "+id)
	}
	inst.Generation++
	return inst.Generation, nil
}

// SetLastIntervention records the supervisor's most recent intervention
// reason against an instance.
func (r *Registry) SetLastIntervention(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return overseer.New(overseer.NotFound, "no such instance: "+id)
	}
	inst.LastInterventionReason = reason
	return nil
}

// ListOptions filters List and Children queries.
type ListOptions struct {
	IncludeTerminated bool
	Kind              Kind // zero value means "any kind"
}

func (o ListOptions) matches(inst *Instance) bool {
	if !o.IncludeTerminated && inst.State.Terminal() {
		return false
	}
	if o.Kind != "" && inst.Kind != o.Kind {
		return false
	}
	return true
}

// List returns every instance matching opts, in no particular order.
func (r *Registry) List(opts ListOptions) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Instance, 0, len(r.byID))
	for _, inst := range r.byID {
		if opts.matches(inst) {
			result = append(result, inst.Clone())
		}
	}
	return result
}

// Children returns the direct children of parentID matching opts, in
// spawn order.
func (r *Registry) Children(parentID string, opts ListOptions) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.childrenOf[parentID]
	result := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		inst, ok := r.byID[id]
		if ok && opts.matches(inst) {
			result = append(result, inst.Clone())
		}
	}
	return result
}

// Purge removes every instance terminated before olderThan, along with
// its entries in the secondary indices. A root's own removal leaves its
// (already terminated) children's ParentID pointing at a no-longer
// present id; callers that need lineage across a purge should purge
// parents only after their children.
func (r *Registry) Purge(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, inst := range r.byID {
		if inst.State != StateTerminated || inst.TerminatedAt.After(olderThan) {
			continue
		}

		delete(r.byID, id)
		if r.idByName[inst.Name] == id {
			delete(r.idByName, inst.Name)
		}
		if inst.ParentID != "" {
			r.childrenOf[inst.ParentID] = removeID(r.childrenOf[inst.ParentID], id)
		}
		delete(r.childrenOf, id)
		removed++
	}
	return removed
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

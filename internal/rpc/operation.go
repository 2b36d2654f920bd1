// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rpc defines the Tool Surface: a single registry of operation
// descriptors exposed identically over an HTTP transport
// (internal/rpc/httptransport) and a stdio transport
// (internal/rpc/stdiotransport). Each operation is a closure bound to
// the orchestrator's components, never a reflection-discovered method,
// so the same descriptor set drives both transports without either one
// inferring behavior the other doesn't also get.
package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/relaycode/overseer/internal/overseer"
)

// Handler executes one operation given its raw JSON input.
type Handler func(ctx context.Context, input json.RawMessage) (interface{}, error)

// Operation is one Tool Surface entry.
type Operation struct {
	Name        string
	Description string
	Handler     Handler
}

// Registry holds every registered Operation, keyed by name.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry returns an empty operation registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds op to the registry. Registering the same name twice
// overwrites the earlier entry, which only happens during startup
// wiring, never at request time.
func (r *Registry) Register(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.Name] = op
}

// Get returns the named operation, or NotFound if no such operation is
// registered.
func (r *Registry) Get(name string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[name]
	if !ok {
		return Operation{}, overseer.New(overseer.NotFound, "no such operation: "+name)
	}
	return op, nil
}

// Names returns every registered operation name, sorted, so both
// transports can assert they expose the identical set.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke looks up name and runs it against input.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (interface{}, error) {
	op, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return op.Handler(ctx, input)
}

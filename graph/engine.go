// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/content"
	"github.com/engramhq/engram/entity"
)

// Engine creates, queries and traverses typed relationships between
// entities. Edges live in the entity store as relationship records, so
// they version, branch and synchronize exactly like the entities they
// connect. The engine's adjacency view is derived per operation from
// the branch's latest pointers and is never a source of truth.
//
// Thread Safety: safe for concurrent use. Writes are serialized so
// constraint checks (cycles, cardinality) see a stable graph.
type Engine struct {
	entities *entity.Store
	logger   *slog.Logger

	// writeMu serializes Create and Delete. Constraint checks span
	// many keys and Badger's per-key conflict detection cannot cover
	// them.
	writeMu sync.Mutex
}

// NewEngine wires a graph engine over an entity store.
func NewEngine(entities *entity.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{entities: entities, logger: logger.With(slog.String("component", "graph"))}
}

// CreateSpec describes a relationship to create. Zero-value Direction,
// Strength and Constraints get defaults (unidirectional, medium,
// cycles allowed, no limits).
type CreateSpec struct {
	// ID names the edge. Empty generates a UUID.
	ID string

	// Agent records who created the edge.
	Agent string

	Source entity.Ref
	Target entity.Ref

	Type        Type
	Direction   Direction
	Strength    Strength
	Description string

	// Constraints are evaluated once, at creation, against the branch
	// state at that moment. nil applies DefaultConstraints.
	Constraints *Constraints
}

// Create validates and persists a new relationship on a branch.
//
// Description: resolves both endpoints, runs the cycle and cardinality
// checks under the edge's constraints, then commits the edge as a
// relationship entity.
// Inputs: branch to write on, and a CreateSpec.
// Outputs: the stored relationship, or ErrCyclePrevented,
// ErrLimitExceeded, ErrAlreadyExists, entity.ErrNotFound (missing
// endpoint) or an entity validation error.
// Thread Safety: serialized with other graph writes.
func (g *Engine) Create(ctx context.Context, branch string, spec CreateSpec) (*Relationship, error) {
	rel, err := normalizeSpec(spec)
	if err != nil {
		return nil, err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if err := g.checkEndpoint(ctx, branch, rel.Source); err != nil {
		return nil, err
	}
	if err := g.checkEndpoint(ctx, branch, rel.Target); err != nil {
		return nil, err
	}

	// A caller-supplied ID may only reuse a tombstoned edge's slot.
	base, err := g.baseForID(ctx, branch, rel.ID)
	if err != nil {
		return nil, err
	}

	idx, err := g.loadIndex(ctx, branch)
	if err != nil {
		return nil, err
	}

	if !rel.Constraints.AllowCycles && idx.reachable(rel.Target, rel.Source) {
		recordCyclePrevented(ctx)
		return nil, fmt.Errorf("%s -> %s: %w", rel.Source, rel.Target, ErrCyclePrevented)
	}
	if err := idx.checkCardinality(rel); err != nil {
		return nil, err
	}

	e, err := rel.toEntity()
	if err != nil {
		return nil, err
	}
	if _, err := g.entities.Put(ctx, branch, e, base); err != nil {
		return nil, err
	}
	recordEdgeCreated(ctx, string(rel.Type))

	g.logger.Debug("relationship created",
		slog.String("id", rel.ID),
		slog.String("type", string(rel.Type)),
		slog.String("source", rel.Source.String()),
		slog.String("target", rel.Target.String()),
		slog.String("branch", branch))
	return rel, nil
}

// Get returns an active relationship by ID. Tombstoned edges report
// entity.ErrNotFound.
func (g *Engine) Get(ctx context.Context, branch, id string) (*Relationship, error) {
	e, err := g.entities.Get(ctx, branch, entity.KindRelationship, id)
	if err != nil {
		return nil, err
	}
	if e.Deleted {
		return nil, fmt.Errorf("relationship %s on %s: %w", id, branch, entity.ErrNotFound)
	}
	return fromEntity(e)
}

// Delete soft-deletes a relationship: a tombstone version is appended
// and the edge drops out of every adjacency view, but its history
// stays queryable through the entity store.
func (g *Engine) Delete(ctx context.Context, branch, id, agent string) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	e, err := g.entities.Get(ctx, branch, entity.KindRelationship, id)
	if err != nil {
		return err
	}
	if e.Deleted {
		return fmt.Errorf("relationship %s on %s: %w", id, branch, entity.ErrNotFound)
	}
	base, err := e.ContentHash()
	if err != nil {
		return err
	}
	if _, err := g.entities.Put(ctx, branch, e.Tombstone(agent), base); err != nil {
		return err
	}
	g.logger.Debug("relationship deleted",
		slog.String("id", id), slog.String("branch", branch))
	return nil
}

// ListFilter narrows List. The zero value matches every active edge.
type ListFilter struct {
	// Ref keeps only edges with this entity as either endpoint.
	Ref entity.Ref

	// Type keeps only edges of this relationship type.
	Type Type
}

// List returns active relationships on a branch in creation order.
func (g *Engine) List(ctx context.Context, branch string, filter ListFilter) ([]*Relationship, error) {
	idx, err := g.loadIndex(ctx, branch)
	if err != nil {
		return nil, err
	}
	var out []*Relationship
	for _, r := range idx.edges {
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.Ref != (entity.Ref{}) && r.Source != filter.Ref && r.Target != filter.Ref {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Connected returns the entities one traversable hop away from ref,
// deterministically ordered by (kind, id). typeFilter narrows to one
// relationship type; the zero value follows every type.
func (g *Engine) Connected(ctx context.Context, branch string, ref entity.Ref, typeFilter Type) ([]entity.Ref, error) {
	idx, err := g.loadIndex(ctx, branch)
	if err != nil {
		return nil, err
	}
	seen := make(map[entity.Ref]bool)
	var out []entity.Ref
	for _, r := range idx.adj[ref] {
		if typeFilter != "" && r.Type != typeFilter {
			continue
		}
		other, ok := r.Other(ref)
		if !ok || !r.Traversable(ref, other) || seen[other] {
			continue
		}
		seen[other] = true
		out = append(out, other)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

// Stats summarizes a branch's graph, optionally scoped to one
// relationship type.
type Stats struct {
	// Count is the number of active edges in scope.
	Count int `json:"count"`

	// ByType counts edges per relationship type.
	ByType map[Type]int `json:"by_type"`

	// MostConnected is the entity with the highest degree, lowest
	// (kind, id) on ties. Nil when the scope has no edges.
	MostConnected *entity.Ref `json:"most_connected,omitempty"`

	// MaxDegree is MostConnected's edge count.
	MaxDegree int `json:"max_degree"`

	// Density is Count / (n * (n - 1)) over the n entities the scoped
	// edges touch. Zero when fewer than two entities participate.
	Density float64 `json:"density"`
}

// GraphStats computes summary statistics for a branch's graph.
func (g *Engine) GraphStats(ctx context.Context, branch string, scope Type) (*Stats, error) {
	idx, err := g.loadIndex(ctx, branch)
	if err != nil {
		return nil, err
	}

	st := &Stats{ByType: make(map[Type]int)}
	degree := make(map[entity.Ref]int)
	for _, r := range idx.edges {
		if scope != "" && r.Type != scope {
			continue
		}
		st.Count++
		st.ByType[r.Type]++
		degree[r.Source]++
		degree[r.Target]++
	}
	for ref, d := range degree {
		if d > st.MaxDegree || (d == st.MaxDegree && st.MostConnected != nil && ref.Less(*st.MostConnected)) {
			r := ref
			st.MostConnected = &r
			st.MaxDegree = d
		}
	}
	if n := len(degree); n > 1 {
		st.Density = float64(st.Count) / float64(n*(n-1))
	}
	return st, nil
}

// normalizeSpec applies defaults and validates the spec shape. Checks
// that need branch state happen in Create.
func normalizeSpec(spec CreateSpec) (*Relationship, error) {
	if spec.Agent == "" {
		return nil, &entity.ValidationError{Field: "agent", Reason: "must not be empty"}
	}
	if spec.Type == "" {
		return nil, &entity.ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if spec.Source.Kind == "" || spec.Source.ID == "" {
		return nil, &entity.ValidationError{Field: "source", Reason: "must name an entity"}
	}
	if spec.Target.Kind == "" || spec.Target.ID == "" {
		return nil, &entity.ValidationError{Field: "target", Reason: "must name an entity"}
	}
	if spec.Source == spec.Target {
		return nil, &entity.ValidationError{Field: "target", Reason: "self-relationships are not allowed"}
	}

	dir := spec.Direction
	if dir == "" {
		dir = Unidirectional
	}
	if dir != Unidirectional && dir != Bidirectional {
		return nil, &entity.ValidationError{Field: "direction", Reason: "must be unidirectional or bidirectional"}
	}
	strength := spec.Strength
	if strength == "" {
		strength = Medium
	}
	if !strength.Valid() {
		return nil, &entity.ValidationError{Field: "strength", Reason: "must be weak, medium, strong or critical"}
	}
	constraints := DefaultConstraints()
	if spec.Constraints != nil {
		constraints = *spec.Constraints
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &Relationship{
		ID:          id,
		Agent:       spec.Agent,
		Source:      spec.Source,
		Target:      spec.Target,
		Type:        spec.Type,
		Direction:   dir,
		Strength:    strength,
		Description: spec.Description,
		Constraints: constraints,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// checkEndpoint verifies an endpoint exists and is not tombstoned.
func (g *Engine) checkEndpoint(ctx context.Context, branch string, ref entity.Ref) error {
	e, err := g.entities.Get(ctx, branch, ref.Kind, ref.ID)
	if err != nil {
		return err
	}
	if e.Deleted {
		return fmt.Errorf("%s on %s: %w", ref, branch, entity.ErrNotFound)
	}
	return nil
}

// baseForID returns the CAS base for a new edge with the given ID:
// empty when the slot is free, the tombstone's hash when a deleted
// edge is being replaced, and ErrAlreadyExists for a live edge.
func (g *Engine) baseForID(ctx context.Context, branch, id string) (content.Hash, error) {
	e, err := g.entities.Get(ctx, branch, entity.KindRelationship, id)
	if errors.Is(err, entity.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !e.Deleted {
		return "", fmt.Errorf("relationship %s on %s: %w", id, branch, ErrAlreadyExists)
	}
	return e.ContentHash()
}

// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramhq/engram/entity"
)

// Type names the relationship between two entities. The built-in set
// matches the record model; any other non-empty string is a valid
// user-defined type.
type Type string

// Built-in relationship types.
const (
	TypeDependency     Type = "dependency"
	TypeContainment    Type = "containment"
	TypeReference      Type = "reference"
	TypeFulfillment    Type = "fulfillment"
	TypeImplementation Type = "implementation"
	TypeSupersession   Type = "supersession"
	TypeAssociation    Type = "association"
	TypeInfluence      Type = "influence"
)

// Direction controls which way an edge may be traversed.
type Direction string

const (
	// Unidirectional edges traverse source to target only.
	Unidirectional Direction = "unidirectional"

	// Bidirectional edges traverse both ways.
	Bidirectional Direction = "bidirectional"
)

// Strength is the ordinal weight of an edge: weak < medium < strong <
// critical.
type Strength string

const (
	Weak     Strength = "weak"
	Medium   Strength = "medium"
	Strong   Strength = "strong"
	Critical Strength = "critical"
)

// strengthWeights assigns each strength its numeric weight in [0, 1].
var strengthWeights = map[Strength]float64{
	Weak:     0.25,
	Medium:   0.50,
	Strong:   0.75,
	Critical: 1.00,
}

// Weight returns the numeric weight of the strength. Unknown strengths
// weigh as Medium.
func (s Strength) Weight() float64 {
	if w, ok := strengthWeights[s]; ok {
		return w
	}
	return strengthWeights[Medium]
}

// Cost returns the Dijkstra traversal cost: 1.0 minus the weight, so
// stronger links are always cheaper to cross. Critical edges are free;
// weak edges cost 0.75.
func (s Strength) Cost() float64 {
	return 1.0 - s.Weight()
}

// Valid reports whether s is one of the four ordinal strengths.
func (s Strength) Valid() bool {
	_, ok := strengthWeights[s]
	return ok
}

// Constraints is the constraint set evaluated when an edge is created.
// It is stored on the edge and never re-applied retroactively: a later
// constraint change cannot invalidate existing edges.
type Constraints struct {
	// AllowCycles permits the new edge to close a directed cycle.
	// When false, creation fails if the source is already reachable
	// from the target. The reachability check is graph-wide and
	// type-agnostic: it walks edges of every relationship type.
	AllowCycles bool `json:"allow_cycles"`

	// MaxOutbound caps outbound edges of the declared type from the
	// source entity. Zero means unlimited.
	MaxOutbound int `json:"max_outbound,omitempty"`

	// MaxInbound caps inbound edges of the declared type into the
	// target entity. Zero means unlimited.
	MaxInbound int `json:"max_inbound,omitempty"`
}

// DefaultConstraints allows cycles and sets no cardinality limits.
func DefaultConstraints() Constraints {
	return Constraints{AllowCycles: true}
}

// Relationship is a typed edge between two entities. Edges are stored
// as relationship entities in the same content-addressed store as the
// records they connect; this struct is the typed view the engine works
// with.
type Relationship struct {
	ID          string      `json:"id"`
	Agent       string      `json:"agent"`
	Source      entity.Ref  `json:"source"`
	Target      entity.Ref  `json:"target"`
	Type        Type        `json:"type"`
	Direction   Direction   `json:"direction"`
	Strength    Strength    `json:"strength"`
	Description string      `json:"description,omitempty"`
	Constraints Constraints `json:"constraints"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Traversable reports whether the edge can be walked from one entity
// to another.
func (r *Relationship) Traversable(from, to entity.Ref) bool {
	if r.Source == from && r.Target == to {
		return true
	}
	if r.Direction == Bidirectional && r.Source == to && r.Target == from {
		return true
	}
	return false
}

// Other returns the opposite endpoint, if ref is one of them.
func (r *Relationship) Other(ref entity.Ref) (entity.Ref, bool) {
	switch ref {
	case r.Source:
		return r.Target, true
	case r.Target:
		return r.Source, true
	}
	return entity.Ref{}, false
}

// wirePayload is the field-map form a relationship takes inside its
// entity envelope. It matches entity.RelationshipPayload plus the
// constraint fields the storage schema leaves open.
type wirePayload struct {
	SourceKind  string `json:"source_kind"`
	SourceID    string `json:"source_id"`
	TargetKind  string `json:"target_kind"`
	TargetID    string `json:"target_id"`
	Type        string `json:"type"`
	Direction   string `json:"direction"`
	Strength    string `json:"strength"`
	Description string `json:"description,omitempty"`
	AllowCycles bool   `json:"allow_cycles"`
	MaxOutbound int    `json:"max_outbound,omitempty"`
	MaxInbound  int    `json:"max_inbound,omitempty"`
}

// toEntity converts the relationship to its entity form for storage.
func (r *Relationship) toEntity() (*entity.Entity, error) {
	p := wirePayload{
		SourceKind:  string(r.Source.Kind),
		SourceID:    r.Source.ID,
		TargetKind:  string(r.Target.Kind),
		TargetID:    r.Target.ID,
		Type:        string(r.Type),
		Direction:   string(r.Direction),
		Strength:    string(r.Strength),
		Description: r.Description,
		AllowCycles: r.Constraints.AllowCycles,
		MaxOutbound: r.Constraints.MaxOutbound,
		MaxInbound:  r.Constraints.MaxInbound,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return &entity.Entity{
		Kind:      entity.KindRelationship,
		ID:        r.ID,
		Agent:     r.Agent,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.CreatedAt.UTC(),
		Fields:    fields,
	}, nil
}

// fromEntity decodes a relationship entity into the typed view.
func fromEntity(e *entity.Entity) (*Relationship, error) {
	raw, err := json.Marshal(e.Fields)
	if err != nil {
		return nil, err
	}
	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("relationship %s: %w", e.ID, err)
	}
	return &Relationship{
		ID:          e.ID,
		Agent:       e.Agent,
		Source:      entity.Ref{Kind: entity.Kind(p.SourceKind), ID: p.SourceID},
		Target:      entity.Ref{Kind: entity.Kind(p.TargetKind), ID: p.TargetID},
		Type:        Type(p.Type),
		Direction:   Direction(p.Direction),
		Strength:    Strength(p.Strength),
		Description: p.Description,
		Constraints: Constraints{
			AllowCycles: p.AllowCycles,
			MaxOutbound: p.MaxOutbound,
			MaxInbound:  p.MaxInbound,
		},
		CreatedAt: e.CreatedAt,
	}, nil
}

// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package entity implements the typed entity layer over the content
// store: canonical serialization, per-kind validation, and the mutable
// latest-pointer table with compare-and-swap semantics.
//
// # Data Model
//
// An entity is a logical record identified by (Kind, ID). Every version
// of an entity is one immutable content object; the latest-pointer
// table maps the logical key to the current content hash, per branch.
// Entities are never hard-deleted: Delete re-points to a tombstoned
// version and the full history stays reachable.
//
// # Canonical Serialization
//
// Canonical bytes are JSON with a fixed envelope field order,
// lexicographically sorted payload keys (encoding/json map ordering),
// and UTC RFC 3339 timestamps. Serializing the same logical entity
// twice yields byte-identical output, so content hashing is
// reproducible.
package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramhq/engram/content"
)

// Kind tags the closed set of entity variants. New variants are added
// by extending this set and registering a payload schema (see Registry).
type Kind string

// Built-in entity kinds.
const (
	KindTask         Kind = "task"
	KindContext      Kind = "context"
	KindReasoning    Kind = "reasoning"
	KindKnowledge    Kind = "knowledge"
	KindSession      Kind = "session"
	KindCompliance   Kind = "compliance"
	KindRule         Kind = "rule"
	KindStandard     Kind = "standard"
	KindDecision     Kind = "decision"
	KindWorkflow     Kind = "workflow"
	KindRelationship Kind = "relationship"
)

// Ref names an entity by its logical key.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// String returns the kind/id form used in keys and log output.
func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}

// Less orders refs lexicographically by (kind, id). Traversal
// tie-breaks depend on this ordering being total and deterministic.
func (r Ref) Less(other Ref) bool {
	if r.Kind != other.Kind {
		return r.Kind < other.Kind
	}
	return r.ID < other.ID
}

// Entity is one version of a logical record. The zero value is not
// valid; use New or decode from canonical bytes.
type Entity struct {
	Kind      Kind           `json:"kind"`
	ID        string         `json:"id"`
	Agent     string         `json:"agent"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deleted   bool           `json:"deleted,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// New builds an entity stamped with the current time.
func New(kind Kind, id, agent string, fields map[string]any) *Entity {
	now := time.Now().UTC()
	if fields == nil {
		fields = map[string]any{}
	}
	return &Entity{
		Kind:      kind,
		ID:        id,
		Agent:     agent,
		CreatedAt: now,
		UpdatedAt: now,
		Fields:    fields,
	}
}

// Ref returns the entity's logical key.
func (e *Entity) Ref() Ref {
	return Ref{Kind: e.Kind, ID: e.ID}
}

// Canonical returns the deterministic serialization of the entity.
//
// The envelope marshals in declared struct order; Fields is a map, and
// encoding/json emits map keys in sorted order at every nesting level.
// Timestamps are normalized to UTC so the same instant always encodes
// to the same bytes.
func (e *Entity) Canonical() ([]byte, error) {
	c := *e
	c.CreatedAt = e.CreatedAt.UTC()
	c.UpdatedAt = e.UpdatedAt.UTC()
	data, err := json.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s: %w", e.Ref(), err)
	}
	return data, nil
}

// ContentHash returns the hash the entity's canonical bytes would be
// stored under.
func (e *Entity) ContentHash() (content.Hash, error) {
	data, err := e.Canonical()
	if err != nil {
		return "", err
	}
	return content.HashBytes(data), nil
}

// Decode reconstructs an entity from its canonical bytes.
func Decode(data []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	return &e, nil
}

// Tombstone returns a copy of the entity marked deleted, stamped with
// the deleting agent and time. The original version stays in history.
func (e *Entity) Tombstone(agent string) *Entity {
	c := *e
	c.Fields = cloneFields(e.Fields)
	c.Deleted = true
	c.Agent = agent
	c.UpdatedAt = time.Now().UTC()
	return &c
}

// CloneFields returns a shallow copy of the entity's payload. Merge
// code mutates field maps and must never alias a candidate's map.
func (e *Entity) CloneFields() map[string]any {
	return cloneFields(e.Fields)
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

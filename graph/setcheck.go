// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"fmt"

	"github.com/engramhq/engram/entity"
)

// FromEntity decodes a relationship entity into its typed view. The
// synchronization engine uses it to reason about merged edges before
// they land on any branch.
func FromEntity(e *entity.Entity) (*Relationship, error) {
	return fromEntity(e)
}

// Violation reports one edge whose constraints do not hold in a
// prospective edge set.
type Violation struct {
	Edge *Relationship
	Err  error
}

// CheckSet validates every edge's creation-time constraints against a
// complete prospective edge set, as if the set were a branch's active
// graph. Merging branches can combine edges that were each valid alone
// but violate a cycle or cardinality constraint together; CheckSet is
// how that combination is caught before it is applied.
func CheckSet(edges []*Relationship) []Violation {
	idx := &index{adj: make(map[entity.Ref][]*Relationship)}
	idx.edges = edges
	for _, r := range edges {
		idx.adj[r.Source] = append(idx.adj[r.Source], r)
		idx.adj[r.Target] = append(idx.adj[r.Target], r)
	}

	var violations []Violation
	for _, r := range edges {
		if !r.Constraints.AllowCycles && idx.reachableSkipping(r.Target, r.Source, r.ID) {
			violations = append(violations, Violation{
				Edge: r,
				Err:  fmt.Errorf("%s -> %s: %w", r.Source, r.Target, ErrCyclePrevented),
			})
			continue
		}
		if v, ok := idx.countViolation(r); ok {
			violations = append(violations, Violation{Edge: r, Err: v})
		}
	}
	return violations
}

// reachableSkipping is reachable with one edge held out. The held-out
// edge is the one under test: it closes a cycle exactly when its
// source is reachable from its target over the remaining edges.
func (idx *index) reachableSkipping(from, to entity.Ref, skipID string) bool {
	if from == to {
		return true
	}
	visited := map[entity.Ref]bool{from: true}
	queue := []entity.Ref{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, r := range idx.adj[cur] {
			if r.ID == skipID {
				continue
			}
			other, ok := r.Other(cur)
			if !ok || !r.Traversable(cur, other) {
				continue
			}
			if other == to {
				return true
			}
			if !visited[other] {
				visited[other] = true
				queue = append(queue, other)
			}
		}
	}
	return false
}

// countViolation checks one edge's cardinality limits against the
// whole set, the edge itself included.
func (idx *index) countViolation(rel *Relationship) (error, bool) {
	outbound, inbound := 0, 0
	for _, r := range idx.edges {
		if r.Type != rel.Type {
			continue
		}
		if r.Source == rel.Source {
			outbound++
		}
		if r.Target == rel.Target {
			inbound++
		}
	}
	if max := rel.Constraints.MaxOutbound; max > 0 && outbound > max {
		return fmt.Errorf("%s has %d outbound %s edges (max %d): %w",
			rel.Source, outbound, rel.Type, max, ErrLimitExceeded), true
	}
	if max := rel.Constraints.MaxInbound; max > 0 && inbound > max {
		return fmt.Errorf("%s has %d inbound %s edges (max %d): %w",
			rel.Target, inbound, rel.Type, max, ErrLimitExceeded), true
	}
	return nil, false
}

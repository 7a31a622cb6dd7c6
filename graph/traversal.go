// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/engramhq/engram/entity"
)

// Algorithm selects a pathfinding strategy.
type Algorithm string

const (
	// BFS finds a path with the fewest hops.
	BFS Algorithm = "bfs"

	// DFS finds some path, depth-first. Not necessarily shortest.
	DFS Algorithm = "dfs"

	// Dijkstra finds the cheapest path where each edge costs
	// 1.0 minus its strength weight.
	Dijkstra Algorithm = "dijkstra"
)

// ParseAlgorithm maps a user-supplied name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case BFS, DFS, Dijkstra:
		return Algorithm(name), nil
	case "":
		return BFS, nil
	default:
		return "", fmt.Errorf("%q: %w", name, ErrUnknownAlgorithm)
	}
}

// FindPath searches for a path from source to target over traversable
// edges of any type.
//
// Description: runs the selected algorithm over a snapshot of the
// branch's active edges. Neighbor expansion is ordered by (kind, id),
// so results are deterministic for a given graph.
// Inputs: branch, the two endpoints, and an algorithm.
// Outputs: the path including both endpoints, or nil when no path
// exists. Absence of a path is an answer, not an error.
// Thread Safety: safe for concurrent use.
func (g *Engine) FindPath(ctx context.Context, branch string, source, target entity.Ref, algo Algorithm) ([]entity.Ref, error) {
	if _, err := ParseAlgorithm(string(algo)); err != nil {
		return nil, err
	}
	idx, err := g.loadIndex(ctx, branch)
	if err != nil {
		return nil, err
	}
	recordPathQuery(ctx, string(algo))

	if source == target {
		return []entity.Ref{source}, nil
	}
	switch algo {
	case DFS:
		return idx.dfsPath(source, target), nil
	case Dijkstra:
		return idx.dijkstraPath(source, target), nil
	default:
		return idx.bfsPath(source, target), nil
	}
}

// index is a point-in-time adjacency view over a branch's active
// relationship entities. It is rebuilt per operation and discarded;
// the entity store remains the only source of truth.
type index struct {
	// edges holds active relationships in creation order.
	edges []*Relationship

	// adj maps each endpoint to every edge touching it, regardless of
	// direction. Traversal applies direction at expansion time.
	adj map[entity.Ref][]*Relationship
}

// loadIndex reads the branch's relationship heads and decodes them
// into an adjacency view. Tombstoned edges are skipped.
func (g *Engine) loadIndex(ctx context.Context, branch string) (*index, error) {
	heads, err := g.entities.List(ctx, branch, entity.KindRelationship)
	if err != nil {
		return nil, err
	}

	idx := &index{adj: make(map[entity.Ref][]*Relationship)}
	for _, h := range heads {
		e, err := g.entities.GetByHash(ctx, h.Hash)
		if err != nil {
			return nil, err
		}
		if e.Deleted {
			continue
		}
		r, err := fromEntity(e)
		if err != nil {
			return nil, err
		}
		idx.edges = append(idx.edges, r)
	}
	sort.Slice(idx.edges, func(i, j int) bool {
		a, b := idx.edges[i], idx.edges[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for _, r := range idx.edges {
		idx.adj[r.Source] = append(idx.adj[r.Source], r)
		idx.adj[r.Target] = append(idx.adj[r.Target], r)
	}
	return idx, nil
}

// step is one traversable move out of a node.
type step struct {
	to   entity.Ref
	cost float64
}

// neighbors returns the nodes reachable from one, direction-aware hop,
// deduplicated to the cheapest edge per neighbor and ordered by
// (kind, id).
func (idx *index) neighbors(from entity.Ref) []step {
	best := make(map[entity.Ref]float64)
	for _, r := range idx.adj[from] {
		other, ok := r.Other(from)
		if !ok || !r.Traversable(from, other) {
			continue
		}
		c := r.Strength.Cost()
		if cur, seen := best[other]; !seen || c < cur {
			best[other] = c
		}
	}
	out := make([]step, 0, len(best))
	for to, c := range best {
		out = append(out, step{to: to, cost: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].to.Less(out[j].to) })
	return out
}

// reachable reports whether to can be reached from from. Used by the
// cycle check: a new edge source -> target closes a cycle exactly when
// the source is already reachable from the target.
func (idx *index) reachable(from, to entity.Ref) bool {
	if from == to {
		return true
	}
	visited := map[entity.Ref]bool{from: true}
	queue := []entity.Ref{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range idx.neighbors(cur) {
			if s.to == to {
				return true
			}
			if !visited[s.to] {
				visited[s.to] = true
				queue = append(queue, s.to)
			}
		}
	}
	return false
}

// checkCardinality enforces the new edge's max_outbound and
// max_inbound limits against same-type edges already in the graph.
func (idx *index) checkCardinality(rel *Relationship) error {
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
	if max := rel.Constraints.MaxOutbound; max > 0 && outbound >= max {
		return fmt.Errorf("%s has %d outbound %s edges (max %d): %w",
			rel.Source, outbound, rel.Type, max, ErrLimitExceeded)
	}
	if max := rel.Constraints.MaxInbound; max > 0 && inbound >= max {
		return fmt.Errorf("%s has %d inbound %s edges (max %d): %w",
			rel.Target, inbound, rel.Type, max, ErrLimitExceeded)
	}
	return nil
}

// bfsPath returns a fewest-hops path, or nil.
func (idx *index) bfsPath(source, target entity.Ref) []entity.Ref {
	parent := map[entity.Ref]entity.Ref{source: source}
	queue := []entity.Ref{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range idx.neighbors(cur) {
			if _, seen := parent[s.to]; seen {
				continue
			}
			parent[s.to] = cur
			if s.to == target {
				return rebuild(parent, source, target)
			}
			queue = append(queue, s.to)
		}
	}
	return nil
}

// dfsPath returns the first path found depth-first, or nil.
func (idx *index) dfsPath(source, target entity.Ref) []entity.Ref {
	visited := make(map[entity.Ref]bool)
	var walk func(cur entity.Ref, path []entity.Ref) []entity.Ref
	walk = func(cur entity.Ref, path []entity.Ref) []entity.Ref {
		if cur == target {
			return path
		}
		visited[cur] = true
		for _, s := range idx.neighbors(cur) {
			if visited[s.to] {
				continue
			}
			if found := walk(s.to, append(path, s.to)); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(source, []entity.Ref{source})
}

// dijkstraPath returns the cheapest path by edge cost, or nil. Ties
// break on the node key so results are stable.
func (idx *index) dijkstraPath(source, target entity.Ref) []entity.Ref {
	dist := map[entity.Ref]float64{source: 0}
	parent := map[entity.Ref]entity.Ref{source: source}
	done := make(map[entity.Ref]bool)

	pq := &nodeQueue{{ref: source, cost: 0}}
	heap.Init(pq)
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(nodeCost)
		if done[cur.ref] {
			continue
		}
		done[cur.ref] = true
		if cur.ref == target {
			return rebuild(parent, source, target)
		}
		for _, s := range idx.neighbors(cur.ref) {
			next := cur.cost + s.cost
			if d, seen := dist[s.to]; !seen || next < d {
				dist[s.to] = next
				parent[s.to] = cur.ref
				heap.Push(pq, nodeCost{ref: s.to, cost: next})
			}
		}
	}
	return nil
}

// rebuild walks the parent map back from target to source.
func rebuild(parent map[entity.Ref]entity.Ref, source, target entity.Ref) []entity.Ref {
	var path []entity.Ref
	for cur := target; ; cur = parent[cur] {
		path = append(path, cur)
		if cur == source {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type nodeCost struct {
	ref  entity.Ref
	cost float64
}

// nodeQueue is a min-heap on (cost, ref key).
type nodeQueue []nodeCost

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].ref.Less(q[j].ref)
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(nodeCost)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

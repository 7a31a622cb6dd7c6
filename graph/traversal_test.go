// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/entity"
)

func TestParseAlgorithm(t *testing.T) {
	for _, name := range []string{"bfs", "dfs", "dijkstra"} {
		algo, err := ParseAlgorithm(name)
		require.NoError(t, err)
		assert.Equal(t, Algorithm(name), algo)
	}

	algo, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, BFS, algo)

	_, err = ParseAlgorithm("a-star")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

// TestBFSShortestPath builds A->B->C plus a longer detour and checks
// BFS returns the three-node chain.
func TestBFSShortestPath(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 5)
	ctx := context.Background()

	link(t, g, refs[0], refs[1], TypeDependency)
	link(t, g, refs[1], refs[2], TypeDependency)
	// Detour: A -> D -> E -> C.
	link(t, g, refs[0], refs[3], TypeDependency)
	link(t, g, refs[3], refs[4], TypeDependency)
	link(t, g, refs[4], refs[2], TypeDependency)

	path, err := g.FindPath(ctx, "main", refs[0], refs[2], BFS)
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[0], refs[1], refs[2]}, path)
}

func TestFindPathNoPathIsNil(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)
	ctx := context.Background()

	for _, algo := range []Algorithm{BFS, DFS, Dijkstra} {
		path, err := g.FindPath(ctx, "main", refs[0], refs[1], algo)
		require.NoError(t, err)
		assert.Nil(t, path)
	}
}

func TestFindPathSameNode(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 1)

	path, err := g.FindPath(context.Background(), "main", refs[0], refs[0], BFS)
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[0]}, path)
}

func TestFindPathRespectsDirection(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)
	ctx := context.Background()

	link(t, g, refs[0], refs[1], TypeDependency)

	forward, err := g.FindPath(ctx, "main", refs[0], refs[1], BFS)
	require.NoError(t, err)
	assert.Len(t, forward, 2)

	backward, err := g.FindPath(ctx, "main", refs[1], refs[0], BFS)
	require.NoError(t, err)
	assert.Nil(t, backward)
}

func TestFindPathBidirectional(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)
	ctx := context.Background()

	link(t, g, refs[0], refs[1], TypeAssociation, func(s *CreateSpec) {
		s.Direction = Bidirectional
	})

	backward, err := g.FindPath(ctx, "main", refs[1], refs[0], BFS)
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[1], refs[0]}, backward)
}

func TestDFSFindsAPath(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 4)
	ctx := context.Background()

	link(t, g, refs[0], refs[1], TypeDependency)
	link(t, g, refs[1], refs[2], TypeDependency)
	link(t, g, refs[2], refs[3], TypeDependency)

	path, err := g.FindPath(ctx, "main", refs[0], refs[3], DFS)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, refs[0], path[0])
	assert.Equal(t, refs[3], path[len(path)-1])
	// Every hop must be a real traversable edge.
	for i := 0; i < len(path)-1; i++ {
		next, err := g.Connected(ctx, "main", path[i], "")
		require.NoError(t, err)
		assert.Contains(t, next, path[i+1])
	}
}

// TestDijkstraPrefersStrongEdges builds a short weak route and a
// longer critical route and checks Dijkstra takes the cheap one.
func TestDijkstraPrefersStrongEdges(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 4)
	ctx := context.Background()

	weak := func(s *CreateSpec) { s.Strength = Weak }
	critical := func(s *CreateSpec) { s.Strength = Critical }

	// Direct but weak: cost 0.75.
	link(t, g, refs[0], refs[3], TypeDependency, weak)
	// Two critical hops: cost 0.0.
	link(t, g, refs[0], refs[1], TypeDependency, critical)
	link(t, g, refs[1], refs[3], TypeDependency, critical)

	path, err := g.FindPath(ctx, "main", refs[0], refs[3], Dijkstra)
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[0], refs[1], refs[3]}, path)

	// BFS on the same graph prefers the fewest hops.
	path, err = g.FindPath(ctx, "main", refs[0], refs[3], BFS)
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[0], refs[3]}, path)
}

func TestParallelEdgesUseCheapest(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 3)
	ctx := context.Background()

	// Two edges between the same pair; the strong one sets the cost.
	link(t, g, refs[0], refs[1], TypeDependency, func(s *CreateSpec) { s.Strength = Weak })
	link(t, g, refs[0], refs[1], TypeReference, func(s *CreateSpec) { s.Strength = Critical })
	link(t, g, refs[0], refs[2], TypeDependency, func(s *CreateSpec) { s.Strength = Medium })
	link(t, g, refs[2], refs[1], TypeDependency, func(s *CreateSpec) { s.Strength = Medium })

	// Direct via the critical edge (0.0) beats the two-hop 1.0 route.
	path, err := g.FindPath(ctx, "main", refs[0], refs[1], Dijkstra)
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[0], refs[1]}, path)
}

func TestStrengthCosts(t *testing.T) {
	assert.InDelta(t, 0.75, Weak.Cost(), 1e-9)
	assert.InDelta(t, 0.50, Medium.Cost(), 1e-9)
	assert.InDelta(t, 0.25, Strong.Cost(), 1e-9)
	assert.InDelta(t, 0.00, Critical.Cost(), 1e-9)
	// Unknown strengths weigh as medium.
	assert.InDelta(t, 0.50, Strength("odd").Cost(), 1e-9)
}

func TestDeletedEdgesLeaveTheGraph(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)
	ctx := context.Background()

	rel := link(t, g, refs[0], refs[1], TypeDependency)
	require.NoError(t, g.Delete(ctx, "main", rel.ID, "alice"))

	path, err := g.FindPath(ctx, "main", refs[0], refs[1], BFS)
	require.NoError(t, err)
	assert.Nil(t, path)
}

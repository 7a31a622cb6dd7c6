// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/content"
	"github.com/engramhq/engram/entity"
	store "github.com/engramhq/engram/storage/badger"
)

func newTestEngine(t *testing.T) (*Engine, *entity.Store) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	es := entity.NewStore(db, content.New(db, nil), nil, nil)
	return NewEngine(es, nil), es
}

// seedTasks stores n tasks named t-1..t-n on main and returns their refs.
func seedTasks(t *testing.T, es *entity.Store, n int) []entity.Ref {
	t.Helper()
	ctx := context.Background()
	refs := make([]entity.Ref, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("t-%d", i)
		e := entity.New(entity.KindTask, id, "alice", map[string]any{
			"title":  "task " + id,
			"status": "todo",
		})
		_, err := es.Put(ctx, "main", e, "")
		require.NoError(t, err)
		refs = append(refs, e.Ref())
	}
	return refs
}

func link(t *testing.T, g *Engine, src, dst entity.Ref, typ Type, opts ...func(*CreateSpec)) *Relationship {
	t.Helper()
	spec := CreateSpec{Agent: "alice", Source: src, Target: dst, Type: typ}
	for _, o := range opts {
		o(&spec)
	}
	rel, err := g.Create(context.Background(), "main", spec)
	require.NoError(t, err)
	return rel
}

func TestCreateAndGet(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)

	rel := link(t, g, refs[0], refs[1], TypeDependency)
	assert.NotEmpty(t, rel.ID)
	assert.Equal(t, Unidirectional, rel.Direction)
	assert.Equal(t, Medium, rel.Strength)
	assert.True(t, rel.Constraints.AllowCycles)

	got, err := g.Get(context.Background(), "main", rel.ID)
	require.NoError(t, err)
	assert.Equal(t, rel.Source, got.Source)
	assert.Equal(t, rel.Target, got.Target)
	assert.Equal(t, TypeDependency, got.Type)
}

func TestCreateMissingEndpoint(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 1)

	_, err := g.Create(context.Background(), "main", CreateSpec{
		Agent:  "alice",
		Source: refs[0],
		Target: entity.Ref{Kind: entity.KindTask, ID: "ghost"},
		Type:   TypeDependency,
	})
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestCreateRejectsSelfLoop(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 1)

	_, err := g.Create(context.Background(), "main", CreateSpec{
		Agent:  "alice",
		Source: refs[0],
		Target: refs[0],
		Type:   TypeDependency,
	})
	assert.True(t, entity.IsValidation(err))
}

func TestCreateDuplicateID(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 3)

	withID := func(id string) func(*CreateSpec) {
		return func(s *CreateSpec) { s.ID = id }
	}
	link(t, g, refs[0], refs[1], TypeDependency, withID("r-1"))

	_, err := g.Create(context.Background(), "main", CreateSpec{
		ID: "r-1", Agent: "alice", Source: refs[0], Target: refs[2], Type: TypeDependency,
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// A tombstoned slot can be reused.
	require.NoError(t, g.Delete(context.Background(), "main", "r-1", "alice"))
	link(t, g, refs[0], refs[2], TypeDependency, withID("r-1"))
}

// TestCyclePrevention builds A->B->C with cycles forbidden and checks
// that closing the loop fails while an allowing edge succeeds.
func TestCyclePrevention(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 3)
	noCycles := func(s *CreateSpec) {
		s.Constraints = &Constraints{AllowCycles: false}
	}

	link(t, g, refs[0], refs[1], TypeDependency, noCycles)
	link(t, g, refs[1], refs[2], TypeDependency, noCycles)

	_, err := g.Create(context.Background(), "main", CreateSpec{
		Agent: "alice", Source: refs[2], Target: refs[0], Type: TypeDependency,
		Constraints: &Constraints{AllowCycles: false},
	})
	assert.ErrorIs(t, err, ErrCyclePrevented)

	// The same edge with cycles allowed goes through.
	link(t, g, refs[2], refs[0], TypeDependency)
}

// TestCycleCheckIsTypeAgnostic verifies reachability through an edge
// of a different relationship type still counts as a cycle.
func TestCycleCheckIsTypeAgnostic(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)

	link(t, g, refs[0], refs[1], TypeReference)

	_, err := g.Create(context.Background(), "main", CreateSpec{
		Agent: "alice", Source: refs[1], Target: refs[0], Type: TypeDependency,
		Constraints: &Constraints{AllowCycles: false},
	})
	assert.ErrorIs(t, err, ErrCyclePrevented)
}

// TestMaxOutbound verifies the cardinality limit counts only edges of
// the declared type.
func TestMaxOutbound(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 4)
	capped := func(s *CreateSpec) {
		s.Constraints = &Constraints{AllowCycles: true, MaxOutbound: 2}
	}

	link(t, g, refs[0], refs[1], TypeDependency, capped)
	link(t, g, refs[0], refs[2], TypeDependency, capped)

	_, err := g.Create(context.Background(), "main", CreateSpec{
		Agent: "alice", Source: refs[0], Target: refs[3], Type: TypeDependency,
		Constraints: &Constraints{AllowCycles: true, MaxOutbound: 2},
	})
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// A different relationship type has its own budget.
	link(t, g, refs[0], refs[3], TypeReference, capped)
}

func TestMaxInbound(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 3)
	capped := func(s *CreateSpec) {
		s.Constraints = &Constraints{AllowCycles: true, MaxInbound: 1}
	}

	link(t, g, refs[0], refs[2], TypeContainment, capped)

	_, err := g.Create(context.Background(), "main", CreateSpec{
		Agent: "alice", Source: refs[1], Target: refs[2], Type: TypeContainment,
		Constraints: &Constraints{AllowCycles: true, MaxInbound: 1},
	})
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestListFilters(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 3)

	r1 := link(t, g, refs[0], refs[1], TypeDependency)
	r2 := link(t, g, refs[1], refs[2], TypeReference)
	r3 := link(t, g, refs[0], refs[2], TypeDependency)

	ctx := context.Background()
	all, err := g.List(ctx, "main", ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Creation order.
	assert.Equal(t, []string{r1.ID, r2.ID, r3.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	deps, err := g.List(ctx, "main", ListFilter{Type: TypeDependency})
	require.NoError(t, err)
	assert.Len(t, deps, 2)

	touching, err := g.List(ctx, "main", ListFilter{Ref: refs[2]})
	require.NoError(t, err)
	assert.Len(t, touching, 2)
}

func TestDeleteRemovesFromViews(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)
	ctx := context.Background()

	rel := link(t, g, refs[0], refs[1], TypeDependency)
	require.NoError(t, g.Delete(ctx, "main", rel.ID, "alice"))

	_, err := g.Get(ctx, "main", rel.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	all, err := g.List(ctx, "main", ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	// The tombstone keeps the edge's history addressable.
	hist, err := es.History(ctx, "main", entity.KindRelationship, rel.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	// Double delete is a typed failure.
	assert.ErrorIs(t, g.Delete(ctx, "main", rel.ID, "alice"), entity.ErrNotFound)
}

func TestConnected(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 4)
	ctx := context.Background()

	link(t, g, refs[0], refs[1], TypeDependency)
	link(t, g, refs[0], refs[2], TypeReference)
	// Bidirectional edge is traversable back toward refs[0].
	link(t, g, refs[3], refs[0], TypeAssociation, func(s *CreateSpec) {
		s.Direction = Bidirectional
	})

	got, err := g.Connected(ctx, "main", refs[0], "")
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[1], refs[2], refs[3]}, got)

	// Unidirectional edges do not traverse backwards.
	got, err = g.Connected(ctx, "main", refs[1], "")
	require.NoError(t, err)
	assert.Empty(t, got)

	deps, err := g.Connected(ctx, "main", refs[0], TypeDependency)
	require.NoError(t, err)
	assert.Equal(t, []entity.Ref{refs[1]}, deps)
}

func TestGraphStats(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 3)
	ctx := context.Background()

	link(t, g, refs[0], refs[1], TypeDependency)
	link(t, g, refs[0], refs[2], TypeDependency)
	link(t, g, refs[1], refs[2], TypeReference)

	st, err := g.GraphStats(ctx, "main", "")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 2, st.ByType[TypeDependency])
	assert.Equal(t, 1, st.ByType[TypeReference])
	// Every node has degree 2; the tie breaks to the smallest ref.
	require.NotNil(t, st.MostConnected)
	assert.Equal(t, refs[0], *st.MostConnected)
	assert.Equal(t, 2, st.MaxDegree)
	// 3 edges over 3 nodes: 3 / (3*2).
	assert.InDelta(t, 0.5, st.Density, 1e-9)

	scoped, err := g.GraphStats(ctx, "main", TypeReference)
	require.NoError(t, err)
	assert.Equal(t, 1, scoped.Count)

	empty, err := g.GraphStats(ctx, "main", TypeSupersession)
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.Nil(t, empty.MostConnected)
	assert.Zero(t, empty.Density)
}

func TestBranchesSeeSeparateGraphs(t *testing.T) {
	g, es := newTestEngine(t)
	refs := seedTasks(t, es, 2)
	ctx := context.Background()

	require.NoError(t, es.ForkRefs(ctx, "main", "scratch"))
	link(t, g, refs[0], refs[1], TypeDependency)

	onScratch, err := g.List(ctx, "scratch", ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, onScratch)
}

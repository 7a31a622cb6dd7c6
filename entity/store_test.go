// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/content"
	store "github.com/engramhq/engram/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, content.New(db, nil), nil, nil)
}

func testTask(id, agent, title string) *Entity {
	return New(KindTask, id, agent, map[string]any{
		"title":  title,
		"status": "todo",
	})
}

// TestRoundTrip verifies a stored entity reads back with identical
// canonical serialization.
func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testTask("t-1", "alice", "write the parser")
	h, err := s.Put(ctx, "main", e, "")
	require.NoError(t, err)
	assert.True(t, h.Valid())

	got, err := s.Get(ctx, "main", KindTask, "t-1")
	require.NoError(t, err)

	wantBytes, err := e.Canonical()
	require.NoError(t, err)
	gotBytes, err := got.Canonical()
	require.NoError(t, err)
	assert.Equal(t, wantBytes, gotBytes)
}

// TestGetNotFound verifies a missing key is a typed failure.
func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "main", KindTask, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestValidationNamesField verifies malformed entities fail with the
// offending field and persist nothing.
func TestValidationNamesField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := New(KindTask, "t-bad", "alice", map[string]any{
		"status": "todo", // title missing
	})
	_, err := s.Put(ctx, "main", e, "")
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)

	_, err = s.Get(ctx, "main", KindTask, "t-bad")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestValidationEnvelope covers the envelope checks.
func TestValidationEnvelope(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name   string
		mutate func(*Entity)
		field  string
	}{
		{"empty id", func(e *Entity) { e.ID = "" }, "id"},
		{"slash in id", func(e *Entity) { e.ID = "a/b" }, "id"},
		{"empty agent", func(e *Entity) { e.Agent = "" }, "agent"},
		{"updated before created", func(e *Entity) {
			e.UpdatedAt = e.CreatedAt.Add(-time.Hour)
		}, "updated_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testTask("t-1", "alice", "x")
			tt.mutate(e)
			err := r.ValidateEntity(e)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

// TestUnknownKind verifies unregistered kind tags are rejected.
func TestUnknownKind(t *testing.T) {
	r := NewRegistry()
	e := New(Kind("widget"), "w-1", "alice", map[string]any{"title": "x"})
	assert.ErrorIs(t, r.ValidateEntity(e), ErrUnknownKind)
}

// TestRegisterCustomKind verifies the pluggable registration path.
func TestRegisterCustomKind(t *testing.T) {
	type widget struct {
		Name string `json:"name" validate:"required"`
	}
	r := NewRegistry()
	r.Register(Kind("widget"), func() any { return &widget{} })

	ok := New(Kind("widget"), "w-1", "alice", map[string]any{"name": "spanner"})
	assert.NoError(t, r.ValidateEntity(ok))

	bad := New(Kind("widget"), "w-2", "alice", nil)
	var ve *ValidationError
	require.ErrorAs(t, r.ValidateEntity(bad), &ve)
	assert.Equal(t, "name", ve.Field)
}

// TestPutStaleOnWrongBase verifies the CAS contract: a writer holding
// an outdated base must re-read and retry.
func TestPutStaleOnWrongBase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testTask("t-1", "alice", "v1")
	h1, err := s.Put(ctx, "main", e, "")
	require.NoError(t, err)

	// Writer A updates from h1.
	e2 := testTask("t-1", "alice", "v2")
	e2.CreatedAt = e.CreatedAt
	h2, err := s.Put(ctx, "main", e2, h1)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	// Writer B still holds h1: lost the race.
	e3 := testTask("t-1", "bob", "v3")
	e3.CreatedAt = e.CreatedAt
	_, err = s.Put(ctx, "main", e3, h1)
	assert.ErrorIs(t, err, ErrStale)

	// Create over an existing key is stale too.
	_, err = s.Put(ctx, "main", testTask("t-1", "bob", "v3"), "")
	assert.ErrorIs(t, err, ErrStale)
}

// TestPutIdenticalContentIsNoop verifies re-putting the same canonical
// bytes does not grow history.
func TestPutIdenticalContentIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testTask("t-1", "alice", "same")
	h1, err := s.Put(ctx, "main", e, "")
	require.NoError(t, err)

	h2, err := s.Put(ctx, "main", e, h1)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	hist, err := s.History(ctx, "main", KindTask, "t-1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

// TestHistoryOldestFirst verifies history ordering across versions.
func TestHistoryOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testTask("t-1", "alice", "v1")
	h1, err := s.Put(ctx, "main", e, "")
	require.NoError(t, err)

	e.Fields["title"] = "v2"
	e.UpdatedAt = e.UpdatedAt.Add(time.Second)
	h2, err := s.Put(ctx, "main", e, h1)
	require.NoError(t, err)

	e.Fields["title"] = "v3"
	e.UpdatedAt = e.UpdatedAt.Add(time.Second)
	h3, err := s.Put(ctx, "main", e, h2)
	require.NoError(t, err)

	hist, err := s.History(ctx, "main", KindTask, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []content.Hash{h1, h2, h3}, hist)
}

// TestBranchIsolation verifies writes on one branch are invisible on
// another until synchronized.
func TestBranchIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "alice", testTask("t-1", "alice", "private"), "")
	require.NoError(t, err)

	_, err = s.Get(ctx, "bob", KindTask, "t-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestForkRefs verifies a fork shares objects and copies pointers.
func TestForkRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.Put(ctx, "main", testTask("t-1", "alice", "shared"), "")
	require.NoError(t, err)

	require.NoError(t, s.ForkRefs(ctx, "main", "bob"))

	got, err := s.Resolve(ctx, "bob", Ref{Kind: KindTask, ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, h, got)

	hist, err := s.History(ctx, "bob", KindTask, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []content.Hash{h}, hist)
}

// TestForkRefsRecordsSyncBase verifies a fork pins the fork-point
// version as the merge ancestor for keys that were never synchronized,
// and leaves an already-recorded base alone.
func TestForkRefsRecordsSyncBase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.Put(ctx, "main", testTask("t-1", "alice", "shared"), "")
	require.NoError(t, err)

	require.NoError(t, s.ForkRefs(ctx, "main", "bob"))

	base, err := s.SyncBase(ctx, Ref{Kind: KindTask, ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, h, base)

	// A later fork from a branch that moved on must not clobber the
	// recorded sync point.
	e := testTask("t-1", "alice", "edited")
	moved, err := s.Put(ctx, "main", e, h)
	require.NoError(t, err)
	require.NotEqual(t, h, moved)

	require.NoError(t, s.ForkRefs(ctx, "main", "carol"))

	base, err = s.SyncBase(ctx, Ref{Kind: KindTask, ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, h, base)
}

// TestTombstonePreservesHistory verifies soft deletion.
func TestTombstonePreservesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testTask("t-1", "alice", "doomed")
	h1, err := s.Put(ctx, "main", e, "")
	require.NoError(t, err)

	_, err = s.Put(ctx, "main", e.Tombstone("alice"), h1)
	require.NoError(t, err)

	got, err := s.Get(ctx, "main", KindTask, "t-1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	hist, err := s.History(ctx, "main", KindTask, "t-1")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

// TestList scans one branch's pointer table, optionally by kind.
func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "main", testTask("t-1", "alice", "a"), "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "main", testTask("t-2", "alice", "b"), "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "main", New(KindKnowledge, "k-1", "alice", map[string]any{
		"title": "note", "content": "body",
	}), "")
	require.NoError(t, err)

	tasks, err := s.List(ctx, "main", KindTask)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	all, err := s.List(ctx, "main", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestCanonicalDeterminism verifies field insertion order does not
// change the hash.
func TestCanonicalDeterminism(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := &Entity{Kind: KindTask, ID: "t", Agent: "alice", CreatedAt: ts, UpdatedAt: ts,
		Fields: map[string]any{"title": "x", "status": "todo", "priority": "high"}}
	b := &Entity{Kind: KindTask, ID: "t", Agent: "alice", CreatedAt: ts, UpdatedAt: ts,
		Fields: map[string]any{"priority": "high", "status": "todo", "title": "x"}}

	ha, err := a.ContentHash()
	require.NoError(t, err)
	hb, err := b.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

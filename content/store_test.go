// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	store "github.com/engramhq/engram/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil)
}

// TestContentAddressing verifies identical bytes yield identical hashes
// and distinct bytes yield distinct hashes.
func TestContentAddressing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h1, err := s.Put(ctx, []byte("same payload"))
	require.NoError(t, err)
	h2, err := s.Put(ctx, []byte("same payload"))
	require.NoError(t, err)
	h3, err := s.Put(ctx, []byte("different payload"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.True(t, h1.Valid())
}

// TestPutGetRoundTrip verifies stored bytes come back unchanged.
func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"kind":"task","id":"t-1"}`)
	h, err := s.Put(ctx, payload)
	require.NoError(t, err)

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// TestGetNotFound verifies a missing hash is a typed failure.
func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), HashBytes([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestHas reports presence without fetching the payload.
func TestHas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.Put(ctx, []byte("x"))
	require.NoError(t, err)

	ok, err := s.Has(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Has(ctx, HashBytes([]byte("y")))
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestConcurrentPutSameBytes verifies idempotent concurrent writes.
func TestConcurrentPutSameBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := []byte("shared bytes")

	const writers = 8
	hashes := make(chan Hash, writers)
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		go func() {
			h, err := s.Put(ctx, payload)
			hashes <- h
			errs <- err
		}()
	}

	want := HashBytes(payload)
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, want, <-hashes)
	}
}

// TestEmptyPayload verifies the empty object is storable.
func TestEmptyPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.Put(ctx, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Empty(t, got)
}

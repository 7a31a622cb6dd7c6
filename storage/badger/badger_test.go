// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenInMemory verifies in-memory database creation works.
func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("obj/abc"), []byte("payload"))
	})
	require.NoError(t, err)

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("obj/abc"))
		require.NoError(t, err)

		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("payload"), val)
			return nil
		})
	})
	require.NoError(t, err)
}

// TestOpenWithPath verifies data survives a close/reopen cycle.
func TestOpenWithPath(t *testing.T) {
	dir, err := TempDir("engram-badger-test-")
	require.NoError(t, err)
	defer CleanupDir(dir)

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	db, err := Open(cfg)
	require.NoError(t, err)

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("ref/main/task/t-1"), []byte("hash-1"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	err = db2.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("ref/main/task/t-1"))
		require.NoError(t, err)
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("hash-1"), val)
			return nil
		})
	})
	require.NoError(t, err)
}

// TestOpenRequiresPath verifies persistent mode demands a path.
func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

// TestWithTxnCommitsOnNil verifies WithTxn commits when fn succeeds
// and discards when fn errors.
func TestWithTxn(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("k1"), []byte("v1"))
	})
	require.NoError(t, err)

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k2"), []byte("v2")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k1"))
		require.NoError(t, err)

		// k2 was never committed
		_, err = txn.Get([]byte("k2"))
		assert.ErrorIs(t, err, badger.ErrKeyNotFound)
		return nil
	})
	require.NoError(t, err)
}

// TestWithTxnConflict verifies two overlapping transactions on the same
// key surface badger.ErrConflict, which the entity layer maps to Stale.
func TestWithTxnConflict(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	key := []byte("ref/main/task/contested")

	txnA := db.NewTransaction(true)
	defer txnA.Discard()
	txnB := db.NewTransaction(true)
	defer txnB.Discard()

	_, errA := txnA.Get(key)
	assert.ErrorIs(t, errA, badger.ErrKeyNotFound)
	_, errB := txnB.Get(key)
	assert.ErrorIs(t, errB, badger.ErrKeyNotFound)

	require.NoError(t, txnA.Set(key, []byte("a")))
	require.NoError(t, txnB.Set(key, []byte("b")))

	require.NoError(t, txnA.Commit())
	assert.ErrorIs(t, txnB.Commit(), badger.ErrConflict)
}

// TestWithTxnCancelledContext verifies the context gate.
func TestWithTxnCancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error { return nil })
	assert.Error(t, err)
}

// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package content implements the content-addressable object store.
//
// Every object is an immutable byte payload addressed by the SHA-256
// digest of its own bytes. Identical bytes always yield the identical
// hash, and an object is never rewritten once stored. The store is the
// exclusive owner of object bytes; higher layers hold only hashes.
//
// # Thread Safety
//
// Store is safe for concurrent use. Writes are idempotent and
// order-independent: concurrent Put of the same bytes commit the same
// key with the same value, so a Badger conflict on the obj/ keyspace
// can simply be retried as a read.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	store "github.com/engramhq/engram/storage/badger"
)

// Hash is the hex-encoded SHA-256 digest of an object's bytes.
type Hash string

// HashBytes computes the content hash of a payload without storing it.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// Valid reports whether h looks like a SHA-256 hex digest.
func (h Hash) Valid() bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// Store is the append-only, hash-addressed object space shared by all
// branches.
type Store struct {
	db     *store.DB
	logger *slog.Logger
}

// New creates a content store over an open database. logger may be nil.
func New(db *store.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// Put stores a payload and returns its content hash.
//
// Description:
//
//	Idempotent: re-putting identical bytes returns the same hash and
//	performs no duplicate write. The write happens inside a single
//	Badger transaction, so a failed put leaves no retrievable partial
//	object.
//
// Inputs:
//
//	ctx - Context checked before the transaction starts.
//	data - Object payload. Empty payloads are allowed.
//
// Outputs:
//
//	Hash - Content hash of data.
//	error - Non-nil only on I/O exhaustion (disk full, permissions).
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Put(ctx context.Context, data []byte) (Hash, error) {
	h := HashBytes(data)
	key := objectKey(h)

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			// Already stored; content-addressed writes never differ.
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		// Concurrent put of the same bytes wrote the same value; the
		// object is present either way.
		if errors.Is(err, badger.ErrConflict) {
			return h, nil
		}
		return "", fmt.Errorf("put object %s: %w", h, err)
	}

	s.logger.Debug("object stored", slog.String("hash", string(h)), slog.Int("bytes", len(data)))
	return h, nil
}

// Get retrieves a payload by its content hash.
//
// Outputs:
//
//	[]byte - A copy of the object bytes.
//	error - ErrNotFound if no object has this hash.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Get(ctx context.Context, h Hash) ([]byte, error) {
	var data []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(h))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("object %s: %w", h, ErrNotFound)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Has reports whether an object with the given hash is stored.
func (s *Store) Has(ctx context.Context, h Hash) (bool, error) {
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(h))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutInTxn stores a payload inside a caller-owned transaction.
//
// The entity layer uses this to commit an object and its latest-pointer
// update atomically. Ownership of the obj/ keyspace stays here: no other
// package writes object keys.
func (s *Store) PutInTxn(txn *badger.Txn, data []byte) (Hash, error) {
	h := HashBytes(data)
	key := objectKey(h)

	_, err := txn.Get(key)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return "", err
	}
	if err := txn.Set(key, data); err != nil {
		return "", err
	}
	return h, nil
}

// GetInTxn retrieves a payload inside a caller-owned transaction.
func (s *Store) GetInTxn(txn *badger.Txn, h Hash) ([]byte, error) {
	item, err := txn.Get(objectKey(h))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("object %s: %w", h, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func objectKey(h Hash) []byte {
	return []byte(store.PrefixObject + string(h))
}

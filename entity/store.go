// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/engramhq/engram/content"
	store "github.com/engramhq/engram/storage/badger"
)

// refValue is the stored form of a latest pointer. Seq counts committed
// versions on the branch so history keys stay ordered without a scan.
type refValue struct {
	Hash content.Hash `json:"hash"`
	Seq  uint64       `json:"seq"`
}

// Store owns the mapping from logical (kind, id) keys to current
// content hashes, one pointer table per branch, plus per-branch history.
//
// # Concurrency
//
// The pointer re-point is the only mutable, contested resource. Put
// runs read-check-write inside one Badger transaction: the caller
// supplies the hash its update is based on, and the commit fails with
// ErrStale when the pointer moved since that read. Unrelated entities
// never block each other.
type Store struct {
	db       *store.DB
	objects  *content.Store
	registry *Registry
	logger   *slog.Logger
}

// NewStore creates the entity layer over an open database.
// registry and logger may be nil; nil registry means built-in kinds only.
func NewStore(db *store.DB, objects *content.Store, registry *Registry, logger *slog.Logger) *Store {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, objects: objects, registry: registry, logger: logger}
}

// Registry returns the kind registry backing validation.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Objects returns the underlying content store.
func (s *Store) Objects() *content.Store {
	return s.objects
}

// Put validates, serializes, and persists an entity version, then
// atomically re-points the branch's latest pointer.
//
// Description:
//
//	base is the content hash the caller's update was computed from:
//	empty for a create, the previously-read hash for an update. The
//	pointer commit succeeds only if it still equals base (optimistic
//	concurrency). A write whose canonical bytes equal the current
//	version is a no-op that returns the same hash.
//
// Inputs:
//
//	ctx - Context for the transaction.
//	branch - Branch whose pointer table receives the update.
//	e - Entity to persist. Validated against its kind schema.
//	base - Hash the update is based on; empty means "must not exist yet".
//
// Outputs:
//
//	content.Hash - Hash of the committed version.
//	error - *ValidationError (nothing persisted), ErrStale (pointer
//	moved, re-read and retry), or a storage error.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Put(ctx context.Context, branch string, e *Entity, base content.Hash) (content.Hash, error) {
	if err := s.registry.ValidateEntity(e); err != nil {
		return "", err
	}
	data, err := e.Canonical()
	if err != nil {
		return "", err
	}
	h := content.HashBytes(data)
	key := refKey(branch, e.Ref())

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		cur, err := readRef(txn, key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if base != "" {
				return fmt.Errorf("%s on %s: pointer gone: %w", e.Ref(), branch, ErrStale)
			}
			cur = refValue{}
		case err != nil:
			return err
		default:
			if cur.Hash != base {
				return fmt.Errorf("%s on %s: expected %s, pointer at %s: %w",
					e.Ref(), branch, short(base), short(cur.Hash), ErrStale)
			}
			if cur.Hash == h {
				// Identical content; nothing to re-point.
				return nil
			}
		}

		if _, err := s.objects.PutInTxn(txn, data); err != nil {
			return err
		}
		next := refValue{Hash: h, Seq: cur.Seq + 1}
		if err := writeRef(txn, key, next); err != nil {
			return err
		}
		return txn.Set(histKey(branch, e.Ref(), next.Seq), []byte(h))
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return "", fmt.Errorf("%s on %s: concurrent pointer update: %w", e.Ref(), branch, ErrStale)
		}
		return "", err
	}

	s.logger.Debug("entity stored",
		slog.String("ref", e.Ref().String()),
		slog.String("branch", branch),
		slog.String("hash", string(h)))
	return h, nil
}

// Get returns the current version of an entity on a branch.
// Tombstoned entities are returned with Deleted set; callers decide
// whether a soft-deleted record counts.
func (s *Store) Get(ctx context.Context, branch string, kind Kind, id string) (*Entity, error) {
	var e *Entity
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		cur, err := readRef(txn, refKey(branch, Ref{Kind: kind, ID: id}))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s/%s on %s: %w", kind, id, branch, ErrNotFound)
		}
		if err != nil {
			return err
		}
		data, err := s.objects.GetInTxn(txn, cur.Hash)
		if err != nil {
			return err
		}
		e, err = Decode(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Resolve returns the current content hash of an entity on a branch
// without fetching the payload.
func (s *Store) Resolve(ctx context.Context, branch string, ref Ref) (content.Hash, error) {
	var h content.Hash
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		cur, err := readRef(txn, refKey(branch, ref))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s on %s: %w", ref, branch, ErrNotFound)
		}
		if err != nil {
			return err
		}
		h = cur.Hash
		return nil
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

// GetByHash fetches and decodes any stored entity version by hash.
func (s *Store) GetByHash(ctx context.Context, h content.Hash) (*Entity, error) {
	data, err := s.objects.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// History returns the content hashes of every committed version of an
// entity on a branch, oldest first. Finite and restartable: it is a
// plain prefix scan over immutable keys.
func (s *Store) History(ctx context.Context, branch string, kind Kind, id string) ([]content.Hash, error) {
	prefix := []byte(fmt.Sprintf("%s%s/%s/%s/", store.PrefixHistory, branch, kind, id))
	var hashes []content.Hash

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			hashes = append(hashes, content.Hash(val))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("%s/%s on %s: %w", kind, id, branch, ErrNotFound)
	}
	return hashes, nil
}

// Head describes one latest-pointer entry during a branch scan.
type Head struct {
	Ref  Ref
	Hash content.Hash
}

// List scans a branch's pointer table. kind narrows the scan to one
// entity kind; the zero value lists every kind. Results come back in
// key order, which for one kind is insertion-stable by id.
func (s *Store) List(ctx context.Context, branch string, kind Kind) ([]Head, error) {
	prefix := store.PrefixRef + branch + "/"
	if kind != "" {
		prefix += string(kind) + "/"
	}
	p := []byte(prefix)

	var heads []Head
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			ref, err := parseRefKey(branch, string(item.Key()))
			if err != nil {
				return err
			}
			var rv refValue
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rv)
			}); err != nil {
				return err
			}
			heads = append(heads, Head{Ref: ref, Hash: rv.Hash})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return heads, nil
}

// Repoint moves a branch's latest pointer for ref from expect to h,
// appending a history entry. expect="" requires the pointer to not
// exist yet. The target object must already be stored. It is the
// synchronization engine's write primitive: merge results re-point
// every participating branch through here under the same CAS rules as
// Put.
func (s *Store) Repoint(ctx context.Context, branch string, ref Ref, expect, h content.Hash) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := s.objects.GetInTxn(txn, h); err != nil {
			return err
		}
		key := refKey(branch, ref)
		cur, err := readRef(txn, key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if expect != "" {
				return fmt.Errorf("%s on %s: pointer gone: %w", ref, branch, ErrStale)
			}
			cur = refValue{}
		case err != nil:
			return err
		default:
			if cur.Hash != expect {
				return fmt.Errorf("%s on %s: expected %s, pointer at %s: %w",
					ref, branch, short(expect), short(cur.Hash), ErrStale)
			}
			if cur.Hash == h {
				return nil
			}
		}
		next := refValue{Hash: h, Seq: cur.Seq + 1}
		if err := writeRef(txn, key, next); err != nil {
			return err
		}
		return txn.Set(histKey(branch, ref, next.Seq), []byte(h))
	})
	if err != nil && errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%s on %s: concurrent pointer update: %w", ref, branch, ErrStale)
	}
	return err
}

// ForkRefs copies one branch's pointer table and history onto another.
// Objects are content-addressed and branch-agnostic, so a fork is a
// key copy, never a data copy. Keys with no recorded sync base get the
// fork-point hash as their base, so the first merge after a fork has a
// three-way ancestor.
func (s *Store) ForkRefs(ctx context.Context, src, dst string) error {
	type kv struct {
		key []byte
		val []byte
	}
	var entries []kv

	copyPrefix := func(txn *badger.Txn, prefix, from, to string) error {
		p := []byte(prefix + from + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rest := strings.TrimPrefix(string(item.Key()), string(p))
			entries = append(entries, kv{
				key: []byte(prefix + to + "/" + rest),
				val: val,
			})

			if prefix != store.PrefixRef {
				continue
			}
			ref, err := parseRefKey(from, string(item.Key()))
			if err != nil {
				return err
			}
			var rv refValue
			if err := json.Unmarshal(val, &rv); err != nil {
				return err
			}
			// An existing base is the last true sync point across all
			// branches; only a never-synchronized key takes the fork
			// point as its ancestor.
			_, err = txn.Get(baseKey(ref))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				entries = append(entries, kv{key: baseKey(ref), val: []byte(rv.Hash)})
			case err != nil:
				return err
			}
		}
		return nil
	}

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := copyPrefix(txn, store.PrefixRef, src, dst); err != nil {
			return err
		}
		return copyPrefix(txn, store.PrefixHistory, src, dst)
	})
	if err != nil {
		return err
	}

	// Forks happen at branch creation, before any writer targets the
	// new branch, so batching outside the read snapshot is safe.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set(e.key, e.val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// SyncBase returns the recorded last common synchronization point for
// a logical key, or "" when the key has never been synchronized.
func (s *Store) SyncBase(ctx context.Context, ref Ref) (content.Hash, error) {
	var h content.Hash
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(baseKey(ref))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			h = content.Hash(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

// SetSyncBase records the hash every branch agreed on at the end of a
// sync pass.
func (s *Store) SetSyncBase(ctx context.Context, ref Ref, h content.Hash) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(baseKey(ref), []byte(h))
	})
}

func refKey(branch string, ref Ref) []byte {
	return []byte(store.PrefixRef + branch + "/" + string(ref.Kind) + "/" + ref.ID)
}

func histKey(branch string, ref Ref, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%s/%012d", store.PrefixHistory, branch, ref.Kind, ref.ID, seq))
}

func baseKey(ref Ref) []byte {
	return []byte(store.PrefixSyncBase + string(ref.Kind) + "/" + ref.ID)
}

func parseRefKey(branch, key string) (Ref, error) {
	rest := strings.TrimPrefix(key, store.PrefixRef+branch+"/")
	kind, id, ok := strings.Cut(rest, "/")
	if !ok {
		return Ref{}, fmt.Errorf("malformed pointer key %q", key)
	}
	return Ref{Kind: Kind(kind), ID: id}, nil
}

func readRef(txn *badger.Txn, key []byte) (refValue, error) {
	item, err := txn.Get(key)
	if err != nil {
		return refValue{}, err
	}
	var rv refValue
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rv)
	})
	return rv, err
}

func writeRef(txn *badger.Txn, key []byte, rv refValue) error {
	val, err := json.Marshal(rv)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

func short(h content.Hash) string {
	if len(h) > 12 {
		return string(h[:12])
	}
	if h == "" {
		return "<none>"
	}
	return string(h)
}

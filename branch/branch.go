// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package branch manages per-agent workspaces. A branch is a private
// pointer table over the shared content-addressed object store: forks
// copy keys, never objects, so a branch costs one key per entity it
// has seen.
package branch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/engramhq/engram/entity"
	store "github.com/engramhq/engram/storage/badger"
)

// DefaultBranch is the shared trunk every workspace forks from.
const DefaultBranch = "main"

// currentKey stores the name of the checked-out branch, so the
// workspace survives process restarts.
const currentKey = "meta/current-branch"

// Branch is a named workspace's metadata record.
type Branch struct {
	Name       string    `json:"name"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	ForkedFrom string    `json:"forked_from,omitempty"`
}

// Manager creates, lists and switches branches.
//
// Thread Safety: safe for concurrent use; branch creation is a
// create-only key write, so two racing creates resolve to one winner
// and one ErrAlreadyExists.
type Manager struct {
	db       *store.DB
	entities *entity.Store
	logger   *slog.Logger
}

// NewManager wires a branch manager over the entity store's database.
func NewManager(db *store.DB, entities *entity.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{db: db, entities: entities, logger: logger.With(slog.String("component", "branch"))}
}

// EnsureDefault creates the default branch's metadata record if this
// store has never been opened before. Idempotent.
func (m *Manager) EnsureDefault(ctx context.Context, agent string) error {
	_, err := m.Get(ctx, DefaultBranch)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	meta := &Branch{Name: DefaultBranch, CreatedBy: agent, CreatedAt: time.Now().UTC()}
	err = m.writeMeta(ctx, meta, true)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// Create forks a new branch.
//
// Description: records branch metadata and copies the source branch's
// pointer table. The fork shares every object with its source; only
// pointers diverge afterwards.
// Inputs: name of the new branch, from is the source branch (empty
// means the default branch), agent records who forked.
// Outputs: the new branch's metadata, or ErrInvalidName,
// ErrAlreadyExists, or ErrNotFound when the source is missing.
// Thread Safety: safe for concurrent use.
func (m *Manager) Create(ctx context.Context, name, from, agent string) (*Branch, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if from == "" {
		from = DefaultBranch
	}
	if _, err := m.Get(ctx, from); err != nil {
		return nil, err
	}

	meta := &Branch{
		Name:       name,
		CreatedBy:  agent,
		CreatedAt:  time.Now().UTC(),
		ForkedFrom: from,
	}
	if err := m.writeMeta(ctx, meta, true); err != nil {
		return nil, err
	}
	if err := m.entities.ForkRefs(ctx, from, name); err != nil {
		return nil, err
	}

	m.logger.Info("branch created",
		slog.String("branch", name),
		slog.String("from", from),
		slog.String("agent", agent))
	return meta, nil
}

// Get returns a branch's metadata.
func (m *Manager) Get(ctx context.Context, name string) (*Branch, error) {
	var meta Branch
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// List returns every branch, sorted by name.
func (m *Manager) List(ctx context.Context) ([]*Branch, error) {
	prefix := []byte(store.PrefixBranch)
	var branches []*Branch
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var meta Branch
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			branches = append(branches, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// Current returns the checked-out branch name. A store with no
// recorded checkout is on the default branch.
func (m *Manager) Current(ctx context.Context) (string, error) {
	name := DefaultBranch
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			name = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// Switch checks out an existing branch.
func (m *Manager) Switch(ctx context.Context, name string) error {
	if _, err := m.Get(ctx, name); err != nil {
		return err
	}
	err := m.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(currentKey), []byte(name))
	})
	if err != nil {
		return err
	}
	m.logger.Info("branch switched", slog.String("branch", name))
	return nil
}

// Delete removes a branch's metadata and its pointer table. Objects
// are shared and stay put; any version another branch points at
// remains reachable. The default branch and the checked-out branch
// cannot be deleted.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if name == DefaultBranch {
		return fmt.Errorf("%s: %w", name, ErrProtected)
	}
	cur, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if name == cur {
		return fmt.Errorf("%s is checked out: %w", name, ErrProtected)
	}
	if _, err := m.Get(ctx, name); err != nil {
		return err
	}

	for _, prefix := range []string{
		store.PrefixRef + name + "/",
		store.PrefixHistory + name + "/",
	} {
		if err := m.dropPrefix(ctx, []byte(prefix)); err != nil {
			return err
		}
	}
	err = m.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(metaKey(name))
	})
	if err != nil {
		return err
	}
	m.logger.Info("branch deleted", slog.String("branch", name))
	return nil
}

// ValidateName rejects names that would break the '/'-separated key
// scheme.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%q must not contain '/' or NUL: %w", name, ErrInvalidName)
	}
	return nil
}

// writeMeta stores a branch metadata record. createOnly makes an
// existing key an ErrAlreadyExists.
func (m *Manager) writeMeta(ctx context.Context, meta *Branch, createOnly bool) error {
	val, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	err = m.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := metaKey(meta.Name)
		if createOnly {
			_, err := txn.Get(key)
			if err == nil {
				return fmt.Errorf("%s: %w", meta.Name, ErrAlreadyExists)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set(key, val)
	})
	// The loser of two racing creates surfaces as a transaction
	// conflict rather than a visible key.
	if createOnly && errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%s: %w", meta.Name, ErrAlreadyExists)
	}
	return err
}

// dropPrefix deletes every key under a prefix in one batch.
func (m *Manager) dropPrefix(ctx context.Context, prefix []byte) error {
	var keys [][]byte
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := m.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func metaKey(name string) []byte {
	return []byte(store.PrefixBranch + name)
}

// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/content"
	"github.com/engramhq/engram/entity"
)

// author resolves the agent recorded on writes: the --agent flag when
// set, otherwise the configured default.
func (a *app) author() string {
	if agentFlag != "" {
		return agentFlag
	}
	return a.cfg.Agent
}

// parseRef splits a "kind/id" argument into an entity reference.
func parseRef(arg string) (entity.Ref, error) {
	kind, id, ok := strings.Cut(arg, "/")
	if !ok || kind == "" || id == "" {
		return entity.Ref{}, fmt.Errorf("expected kind/id, got %q", arg)
	}
	return entity.Ref{Kind: entity.Kind(kind), ID: id}, nil
}

func runEntityPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(entityFields), &fields); err != nil {
		return fmt.Errorf("parse --fields: %w", err)
	}

	kind := entity.Kind(entityKind)
	e := entity.New(kind, args[0], current.author(), fields)

	// Without an explicit base, write against whatever is checked in:
	// a fresh record when the ID is unused, an update otherwise.
	base := content.Hash(entityBaseHash)
	if !cmd.Flags().Changed("base") {
		h, err := current.entities.Resolve(ctx, br, e.Ref())
		switch {
		case errors.Is(err, entity.ErrNotFound):
			base = ""
		case err != nil:
			return err
		default:
			base = h
			prev, err := current.entities.GetByHash(ctx, h)
			if err != nil {
				return err
			}
			e.CreatedAt = prev.CreatedAt
		}
	}

	h, err := current.entities.Put(ctx, br, e, base)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"branch": br,
		"ref":    e.Ref().String(),
		"hash":   h,
	})
}

func runEntityGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	e, err := current.entities.Get(ctx, br, entity.Kind(entityKind), args[0])
	if err != nil {
		return err
	}
	return printJSON(e)
}

func runEntityHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	hashes, err := current.entities.History(ctx, br, entity.Kind(entityKind), args[0])
	if err != nil {
		return err
	}
	type version struct {
		Hash   content.Hash   `json:"hash"`
		Entity *entity.Entity `json:"entity"`
	}
	out := make([]version, 0, len(hashes))
	for _, h := range hashes {
		e, err := current.entities.GetByHash(ctx, h)
		if err != nil {
			return err
		}
		out = append(out, version{Hash: h, Entity: e})
	}
	return printJSON(out)
}

func runEntityDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	kind := entity.Kind(entityKind)
	e, err := current.entities.Get(ctx, br, kind, args[0])
	if err != nil {
		return err
	}
	if e.Deleted {
		return fmt.Errorf("%s/%s: %w", kind, args[0], entity.ErrNotFound)
	}
	base, err := e.ContentHash()
	if err != nil {
		return err
	}
	h, err := current.entities.Put(ctx, br, e.Tombstone(current.author()), base)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"branch":  br,
		"ref":     e.Ref().String(),
		"hash":    h,
		"deleted": true,
	})
}

func runEntityList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	heads, err := current.entities.List(ctx, br, entity.Kind(entityKind))
	if err != nil {
		return err
	}
	type item struct {
		Ref  entity.Ref   `json:"ref"`
		Hash content.Hash `json:"hash"`
	}
	out := make([]item, 0, len(heads))
	for _, h := range heads {
		e, err := current.entities.GetByHash(ctx, h.Hash)
		if err != nil {
			return err
		}
		if e.Deleted {
			continue
		}
		out = append(out, item{Ref: h.Ref, Hash: h.Hash})
	}
	return printJSON(out)
}

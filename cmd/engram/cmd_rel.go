// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/engramhq/engram/entity"
	"github.com/engramhq/engram/graph"
)

func runRelCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	source, err := parseRef(args[0])
	if err != nil {
		return err
	}
	target, err := parseRef(args[1])
	if err != nil {
		return err
	}

	constraints := graph.DefaultConstraints()
	constraints.AllowCycles = !relNoCycles
	constraints.MaxOutbound = relMaxOutbound
	constraints.MaxInbound = relMaxInbound

	rel, err := current.graph.Create(ctx, br, graph.CreateSpec{
		ID:          relID,
		Agent:       current.author(),
		Source:      source,
		Target:      target,
		Type:        graph.Type(relType),
		Direction:   graph.Direction(relDirection),
		Strength:    graph.Strength(relStrength),
		Description: relDescription,
		Constraints: &constraints,
	})
	if err != nil {
		return err
	}
	return printJSON(rel)
}

func runRelGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	rel, err := current.graph.Get(ctx, br, args[0])
	if err != nil {
		return err
	}
	return printJSON(rel)
}

func runRelList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	filter := graph.ListFilter{Type: graph.Type(relType)}
	if len(args) == 1 {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		filter.Ref = ref
	}
	rels, err := current.graph.List(ctx, br, filter)
	if err != nil {
		return err
	}
	if rels == nil {
		rels = []*graph.Relationship{}
	}
	return printJSON(rels)
}

func runRelDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	if err := current.graph.Delete(ctx, br, args[0], current.author()); err != nil {
		return err
	}
	return printJSON(map[string]any{
		"branch":  br,
		"id":      args[0],
		"deleted": true,
	})
}

func runRelPath(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	source, err := parseRef(args[0])
	if err != nil {
		return err
	}
	target, err := parseRef(args[1])
	if err != nil {
		return err
	}
	algo, err := graph.ParseAlgorithm(relAlgorithm)
	if err != nil {
		return err
	}
	path, err := current.graph.FindPath(ctx, br, source, target, algo)
	if err != nil {
		return err
	}
	steps := make([]string, 0, len(path))
	for _, ref := range path {
		steps = append(steps, ref.String())
	}
	return printJSON(map[string]any{
		"algorithm": string(algo),
		"found":     path != nil,
		"path":      steps,
	})
}

func runRelConnected(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	refs, err := current.graph.Connected(ctx, br, ref, graph.Type(relType))
	if err != nil {
		return err
	}
	if refs == nil {
		refs = []entity.Ref{}
	}
	return printJSON(refs)
}

func runRelStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	stats, err := current.graph.GraphStats(ctx, br, graph.Type(relType))
	if err != nil {
		return err
	}
	return printJSON(stats)
}

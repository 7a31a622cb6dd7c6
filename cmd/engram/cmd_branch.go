// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"time"

	"github.com/spf13/cobra"
)

func runBranchCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	from, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	b, err := current.branches.Create(ctx, args[0], from, current.author())
	if err != nil {
		return err
	}
	return printJSON(b)
}

func runBranchSwitch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := current.branches.Switch(ctx, args[0]); err != nil {
		return err
	}
	return printJSON(map[string]string{"current": args[0]})
}

func runBranchList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	list, err := current.branches.List(ctx)
	if err != nil {
		return err
	}
	cur, err := current.branches.Current(ctx)
	if err != nil {
		return err
	}
	type item struct {
		Name       string    `json:"name"`
		CreatedBy  string    `json:"created_by"`
		CreatedAt  time.Time `json:"created_at"`
		ForkedFrom string    `json:"forked_from,omitempty"`
		Current    bool      `json:"current"`
	}
	out := make([]item, 0, len(list))
	for _, b := range list {
		out = append(out, item{
			Name:       b.Name,
			CreatedBy:  b.CreatedBy,
			CreatedAt:  b.CreatedAt,
			ForkedFrom: b.ForkedFrom,
			Current:    b.Name == cur,
		})
	}
	return printJSON(out)
}

func runBranchDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := current.branches.Delete(ctx, args[0]); err != nil {
		return err
	}
	return printJSON(map[string]any{
		"name":    args[0],
		"deleted": true,
	})
}

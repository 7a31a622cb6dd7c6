// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	syncer "github.com/engramhq/engram/sync"
)

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name := syncStrategy
	if name == "" {
		name = current.cfg.DefaultStrategy
	}
	strategy, err := syncer.ParseStrategy(name)
	if err != nil {
		return err
	}

	// No arguments means every branch participates.
	branches := args
	if len(branches) == 0 {
		list, err := current.branches.List(ctx)
		if err != nil {
			return err
		}
		for _, b := range list {
			branches = append(branches, b.Name)
		}
	}

	result, err := current.syncer.Sync(ctx, branches, strategy)
	if err != nil {
		return err
	}
	return printJSON(result)
}

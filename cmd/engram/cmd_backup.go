// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/backup"
	"github.com/engramhq/engram/entity"
)

func runBackupExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if backupFile != "" {
		f, err := os.Create(backupFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	kinds := make([]entity.Kind, 0, len(backupKinds))
	for _, k := range backupKinds {
		kinds = append(kinds, entity.Kind(k))
	}

	n, err := current.porter.Export(ctx, w, br, backup.Options{
		Kinds:          kinds,
		IncludeHistory: backupHistory,
		IncludeDeleted: backupDeleted,
	})
	if err != nil {
		return err
	}
	// Counts go to stderr so a stdout export stays pure JSONL.
	current.logger.Info("export complete", "branch", br, "entities", n)
	return nil
}

func runBackupImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if backupFile != "" {
		f, err := os.Open(backupFile)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	summary, err := current.porter.Import(ctx, r, br)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	br, err := current.branchOrCurrent(ctx, branchFlag)
	if err != nil {
		return err
	}
	report, err := current.checker.CommitReadiness(ctx, br, args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"ref":    report.Ref.String(),
		"passed": report.Passed(),
		"checks": report.Checks,
	})
}

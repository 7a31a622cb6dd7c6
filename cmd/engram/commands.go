// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	current *app

	configPath string
	branchFlag string
	agentFlag  string

	// entity flags
	entityKind     string
	entityFields   string
	entityBaseHash string

	// rel flags
	relID          string
	relType        string
	relDirection   string
	relStrength    string
	relDescription string
	relNoCycles    bool
	relMaxOutbound int
	relMaxInbound  int
	relAlgorithm   string

	// sync flags
	syncStrategy string

	// backup flags
	backupFile    string
	backupHistory bool
	backupDeleted bool
	backupKinds   []string

	rootCmd = &cobra.Command{
		Use:   "engram",
		Short: "A versioned, branchable memory store for collaborating agents",
		Long: `Engram keeps agent memory as content-addressed, versioned records:
tasks, context, reasoning and knowledge, connected by a typed
relationship graph. Each agent works on its own branch and merges
through pluggable synchronization strategies.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				if home, err := os.UserHomeDir(); err == nil {
					path = filepath.Join(home, ".engram", "config.yaml")
				}
			}
			a, err := openApp(path)
			if err != nil {
				return err
			}
			current = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if current != nil {
				current.close()
			}
		},
	}

	// --- Entities ---
	entityCmd = &cobra.Command{
		Use:   "entity",
		Short: "Create, read and version memory records",
	}
	entityPutCmd = &cobra.Command{
		Use:   "put [id]",
		Short: "Create or update an entity from a JSON field map",
		Args:  cobra.ExactArgs(1),
		RunE:  runEntityPut,
	}
	entityGetCmd = &cobra.Command{
		Use:   "get [id]",
		Short: "Show the current version of an entity",
		Args:  cobra.ExactArgs(1),
		RunE:  runEntityGet,
	}
	entityHistoryCmd = &cobra.Command{
		Use:   "history [id]",
		Short: "List every committed version of an entity, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runEntityHistory,
	}
	entityDeleteCmd = &cobra.Command{
		Use:   "delete [id]",
		Short: "Soft-delete an entity; its history stays queryable",
		Args:  cobra.ExactArgs(1),
		RunE:  runEntityDelete,
	}
	entityListCmd = &cobra.Command{
		Use:   "list",
		Short: "List entities on the branch, optionally by kind",
		Args:  cobra.NoArgs,
		RunE:  runEntityList,
	}

	// --- Relationships ---
	relCmd = &cobra.Command{
		Use:   "rel",
		Short: "Manage the relationship graph between entities",
	}
	relCreateCmd = &cobra.Command{
		Use:   "create [source-kind/source-id] [target-kind/target-id]",
		Short: "Create a typed relationship between two entities",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelCreate,
	}
	relGetCmd = &cobra.Command{
		Use:   "get [relationship-id]",
		Short: "Show one relationship",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelGet,
	}
	relListCmd = &cobra.Command{
		Use:   "list [kind/id]",
		Short: "List relationships, optionally filtered to one entity",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRelList,
	}
	relDeleteCmd = &cobra.Command{
		Use:   "delete [relationship-id]",
		Short: "Soft-delete a relationship",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelDelete,
	}
	relPathCmd = &cobra.Command{
		Use:   "path [from-kind/from-id] [to-kind/to-id]",
		Short: "Find a path between two entities",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelPath,
	}
	relConnectedCmd = &cobra.Command{
		Use:   "connected [kind/id]",
		Short: "List entities one traversable hop away",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelConnected,
	}
	relStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Summarize the branch's graph",
		Args:  cobra.NoArgs,
		RunE:  runRelStats,
	}

	// --- Branches ---
	branchCmd = &cobra.Command{
		Use:   "branch",
		Short: "Manage agent branches",
	}
	branchCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Fork a new branch from the current one",
		Args:  cobra.ExactArgs(1),
		RunE:  runBranchCreate,
	}
	branchSwitchCmd = &cobra.Command{
		Use:   "switch [name]",
		Short: "Check out a branch",
		Args:  cobra.ExactArgs(1),
		RunE:  runBranchSwitch,
	}
	branchListCmd = &cobra.Command{
		Use:   "list",
		Short: "List branches; the checked-out one is marked current",
		Args:  cobra.NoArgs,
		RunE:  runBranchList,
	}
	branchDeleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a branch's pointers; shared objects stay",
		Args:  cobra.ExactArgs(1),
		RunE:  runBranchDelete,
	}

	// --- Synchronization ---
	syncCmd = &cobra.Command{
		Use:   "sync [branch...]",
		Short: "Reconcile branches under a merge strategy",
		Long: `Reconcile the named branches. With no arguments, every branch is
synchronized. Strategies: latest_wins, intelligent_merge,
merge_with_conflict_resolution, priority_wins:<agent>.`,
		RunE: runSync,
	}

	// --- Validation ---
	validateCmd = &cobra.Command{
		Use:   "validate [task-id]",
		Short: "Audit a task's commit readiness",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	// --- Backup ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Export and import branch contents as JSON Lines",
	}
	backupExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write the branch's entities to a JSONL file or stdout",
		Args:  cobra.NoArgs,
		RunE:  runBackupExport,
	}
	backupImportCmd = &cobra.Command{
		Use:   "import",
		Short: "Replay a JSONL file onto the branch",
		Args:  cobra.NoArgs,
		RunE:  runBackupImport,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (default ~/.engram/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&branchFlag, "branch", "b", "",
		"Branch to operate on (default: the checked-out branch)")
	rootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "",
		"Agent recorded as the author (default: from config)")

	rootCmd.AddCommand(entityCmd)
	entityCmd.AddCommand(entityPutCmd)
	entityPutCmd.Flags().StringVarP(&entityKind, "kind", "k", "", "Entity kind (required)")
	entityPutCmd.Flags().StringVarP(&entityFields, "fields", "f", "{}", "Entity payload as a JSON object")
	entityPutCmd.Flags().StringVar(&entityBaseHash, "base", "", "Hash the update was read from; omit on create")
	entityPutCmd.MarkFlagRequired("kind")
	entityCmd.AddCommand(entityGetCmd)
	entityGetCmd.Flags().StringVarP(&entityKind, "kind", "k", "", "Entity kind (required)")
	entityGetCmd.MarkFlagRequired("kind")
	entityCmd.AddCommand(entityHistoryCmd)
	entityHistoryCmd.Flags().StringVarP(&entityKind, "kind", "k", "", "Entity kind (required)")
	entityHistoryCmd.MarkFlagRequired("kind")
	entityCmd.AddCommand(entityDeleteCmd)
	entityDeleteCmd.Flags().StringVarP(&entityKind, "kind", "k", "", "Entity kind (required)")
	entityDeleteCmd.MarkFlagRequired("kind")
	entityCmd.AddCommand(entityListCmd)
	entityListCmd.Flags().StringVarP(&entityKind, "kind", "k", "", "Narrow to one entity kind")

	rootCmd.AddCommand(relCmd)
	relCmd.AddCommand(relCreateCmd)
	relCreateCmd.Flags().StringVar(&relID, "id", "", "Relationship ID (default: generated)")
	relCreateCmd.Flags().StringVarP(&relType, "type", "t", "", "Relationship type (required)")
	relCreateCmd.Flags().StringVar(&relDirection, "direction", "unidirectional", "unidirectional or bidirectional")
	relCreateCmd.Flags().StringVar(&relStrength, "strength", "medium", "weak, medium, strong or critical")
	relCreateCmd.Flags().StringVar(&relDescription, "description", "", "Free-form description")
	relCreateCmd.Flags().BoolVar(&relNoCycles, "no-cycles", false, "Reject the edge if it would close a cycle")
	relCreateCmd.Flags().IntVar(&relMaxOutbound, "max-outbound", 0, "Cap outbound edges of this type from the source (0 = unlimited)")
	relCreateCmd.Flags().IntVar(&relMaxInbound, "max-inbound", 0, "Cap inbound edges of this type into the target (0 = unlimited)")
	relCreateCmd.MarkFlagRequired("type")
	relCmd.AddCommand(relGetCmd)
	relCmd.AddCommand(relListCmd)
	relListCmd.Flags().StringVarP(&relType, "type", "t", "", "Narrow to one relationship type")
	relCmd.AddCommand(relDeleteCmd)
	relCmd.AddCommand(relPathCmd)
	relPathCmd.Flags().StringVar(&relAlgorithm, "algorithm", "bfs", "bfs, dfs or dijkstra")
	relCmd.AddCommand(relConnectedCmd)
	relConnectedCmd.Flags().StringVarP(&relType, "type", "t", "", "Follow only this relationship type")
	relCmd.AddCommand(relStatsCmd)
	relStatsCmd.Flags().StringVarP(&relType, "type", "t", "", "Scope stats to one relationship type")

	rootCmd.AddCommand(branchCmd)
	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchSwitchCmd)
	branchCmd.AddCommand(branchListCmd)
	branchCmd.AddCommand(branchDeleteCmd)

	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncStrategy, "strategy", "s", "",
		"Merge strategy (default: from config)")

	rootCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupExportCmd)
	backupExportCmd.Flags().StringVarP(&backupFile, "file", "f", "", "Output path (default stdout)")
	backupExportCmd.Flags().BoolVar(&backupHistory, "history", false, "Include every version, not just the latest")
	backupExportCmd.Flags().BoolVar(&backupDeleted, "deleted", false, "Include tombstoned entities")
	backupExportCmd.Flags().StringSliceVar(&backupKinds, "kind", nil, "Narrow to these entity kinds")
	backupCmd.AddCommand(backupImportCmd)
	backupImportCmd.Flags().StringVarP(&backupFile, "file", "f", "", "Input path (default stdin)")
}

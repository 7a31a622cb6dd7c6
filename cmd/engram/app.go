// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/engramhq/engram/backup"
	"github.com/engramhq/engram/branch"
	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/content"
	"github.com/engramhq/engram/entity"
	"github.com/engramhq/engram/graph"
	"github.com/engramhq/engram/pkg/logging"
	store "github.com/engramhq/engram/storage/badger"
	syncer "github.com/engramhq/engram/sync"
	"github.com/engramhq/engram/validate"
)

// app holds everything a command needs, wired once per invocation in
// the root command's PersistentPreRunE.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	db       *store.DB
	entities *entity.Store
	graph    *graph.Engine
	branches *branch.Manager
	syncer   *syncer.Engine
	checker  *validate.Validator
	porter   *backup.Exporter
}

// openApp loads configuration, opens the store and wires the engines.
func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    cfg.Log.File,
		Service: "engram",
	})
	if err != nil {
		return nil, err
	}

	graph.SetMetricsEnabled(cfg.MetricsEnabled)
	syncer.SetMetricsEnabled(cfg.MetricsEnabled)

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.Store.Path
	storeCfg.InMemory = cfg.Store.InMemory
	storeCfg.SyncWrites = cfg.Store.SyncWrites || !cfg.Store.InMemory
	storeCfg.Logger = logger.Logger

	db, err := store.Open(storeCfg)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	objects := content.New(db, logger.Logger)
	entities := entity.NewStore(db, objects, nil, logger.Logger)
	branches := branch.NewManager(db, entities, logger.Logger)
	if err := branches.EnsureDefault(context.Background(), cfg.Agent); err != nil {
		db.Close()
		logger.Close()
		return nil, err
	}
	g := graph.NewEngine(entities, logger.Logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		entities: entities,
		graph:    g,
		branches: branches,
		syncer:   syncer.NewEngine(entities, logger.Logger),
		checker:  validate.New(entities, g, logger.Logger),
		porter:   backup.NewExporter(entities, logger.Logger),
	}, nil
}

// close releases the store and flushes log output.
func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("close store", "error", err)
		}
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// branchOrCurrent resolves the branch a command operates on: the
// --branch flag when set, otherwise the checked-out branch.
func (a *app) branchOrCurrent(ctx context.Context, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	return a.branches.Current(ctx)
}

// printJSON writes v to stdout as indented JSON. Logs go to stderr, so
// stdout stays parseable.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

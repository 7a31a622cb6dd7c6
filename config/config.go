// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads runtime configuration: defaults, then an
// optional YAML file, then ENGRAM_* environment overrides, in that
// order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/engramhq/engram/branch"
	"github.com/engramhq/engram/sync"
)

// Config is the full runtime configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Store contains storage settings.
	Store StoreConfig `yaml:"store"`

	// Agent is the default author recorded on writes.
	Agent string `yaml:"agent"`

	// DefaultBranch is the branch used when none is checked out.
	DefaultBranch string `yaml:"default_branch"`

	// DefaultStrategy is the merge strategy used when a sync request
	// names none.
	DefaultStrategy string `yaml:"default_strategy"`

	// Log contains logging settings.
	Log LogConfig `yaml:"log"`

	// MetricsEnabled controls metric recording across all components.
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// StoreConfig contains storage settings.
type StoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM; useful for tests and
	// throwaway sessions.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// File appends logs to a path instead of stderr. Empty logs to
	// stderr.
	File string `yaml:"file"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(home, ".engram", "store"),
		},
		Agent:           "default",
		DefaultBranch:   branch.DefaultBranch,
		DefaultStrategy: string(sync.LatestWins),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MetricsEnabled: true,
	}
}

// Load builds the effective configuration: defaults, overlaid by the
// YAML file at path if one exists, overlaid by environment variables.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(cfg, path); err != nil {
		return nil, err
	}
	loadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if err := branch.ValidateName(c.DefaultBranch); err != nil {
		return fmt.Errorf("default_branch: %w", err)
	}
	if _, err := sync.ParseStrategy(c.DefaultStrategy); err != nil {
		return fmt.Errorf("default_strategy: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}
	return nil
}

func loadFromFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("ENGRAM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ENGRAM_IN_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Store.InMemory = b
		}
	}
	if v := os.Getenv("ENGRAM_AGENT"); v != "" {
		cfg.Agent = v
	}
	if v := os.Getenv("ENGRAM_DEFAULT_BRANCH"); v != "" {
		cfg.DefaultBranch = v
	}
	if v := os.Getenv("ENGRAM_DEFAULT_STRATEGY"); v != "" {
		cfg.DefaultStrategy = v
	}
	if v := os.Getenv("ENGRAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ENGRAM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ENGRAM_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MetricsEnabled = b
		}
	}
}

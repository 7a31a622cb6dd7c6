// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/branch"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, branch.DefaultBranch, cfg.DefaultBranch)
	assert.Equal(t, "latest_wins", cfg.DefaultStrategy)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DefaultStrategy, cfg.DefaultStrategy)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  in_memory: true
agent: architect
default_strategy: intelligent_merge
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, "architect", cfg.Agent)
	assert.Equal(t, "intelligent_merge", cfg.DefaultStrategy)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched keys keep their defaults.
	assert.Equal(t, branch.DefaultBranch, cfg.DefaultBranch)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: from-file\n"), 0o600))
	t.Setenv("ENGRAM_AGENT", "from-env")
	t.Setenv("ENGRAM_IN_MEMORY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Agent)
	assert.True(t, cfg.Store.InMemory)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Store.Path = ""; c.Store.InMemory = false },
		func(c *Config) { c.DefaultBranch = "a/b" },
		func(c *Config) { c.DefaultStrategy = "newest_wins" },
		func(c *Config) { c.Log.Level = "verbose" },
		func(c *Config) { c.Log.Format = "xml" },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

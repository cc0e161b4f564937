// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWantlistOutputPathSubstitutesID(t *testing.T) {
	c := &Config{WantlistOutputFilePattern: "/out/wl-$id$.csv.gz"}
	assert.Equal(t, "/out/wl-000000042.csv.gz", c.WantlistOutputPath(42))
}

func TestOpenRejectsMissingInputGlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wantlist_output_file_pattern: out-$id$.csv.gz\n"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestOpenParsesSimulationConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
input_glob: "in/*.json.gz"
wantlist_output_file_pattern: "out-$id$.csv.gz"
connection_events_output_file: "conn.csv.gz"
ledger_count_output_file: "ledgers.csv.gz"
simulation_config:
  allow_empty_full_wantlist: true
  sliding_window_lengths: [60, 300]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Open(path)
	require.NoError(t, err)
	assert.True(t, cfg.SimulationConfig.AllowEmptyFullWantlist)
	assert.Equal(t, []uint32{60, 300}, cfg.SimulationConfig.SlidingWindowLengths)
}

func TestGlobResultsSortsChronologically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2024-01-02.json.gz", "2024-01-01.json.gz", "2024-01-03.json.gz"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	cfg := &Config{InputGlob: filepath.Join(dir, "*.json.gz")}
	paths, err := cfg.GlobResults()
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "2024-01-01.json.gz", filepath.Base(paths[0]))
	assert.Equal(t, "2024-01-03.json.gz", filepath.Base(paths[2]))
}

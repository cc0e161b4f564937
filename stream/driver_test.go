// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package stream

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/S-u-m-u-n/ipfs-tools/config"
)

func writeGzipLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %v: %v", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	for _, line := range lines {
		if _, err := gz.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write line: %v", err)
		}
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
}

func TestDriverRunProducesLedgerCounts(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "2024-01-01-00-00.json.gz")
	writeGzipLines(t, inputPath,
		`{"timestamp":"2024-01-01T00:00:00Z","peer":"P","peerConnected":true,"connectEventPeerFound":false}`,
		`{"timestamp":"2024-01-01T00:00:01Z","peer":"P","receivedEntries":[{"priority":1,"cancel":false,"sendDontHave":false,"cid":{"/":"A"},"wantType":0}],"fullWantList":true}`,
	)

	cfg := &config.Config{
		InputGlob:                  filepath.Join(dir, "*.json.gz"),
		WantlistOutputFilePattern:  filepath.Join(dir, "out-$id$.csv.gz"),
		ConnectionEventsOutputFile: filepath.Join(dir, "conn_events.csv.gz"),
		LedgerCountOutputFile:      filepath.Join(dir, "ledger_counts.csv.gz"),
		SimulationConfig: config.EngineOptions{
			InsertFullWantlistDuplicateMarkers: true,
		},
	}

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "ledger_counts.csv.gz")); err != nil {
		t.Fatalf("expected ledger counts output to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out-000000000.csv.gz")); err != nil {
		t.Fatalf("expected per-file wantlist output to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out-000000002.csv.gz")); err != nil {
		t.Fatalf("expected rollover output to exist: %v", err)
	}
}

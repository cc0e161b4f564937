// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package gatewayfinder

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeGatewaysMixedOutcomes(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	results := ProbeGateways(context.Background(), ok.Client(), "bafyTestCid",
		[]string{ok.URL, notFound.URL, "http://127.0.0.1:1"}, 2*time.Second)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byGateway := make(map[string]ProbeResult)
	for _, r := range results {
		byGateway[r.Gateway] = r
	}

	if !byGateway[ok.URL].Success || byGateway[ok.URL].StatusCode != http.StatusOK {
		t.Errorf("expected %v to succeed, got %+v", ok.URL, byGateway[ok.URL])
	}
	if byGateway[notFound.URL].Success {
		t.Errorf("expected %v to fail, got %+v", notFound.URL, byGateway[notFound.URL])
	}
	if byGateway["http://127.0.0.1:1"].Err == nil {
		t.Errorf("expected unreachable gateway to carry an error")
	}
}

func TestWriteResultsCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.csv.gz")

	results := []ProbeResult{
		{Gateway: "https://ipfs.io", Success: true, StatusCode: 200, Elapsed: 120 * time.Millisecond},
		{Gateway: "https://dweb.link", Success: false, StatusCode: 0, Err: context.DeadlineExceeded},
	}

	if err := WriteResultsCSV(path, results); err != nil {
		t.Fatalf("WriteResultsCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	rows, err := csv.NewReader(gz).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "https://ipfs.io" || rows[0][1] != "true" {
		t.Errorf("unexpected first row: %v", rows[0])
	}
	if rows[1][4] == "" {
		t.Errorf("expected error column to be populated for failed probe")
	}
}

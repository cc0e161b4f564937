// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package gatewayfinder supplements a feature present in
// original_source/ipfs-gateway-finder/src/main.rs but dropped from spec.md's
// distillation: probing a list of public IPFS HTTP gateways with a known CID
// and recording which ones resolve it within a timeout. The original tool
// also correlates probes against the Bitswap wire protocol and a monitor's
// HTTP API (ipfs_api::IpfsClient, wantlist_client_lib::net::APIClient); that
// part stays out of scope here since this module explicitly speaks no wire
// protocol of its own (spec.md §1 Non-goals). What's supplemented is the
// HTTP-probing core: given a gateway list and a CID, find out which gateways
// serve it.
package gatewayfinder

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/juju/loggo"

	"github.com/S-u-m-u-n/ipfs-tools/stream"
)

var log = loggo.GetLogger("gatewayfinder")

// ProbeResult is the outcome of probing one gateway for one CID.
type ProbeResult struct {
	Gateway    string
	Success    bool
	StatusCode int
	Elapsed    time.Duration
	Err        error
}

// Row implements stream.RowWriter, letting ProbeResult share the same
// gzip-compressed CSV convention as the wantlist/ledger-count output streams
// instead of inventing a second one.
func (r ProbeResult) Row() []string {
	errStr := ""
	if r.Err != nil {
		errStr = r.Err.Error()
	}
	return []string{
		r.Gateway,
		fmt.Sprintf("%t", r.Success),
		fmt.Sprintf("%d", r.StatusCode),
		fmt.Sprintf("%d", r.Elapsed.Milliseconds()),
		errStr,
	}
}

// WriteResultsCSV writes results to a gzip-compressed CSV file at path using
// the same stream.GzipCSVWriter the Stream Driver uses for wantlist output,
// keeping one CSV convention across the module.
func WriteResultsCSV(path string, results []ProbeResult) error {
	w, err := stream.NewGzipCSVWriter(path)
	if err != nil {
		return fmt.Errorf("open results output: %w", err)
	}
	for i := range results {
		if err := w.WriteRow(results[i]); err != nil {
			_ = w.Close()
			return fmt.Errorf("write result row: %w", err)
		}
	}
	return w.Close()
}

// ProbeGateways fans out an HTTP GET for cid against every gateway in
// gateways, bounded by a worker pool, directly grounded on the teacher's
// peerManager/peerConnect goroutine-per-peer fan-out pattern in
// service/tbc/tbc.go (there: one goroutine per Bitcoin peer connection;
// here: one goroutine per gateway probe, capped by a semaphore instead of
// unbounded spawn since the number of gateways is caller-controlled and can
// be large).
func ProbeGateways(ctx context.Context, client *http.Client, cid string, gateways []string, timeout time.Duration) []ProbeResult {
	if client == nil {
		client = http.DefaultClient
	}

	const maxConcurrent = 16
	sem := make(chan struct{}, maxConcurrent)
	results := make([]ProbeResult, len(gateways))

	done := make(chan int, len(gateways))
	for i, gw := range gateways {
		i, gw := i, gw
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			results[i] = probeOne(ctx, client, gw, cid, timeout)
			done <- i
		}()
	}
	for range gateways {
		<-done
	}

	return results
}

func probeOne(ctx context.Context, client *http.Client, gateway, cid string, timeout time.Duration) ProbeResult {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/ipfs/%s", gateway, cid)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Gateway: gateway, Err: fmt.Errorf("build request: %w", err)}
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Debugf("gateway %v failed to resolve %v: %v", gateway, cid, err)
		return ProbeResult{Gateway: gateway, Elapsed: elapsed, Err: err}
	}
	defer resp.Body.Close()

	return ProbeResult{
		Gateway:    gateway,
		Success:    resp.StatusCode == http.StatusOK,
		StatusCode: resp.StatusCode,
		Elapsed:    elapsed,
	}
}

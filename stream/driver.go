// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package stream implements the Stream Driver of spec §4.4: it reads a glob
// of gzip-compressed NDJSON archive files in ascending filename order, feeds
// each line through a wantlist.Engine, and writes three gzip-compressed CSV
// output streams. Grounded on
// original_source/ipfs-json-to-csv/src/main.rs's do_transform/
// do_transform_single_file.
package stream

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/S-u-m-u-n/ipfs-tools/config"
	"github.com/S-u-m-u-n/ipfs-tools/wantlist"
)

var log = loggo.GetLogger("stream")

const promSubsystem = "stream_driver"

// Driver runs the full JSON-to-CSV conversion described in spec §4.4.
type Driver struct {
	cfg    *config.Config
	engine *wantlist.Engine

	messagesProcessed prometheus.Counter
	missingLedgers    prometheus.Counter
	synthCancels      prometheus.Counter
	ledgersTotal      prometheus.GaugeFunc
}

// New constructs a Driver and the engine it drives.
func New(cfg *config.Config) (*Driver, error) {
	engine, err := wantlist.NewEngine(cfg.SimulationConfig.ToEngineConfig())
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	d := &Driver{
		cfg:    cfg,
		engine: engine,
		messagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: promSubsystem,
			Name:      "messages_processed_total",
			Help:      "Total number of input messages ingested.",
		}),
		missingLedgers: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: promSubsystem,
			Name:      "missing_ledgers_total",
			Help:      "Total number of messages observed for a peer with no existing ledger.",
		}),
		synthCancels: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: promSubsystem,
			Name:      "synthetic_cancels_total",
			Help:      "Total number of synthetic cancel records emitted.",
		}),
	}
	d.ledgersTotal = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Subsystem: promSubsystem,
		Name:      "ledgers_total",
		Help:      "Number of peer ledgers currently tracked.",
	}, func() float64 { return float64(engine.NumLedgers()) })

	return d, nil
}

// Collectors returns the Prometheus collectors this driver exposes, for
// wiring into the metrics package's Server.Run.
func (d *Driver) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.messagesProcessed, d.missingLedgers, d.synthCancels, d.ledgersTotal}
}

// Run performs the full conversion: glob the input files, process each in
// order, and write the rollover file at end-of-stream, per spec §4.4.
func (d *Driver) Run() error {
	paths, err := d.cfg.GlobResults()
	if err != nil {
		return fmt.Errorf("glob input files: %w", err)
	}
	log.Infof("found %d input files", len(paths))

	ledgerCountWriter, err := NewGzipCSVWriter(d.cfg.LedgerCountOutputFile)
	if err != nil {
		return fmt.Errorf("open ledger count output: %w", err)
	}
	defer ledgerCountWriter.Close()

	var connEventWriter *GzipCSVWriter
	if d.cfg.ConnectionEventsOutputFile != "" {
		connEventWriter, err = NewGzipCSVWriter(d.cfg.ConnectionEventsOutputFile)
		if err != nil {
			return fmt.Errorf("open connection events output: %w", err)
		}
		defer connEventWriter.Close()
	}

	var currentMessageID int64
	var finalTs time.Time
	var haveFinalTs bool

	for _, path := range paths {
		log.Infof("processing %v", path)
		before := time.Now()
		idBefore := currentMessageID

		wlWriter, err := NewGzipCSVWriter(d.cfg.WantlistOutputPath(currentMessageID))
		if err != nil {
			return fmt.Errorf("open wantlist output for %v: %w", path, err)
		}

		lastTs, missing, err := d.processFile(path, wlWriter, connEventWriter, &currentMessageID)
		closeErr := wlWriter.Close()
		if err != nil {
			return fmt.Errorf("process %v: %w", path, err)
		}
		if closeErr != nil {
			return fmt.Errorf("close wantlist output for %v: %w", path, closeErr)
		}

		elapsed := time.Since(before)
		numMessages := currentMessageID - idBefore
		rate := float64(numMessages) / elapsed.Seconds()
		log.Infof("processed %d messages in %v (%s msg/s)", numMessages, elapsed, humanize.FormatFloat("#,###.#", rate))

		if !lastTs.IsZero() {
			finalTs = lastTs
			haveFinalTs = true

			if err := ledgerCountWriter.WriteRow(csvLedgerCount{
				TimestampSeconds: lastTs.Unix(),
				MissingLedgers:   missing,
				TotalLedgers:     d.engine.NumLedgers(),
			}); err != nil {
				return fmt.Errorf("write ledger count: %w", err)
			}
		} else {
			log.Warningf("%v produced no messages", path)
		}
	}

	log.Infof("finalizing engine simulation")
	if !haveFinalTs {
		log.Warningf("missing final timestamp, unable to finalize")
		return nil
	}

	finalEntries := d.engine.GenerateEndOfSimulationEntries(finalTs, currentMessageID+1)
	d.synthCancels.Add(float64(len(finalEntries)))

	rolloverWriter, err := NewGzipCSVWriter(d.cfg.WantlistOutputPath(currentMessageID))
	if err != nil {
		return fmt.Errorf("open rollover output: %w", err)
	}
	defer rolloverWriter.Close()

	return writeEntries(rolloverWriter, finalEntries)
}

// processFile ingests every line of one archive file and returns the
// timestamp of the last message seen and the number of missing-ledger
// messages encountered.
func (d *Driver) processFile(path string, wlWriter, connEventWriter *GzipCSVWriter, currentMessageID *int64) (time.Time, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("open %v: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("open gzip reader for %v: %w", path, err)
	}
	defer gz.Close()

	var lastTs time.Time
	var missingLedgers int

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg wantlist.JSONMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return lastTs, missingLedgers, fmt.Errorf("parse message in %v: %w", path, err)
		}

		*currentMessageID++
		lastTs = msg.Timestamp

		res, err := d.engine.Ingest(&msg, *currentMessageID)
		if err != nil {
			return lastTs, missingLedgers, fmt.Errorf("ingest message %d in %v: %w", *currentMessageID, path, err)
		}
		d.messagesProcessed.Inc()

		if res.MissingLedger {
			missingLedgers++
			d.missingLedgers.Inc()
		}
		if len(res.WantlistEntries) > 0 {
			for i := range res.WantlistEntries {
				if res.WantlistEntries[i].MessageType == wantlist.CSVMessageTypeSynthetic {
					d.synthCancels.Inc()
				}
			}
			if err := writeEntries(wlWriter, res.WantlistEntries); err != nil {
				return lastTs, missingLedgers, fmt.Errorf("write wantlist entries for %v: %w", path, err)
			}
		}
		if res.ConnectionEvent != nil && connEventWriter != nil {
			if err := connEventWriter.WriteRow(*res.ConnectionEvent); err != nil {
				return lastTs, missingLedgers, fmt.Errorf("write connection event for %v: %w", path, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return lastTs, missingLedgers, fmt.Errorf("scan %v: %w", path, err)
	}

	return lastTs, missingLedgers, nil
}

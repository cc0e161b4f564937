// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package archive implements the Archive Writer collaborator of spec §4.5: a
// two-stage buffered pipeline that groups (monitor_name, event) pairs by
// monitor on one timer and flushes gzip-compressed NDJSON files on a second,
// slower timer. Grounded directly on
// original_source/bitswap-monitoring-client/src/monitor_tasks.rs's
// MonitorTasks (json_encoder_task + file-writing task connected by unbounded
// channels), adapted to the teacher's context.Context/sync.WaitGroup
// lifecycle idiom (service/tbc/tbc.go's Run/wg.Add/wg.Wait shutdown shape)
// instead of bare tokio::spawn.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/juju/loggo"
)

var log = loggo.GetLogger("archive")

// Event is one (monitor_name, payload) pair accepted by the writer. Payload
// is serialized as one compact JSON line per event — matching
// monitor_tasks.rs's serde_json::to_string_pretty(...).replace("\n","").replace(" ","").
type Event struct {
	MonitorName string
	Payload     any
}

// Config controls the two buffering stages, per spec §5's named timers.
type Config struct {
	ArchiveRoot     string
	BufferDuration  time.Duration // stage 1: how long to batch events before grouping by monitor
	FlushInterval   time.Duration // stage 2: how often grouped blocks are flushed to disk
}

// Writer runs the two-stage pipeline. Send events via Ingest; call Run to
// start the stages, which run until ctx is canceled.
type Writer struct {
	cfg Config

	events chan Event
	blocks chan monitorBlock

	wg sync.WaitGroup
}

type monitorBlock struct {
	monitorName string
	ndjson      []byte
}

// New constructs a Writer. Both channels are buffered with room for 1024
// items and deliver in arrival order. They are not unbounded: when a buffer
// is full, the sender blocks until the next stage drains it or ctx is
// canceled, so events are never dropped on overflow.
func New(cfg Config) *Writer {
	return &Writer{
		cfg:    cfg,
		events: make(chan Event, 1024),
		blocks: make(chan monitorBlock, 1024),
	}
}

// Ingest hands one event to stage 1. It never blocks for long: the channel
// is large, and Run must be running to drain it.
func (w *Writer) Ingest(ctx context.Context, e Event) error {
	select {
	case w.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts both stages and blocks until ctx is canceled.
func (w *Writer) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.ArchiveRoot, 0o755); err != nil {
		return fmt.Errorf("create archive root: %w", err)
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.runEncodingStage(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.runFileStage(ctx)
	}()

	<-ctx.Done()
	w.wg.Wait()
	return ctx.Err()
}

// runEncodingStage implements stage 1: batch events for BufferDuration, then
// group by monitor and hand one concatenated NDJSON block per monitor to
// stage 2.
func (w *Writer) runEncodingStage(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.BufferDuration)
	defer ticker.Stop()

	buf := make([]Event, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-w.events:
			buf = append(buf, e)
		case <-ticker.C:
			if len(buf) == 0 {
				continue
			}
			for monitorName, ndjson := range groupByMonitor(buf) {
				select {
				case w.blocks <- monitorBlock{monitorName: monitorName, ndjson: ndjson}:
				case <-ctx.Done():
					return
				}
			}
			buf = buf[:0]
		}
	}
}

// groupByMonitor serializes each event to one compact JSON line and groups
// the resulting lines by monitor name.
func groupByMonitor(events []Event) map[string][]byte {
	out := make(map[string][]byte)
	for _, e := range events {
		line, err := json.Marshal(e.Payload)
		if err != nil {
			log.Errorf("unable to encode event for monitor %v: %v", e.MonitorName, err)
			continue
		}
		out[e.MonitorName] = append(append(out[e.MonitorName], line...), '\n')
	}
	return out
}

// runFileStage implements stage 2: batch blocks for FlushInterval, then
// write one gzip-compressed NDJSON file per monitor.
func (w *Writer) runFileStage(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make(map[string]*bytes.Buffer)
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-w.blocks:
			buf, ok := pending[b.monitorName]
			if !ok {
				buf = &bytes.Buffer{}
				pending[b.monitorName] = buf
			}
			buf.Write(b.ndjson)
		case <-ticker.C:
			for monitorName, buf := range pending {
				if buf.Len() == 0 {
					continue
				}
				if err := w.flush(monitorName, buf.Bytes()); err != nil {
					log.Errorf("unable to flush archive for monitor %v: %v", monitorName, err)
				}
			}
			pending = make(map[string]*bytes.Buffer)
		}
	}
}

// flush writes one gzip-compressed NDJSON file to
// <archive-root>/<monitor>/<YYYY-MM-DD-HH-MM>.json.gz, per spec §4.5.
func (w *Writer) flush(monitorName string, ndjson []byte) error {
	dir := filepath.Join(w.cfg.ArchiveRoot, monitorName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create monitor dir: %w", err)
	}

	name := time.Now().UTC().Format("2006-01-02-15-04") + ".json.gz"
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %v: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(ndjson); err != nil {
		_ = gz.Close()
		return fmt.Errorf("write %v: %w", path, err)
	}
	return gz.Close()
}

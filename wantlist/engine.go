// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package wantlist

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Config controls which detectors run and how synthetic records are
// generated, per spec §6's configuration table.
type Config struct {
	AllowEmptyFullWantlist              bool
	AllowEmptyConnectionEvent           bool
	InsertFullWantlistSynthCancels      bool
	InsertDisconnectSynthCancels        bool
	InsertFullWantlistDuplicateMarkers  bool
	InsertReconnectDuplicateMarkers     bool
	ReconnectDuplicateDurationSecs      uint32
	InsertSlidingWindowDuplicateMarkers bool
	SlidingWindowLengths                []uint32
}

// IngestResult is the per-message output of Engine.Ingest, per spec §4.3.
type IngestResult struct {
	MissingLedger     bool
	WantlistEntries   []CSVWantlistEntry
	ConnectionEvent   *CSVConnectionEvent
}

// Engine is the per-peer ledger machine of spec §4.3: the "Engine
// Simulation" that is the hard engineering core of this module. Ingest is
// not reentrant (spec §5) — callers (the stream driver) must call it from a
// single goroutine. mu exists to let the ambient metrics exporter read
// NumLedgers concurrently: Ingest and GenerateEndOfSimulationEntries hold the
// write lock while they touch the peer map, and NumLedgers takes the read
// lock.
type Engine struct {
	mu    sync.RWMutex
	peers map[string]*Ledger
	cfg   Config
}

// NewEngine validates cfg and constructs an Engine, per spec §4.2/§7
// (ConfigError is fatal at construction).
func NewEngine(cfg Config) (*Engine, error) {
	lengths := append([]uint32(nil), cfg.SlidingWindowLengths...)
	sort.Slice(lengths, func(i, j int) bool { return lengths[i] < lengths[j] })
	if len(lengths) > 0 && lengths[0] == 0 {
		return nil, fmt.Errorf("%w: sliding windows must be > 0", ErrConfig)
	}
	cfg.SlidingWindowLengths = lengths

	return &Engine{
		peers: make(map[string]*Ledger),
		cfg:   cfg,
	}, nil
}

// NumLedgers returns the number of peers this engine has ever observed.
func (e *Engine) NumLedgers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.peers)
}

// Ingest dispatches msg to the wantlist or connection-event path per the
// §4.3 dispatch rule and returns the enriched output records.
func (e *Engine) Ingest(msg *JSONMessage, msgID int64) (IngestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msg.ReceivedEntries != nil {
		return e.ingestWantlistMessage(msg, msgID)
	}
	return e.ingestConnectionEvent(msg, msgID)
}

func (e *Engine) ingestWantlistMessage(msg *JSONMessage, msgID int64) (IngestResult, error) {
	missingLedger := false
	ledger, ok := e.peers[msg.Peer]
	if !ok {
		log.Debugf("received wantlist from %s (%s), but don't have a ledger for that peer. Starting empty one with one connection.", msg.Peer, msg.Address)
		ledger = &Ledger{ConnectionCount: 1, ConnectedTs: msg.Timestamp, hasConnectedTs: true}
		e.peers[msg.Peer] = ledger
		missingLedger = true
	} else if ledger.ConnectionCount == 0 {
		log.Warningf("got wantlist entries from peer %s, but we are still disconnected from that peer (was previously connected). This is either an error in how IPFS notifies about connection events, or in how we ingest them.", msg.Peer)
		ledger.ConnectionCount = 1
		ledger.ConnectedTs = msg.Timestamp
		ledger.hasConnectedTs = true
	}

	var wants, cancels []JSONWantlistEntry
	for _, entry := range msg.ReceivedEntries {
		if entry.Cancel {
			cancels = append(cancels, entry)
		} else {
			wants = append(wants, entry)
		}
	}

	slidingDups := slidingWindowDuplicates(e.cfg.SlidingWindowLengths, ledger, msg.Timestamp, wants)

	var fullWlDups, fullWlCancels []LedgerEntry
	switch {
	case msg.FullWantList != nil && *msg.FullWantList:
		old := ledger.replaceFull(wants, msg.Timestamp)
		fullWlDups, fullWlCancels = fullWantlistDuplicatesAndCancels(old, ledger.WantedEntries)
	case msg.FullWantList != nil && !*msg.FullWantList:
		ledger.applyIncremental(wants, cancels, msg.Peer, msg.Timestamp)
	default:
		if !e.cfg.AllowEmptyFullWantlist {
			return IngestResult{}, fmt.Errorf("%w", ErrMissingFullFlag)
		}
		log.Debugf("got empty full_want_list, assuming incremental")
		ledger.applyIncremental(wants, cancels, msg.Peer, msg.Timestamp)
	}

	reconnectDups := reconnectDuplicates(ledger, msg.Timestamp, e.cfg.ReconnectDuplicateDurationSecs)

	entries, err := wantlistEntriesFromMessage(msg, msgID)
	if err != nil {
		return IngestResult{}, err
	}

	fullWlDupSet := cidSet(fullWlDups)
	reconnectDupSet := cidSet(reconnectDups)
	slidingBySmallest := make(map[string]uint32, len(slidingDups))
	for _, m := range slidingDups {
		if prev, ok := slidingBySmallest[m.Entry.Cid]; !ok || m.WindowSize < prev {
			slidingBySmallest[m.Entry.Cid] = m.WindowSize
		}
	}

	for i := range entries {
		if e.cfg.InsertFullWantlistDuplicateMarkers {
			if _, ok := fullWlDupSet[entries[i].Cid]; ok {
				entries[i].DuplicateStatus |= DuplicateStatusFullWantlist
			}
		}
		if e.cfg.InsertReconnectDuplicateMarkers {
			if _, ok := reconnectDupSet[entries[i].Cid]; ok {
				entries[i].DuplicateStatus |= DuplicateStatusReconnect
			}
		}
		if e.cfg.InsertSlidingWindowDuplicateMarkers {
			if win, ok := slidingBySmallest[entries[i].Cid]; ok {
				entries[i].DuplicateStatus |= DuplicateStatusSlidingWindow
				entries[i].SlidingWindowSmallestMatch = win
			}
		}
	}

	if e.cfg.InsertFullWantlistSynthCancels && len(fullWlCancels) > 0 {
		synth := csvEntriesFromLedgerEntries(fullWlCancels, msg, msgID, CSVMessageTypeSynthetic, CSVEntryTypeSynthCancelFullWL)
		entries = append(entries, synth...)
	}

	return IngestResult{MissingLedger: missingLedger, WantlistEntries: entries}, nil
}

func (e *Engine) ingestConnectionEvent(msg *JSONMessage, msgID int64) (IngestResult, error) {
	connected := msg.PeerConnected != nil && *msg.PeerConnected
	disconnected := msg.PeerDisconnected != nil && *msg.PeerDisconnected

	if connected == disconnected {
		// Neither set, or (pathologically) both set.
		if !connected && e.cfg.AllowEmptyConnectionEvent {
			log.Warningf("got message with neither peerConnected nor peerDisconnected from peer %s", msg.Peer)
			return IngestResult{}, nil
		}
		return IngestResult{}, fmt.Errorf("%w", ErrMissingConnectionEvent)
	}
	if msg.ConnectEventPeerFound == nil {
		return IngestResult{}, fmt.Errorf("%w: connection event missing connectEventPeerFound", ErrInvariantViolation)
	}
	found := *msg.ConnectEventPeerFound

	missingLedger := false
	var wlEntries []CSVWantlistEntry

	if disconnected {
		ledger, ok := e.peers[msg.Peer]
		if !ok {
			if found {
				log.Debugf("disconnect event had connectEventPeerFound=true, but we don't have a ledger for peer %s", msg.Peer)
			}
			missingLedger = true
			ledger = &Ledger{ConnectionCount: 1, ConnectedTs: msg.Timestamp, hasConnectedTs: true}
			e.peers[msg.Peer] = ledger
		}

		if ledger.ConnectionCount <= 0 {
			return IngestResult{}, fmt.Errorf("%w: connection_count went negative for peer %s, ledger: %v", ErrInvariantViolation, msg.Peer, spew.Sdump(ledger))
		}

		hadWants := len(ledger.WantedEntries) > 0
		ledger.noteDisconnect()

		if ledger.ConnectionCount == 0 && hadWants && e.cfg.InsertDisconnectSynthCancels {
			wlEntries = csvEntriesFromLedgerEntries(ledger.WantedEntriesBeforeDisconnect, msg, msgID, CSVMessageTypeSynthetic, CSVEntryTypeSynthCancelDisconnect)
		}
	}

	if connected {
		ledger, ok := e.peers[msg.Peer]
		if ok {
			if found && ledger.ConnectionCount == 0 {
				log.Warningf("connect event had connectEventPeerFound=true, but our ledger has zero connections for peer %s", msg.Peer)
			} else if !found && ledger.ConnectionCount > 0 {
				log.Warningf("connect event had connectEventPeerFound=false, but we have a ledger with at least one connection for peer %s; trusting the monitor and clearing active state", msg.Peer)
				ledger.WantedEntriesBeforeDisconnect = ledger.WantedEntries
				ledger.WantedEntries = nil
			}
		} else {
			if found {
				log.Warningf("connect event had connectEventPeerFound=true, but we don't have a ledger for peer %s", msg.Peer)
			}
			ledger = newLedger()
			e.peers[msg.Peer] = ledger
		}

		ledger.noteConnect(msg.Timestamp)
	}

	connEvent, err := connectionEventFromMessage(msg, msgID)
	if err != nil {
		return IngestResult{}, err
	}

	return IngestResult{MissingLedger: missingLedger, WantlistEntries: wlEntries, ConnectionEvent: &connEvent}, nil
}

// GenerateEndOfSimulationEntries implements spec §4.3's
// generate-end-of-simulation-entries(final_ts, start_id): every ledger with
// a non-empty wantset gets a synthetic disconnect cancel per remaining CID,
// with strictly increasing message IDs starting at startID.
func (e *Engine) GenerateEndOfSimulationEntries(finalTs time.Time, startID int64) []CSVWantlistEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Deterministic iteration order keeps output reproducible across runs
	// for the same input, which matters for downstream diffing.
	peerIDs := make([]string, 0, len(e.peers))
	for id := range e.peers {
		peerIDs = append(peerIDs, id)
	}
	sort.Strings(peerIDs)

	id := startID
	var out []CSVWantlistEntry
	for _, peerID := range peerIDs {
		ledger := e.peers[peerID]
		if len(ledger.WantedEntries) == 0 {
			continue
		}
		msg := &JSONMessage{Timestamp: finalTs, Peer: peerID}
		for _, entry := range ledger.WantedEntries {
			out = append(out, csvEntriesFromLedgerEntries([]LedgerEntry{entry}, msg, id, CSVMessageTypeSynthetic, CSVEntryTypeSynthCancelDisconnect)...)
			id++
		}
	}
	return out
}

func cidSet(entries []LedgerEntry) map[string]struct{} {
	if len(entries) == 0 {
		return nil
	}
	s := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		s[e.Cid] = struct{}{}
	}
	return s
}

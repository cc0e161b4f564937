// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package wantlist

import (
	"sort"
	"time"

	"github.com/juju/loggo"
)

var log = loggo.GetLogger("wantlist")

func init() {
	loggo.ConfigureLoggers("INFO")
}

// LedgerEntry is one CID known to be wanted by a peer, plus the timestamp
// it was last observed at.
type LedgerEntry struct {
	Cid string
	Ts  time.Time
}

// Ledger is the per-peer core state described in spec §3: the peer's
// current wantset (kept sorted by CID for binary search), its connection
// count, and the carry-over snapshot consumed by the reconnect duplicate
// detector.
//
// A Ledger is only ever touched from the single goroutine driving
// Engine.Ingest (§5); it carries no lock of its own.
type Ledger struct {
	ConnectionCount               int
	WantedEntries                 []LedgerEntry
	WantedEntriesBeforeDisconnect []LedgerEntry
	ConnectedTs                   time.Time
	hasConnectedTs                bool
}

// newLedger creates an empty ledger, matching the zero-state used when a
// peer is first observed.
func newLedger() *Ledger {
	return &Ledger{}
}

// find returns the index of cid in the sorted WantedEntries slice, and
// whether it was found — the same semantics as a Rust
// Vec::binary_search_by.
func (l *Ledger) find(cid string) (int, bool) {
	i := sort.Search(len(l.WantedEntries), func(i int) bool {
		return l.WantedEntries[i].Cid >= cid
	})
	if i < len(l.WantedEntries) && l.WantedEntries[i].Cid == cid {
		return i, true
	}
	return i, false
}

// applyIncremental implements §4.1's apply-incremental(wants, cancels, ts).
// Cancels for unknown CIDs are logged at debug level and otherwise
// ignored — the monitor may have joined the stream mid-flight.
func (l *Ledger) applyIncremental(wants, cancels []JSONWantlistEntry, peer string, ts time.Time) {
	for _, c := range cancels {
		i, ok := l.find(c.Cid.Path)
		if !ok {
			log.Debugf("got CANCEL for CID %s from peer %s, but don't have an entry for that", c.Cid.Path, peer)
			continue
		}
		l.WantedEntries = append(l.WantedEntries[:i], l.WantedEntries[i+1:]...)
	}

	for _, w := range wants {
		i, ok := l.find(w.Cid.Path)
		if ok {
			l.WantedEntries[i].Ts = ts
			continue
		}
		l.WantedEntries = append(l.WantedEntries, LedgerEntry{})
		copy(l.WantedEntries[i+1:], l.WantedEntries[i:])
		l.WantedEntries[i] = LedgerEntry{Cid: w.Cid.Path, Ts: ts}
	}
}

// replaceFull implements §4.1's replace-full(new_wants, ts): atomically
// swap the stored sequence and return the prior one for duplicate analysis.
func (l *Ledger) replaceFull(newWants []JSONWantlistEntry, ts time.Time) []LedgerEntry {
	old := l.WantedEntries

	next := make([]LedgerEntry, len(newWants))
	for i, w := range newWants {
		next[i] = LedgerEntry{Cid: w.Cid.Path, Ts: ts}
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Cid < next[j].Cid })
	l.WantedEntries = next

	return old
}

// noteDisconnect implements §4.1's note-disconnect(ts). Callers must check
// ConnectionCount > 0 before calling; the engine surfaces a would-be
// negative count as ErrInvariantViolation instead of letting it happen here.
func (l *Ledger) noteDisconnect() {
	l.ConnectionCount--
	if l.ConnectionCount == 0 && len(l.WantedEntries) > 0 {
		l.WantedEntriesBeforeDisconnect = l.WantedEntries
		l.WantedEntries = nil
	}
}

// noteConnect implements §4.1's note-connect(ts).
func (l *Ledger) noteConnect(ts time.Time) {
	if l.ConnectionCount == 0 {
		l.ConnectedTs = ts
		l.hasConnectedTs = true
	}
	l.ConnectionCount++
}

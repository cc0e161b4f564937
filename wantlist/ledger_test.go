// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package wantlist

import (
	"testing"
)

func TestLedgerFindOnEmpty(t *testing.T) {
	l := newLedger()
	i, ok := l.find("A")
	if ok || i != 0 {
		t.Fatalf("expected (0, false) on empty ledger, got (%d, %v)", i, ok)
	}
}

func TestLedgerApplyIncrementalInsertKeepsSortOrder(t *testing.T) {
	l := newLedger()
	l.applyIncremental([]JSONWantlistEntry{
		{Cid: JsonCID{Path: "C"}},
		{Cid: JsonCID{Path: "A"}},
		{Cid: JsonCID{Path: "B"}},
	}, nil, "P", ts(0))

	want := []string{"A", "B", "C"}
	if len(l.WantedEntries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(l.WantedEntries))
	}
	for i, cid := range want {
		if l.WantedEntries[i].Cid != cid {
			t.Errorf("position %d: expected %s, got %s", i, cid, l.WantedEntries[i].Cid)
		}
	}
}

func TestLedgerApplyIncrementalRefreshesTimestamp(t *testing.T) {
	l := newLedger()
	l.applyIncremental([]JSONWantlistEntry{{Cid: JsonCID{Path: "A"}}}, nil, "P", ts(0))
	l.applyIncremental([]JSONWantlistEntry{{Cid: JsonCID{Path: "A"}}}, nil, "P", ts(10))

	if len(l.WantedEntries) != 1 {
		t.Fatalf("expected a single entry (no duplicate insert), got %+v", l.WantedEntries)
	}
	if !l.WantedEntries[0].Ts.Equal(ts(10)) {
		t.Fatalf("expected timestamp refreshed to ts(10), got %v", l.WantedEntries[0].Ts)
	}
}

func TestLedgerApplyIncrementalCancelRemoves(t *testing.T) {
	l := newLedger()
	l.applyIncremental([]JSONWantlistEntry{{Cid: JsonCID{Path: "A"}}, {Cid: JsonCID{Path: "B"}}}, nil, "P", ts(0))
	l.applyIncremental(nil, []JSONWantlistEntry{{Cid: JsonCID{Path: "A"}, Cancel: true}}, "P", ts(1))

	if len(l.WantedEntries) != 1 || l.WantedEntries[0].Cid != "B" {
		t.Fatalf("expected only B to remain, got %+v", l.WantedEntries)
	}
}

func TestLedgerReplaceFullReturnsOldAndSorts(t *testing.T) {
	l := newLedger()
	l.applyIncremental([]JSONWantlistEntry{{Cid: JsonCID{Path: "A"}}}, nil, "P", ts(0))

	old := l.replaceFull([]JSONWantlistEntry{{Cid: JsonCID{Path: "C"}}, {Cid: JsonCID{Path: "B"}}}, ts(1))

	if len(old) != 1 || old[0].Cid != "A" {
		t.Fatalf("expected old wantset [A], got %+v", old)
	}
	if len(l.WantedEntries) != 2 || l.WantedEntries[0].Cid != "B" || l.WantedEntries[1].Cid != "C" {
		t.Fatalf("expected new sorted wantset [B C], got %+v", l.WantedEntries)
	}
}

func TestLedgerNoteConnectSetsTimestampOnlyOnZeroToOne(t *testing.T) {
	l := newLedger()
	l.noteConnect(ts(0))
	if l.ConnectionCount != 1 || !l.hasConnectedTs || !l.ConnectedTs.Equal(ts(0)) {
		t.Fatalf("expected first connect to set ConnectedTs, got %+v", l)
	}

	l.noteConnect(ts(100))
	if l.ConnectionCount != 2 || !l.ConnectedTs.Equal(ts(0)) {
		t.Fatalf("expected second concurrent connection to leave ConnectedTs untouched, got %+v", l)
	}
}

func TestLedgerNoteDisconnectMigratesWantsetOnlyAtZero(t *testing.T) {
	l := newLedger()
	l.noteConnect(ts(0))
	l.noteConnect(ts(0))
	l.applyIncremental([]JSONWantlistEntry{{Cid: JsonCID{Path: "A"}}}, nil, "P", ts(0))

	l.noteDisconnect()
	if l.ConnectionCount != 1 || l.WantedEntriesBeforeDisconnect != nil {
		t.Fatalf("expected no migration while one connection remains, got %+v", l)
	}

	l.noteDisconnect()
	if l.ConnectionCount != 0 || len(l.WantedEntriesBeforeDisconnect) != 1 || len(l.WantedEntries) != 0 {
		t.Fatalf("expected wantset migrated on last disconnect, got %+v", l)
	}
}


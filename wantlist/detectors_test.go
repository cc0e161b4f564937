// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package wantlist

import "testing"

func TestFullWantlistDuplicatesAndCancelsPartitions(t *testing.T) {
	old := []LedgerEntry{{Cid: "A", Ts: ts(0)}, {Cid: "B", Ts: ts(0)}}
	newEntries := []LedgerEntry{{Cid: "B", Ts: ts(1)}, {Cid: "C", Ts: ts(1)}}

	dups, cancels := fullWantlistDuplicatesAndCancels(old, newEntries)

	if len(dups) != 1 || dups[0].Cid != "B" {
		t.Fatalf("expected B as duplicate, got %+v", dups)
	}
	if len(cancels) != 1 || cancels[0].Cid != "A" {
		t.Fatalf("expected A as synthetic cancel, got %+v", cancels)
	}
}

func TestFullWantlistDuplicatesAndCancelsEmptyOld(t *testing.T) {
	dups, cancels := fullWantlistDuplicatesAndCancels(nil, []LedgerEntry{{Cid: "A"}})
	if dups != nil || cancels != nil {
		t.Fatalf("expected nothing to report for a fresh ledger, got dups=%+v cancels=%+v", dups, cancels)
	}
}

func TestReconnectDuplicatesWithinWindow(t *testing.T) {
	l := &Ledger{
		WantedEntriesBeforeDisconnect: []LedgerEntry{{Cid: "A"}, {Cid: "B"}},
		WantedEntries:                 []LedgerEntry{{Cid: "A"}},
		ConnectedTs:                   ts(0),
		hasConnectedTs:                true,
	}

	dups := reconnectDuplicates(l, ts(5), 600)

	if len(dups) != 1 || dups[0].Cid != "A" {
		t.Fatalf("expected A reported as reconnect duplicate, got %+v", dups)
	}
	if len(l.WantedEntriesBeforeDisconnect) != 1 || l.WantedEntriesBeforeDisconnect[0].Cid != "B" {
		t.Fatalf("expected B carried over for a future reconnect check, got %+v", l.WantedEntriesBeforeDisconnect)
	}
}

func TestReconnectDuplicatesWindowExpired(t *testing.T) {
	l := &Ledger{
		WantedEntriesBeforeDisconnect: []LedgerEntry{{Cid: "A"}},
		ConnectedTs:                   ts(0),
		hasConnectedTs:                true,
	}

	dups := reconnectDuplicates(l, ts(700), 600)

	if dups != nil {
		t.Fatalf("expected no duplicates once the window has closed, got %+v", dups)
	}
	if l.WantedEntriesBeforeDisconnect != nil {
		t.Fatalf("expected carry-over dropped once the window has closed, got %+v", l.WantedEntriesBeforeDisconnect)
	}
}

func TestReconnectDuplicatesNoPriorDisconnect(t *testing.T) {
	l := newLedger()
	if dups := reconnectDuplicates(l, ts(0), 600); dups != nil {
		t.Fatalf("expected nil when there was no carry-over, got %+v", dups)
	}
}

func TestSlidingWindowDuplicatesPicksSmallestMatchingWindow(t *testing.T) {
	l := &Ledger{WantedEntries: []LedgerEntry{{Cid: "A", Ts: ts(0)}}}

	matches := slidingWindowDuplicates([]uint32{60, 300}, l, ts(100), []JSONWantlistEntry{{Cid: JsonCID{Path: "A"}}})

	if len(matches) != 1 {
		t.Fatalf("expected one match, got %+v", matches)
	}
	if matches[0].WindowSize != 300 {
		t.Fatalf("expected the 300s window (60s window doesn't reach back 100s), got %d", matches[0].WindowSize)
	}
}

func TestSlidingWindowDuplicatesIgnoresCidsNotInCurrentMessage(t *testing.T) {
	l := &Ledger{WantedEntries: []LedgerEntry{{Cid: "A", Ts: ts(0)}}}

	matches := slidingWindowDuplicates([]uint32{300}, l, ts(100), []JSONWantlistEntry{{Cid: JsonCID{Path: "B"}}})

	if matches != nil {
		t.Fatalf("expected no matches for a CID the message doesn't mention, got %+v", matches)
	}
}

func TestSlidingWindowDuplicatesEmptyConfig(t *testing.T) {
	l := &Ledger{WantedEntries: []LedgerEntry{{Cid: "A", Ts: ts(0)}}}
	matches := slidingWindowDuplicates(nil, l, ts(1), []JSONWantlistEntry{{Cid: JsonCID{Path: "A"}}})
	if matches != nil {
		t.Fatalf("expected detector disabled with no window lengths, got %+v", matches)
	}
}

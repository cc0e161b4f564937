// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package wantlist

import "time"

// This file implements the three orthogonal duplicate detectors of spec
// §4.2. Each is written as a pure-ish function over (ledger, message state)
// so they can be unit tested and independently disabled via Config —
// see spec §9's "three detectors, OR-combined bits" design note.

// fullWantlistDuplicatesAndCancels implements detector D1. old is the
// ledger's wantset before a full-wantlist replacement; new is the wantset
// after. It returns the entries that survived (duplicates) and the entries
// that disappeared (synthetic cancels).
func fullWantlistDuplicatesAndCancels(old, newEntries []LedgerEntry) (dups, cancels []LedgerEntry) {
	if len(old) == 0 {
		return nil, nil
	}

	newSet := make(map[string]struct{}, len(newEntries))
	for _, e := range newEntries {
		newSet[e.Cid] = struct{}{}
	}

	for _, e := range old {
		if _, ok := newSet[e.Cid]; ok {
			dups = append(dups, e)
		} else {
			cancels = append(cancels, e)
		}
	}
	return dups, cancels
}

// reconnectDuplicates implements detector D2. It destructively consumes
// ledger.WantedEntriesBeforeDisconnect. While still inside the reconnect
// window, entries that reappear in the current wantset are reported as
// duplicates and the rest are restored into WantedEntriesBeforeDisconnect.
// Once the window has closed, nothing is reported and all of them are
// dropped for good.
func reconnectDuplicates(l *Ledger, msgTs time.Time, reconnectDurationSecs uint32) []LedgerEntry {
	old := l.WantedEntriesBeforeDisconnect
	l.WantedEntriesBeforeDisconnect = nil
	if old == nil {
		return nil
	}

	currentSet := make(map[string]struct{}, len(l.WantedEntries))
	for _, e := range l.WantedEntries {
		currentSet[e.Cid] = struct{}{}
	}

	var dups, carryOver []LedgerEntry
	for _, e := range old {
		if _, ok := currentSet[e.Cid]; ok {
			dups = append(dups, e)
		} else {
			carryOver = append(carryOver, e)
		}
	}

	if !l.hasConnectedTs {
		return nil
	}
	limit := l.ConnectedTs.Add(time.Duration(reconnectDurationSecs) * time.Second)
	if limit.After(msgTs) {
		l.WantedEntriesBeforeDisconnect = carryOver
		return dups
	}
	return nil
}

// slidingWindowMatch pairs a ledger entry with the smallest configured
// window size it fell within.
type slidingWindowMatch struct {
	Entry      LedgerEntry
	WindowSize uint32
}

// slidingWindowDuplicates implements detector D3. windowLengths must be
// sorted ascending and all > 0 (enforced by NewEngine). Runs over the
// ledger's pre-update state: a match means the ledger already had this CID
// recently, not that the incoming message repeats itself.
func slidingWindowDuplicates(windowLengths []uint32, l *Ledger, msgTs time.Time, newEntries []JSONWantlistEntry) []slidingWindowMatch {
	if len(windowLengths) == 0 {
		return nil
	}

	type window struct {
		size  uint32
		start time.Time
	}
	windows := make([]window, len(windowLengths))
	for i, s := range windowLengths {
		windows[i] = window{size: s, start: msgTs.Add(-time.Duration(s) * time.Second)}
	}
	biggestStart := windows[len(windows)-1].start

	wantedCids := make(map[string]struct{}, len(newEntries))
	for _, e := range newEntries {
		wantedCids[e.Cid.Path] = struct{}{}
	}

	var matches []slidingWindowMatch
	for _, e := range l.WantedEntries {
		if !e.Ts.After(biggestStart) {
			continue
		}
		if _, ok := wantedCids[e.Cid]; !ok {
			continue
		}
		for _, w := range windows {
			if e.Ts.After(w.start) {
				matches = append(matches, slidingWindowMatch{Entry: e, WindowSize: w.size})
				break
			}
		}
	}
	return matches
}

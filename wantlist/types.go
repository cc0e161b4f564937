// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package wantlist implements the event model, per-peer ledger, duplicate
// detectors and engine simulation that reconstruct per-peer Bitswap
// wantlists from a stream of monitor-observed JSON messages.
package wantlist

import (
	"encoding/json"
	"fmt"
	"time"
)

// Want type constants for the JSON wire encoding of a WantlistEntry.
const (
	JSONWantTypeBlock = 0
	JSONWantTypeHave  = 1
)

// Message type constants for CSVWantlistEntry.
const (
	CSVMessageTypeIncremental = 1
	CSVMessageTypeFull        = 2
	CSVMessageTypeSynthetic   = 3
)

// Entry type constants for CSVWantlistEntry.
const (
	CSVEntryTypeCancel                = 1
	CSVEntryTypeWantBlock             = 2
	CSVEntryTypeWantBlockSendDontHave = 3
	CSVEntryTypeWantHave              = 4
	CSVEntryTypeWantHaveSendDontHave  = 5
	CSVEntryTypeSynthCancelFullWL     = 6
	CSVEntryTypeSynthCancelDisconnect = 7
)

// Connection event type constants for CSVConnectionEvent.
const (
	CSVConnEventConnectedFound       = 1
	CSVConnEventConnectedNotFound    = 2
	CSVConnEventDisconnectedFound    = 3
	CSVConnEventDisconnectedNotFound = 4
)

// Duplicate status bits, OR-combined into CSVWantlistEntry.DuplicateStatus.
const (
	DuplicateStatusNone           uint32 = 0
	DuplicateStatusFullWantlist   uint32 = 1
	DuplicateStatusReconnect      uint32 = 2
	DuplicateStatusSlidingWindow  uint32 = 4
)

// JsonCID is the wire encoding of a content identifier, matching the
// monitor's `{"/": "<multihash>"}` convention.
type JsonCID struct {
	Path string `json:"/"`
}

// JSONWantlistEntry is a single entry of an incoming wantlist message.
// Field names evolved across monitor versions, so both the lowercase and
// capitalized spellings are accepted on ingest; only the lowercase form is
// ever emitted again.
type JSONWantlistEntry struct {
	Priority     int32   `json:"priority"`
	Cancel       bool    `json:"cancel"`
	SendDontHave bool    `json:"sendDontHave"`
	Cid          JsonCID `json:"cid"`
	WantType     int32   `json:"wantType"`
}

// UnmarshalJSON implements the lowercase/capitalized field aliasing
// described in spec §6 ("Input-format tolerance").
func (e *JSONWantlistEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal wantlist entry: %w", err)
	}

	if err := unmarshalAliased(raw, []string{"priority", "Priority"}, &e.Priority); err != nil {
		return fmt.Errorf("wantlist entry priority: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"cancel", "Cancel"}, &e.Cancel); err != nil {
		return fmt.Errorf("wantlist entry cancel: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"sendDontHave", "SendDontHave", "send_dont_have"}, &e.SendDontHave); err != nil {
		return fmt.Errorf("wantlist entry sendDontHave: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"cid", "Cid"}, &e.Cid); err != nil {
		return fmt.Errorf("wantlist entry cid: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"wantType", "WantType", "want_type"}, &e.WantType); err != nil {
		return fmt.Errorf("wantlist entry wantType: %w", err)
	}

	return nil
}

// unmarshalAliased looks up the first present key in names and decodes it
// into out. Missing keys leave out untouched (its zero value).
func unmarshalAliased(raw map[string]json.RawMessage, names []string, out any) error {
	for _, n := range names {
		v, ok := raw[n]
		if !ok {
			continue
		}
		return json.Unmarshal(v, out)
	}
	return nil
}

// JSONMessage is a single line of monitor input: exactly one of
// ReceivedEntries or a connection-event flag combination is expected to be
// populated; ambiguous combinations are handled per §4.3.2.
type JSONMessage struct {
	Timestamp             time.Time           `json:"timestamp"`
	Peer                  string              `json:"peer"`
	Address               string              `json:"address,omitempty"`
	ReceivedEntries       []JSONWantlistEntry `json:"receivedEntries,omitempty"`
	FullWantList          *bool               `json:"fullWantList,omitempty"`
	PeerConnected         *bool               `json:"peerConnected,omitempty"`
	PeerDisconnected      *bool               `json:"peerDisconnected,omitempty"`
	ConnectEventPeerFound *bool               `json:"connectEventPeerFound,omitempty"`
}

// UnmarshalJSON accepts both the camelCase names above and the monitor's
// original snake_case / capitalized spellings.
func (m *JSONMessage) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	if err := unmarshalAliased(raw, []string{"timestamp", "Timestamp"}, &m.Timestamp); err != nil {
		return fmt.Errorf("message timestamp: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"peer", "Peer"}, &m.Peer); err != nil {
		return fmt.Errorf("message peer: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"address", "Address"}, &m.Address); err != nil {
		return fmt.Errorf("message address: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"receivedEntries", "received_entries", "ReceivedEntries"}, &m.ReceivedEntries); err != nil {
		return fmt.Errorf("message receivedEntries: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"fullWantList", "full_want_list", "FullWantList"}, &m.FullWantList); err != nil {
		return fmt.Errorf("message fullWantList: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"peerConnected", "peer_connected", "PeerConnected"}, &m.PeerConnected); err != nil {
		return fmt.Errorf("message peerConnected: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"peerDisconnected", "peer_disconnected", "PeerDisconnected"}, &m.PeerDisconnected); err != nil {
		return fmt.Errorf("message peerDisconnected: %w", err)
	}
	if err := unmarshalAliased(raw, []string{"connectEventPeerFound", "connect_event_peer_found", "ConnectEventPeerFound"}, &m.ConnectEventPeerFound); err != nil {
		return fmt.Errorf("message connectEventPeerFound: %w", err)
	}

	return nil
}

// IsConnectionEvent reports whether this message carries a connection event
// rather than wantlist entries, per the §4.3 dispatch rule.
func (m *JSONMessage) IsConnectionEvent() bool {
	return m.ReceivedEntries == nil
}

// CSVWantlistEntry is one output row of the wantlist CSV stream. Field
// order is part of the on-disk contract (§3); headers are never written.
type CSVWantlistEntry struct {
	MessageID                  int64
	MessageType                int32
	TimestampSeconds           int64
	TimestampSubsecMillis      uint32
	PeerID                     string
	Address                    string
	Priority                   int32
	EntryType                  int32
	Cid                        string
	DuplicateStatus            uint32
	SlidingWindowSmallestMatch uint32
}

// Row renders the entry as a CSV record, column order per §3.
func (e CSVWantlistEntry) Row() []string {
	return []string{
		fmt.Sprintf("%d", e.MessageID),
		fmt.Sprintf("%d", e.MessageType),
		fmt.Sprintf("%d", e.TimestampSeconds),
		fmt.Sprintf("%d", e.TimestampSubsecMillis),
		e.PeerID,
		e.Address,
		fmt.Sprintf("%d", e.Priority),
		fmt.Sprintf("%d", e.EntryType),
		e.Cid,
		fmt.Sprintf("%d", e.DuplicateStatus),
		fmt.Sprintf("%d", e.SlidingWindowSmallestMatch),
	}
}

// CSVConnectionEvent is one output row of the connection event CSV stream.
type CSVConnectionEvent struct {
	MessageID             int64
	TimestampSeconds      int64
	TimestampSubsecMillis uint32
	PeerID                string
	Address               string
	EventType             int32
}

// Row renders the event as a CSV record, column order per §3.
func (e CSVConnectionEvent) Row() []string {
	return []string{
		fmt.Sprintf("%d", e.MessageID),
		fmt.Sprintf("%d", e.TimestampSeconds),
		fmt.Sprintf("%d", e.TimestampSubsecMillis),
		e.PeerID,
		e.Address,
		fmt.Sprintf("%d", e.EventType),
	}
}

// wantlistEntriesFromMessage converts the raw entries of a JSONMessage into
// CSVWantlistEntry rows, deriving the message type from FullWantList and
// each row's entry type from its flags; duplicate status starts as
// DuplicateStatusNone and is filled in by the engine. This mirrors
// from_json_message in the original Rust implementation.
func wantlistEntriesFromMessage(msg *JSONMessage, id int64) ([]CSVWantlistEntry, error) {
	messageType := int32(CSVMessageTypeIncremental)
	if msg.FullWantList != nil && *msg.FullWantList {
		messageType = CSVMessageTypeFull
	}

	out := make([]CSVWantlistEntry, 0, len(msg.ReceivedEntries))
	for _, entry := range msg.ReceivedEntries {
		entryType, err := entryTypeFor(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, CSVWantlistEntry{
			MessageID:             id,
			MessageType:           messageType,
			TimestampSeconds:      msg.Timestamp.Unix(),
			TimestampSubsecMillis: uint32(msg.Timestamp.Nanosecond() / int(time.Millisecond)),
			PeerID:                msg.Peer,
			Address:               msg.Address,
			Priority:              entry.Priority,
			EntryType:             entryType,
			Cid:                   entry.Cid.Path,
			DuplicateStatus:       DuplicateStatusNone,
		})
	}
	return out, nil
}

// entryTypeFor maps the cancel/want_type/send_dont_have flags of an entry
// to its CSV entry type, per the table in spec §3.
func entryTypeFor(entry JSONWantlistEntry) (int32, error) {
	if entry.Cancel {
		return CSVEntryTypeCancel, nil
	}
	switch entry.WantType {
	case JSONWantTypeBlock:
		if entry.SendDontHave {
			return CSVEntryTypeWantBlockSendDontHave, nil
		}
		return CSVEntryTypeWantBlock, nil
	case JSONWantTypeHave:
		if entry.SendDontHave {
			return CSVEntryTypeWantHaveSendDontHave, nil
		}
		return CSVEntryTypeWantHave, nil
	default:
		return 0, fmt.Errorf("%w: unknown want_type %d", ErrInvariantViolation, entry.WantType)
	}
}

// csvEntriesFromLedgerEntries converts ledger-internal entries (used for
// synthetic cancels) into output rows. Priority is always 0 here — the
// source data has no notion of priority for a synthesized cancel. This
// matches the original implementation's behaviour, noted as an open
// question in spec §9: real wants carry their input priority through,
// synthetic/derived records always carry priority zero.
func csvEntriesFromLedgerEntries(entries []LedgerEntry, msg *JSONMessage, id int64, messageType, entryType int32) []CSVWantlistEntry {
	out := make([]CSVWantlistEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, CSVWantlistEntry{
			MessageID:             id,
			MessageType:           messageType,
			TimestampSeconds:      msg.Timestamp.Unix(),
			TimestampSubsecMillis: uint32(msg.Timestamp.Nanosecond() / int(time.Millisecond)),
			PeerID:                msg.Peer,
			Address:               msg.Address,
			Priority:              0,
			EntryType:             entryType,
			Cid:                   e.Cid,
			DuplicateStatus:       DuplicateStatusNone,
		})
	}
	return out
}

// connectionEventFromMessage converts a connection-event JSONMessage into a
// CSVConnectionEvent, validating exactly one of connected/disconnected is
// set along with connect_event_peer_found, per spec §4.3.2 step 1.
func connectionEventFromMessage(msg *JSONMessage, id int64) (CSVConnectionEvent, error) {
	if msg.ConnectEventPeerFound == nil {
		return CSVConnectionEvent{}, fmt.Errorf("%w: connection event missing connectEventPeerFound", ErrInvariantViolation)
	}
	connected := msg.PeerConnected != nil && *msg.PeerConnected
	disconnected := msg.PeerDisconnected != nil && *msg.PeerDisconnected
	if connected == disconnected {
		return CSVConnectionEvent{}, fmt.Errorf("%w: connection event needs exactly one of connected/disconnected", ErrInvariantViolation)
	}
	found := *msg.ConnectEventPeerFound

	var eventType int32
	switch {
	case disconnected && found:
		eventType = CSVConnEventDisconnectedFound
	case disconnected && !found:
		eventType = CSVConnEventDisconnectedNotFound
	case connected && found:
		eventType = CSVConnEventConnectedFound
	default:
		eventType = CSVConnEventConnectedNotFound
	}

	return CSVConnectionEvent{
		MessageID:             id,
		TimestampSeconds:      msg.Timestamp.Unix(),
		TimestampSubsecMillis: uint32(msg.Timestamp.Nanosecond() / int(time.Millisecond)),
		PeerID:                msg.Peer,
		Address:               msg.Address,
		EventType:             eventType,
	}, nil
}

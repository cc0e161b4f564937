// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package broker

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"
	"time"
)

func TestRoutingKeyString(t *testing.T) {
	cases := []struct {
		key  RoutingKey
		want string
	}{
		{RoutingKey{MonitorName: "fra1", Kind: BitswapMessages}, "monitor.fra1.bitswap_messages"},
		{RoutingKey{MonitorName: "fra1", Kind: ConnectionEvents}, "monitor.fra1.conn_events"},
	}
	for _, c := range cases {
		if got := c.key.String(); got != c.want {
			t.Errorf("expected %q, got %q", c.want, got)
		}
	}
}

func TestEncodeEventsRoundTrip(t *testing.T) {
	events := []PushedEvent{
		{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Peer:      "P",
			Type:      EventTypeConnectionEvent,
			ConnectionEvent: &ConnectionEvent{
				Remote:              "/ip4/1.2.3.4/tcp/4001",
				ConnectionEventType: ConnectionEventConnected,
			},
		},
	}

	payload, err := encodeEvents(events)
	if err != nil {
		t.Fatalf("encodeEvents: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	var decoded []PushedEvent
	if err := json.NewDecoder(gz).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded) != 1 || decoded[0].Peer != "P" || decoded[0].ConnectionEvent == nil {
		t.Fatalf("unexpected decoded events: %+v", decoded)
	}
	if decoded[0].ConnectionEvent.ConnectionEventType != ConnectionEventConnected {
		t.Fatalf("expected Connected, got %v", decoded[0].ConnectionEvent.ConnectionEventType)
	}
}

func TestMonitorNameFromRoutingKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"monitor.fra1.bitswap_messages", "fra1"},
		{"monitor.fra1.conn_events", "fra1"},
		{"monitor.eu-west-1-a.bitswap_messages", "eu-west-1-a"},
		{"garbage", "garbage"},
	}
	for _, c := range cases {
		if got := monitorNameFromRoutingKey(c.key); got != c.want {
			t.Errorf("monitorNameFromRoutingKey(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}

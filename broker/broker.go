// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package broker implements the message broker collaborator of spec §6: a
// topic exchange carrying gzip-compressed JSON arrays of PushedEvent
// objects, one routing key per monitor per event class. Grounded directly on
// original_source/ipfs-monitoring-plugin-client/src/monitoring.rs, which
// declares the same exchange/routing-key/TTL contract against the Rust
// lapin client; here it's built on github.com/streadway/amqp, the natural Go
// client for the same wire protocol and a direct dependency of the pack's
// ethereum-go-ethereum example.
package broker

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/streadway/amqp"
)

const (
	// ExchangeName is the topic exchange every publisher/consumer shares,
	// matching monitoring.rs's EXCHANGE_NAME_PASSIVE_MONITORING.
	ExchangeName = "ipfs.passive_monitoring"

	routingKeyPrefixMonitor        = "monitor"
	routingKeySuffixBitswap        = "bitswap_messages"
	routingKeySuffixConnectionEvts = "conn_events"

	// messageTTL is the broker-enforced message expiration, per spec §6.
	messageTTL = "60000"
)

// RoutingKey identifies one of the two event streams for one monitor.
type RoutingKey struct {
	MonitorName string
	Kind        RoutingKeyKind
}

// RoutingKeyKind distinguishes the two streams a monitor can publish.
type RoutingKeyKind int

const (
	BitswapMessages RoutingKeyKind = iota
	ConnectionEvents
)

// String renders the routing key as monitor.<name>.<bitswap_messages|conn_events>.
func (k RoutingKey) String() string {
	suffix := routingKeySuffixBitswap
	if k.Kind == ConnectionEvents {
		suffix = routingKeySuffixConnectionEvts
	}
	return fmt.Sprintf("%s.%s.%s", routingKeyPrefixMonitor, k.MonitorName, suffix)
}

// EventType discriminates the two PushedEvent payload shapes, matching
// monitoring.rs's EventType enum (serde(flatten)-tagged in the original;
// this rewrite uses a discriminator field since Go has no tagged-union
// serialization built in).
type EventType string

const (
	EventTypeBitswapMessage  EventType = "bitswap_message"
	EventTypeConnectionEvent EventType = "connection_event"
)

// PushedEvent is a single monitoring-related event pushed over the broker,
// matching monitoring.rs's PushedEvent struct.
type PushedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Peer      string    `json:"peer"`
	Type      EventType `json:"type"`

	BitswapMessage  *BitswapMessage  `json:"bitswap_message,omitempty"`
	ConnectionEvent *ConnectionEvent `json:"connection_event,omitempty"`
}

// BitswapMessage mirrors monitoring.rs's BitswapMessage: both the wantlist
// updates and the responses (blocks/presences) a monitor observed.
type BitswapMessage struct {
	WantlistEntries    []json.RawMessage `json:"wantlist_entries"`
	FullWantlist       bool              `json:"full_wantlist"`
	Blocks             []json.RawMessage `json:"blocks"`
	BlockPresences     []BlockPresence   `json:"block_presences"`
	ConnectedAddresses []string          `json:"connected_addresses"`
}

// BlockPresence mirrors monitoring.rs's BlockPresence.
type BlockPresence struct {
	Cid               json.RawMessage   `json:"cid"`
	BlockPresenceType BlockPresenceType `json:"block_presence_type"`
}

// BlockPresenceType mirrors monitoring.rs's repr(u8) enum.
type BlockPresenceType uint8

const (
	BlockPresenceHave     BlockPresenceType = 0
	BlockPresenceDontHave BlockPresenceType = 1
)

// ConnectionEvent mirrors monitoring.rs's ConnectionEvent.
type ConnectionEvent struct {
	Remote            string                `json:"remote"`
	ConnectionEventType ConnectionEventType `json:"connection_event_type"`
}

// ConnectionEventType mirrors monitoring.rs's repr(u8) enum.
type ConnectionEventType uint8

const (
	ConnectionEventConnected    ConnectionEventType = 0
	ConnectionEventDisconnected ConnectionEventType = 1
)

// Client wraps an AMQP channel declared against ExchangeName.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to addr and declares the shared topic exchange.
func Dial(addr string) (*Client, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeTopic, false, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Client{conn: conn, ch: ch}, nil
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return c.conn.Close()
}

// Publish gzip-compresses a JSON array of events and publishes it under
// key, with mandatory=false, immediate=false, and the shared 60s TTL, per
// spec §6 and monitoring.rs's publish_message.
func (c *Client) Publish(key RoutingKey, events []PushedEvent) error {
	payload, err := encodeEvents(events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	return c.ch.Publish(ExchangeName, key.String(), false, false, amqp.Publishing{
		ContentType: "application/gzip",
		Expiration:  messageTTL,
		Body:        payload,
		Timestamp:   time.Now(),
	})
}

func encodeEvents(events []PushedEvent) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(events); err != nil {
		_ = gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Consumer subscribes to an exclusive, auto-delete queue bound to the given
// routing keys, matching monitoring.rs's set_up_queue_and_subscribe.
type Consumer struct {
	deliveries <-chan amqp.Delivery
}

// Subscribe declares the queue, binds it, and starts consuming.
func (c *Client) Subscribe(keys []RoutingKey) (*Consumer, error) {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	for _, k := range keys {
		if err := c.ch.QueueBind(q.Name, k.String(), ExchangeName, false, nil); err != nil {
			return nil, fmt.Errorf("bind routing key %v: %w", k, err)
		}
	}

	deliveries, err := c.ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return &Consumer{deliveries: deliveries}, nil
}

// Next blocks for the next delivery, decodes its gzip-compressed JSON array
// of events, and acknowledges it. It also returns the monitor name parsed
// back out of the delivery's routing key, since PushedEvent itself carries
// no monitor field (monitoring.rs's publisher puts it only in the key).
// Returns io.EOF once the deliveries channel closes (the broker connection
// went away).
func (c *Consumer) Next() (monitorName string, events []PushedEvent, err error) {
	d, ok := <-c.deliveries
	if !ok {
		return "", nil, io.EOF
	}

	gz, err := gzip.NewReader(bytes.NewReader(d.Body))
	if err != nil {
		_ = d.Nack(false, false)
		return "", nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()

	if err := json.NewDecoder(gz).Decode(&events); err != nil {
		_ = d.Nack(false, false)
		return "", nil, fmt.Errorf("decode events: %w", err)
	}

	if err := d.Ack(false); err != nil {
		return "", nil, fmt.Errorf("ack delivery: %w", err)
	}
	return monitorNameFromRoutingKey(d.RoutingKey), events, nil
}

// monitorNameFromRoutingKey parses "monitor.<name>.<suffix>" back into
// <name>; it returns the raw key unchanged if it doesn't match that shape.
func monitorNameFromRoutingKey(key string) string {
	prefix := routingKeyPrefixMonitor + "."
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return key
	}
	rest := key[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '.' {
			return rest[:i]
		}
	}
	return rest
}

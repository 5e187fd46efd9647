// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

/*
phoenix.go - Phoenix Channels v2 wire format

Every frame is a five element JSON array:

	[join_ref, ref, topic, event, payload]

join_ref and ref are strings or null. Replies to a push arrive as a
"phx_reply" event carrying the ref of the push and a payload of
{"status": "ok"|"error", "response": {...}}.
*/

package feed

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Protocol level events and topics.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"

	TopicPhoenix = "phoenix"

	// TopicKillmails is the single channel topic the killmail feed serves.
	TopicKillmails = "killmails:lobby"

	// ProtocolVersion is sent as the vsn query parameter.
	ProtocolVersion = "2.0.0"
)

var emptyPayload = json.RawMessage(`{}`)

// Message is one Phoenix frame.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// MarshalJSON encodes the message in array form.
func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = emptyPayload
	}
	return json.Marshal([]interface{}{nullableRef(m.JoinRef), nullableRef(m.Ref), m.Topic, m.Event, payload})
}

// UnmarshalJSON decodes the array form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("phoenix frame is not an array: %w", err)
	}
	if len(parts) != 5 {
		return fmt.Errorf("phoenix frame has %d elements, want 5", len(parts))
	}

	joinRef, err := decodeRef(parts[0])
	if err != nil {
		return fmt.Errorf("join_ref: %w", err)
	}
	ref, err := decodeRef(parts[1])
	if err != nil {
		return fmt.Errorf("ref: %w", err)
	}
	var topic, event string
	if err := json.Unmarshal(parts[2], &topic); err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &event); err != nil {
		return fmt.Errorf("event: %w", err)
	}

	*m = Message{JoinRef: joinRef, Ref: ref, Topic: topic, Event: event, Payload: parts[4]}
	return nil
}

func nullableRef(ref string) interface{} {
	if ref == "" {
		return nil
	}
	return ref
}

// decodeRef accepts a string, a number or null.
func decodeRef(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Reply is the payload of a phx_reply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// OK reports whether the server accepted the push.
func (r Reply) OK() bool {
	return r.Status == "ok"
}

// ReplyError is returned when the server answers a push with a non-ok status.
type ReplyError struct {
	Event    string
	Status   string
	Response json.RawMessage
}

func (e *ReplyError) Error() string {
	if len(e.Response) == 0 {
		return fmt.Sprintf("%s rejected with status %q", e.Event, e.Status)
	}
	return fmt.Sprintf("%s rejected with status %q: %s", e.Event, e.Status, e.Response)
}

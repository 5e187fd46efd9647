// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// replyNone makes the mock server swallow a push without replying.
const replyNone = "none"

type mockPhoenixConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *mockPhoenixConn) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// mockPhoenixServer is a test WebSocket server that speaks just enough of
// the Phoenix channel protocol: joins, leaves, heartbeats and replies.
type mockPhoenixServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       []*mockPhoenixConn
	frames      []Message
	lastVsn     string
	replyStatus map[string]string

	joins           atomic.Int32
	rejectJoin      atomic.Bool
	ignoreJoin      atomic.Bool
	ignoreLeave     atomic.Bool
	ignoreHeartbeat atomic.Bool
}

func newMockPhoenixServer() *mockPhoenixServer {
	mock := &mockPhoenixServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		replyStatus: make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := mock.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		pc := &mockPhoenixConn{conn: conn}

		mock.mu.Lock()
		mock.lastVsn = r.URL.Query().Get("vsn")
		mock.conns = append(mock.conns, pc)
		mock.mu.Unlock()

		mock.serve(pc)
	}))

	return mock
}

func (m *mockPhoenixServer) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/socket/websocket"
}

func (m *mockPhoenixServer) serve(pc *mockPhoenixConn) {
	defer m.removeConn(pc)

	for {
		_, data, err := pc.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		m.mu.Lock()
		m.frames = append(m.frames, msg)
		status, ok := m.replyStatus[msg.Event]
		m.mu.Unlock()
		if !ok {
			status = "ok"
		}

		switch msg.Event {
		case EventJoin:
			m.joins.Add(1)
			if m.ignoreJoin.Load() {
				continue
			}
			if m.rejectJoin.Load() {
				_ = pc.send(reply(msg, "error", `{"reason":"unauthorized"}`))
				continue
			}
			_ = pc.send(reply(msg, "ok", `{}`))
		case EventHeartbeat:
			if !m.ignoreHeartbeat.Load() {
				_ = pc.send(reply(msg, "ok", `{}`))
			}
		case EventLeave:
			if !m.ignoreLeave.Load() {
				_ = pc.send(reply(msg, "ok", `{}`))
			}
		default:
			if status == replyNone {
				continue
			}
			_ = pc.send(reply(msg, status, `{}`))
		}
	}
}

func reply(to Message, status, response string) Message {
	payload := `{"status":"` + status + `","response":` + response + `}`
	return Message{JoinRef: to.JoinRef, Ref: to.Ref, Topic: to.Topic, Event: EventReply, Payload: json.RawMessage(payload)}
}

func (m *mockPhoenixServer) removeConn(pc *mockPhoenixConn) {
	_ = pc.conn.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.conns {
		if c == pc {
			m.conns = append(m.conns[:i], m.conns[i+1:]...)
			return
		}
	}
}

// setReply overrides the reply status for event ("ok", "error" or replyNone).
func (m *mockPhoenixServer) setReply(event, status string) {
	m.mu.Lock()
	m.replyStatus[event] = status
	m.mu.Unlock()
}

// push sends an event on the killmail topic to every connected client.
func (m *mockPhoenixServer) push(topic, event, payload string) {
	m.mu.Lock()
	conns := append([]*mockPhoenixConn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.send(Message{Topic: topic, Event: event, Payload: json.RawMessage(payload)})
	}
}

// dropAll closes every server-side connection.
func (m *mockPhoenixServer) dropAll() {
	m.mu.Lock()
	conns := append([]*mockPhoenixConn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

func (m *mockPhoenixServer) connCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *mockPhoenixServer) framesFor(event string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, f := range m.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (m *mockPhoenixServer) vsn() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVsn
}

func (m *mockPhoenixServer) close() {
	m.dropAll()
	m.server.Close()
}

// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

/*
client.go - Feed Connection Supervisor

Client keeps one Phoenix channel joined on the upstream killmail feed.

Lifecycle:
  - Connect dials the socket, joins the topic and starts the read loop and
    the heartbeat loop. It returns only after the first join succeeded.
  - The read loop reconnects with exponential backoff (1s up to
    ReconnectMaxDelay) when the socket drops, a heartbeat goes unanswered,
    or the server sends phx_error/phx_close for the topic.
  - After every successful join, including the first, the OnRejoin
    callback runs on its own goroutine. Its error is logged and counted,
    never fatal.
  - Disconnect sends phx_leave, waits at most LeaveTimeout for the reply and
    then tears the socket down regardless.

Inbound topic events are handed to the OnEvent callback from the read loop.
The callback must not block; the ingestion service enqueues and returns.
*/

package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/killfeed/internal/logging"
	"github.com/tomtom215/killfeed/internal/metrics"
)

// Sentinel errors returned by Client.
var (
	// ErrNotConnected is returned when a push is attempted without a joined socket.
	ErrNotConnected = errors.New("feed: not connected")

	// ErrJoinRejected is returned when the server answers phx_join with an error.
	ErrJoinRejected = errors.New("feed: join rejected")

	// ErrPushTimeout is returned when a push is not acknowledged in time.
	ErrPushTimeout = errors.New("feed: push timed out")

	// ErrClosed is returned by pushes that were pending when the client shut down.
	ErrClosed = errors.New("feed: client closed")
)

// EventHandler receives every non-protocol event on the joined topic.
type EventHandler func(event string, payload json.RawMessage)

// RejoinHandler runs after each successful join.
type RejoinHandler func(ctx context.Context) error

// Options configures a Client. Zero durations fall back to defaults.
type Options struct {
	URL         string
	Topic       string
	JoinPayload interface{}

	ConnectTimeout        time.Duration
	HeartbeatInterval     time.Duration
	PushTimeout           time.Duration
	LeaveTimeout          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

func (o *Options) applyDefaults() {
	if o.Topic == "" {
		o.Topic = TopicKillmails
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = 10 * time.Second
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = 5 * time.Second
	}
	if o.ReconnectInitialDelay <= 0 {
		o.ReconnectInitialDelay = 1 * time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 32 * time.Second
	}
	if o.ReconnectMaxDelay < o.ReconnectInitialDelay {
		o.ReconnectMaxDelay = o.ReconnectInitialDelay
	}
}

type pushResult struct {
	reply Reply
	err   error
}

// Client is a single-topic Phoenix channel client.
type Client struct {
	opts Options
	log  zerolog.Logger

	// Current socket and the join_ref of the live join
	conn    *websocket.Conn
	joinRef string
	connMu  sync.RWMutex

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	refCounter atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]chan pushResult

	heartbeatMu  sync.Mutex
	heartbeatRef string

	// Callbacks (protected by mutex)
	callbackMu sync.RWMutex
	onEvent    EventHandler
	onRejoin   RejoinHandler

	// Lifecycle management
	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	rejoinWG    sync.WaitGroup
	leaving     atomic.Bool
}

// NewClient creates a client. Nothing is dialed until Connect.
func NewClient(opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		opts:    opts,
		log:     logging.WithComponent("feed"),
		pending: make(map[string]chan pushResult),
	}
}

// OnEvent registers the handler for topic events.
func (c *Client) OnEvent(handler EventHandler) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onEvent = handler
}

// OnRejoin registers the callback invoked after every successful join.
func (c *Client) OnRejoin(handler RejoinHandler) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onRejoin = handler
}

// Connect dials the feed and joins the topic. It is a no-op when the client
// is already running. The dial and join are bounded by ConnectTimeout.
func (c *Client) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running {
		return nil
	}

	joinCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	if err := c.dialAndJoin(joinCtx); err != nil {
		return err
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.cancel = loopCancel
	c.running = true
	c.leaving.Store(false)

	c.wg.Add(2)
	go c.listen(loopCtx)
	go c.heartbeatLoop(loopCtx)

	c.fireRejoin(loopCtx)
	return nil
}

// IsConnected reports whether a socket is currently joined.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Disconnect leaves the topic and stops all background work. Safe to call
// more than once.
func (c *Client) Disconnect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.running {
		return nil
	}
	c.leaving.Store(true)

	c.log.Info().Str("topic", c.opts.Topic).Msg("Leaving feed topic")

	leaveCtx, cancel := context.WithTimeout(ctx, c.opts.LeaveTimeout)
	if _, err := c.Push(leaveCtx, EventLeave, nil); err != nil {
		c.log.Warn().Err(err).Msg("Topic leave not acknowledged, forcing teardown")
	}
	cancel()

	c.cancel()
	c.dropCurrent(ErrClosed)
	c.wg.Wait()
	c.dropCurrent(ErrClosed)
	c.rejoinWG.Wait()

	c.running = false
	c.cancel = nil
	c.log.Info().Msg("Feed client disconnected")
	return nil
}

// Push sends event on the joined topic and waits for its phx_reply. A
// non-ok reply is returned as *ReplyError.
func (c *Client) Push(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	body, err := encodePayload(payload)
	if err != nil {
		metrics.RecordPush(event, "error")
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	c.connMu.RLock()
	conn, joinRef := c.conn, c.joinRef
	c.connMu.RUnlock()
	if conn == nil {
		metrics.RecordPush(event, "not_connected")
		return nil, ErrNotConnected
	}

	ref := c.nextRef()
	resultCh := make(chan pushResult, 1)
	c.pendingMu.Lock()
	c.pending[ref] = resultCh
	c.pendingMu.Unlock()
	defer c.forgetPending(ref)

	msg := Message{JoinRef: joinRef, Ref: ref, Topic: c.opts.Topic, Event: event, Payload: body}
	if err := c.writeMessage(conn, msg); err != nil {
		metrics.RecordPush(event, "error")
		c.dropConnection(conn, ErrNotConnected)
		return nil, fmt.Errorf("failed to send %s: %w", event, err)
	}

	timer := time.NewTimer(c.opts.PushTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			metrics.RecordPush(event, "error")
			return nil, res.err
		}
		if !res.reply.OK() {
			metrics.RecordPush(event, "error")
			return nil, &ReplyError{Event: event, Status: res.reply.Status, Response: res.reply.Response}
		}
		metrics.RecordPush(event, "ok")
		return res.reply.Response, nil
	case <-timer.C:
		metrics.RecordPush(event, "timeout")
		return nil, fmt.Errorf("%s: %w", event, ErrPushTimeout)
	case <-ctx.Done():
		metrics.RecordPush(event, "timeout")
		return nil, fmt.Errorf("%s: %w", event, ctx.Err())
	}
}

// socketURL appends the protocol version to the configured endpoint.
func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	q := u.Query()
	q.Set("vsn", ProtocolVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialAndJoin opens a socket and completes the phx_join handshake on it.
// The read loop is not running while this executes, so replies are read
// inline.
func (c *Client) dialAndJoin(ctx context.Context) error {
	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}

	c.log.Info().Str("url", c.opts.URL).Str("topic", c.opts.Topic).Msg("Connecting to feed")

	dialer := websocket.Dialer{
		HandshakeTimeout:  c.opts.ConnectTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		metrics.FeedJoins.WithLabelValues("error").Inc()
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Debug().Err(cerr).Msg("Failed to close handshake response body")
		}
	}

	joinRef := c.nextRef()
	payload, err := encodePayload(c.opts.JoinPayload)
	if err != nil {
		c.closeConn(conn)
		return fmt.Errorf("failed to encode join payload: %w", err)
	}
	join := Message{JoinRef: joinRef, Ref: joinRef, Topic: c.opts.Topic, Event: EventJoin, Payload: payload}
	if err := c.writeMessage(conn, join); err != nil {
		c.closeConn(conn)
		metrics.FeedJoins.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to send join: %w", err)
	}

	reply, err := c.awaitJoinReply(ctx, conn, joinRef)
	if err != nil {
		c.closeConn(conn)
		if ctx.Err() != nil {
			metrics.FeedJoins.WithLabelValues("timeout").Inc()
			return fmt.Errorf("join %s timed out: %w", c.opts.Topic, ctx.Err())
		}
		metrics.FeedJoins.WithLabelValues("error").Inc()
		return fmt.Errorf("join %s failed: %w", c.opts.Topic, err)
	}
	if !reply.OK() {
		c.closeConn(conn)
		metrics.FeedJoins.WithLabelValues("error").Inc()
		replyErr := &ReplyError{Event: EventJoin, Status: reply.Status, Response: reply.Response}
		return fmt.Errorf("%w: %v", ErrJoinRejected, replyErr)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		c.log.Debug().Err(err).Msg("Failed to clear read deadline")
	}

	c.connMu.Lock()
	c.conn = conn
	c.joinRef = joinRef
	c.connMu.Unlock()
	c.clearHeartbeat()

	metrics.FeedJoins.WithLabelValues("ok").Inc()
	metrics.SetFeedConnected(true)
	c.log.Info().Str("topic", c.opts.Topic).Msg("Joined feed topic")
	return nil
}

func (c *Client) awaitJoinReply(ctx context.Context, conn *websocket.Conn, joinRef string) (Reply, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.ConnectTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Reply{}, err
	}

	// Closing the socket unblocks ReadMessage if ctx is cancelled early.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return Reply{}, err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug().Err(err).Msg("Ignoring undecodable frame during join")
			continue
		}
		if msg.Event != EventReply || msg.Topic != c.opts.Topic || msg.Ref != joinRef {
			continue
		}
		var reply Reply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return Reply{}, fmt.Errorf("invalid join reply: %w", err)
		}
		return reply, nil
	}
}

// listen reads frames from the current socket and reconnects when it drops.
func (c *Client) listen(ctx context.Context) {
	defer c.wg.Done()

	delay := c.opts.ReconnectInitialDelay
	readTimeout := 2 * c.opts.HeartbeatInterval

	for {
		if ctx.Err() != nil {
			return
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			if c.leaving.Load() {
				<-ctx.Done()
				return
			}

			c.log.Info().Dur("delay", delay).Msg("Feed connection lost, reconnecting")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > c.opts.ReconnectMaxDelay {
				delay = c.opts.ReconnectMaxDelay
			}

			metrics.FeedReconnects.Inc()
			joinCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
			err := c.dialAndJoin(joinCtx)
			cancel()
			if err != nil {
				c.log.Warn().Err(err).Msg("Feed reconnect failed")
				continue
			}
			delay = c.opts.ReconnectInitialDelay
			c.fireRejoin(ctx)
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			c.log.Debug().Err(err).Msg("Failed to set read deadline")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Msg("Feed connection closed by server")
			} else {
				c.log.Warn().Err(err).Msg("Feed read error")
			}
			c.dropConnection(conn, ErrNotConnected)
			continue
		}

		c.handleFrame(conn, data)
	}
}

// handleFrame routes one inbound frame.
func (c *Client) handleFrame(conn *websocket.Conn, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn().Err(err).Msg("Failed to parse feed frame")
		return
	}
	metrics.FeedMessagesReceived.WithLabelValues(msg.Event).Inc()

	switch {
	case msg.Event == EventReply:
		if msg.Topic == TopicPhoenix && c.ackHeartbeat(msg.Ref) {
			return
		}
		c.resolvePending(msg)

	case msg.Topic != c.opts.Topic:
		c.log.Debug().Str("topic", msg.Topic).Str("event", msg.Event).Msg("Ignoring frame for foreign topic")

	case msg.Event == EventError || msg.Event == EventClose:
		if c.leaving.Load() {
			return
		}
		c.log.Warn().Str("event", msg.Event).Str("topic", msg.Topic).Msg("Channel dropped by server, rejoining")
		c.dropConnection(conn, ErrNotConnected)

	default:
		c.callbackMu.RLock()
		handler := c.onEvent
		c.callbackMu.RUnlock()
		if handler != nil {
			handler(msg.Event, msg.Payload)
		}
	}
}

func (c *Client) resolvePending(msg Message) {
	var reply Reply
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		c.log.Warn().Err(err).Str("ref", msg.Ref).Msg("Failed to parse reply payload")
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[msg.Ref]
	delete(c.pending, msg.Ref)
	c.pendingMu.Unlock()

	if !ok {
		c.log.Debug().Str("ref", msg.Ref).Msg("Reply for unknown ref")
		return
	}
	ch <- pushResult{reply: reply}
}

func (c *Client) forgetPending(ref string) {
	c.pendingMu.Lock()
	delete(c.pending, ref)
	c.pendingMu.Unlock()
}

// failPending resolves every outstanding push with err.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for ref, ch := range c.pending {
		ch <- pushResult{err: err}
		delete(c.pending, ref)
	}
}

// heartbeatLoop sends a Phoenix heartbeat every interval. If the previous
// heartbeat is still unanswered the socket is considered dead.
func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}

			c.heartbeatMu.Lock()
			outstanding := c.heartbeatRef
			c.heartbeatMu.Unlock()
			if outstanding != "" {
				c.log.Warn().Str("ref", outstanding).Msg("Heartbeat not acknowledged, dropping connection")
				c.dropConnection(conn, ErrNotConnected)
				continue
			}

			ref := c.nextRef()
			c.heartbeatMu.Lock()
			c.heartbeatRef = ref
			c.heartbeatMu.Unlock()

			msg := Message{Ref: ref, Topic: TopicPhoenix, Event: EventHeartbeat}
			if err := c.writeMessage(conn, msg); err != nil {
				c.log.Warn().Err(err).Msg("Heartbeat failed")
				c.dropConnection(conn, ErrNotConnected)
			}
		}
	}
}

func (c *Client) ackHeartbeat(ref string) bool {
	c.heartbeatMu.Lock()
	defer c.heartbeatMu.Unlock()
	if ref == "" || ref != c.heartbeatRef {
		return false
	}
	c.heartbeatRef = ""
	return true
}

func (c *Client) clearHeartbeat() {
	c.heartbeatMu.Lock()
	c.heartbeatRef = ""
	c.heartbeatMu.Unlock()
}

// fireRejoin runs the rejoin callback without blocking the read loop, which
// must keep running to deliver the callback's push replies.
func (c *Client) fireRejoin(ctx context.Context) {
	c.callbackMu.RLock()
	handler := c.onRejoin
	c.callbackMu.RUnlock()
	if handler == nil {
		return
	}

	c.rejoinWG.Add(1)
	go func() {
		defer c.rejoinWG.Done()
		if err := handler(ctx); err != nil {
			metrics.FeedRejoinCallbackErrors.Inc()
			c.log.Warn().Err(err).Msg("Rejoin callback failed, will retry on next rejoin")
		}
	}()
}

// dropConnection tears down conn if it is still the current socket.
func (c *Client) dropConnection(conn *websocket.Conn, reason error) {
	c.connMu.Lock()
	if conn == nil || c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	c.joinRef = ""
	c.connMu.Unlock()

	c.closeConn(conn)
	c.clearHeartbeat()
	metrics.SetFeedConnected(false)
	c.failPending(reason)
}

func (c *Client) dropCurrent(reason error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	c.dropConnection(conn, reason)
}

// closeConn safely closes a socket
func (c *Client) closeConn(conn *websocket.Conn) {
	if err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(1*time.Second),
	); err != nil {
		c.log.Debug().Err(err).Msg("Failed to send close message")
	}
	if err := conn.Close(); err != nil {
		c.log.Debug().Err(err).Msg("Failed to close connection")
	}
}

func (c *Client) writeMessage(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.PushTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.refCounter.Add(1), 10)
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return emptyPayload, nil
	case json.RawMessage:
		if len(p) == 0 {
			return emptyPayload, nil
		}
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

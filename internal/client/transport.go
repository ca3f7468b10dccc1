// Package client implements the headless sync client: transport with
// reconnection, local motion prediction, server reconciliation, and remote
// entity interpolation. A renderer sits on top and only reads views.
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/plaza/server/config"
	"github.com/plaza/server/internal/protocol"
)

// ConnState is the externally observable connection state. UI layers watch
// it to indicate degraded behavior; StateFailed means retries are exhausted.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "disconnected"
}

var ErrNotConnected = errors.New("transport: not connected")

// Transport owns the persistent websocket connection: dialing, retry with
// backoff, message decoding, and dispatch to a single receive callback.
type Transport struct {
	url string
	log *zap.SugaredLogger

	onMessage   func(protocol.Message, time.Time)
	onState     func(ConnState)
	onReconnect func()

	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnState

	done      chan struct{}
	closeOnce sync.Once
}

// NewTransport creates a transport for the given ws:// URL. Register
// callbacks before calling Connect.
func NewTransport(url string, log *zap.SugaredLogger) *Transport {
	return &Transport{
		url:  url,
		log:  log,
		done: make(chan struct{}),
	}
}

// OnMessage registers the receive callback. It runs on the read goroutine
// with the message's receipt time.
func (t *Transport) OnMessage(fn func(protocol.Message, time.Time)) { t.onMessage = fn }

// OnStateChange registers a connection state observer.
func (t *Transport) OnStateChange(fn func(ConnState)) { t.onState = fn }

// OnReconnect registers a hook invoked each time a dropped connection has
// been re-established. The initial Connect does not trigger it. Runs on the
// goroutine that performed the redial; the session uses it to repeat the
// join handshake, since the server binds identity to a single connection.
func (t *Transport) OnReconnect(fn func()) { t.onReconnect = fn }

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the server and starts the read loop. An initial dial
// failure is returned to the caller; later drops reconnect automatically.
func (t *Transport) Connect() error {
	t.setState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		t.setState(StateDisconnected)
		return err
	}
	t.adopt(conn)
	return nil
}

// Send encodes and writes one message, stamping the send time.
func (t *Transport) Send(msgType protocol.MessageType, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.state != StateConnected {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the transport down. Idempotent; sends a normal close frame so
// the server sees an intentional departure, and suppresses reconnection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		}
		t.setState(StateDisconnected)
	})
	return nil
}

// adopt installs a live connection and spawns its read loop.
func (t *Transport) adopt(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(StateConnected)
	go t.readLoop(conn)
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		receivedAt := time.Now()
		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed payloads are logged and dropped; the connection
			// stays open.
			t.log.Warnw("drop malformed message", "error", err)
			continue
		}
		if t.onMessage != nil {
			t.onMessage(msg, receivedAt)
		}
	}

	select {
	case <-t.done:
		return // intentional local close
	default:
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		// Clean server-side close: do not fight it.
		t.setState(StateDisconnected)
		return
	}
	t.log.Warnw("connection lost", "error", readErr)
	t.reconnect()
}

// reconnect retries with a delay growing by attempt count. After the
// retries are exhausted the transport gives up and reports StateFailed.
func (t *Transport) reconnect() {
	t.setState(StateConnecting)
	for attempt := 1; attempt <= config.ReconnectMaxRetries; attempt++ {
		delay := config.ReconnectBaseDelay * time.Duration(attempt)
		select {
		case <-t.done:
			return
		case <-time.After(delay):
		}

		conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
		if err != nil {
			t.log.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		t.log.Infow("reconnected", "attempt", attempt)
		t.adopt(conn)
		if t.onReconnect != nil {
			t.onReconnect()
		}
		return
	}
	t.log.Errorw("reconnect attempts exhausted", "retries", config.ReconnectMaxRetries)
	t.setState(StateFailed)
}

func (t *Transport) setState(s ConnState) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	t.mu.Unlock()
	if changed && t.onState != nil {
		t.onState(s)
	}
}

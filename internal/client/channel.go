// Package client implements the connecting side of the event channel: the
// request/response channel itself, the media session coordinator and the local
// audio level monitor.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/protocol"
)

var (
	// ErrChannelClosed rejects calls made on a dead channel and every call
	// still pending when the channel dies.
	ErrChannelClosed = errors.New("client: channel closed")
	ErrCallTimeout   = errors.New("client: call timed out")
)

const defaultCallTimeout = 10 * time.Second

const channelWriteWait = 10 * time.Second

// CallError is a structured rejection from the far side of the channel.
type CallError struct {
	Code   string
	Reason string
}

func (e *CallError) Error() string { return e.Code + ": " + e.Reason }

// ChannelOptions configures a Channel. Only URL is required.
type ChannelOptions struct {
	URL         string
	Header      http.Header
	CallTimeout time.Duration

	// OnNotification receives server-pushed events. It runs on the read
	// goroutine: handlers that issue calls of their own must do so from a
	// separate goroutine or the response will never be read.
	OnNotification func(method string, data json.RawMessage)

	// OnDisconnect fires once per unexpected connection loss. It does not
	// fire for a local Close.
	OnDisconnect func(err error)
}

// Channel multiplexes request/response calls and one-way notifications over a
// single WebSocket. Responses are matched to calls by envelope id; every call
// carries a deadline, and calls in flight when the connection drops fail
// immediately instead of waiting out their timeout.
type Channel struct {
	opts ChannelOptions

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan protocol.Envelope
	nextID  uint64
	closed  bool
}

func NewChannel(opts ChannelOptions) *Channel {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Channel{
		opts:    opts,
		pending: make(map[uint64]chan protocol.Envelope),
	}
}

// Connect dials the signal endpoint and starts the read loop. Calling Connect
// on an already connected channel is a no-op; calling it after a disconnect
// establishes a fresh connection.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.conn != nil {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ch.opts.URL, ch.opts.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", ch.opts.URL, err)
	}

	ch.mu.Lock()
	if ch.conn != nil {
		// Lost a connect race; keep the first connection.
		ch.mu.Unlock()
		conn.Close()
		return nil
	}
	ch.conn = conn
	ch.closed = false
	ch.mu.Unlock()

	go ch.readLoop(conn)
	return nil
}

func (ch *Channel) Connected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn != nil
}

// Call sends a request and blocks for the matching response. A nil out skips
// decoding. The deadline is min(ctx, the channel's call timeout); a structured
// rejection surfaces as *CallError.
func (ch *Channel) Call(ctx context.Context, method string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	ch.mu.Lock()
	conn := ch.conn
	if conn == nil {
		ch.mu.Unlock()
		return ErrChannelClosed
	}
	ch.nextID++
	id := ch.nextID
	wait := make(chan protocol.Envelope, 1)
	ch.pending[id] = wait
	ch.mu.Unlock()

	if err := ch.write(conn, protocol.NewRequest(id, method, data)); err != nil {
		ch.dropPending(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, ch.opts.CallTimeout)
	defer cancel()

	select {
	case resp, ok := <-wait:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrChannelClosed)
		}
		if !resp.OK {
			return fmt.Errorf("%s: %w", method, &CallError{Code: resp.ErrorCode, Reason: resp.ErrorReason})
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		ch.dropPending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", method, ErrCallTimeout)
		}
		return ctx.Err()
	}
}

// Notify sends a fire-and-forget notification.
func (ch *Channel) Notify(method string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		return ErrChannelClosed
	}
	return ch.write(conn, protocol.NewNotification(method, data))
}

// Close shuts the channel down locally. Pending calls are rejected; the
// disconnect hook does not fire.
func (ch *Channel) Close() {
	ch.mu.Lock()
	ch.closed = true
	conn := ch.conn
	ch.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (ch *Channel) write(conn *websocket.Conn, env protocol.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(channelWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (ch *Channel) readLoop(conn *websocket.Conn) {
	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		switch {
		case env.Response:
			ch.mu.Lock()
			wait, ok := ch.pending[env.ID]
			delete(ch.pending, env.ID)
			ch.mu.Unlock()
			if ok {
				wait <- env
			}
		case env.Notification:
			if ch.opts.OnNotification != nil {
				ch.opts.OnNotification(env.Method, env.Data)
			}
		}
	}
	ch.teardown(conn, readErr)
}

// teardown releases the dead connection and fails every call still waiting on
// it. Calls never outlive the connection that carried them.
func (ch *Channel) teardown(conn *websocket.Conn, err error) {
	conn.Close()

	ch.mu.Lock()
	if ch.conn == conn {
		ch.conn = nil
	}
	wasClosed := ch.closed
	for id, wait := range ch.pending {
		delete(ch.pending, id)
		close(wait)
	}
	ch.mu.Unlock()

	if !wasClosed && ch.opts.OnDisconnect != nil {
		ch.opts.OnDisconnect(err)
	}
}

func (ch *Channel) dropPending(id uint64) {
	ch.mu.Lock()
	delete(ch.pending, id)
	ch.mu.Unlock()
}

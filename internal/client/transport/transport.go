// Package transport maintains the client side of the signaling channel:
// one persistent WebSocket to the relay for the lifetime of a screen, with
// named-event dispatch and automatic redial.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("transport not connected")

// Handler receives the raw frame of one named event. At most one handler
// is active per event name; re-registration replaces the previous handler
// so duplicate processing cannot occur.
type Handler func(data []byte)

const (
	writeWait        = 5 * time.Second
	initialRedialGap = time.Second
	maxRedialGap     = 15 * time.Second
)

// Transport is the signaling event channel. Emit is fire-and-forget; the
// relay guarantees per-connection delivery order, nothing more.
type Transport struct {
	url        string
	dialer     *websocket.Dialer
	pingPeriod time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan []byte
	connected bool
	closed    bool

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	onUp   func()
	onDown func(err error)
}

func New(url string, pingPeriod time.Duration) *Transport {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Transport{
		url:        url,
		dialer:     websocket.DefaultDialer,
		pingPeriod: pingPeriod,
		handlers:   make(map[string]Handler),
	}
}

// OnUp is invoked after every successful (re)connect; the session layer
// re-emits join from it. Set before Connect.
func (t *Transport) OnUp(fn func()) { t.onUp = fn }

// OnDown is invoked once per connection loss, before any redial attempt;
// the session layer tears down the peer link from it. Set before Connect.
func (t *Transport) OnDown(fn func(err error)) { t.onDown = fn }

// On registers the handler for an event name, replacing any previous one.
func (t *Transport) On(event string, h Handler) {
	t.handlerMu.Lock()
	t.handlers[event] = h
	t.handlerMu.Unlock()
}

// Off deregisters the handler for an event name.
func (t *Transport) Off(event string) {
	t.handlerMu.Lock()
	delete(t.handlers, event)
	t.handlerMu.Unlock()
}

// Connected reports whether the channel is currently up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect establishes the transport. Idempotent: a second call while
// connected is a no-op. The first dial is synchronous so configuration
// errors surface immediately; later redials happen in the background.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.dial(ctx); err != nil {
		return err
	}
	if t.onUp != nil {
		t.onUp()
	}
	return nil
}

func (t *Transport) dial(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.send = make(chan []byte, 32)
	t.connected = true
	send := t.send
	t.mu.Unlock()

	go t.writePump(conn, send)
	go t.readPump(ctx, conn)

	log.Info().Str("module", "transport").Str("url", t.url).Msg("signaling connected")
	return nil
}

// Emit sends one named event. The payload is flattened into the frame and
// tagged with the event name. No delivery confirmation, no retry.
func (t *Transport) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	frame["type"] = event
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	// Enqueue under the lock so a concurrent disconnect cannot close the
	// channel out from under us.
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	select {
	case t.send <- data:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (t *Transport) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(t.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "transport").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *Transport) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDown(ctx, err)
			return
		}
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("bad frame")
		return
	}

	t.handlerMu.RLock()
	h, ok := t.handlers[env.Type]
	t.handlerMu.RUnlock()
	if !ok {
		log.Debug().Str("module", "transport").Str("type", env.Type).Msg("no handler for event")
		return
	}
	h(data)
}

// handleDown clears connected state, notifies the session layer, then
// redials with capped backoff until it succeeds or the transport closes.
func (t *Transport) handleDown(ctx context.Context, cause error) {
	t.mu.Lock()
	if t.closed || !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	close(t.send)
	_ = t.conn.Close()
	t.conn = nil
	t.mu.Unlock()

	log.Warn().Err(cause).Str("module", "transport").Msg("signaling disconnected")
	if t.onDown != nil {
		t.onDown(cause)
	}

	gap := initialRedialGap
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(gap):
		}

		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}

		if err := t.dial(ctx); err != nil {
			log.Warn().Err(err).Str("module", "transport").Dur("next_in", gap).Msg("redial failed")
			if gap *= 2; gap > maxRedialGap {
				gap = maxRedialGap
			}
			continue
		}
		if t.onUp != nil {
			t.onUp()
		}
		return
	}
}

// Close tears the transport down for good. No redial after Close.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.connected {
		t.connected = false
		close(t.send)
		_ = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
	log.Info().Str("module", "transport").Msg("signaling closed")
}

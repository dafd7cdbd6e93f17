// Package stream is the endpoint side of the vigil streaming protocol:
// connect, resync, replay, and at-least-once delivery of signal events
// across restartable network connections.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vigilops/vigil/internal/signal"
	"github.com/vigilops/vigil/internal/wire"
)

var (
	// ErrBufferFull means the replay buffer is at capacity; the caller
	// drops the reading rather than growing memory without bound.
	ErrBufferFull = errors.New("replay buffer full")
	// ErrSessionClosed means the server ended the session; reconnecting
	// will not help and the agent should stop.
	ErrSessionClosed = errors.New("session closed by server")
)

// Config sets up the endpoint client for exactly one session.
type Config struct {
	URL       string
	SessionID string
	Token     string

	// BufferSize bounds the unacknowledged replay buffer.
	BufferSize int
	// ReconnectMin/Max bound the backoff between connection attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	WriteTimeout time.Duration
}

func (c *Config) fill() {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

type pending struct {
	ev   *signal.Event
	sent bool
}

// Client owns the endpoint's sequence counter and replay buffer. Publish
// may be called from detector goroutines; Run owns the connection.
type Client struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	queue   []*pending
	nextSeq uint64
	acked   uint64

	notify chan struct{}
	scores chan wire.ScorePayload
}

// NewClient constructs a client. Call Run to start the connection loop.
func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg.fill()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		log:    log.With("session_id", cfg.SessionID),
		notify: make(chan struct{}, 1),
		scores: make(chan wire.ScorePayload, 1),
	}
}

// Scores exposes the latest server score broadcast. The channel holds only
// the most recent value; intermediate scores are dropped by design.
func (c *Client) Scores() <-chan wire.ScorePayload { return c.scores }

// LastAcked returns the highest sequence number the server has confirmed.
func (c *Client) LastAcked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

// Publish assigns the next sequence number to the event and queues it for
// delivery. The event stays buffered until the server acknowledges it.
func (c *Client) Publish(ev *signal.Event) error {
	c.mu.Lock()
	if len(c.queue) >= c.cfg.BufferSize {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d events unacknowledged", ErrBufferFull, c.cfg.BufferSize)
	}
	ev.Seq = c.nextSeq + 1
	ev.SessionID = c.cfg.SessionID
	if err := ev.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.nextSeq++
	c.queue = append(c.queue, &pending{ev: ev})
	c.mu.Unlock()

	c.wake()
	return nil
}

// Run drives the connect/resync/stream loop until ctx is canceled or the
// server closes the session. Transport disconnection is never terminal.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.ReconnectMin
	for {
		err := c.runConn(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrSessionClosed):
			return err
		}

		c.log.Info("stream.reconnect", "backoff", backoff.String(), "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) runConn(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{wire.Subprotocol},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(1 << 16)

	serverSeq, err := c.handshake(ctx, conn)
	if err != nil {
		return err
	}
	c.resync(serverSeq)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(connCtx, conn) }()

	c.wake()
	for {
		select {
		case <-connCtx.Done():
			return connCtx.Err()
		case err := <-readErr:
			return err
		case <-c.notify:
			if err := c.flush(connCtx, conn); err != nil {
				return err
			}
		}
	}
}

// handshake sends hello and waits for the server's cursor.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (uint64, error) {
	c.mu.Lock()
	lastAcked := c.acked
	c.mu.Unlock()

	hello, err := wire.New(wire.TypeHello, wire.HelloPayload{
		SessionID:    c.cfg.SessionID,
		Token:        c.cfg.Token,
		LastEventSeq: lastAcked,
	})
	if err != nil {
		return 0, err
	}
	if err := c.write(ctx, conn, hello); err != nil {
		return 0, fmt.Errorf("send hello: %w", err)
	}

	env, err := c.read(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("await hello_ack: %w", err)
	}
	switch env.Type {
	case wire.TypeHelloAck:
		var ack wire.HelloAckPayload
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			return 0, fmt.Errorf("bad hello_ack: %w", err)
		}
		return ack.LastAppliedSeq, nil
	case wire.TypeError:
		var p wire.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.Code == wire.CodeSessionClosed || p.Code == wire.CodeSessionNotFound {
			return 0, fmt.Errorf("%w: %s", ErrSessionClosed, p.Message)
		}
		return 0, fmt.Errorf("handshake rejected: %s: %s", p.Code, p.Message)
	default:
		return 0, fmt.Errorf("unexpected handshake reply: %s", env.Type)
	}
}

// resync reconciles the replay buffer with the server's cursor: everything
// at or below it is confirmed applied and discarded, everything above is
// marked for replay. This bounds redelivery to genuinely unacknowledged
// events.
func (c *Client) resync(serverSeq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if serverSeq > c.acked {
		c.acked = serverSeq
	}
	if serverSeq >= c.nextSeq {
		c.nextSeq = serverSeq
	}
	kept := c.queue[:0]
	for _, p := range c.queue {
		if p.ev.Seq <= serverSeq {
			continue
		}
		p.sent = false
		kept = append(kept, p)
	}
	c.queue = kept
	c.log.Info("stream.resync", "server_seq", serverSeq, "replay", len(c.queue))
}

// flush writes every queued event not yet sent on this connection.
func (c *Client) flush(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	var batch []*signal.Event
	for _, p := range c.queue {
		if !p.sent {
			p.sent = true
			batch = append(batch, p.ev)
		}
	}
	c.mu.Unlock()

	for _, ev := range batch {
		env, err := wire.New(wire.TypeSignal, wire.FromEvent(ev))
		if err != nil {
			return err
		}
		if err := c.write(ctx, conn, env); err != nil {
			return fmt.Errorf("send signal: %w", err)
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		env, err := c.read(ctx, conn)
		if err != nil {
			return err
		}
		switch env.Type {
		case wire.TypeSignalAck:
			var ack wire.SignalAckPayload
			if err := json.Unmarshal(env.Payload, &ack); err == nil {
				c.handleAck(ack.Seq)
			}
		case wire.TypeScore:
			var score wire.ScorePayload
			if err := json.Unmarshal(env.Payload, &score); err == nil {
				c.pushScore(score)
			}
		case wire.TypeAlert:
			// Alerts are observer-facing; the endpoint only logs them.
			c.log.Info("stream.alert_received")
		case wire.TypeClose:
			return ErrSessionClosed
		case wire.TypeError:
			var p wire.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.Code == wire.CodeSessionClosed {
				return ErrSessionClosed
			}
			c.log.Warn("stream.server_error", "code", p.Code, "message", p.Message)
		}
	}
}

// handleAck drops acknowledged events from the replay buffer. Acks are
// cumulative.
func (c *Client) handleAck(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq > c.acked {
		c.acked = seq
	}
	kept := c.queue[:0]
	for _, p := range c.queue {
		if p.ev.Seq <= seq {
			continue
		}
		kept = append(kept, p)
	}
	c.queue = kept
}

// pushScore coalesces: only the latest score is retained.
func (c *Client) pushScore(score wire.ScorePayload) {
	for {
		select {
		case c.scores <- score:
			return
		default:
			select {
			case <-c.scores:
			default:
			}
		}
	}
}

func (c *Client) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) (wire.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return wire.Envelope{}, err
	}
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return wire.Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return wire.Envelope{}, err
	}
	return env, nil
}

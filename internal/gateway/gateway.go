// Package gateway is the websocket transport of the vigil server: it runs
// the resync handshake with monitored endpoints, applies their signal
// streams in sequence order, and fans score updates out to observers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vigilops/vigil/internal/auth"
	"github.com/vigilops/vigil/internal/metrics"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/signal"
	"github.com/vigilops/vigil/internal/wire"
)

const (
	defaultWriteTimeout  = 5 * time.Second
	defaultReadIdle      = 2 * time.Minute
	defaultHandshakeWait = 10 * time.Second
	defaultSendQueue     = 256
	maxFrameBytes        = 1 << 16
	maxPingFailures      = 3
)

// Config tunes transport behavior.
type Config struct {
	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendQueueSize     int
	// ReorderWindow bounds how long an out-of-order event may wait for the
	// gap below it to fill before the gap is skipped as lost.
	ReorderWindow time.Duration
	// ReorderMaxPending bounds the reorder buffer size.
	ReorderMaxPending int
}

func (c *Config) fill() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdle
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueue
	}
	if c.ReorderWindow <= 0 {
		c.ReorderWindow = 3 * time.Second
	}
	if c.ReorderMaxPending <= 0 {
		c.ReorderMaxPending = 256
	}
}

// Gateway terminates websocket connections for endpoints and observers.
type Gateway struct {
	log    *slog.Logger
	reg    *session.Registry
	hub    *Hub
	verify auth.Verifier
	cfg    Config
}

// New constructs a gateway.
func New(log *slog.Logger, reg *session.Registry, hub *Hub, verify auth.Verifier, cfg Config) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg.fill()
	return &Gateway{log: log, reg: reg, hub: hub, verify: verify, cfg: cfg}
}

// ---- endpoint (ingest) side ----

// HandleIngest upgrades an endpoint connection, runs the resync handshake,
// and streams signal events into the session worker.
func (g *Gateway) HandleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := g.accept(w, r)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	metrics.ConnectionsTotal.WithLabelValues("ingest").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Handshake: the first frame must be hello, carrying session_id, the
	// endpoint's sequence cursor, and the session token.
	hsCtx, hsCancel := context.WithTimeout(ctx, defaultHandshakeWait)
	env, err := readEnvelope(hsCtx, conn)
	hsCancel()
	if err != nil || env.Type != wire.TypeHello {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	var hello wire.HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil || hello.SessionID == "" {
		_ = conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return
	}
	if err := g.verify.Verify(hello.Token, hello.SessionID); err != nil {
		g.log.Info("ingest.reject.token", "session_id", hello.SessionID, "err", err)
		g.writeError(ctx, conn, wire.CodeUnauthorized, "token rejected")
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	handle, err := g.reg.Attach(ctx, hello.SessionID)
	if err != nil {
		g.writeError(ctx, conn, wire.CodeSessionNotFound, err.Error())
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}
	snap, err := g.reg.Get(ctx, hello.SessionID)
	if err != nil {
		g.writeError(ctx, conn, wire.CodeSessionClosed, err.Error())
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		return
	}
	if snap.State == session.StateClosed {
		g.writeError(ctx, conn, wire.CodeSessionClosed, "session closed")
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		return
	}

	ack, err := wire.New(wire.TypeHelloAck, wire.HelloAckPayload{
		SessionID:      snap.SessionID,
		LastAppliedSeq: snap.LastSeq,
		State:          string(snap.State),
	})
	if err != nil {
		return
	}
	if err := writeEnvelope(ctx, conn, ack, g.cfg.WriteTimeout); err != nil {
		return
	}
	if hello.LastEventSeq > 0 || snap.LastSeq > 0 {
		metrics.Resyncs.Inc()
	}
	g.log.Info("ingest.resync",
		"session_id", snap.SessionID,
		"server_seq", snap.LastSeq,
		"endpoint_seq", hello.LastEventSeq)

	c := &ingestConn{
		gw:       g,
		conn:     conn,
		handle:   handle,
		session:  snap.SessionID,
		events:   make(chan *signal.Event, g.cfg.SendQueueSize),
		outbound: make(chan wire.Envelope, g.cfg.SendQueueSize),
		buffer:   newReorderBuffer(snap.LastSeq, g.cfg.ReorderWindow, g.cfg.ReorderMaxPending),
	}
	c.run(ctx, cancel)
}

// ingestConn is the state of one live endpoint connection.
type ingestConn struct {
	gw      *Gateway
	conn    *websocket.Conn
	handle  *session.Handle
	session string

	events   chan *signal.Event
	outbound chan wire.Envelope
	buffer   *reorderBuffer

	closeOnce sync.Once
}

func (c *ingestConn) run(ctx context.Context, cancel context.CancelFunc) {
	// The endpoint also receives score/alert frames; register it as an
	// observer of its own session so all writes funnel through one queue.
	observerID := "endpoint-" + uuid.NewString()
	obs := c.gw.hub.join(c.session, observerID)
	defer c.gw.hub.leave(c.session, observerID)

	shutdown := func(code websocket.StatusCode, reason string) {
		c.closeOnce.Do(func() {
			_ = c.conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-obs.done:
				return
			case env := <-c.outbound:
				if err := writeEnvelope(ctx, c.conn, env, c.gw.cfg.WriteTimeout); err != nil {
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			case env := <-obs.send:
				if err := writeEnvelope(ctx, c.conn, env, c.gw.cfg.WriteTimeout); err != nil {
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	go c.heartbeat(ctx, shutdown)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pump(ctx, shutdown)
	}()

	c.readLoop(ctx, shutdown)
	shutdown(websocket.StatusNormalClosure, "bye")
	<-pumpDone
	<-writerDone
}

// readLoop parses frames off the wire and feeds the pump. It never applies
// events itself; ordering is the pump's job.
func (c *ingestConn) readLoop(ctx context.Context, shutdown func(websocket.StatusCode, string)) {
	for {
		readCtx, readCancel := context.WithTimeout(ctx, c.gw.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, c.conn)
		readCancel()
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				shutdown(websocket.StatusNormalClosure, "peer closed")
				return
			}
			if errors.Is(err, errBadJSON) {
				c.gw.writeError(ctx, c.conn, wire.CodeBadEnvelope, "invalid JSON")
				continue
			}
			shutdown(websocket.StatusAbnormalClosure, "read failed")
			return
		}
		if err := env.Validate(); err != nil {
			c.sendError(wire.CodeBadEnvelope, err.Error())
			continue
		}

		switch env.Type {
		case wire.TypeSignal:
			var p wire.SignalPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				c.sendError(wire.CodeBadPayload, "invalid signal payload")
				metrics.EventsDropped.WithLabelValues("bad_payload").Inc()
				continue
			}
			ev := p.Event()
			if ev.SessionID != c.session {
				c.sendError(wire.CodeBadPayload, "session_id mismatch")
				metrics.EventsDropped.WithLabelValues("session_mismatch").Inc()
				continue
			}
			if err := ev.Validate(); err != nil && !errors.Is(err, signal.ErrUnrecognizedType) {
				// Malformed payloads degrade accuracy, never the session.
				metrics.EventsDropped.WithLabelValues("invalid_payload").Inc()
				c.sendError(wire.CodeInvalidSignal, err.Error())
				continue
			}
			// Unknown signal types flow through: they occupy a sequence
			// slot, and the engine drops and counts them on apply.
			select {
			case <-ctx.Done():
				return
			case c.events <- ev:
			}

		case wire.TypeClose:
			var p wire.ClosePayload
			_ = json.Unmarshal(env.Payload, &p)
			reason := p.Reason
			if reason == "" {
				reason = "endpoint close"
			}
			_ = c.gw.reg.Close(ctx, c.session, reason)
			shutdown(websocket.StatusNormalClosure, "closed")
			return

		default:
			c.sendError(wire.CodeBadEnvelope, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}
}

// pump owns the reordering buffer and is the only path into the session
// worker for this connection. It also arms the gap-expiry timer; closing
// the session cancels it via the handle's done channel.
func (c *ingestConn) pump(ctx context.Context, shutdown func(websocket.StatusCode, string)) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	rearm := func() {
		if timerArmed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerArmed = false
		}
		if dl := c.buffer.deadline(); !dl.IsZero() {
			timer.Reset(time.Until(dl))
			timerArmed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.handle.Done():
			// Session closed while the connection is still up: reject
			// further traffic and let in-flight writes drain.
			c.sendError(wire.CodeSessionClosed, "session closed")
			shutdown(websocket.StatusNormalClosure, "session closed")
			return
		case ev := <-c.events:
			ready, skipped, res := c.buffer.offer(ev, time.Now())
			if res == offerDuplicate {
				// Redelivery after reconnect; dropping keeps Apply idempotent.
				metrics.EventsDropped.WithLabelValues("duplicate").Inc()
				c.ack()
				rearm()
				continue
			}
			c.recordGap(skipped)
			if !c.apply(ctx, ready) {
				shutdown(websocket.StatusNormalClosure, "session closed")
				return
			}
			rearm()
		case <-timer.C:
			timerArmed = false
			ready, skipped := c.buffer.expire(time.Now())
			c.recordGap(skipped)
			if !c.apply(ctx, ready) {
				shutdown(websocket.StatusNormalClosure, "session closed")
				return
			}
			rearm()
		}
	}
}

// apply feeds in-order events to the session worker. Returns false when
// the session has been closed underneath the connection.
func (c *ingestConn) apply(ctx context.Context, ready []*signal.Event) bool {
	for _, ev := range ready {
		_, _, err := c.gw.reg.Apply(ctx, c.handle, ev)
		switch {
		case err == nil:
		case errors.Is(err, signal.ErrUnrecognizedType):
			metrics.UnrecognizedSignals.Inc()
		case errors.Is(err, session.ErrDuplicate):
			metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		case errors.Is(err, session.ErrClosed):
			c.sendError(wire.CodeSessionClosed, "session closed")
			return false
		default:
			c.gw.log.Error("ingest.apply_failed", "session_id", c.session, "seq", ev.Seq, "err", err)
		}
	}
	if len(ready) > 0 {
		c.ack()
	}
	return true
}

func (c *ingestConn) recordGap(skipped uint64) {
	if skipped == 0 {
		return
	}
	metrics.SequenceGaps.Add(float64(skipped))
	c.gw.log.Warn("ingest.sequence_gap", "session_id", c.session, "skipped", skipped)
}

// ack sends the cumulative cursor; the endpoint trims its replay buffer up
// to and including this sequence number.
func (c *ingestConn) ack() {
	env, err := wire.New(wire.TypeSignalAck, wire.SignalAckPayload{Seq: c.buffer.next - 1})
	if err != nil {
		return
	}
	select {
	case c.outbound <- env:
	default:
	}
}

func (c *ingestConn) sendError(code, msg string) {
	env, err := wire.New(wire.TypeError, wire.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	select {
	case c.outbound <- env:
	default:
	}
}

func (c *ingestConn) heartbeat(ctx context.Context, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(c.gw.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, c.gw.cfg.HeartbeatTimeout)
			err := c.conn.Ping(hbCtx)
			hbCancel()
			if err != nil {
				failures++
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- observer side ----

// HandleObserve attaches a dashboard consumer to the score/alert feed.
// With no session_id query parameter the observer sees every session.
func (g *Gateway) HandleObserve(w http.ResponseWriter, r *http.Request) {
	conn, err := g.accept(w, r)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	metrics.ConnectionsTotal.WithLabelValues("observe").Inc()

	sessionID := r.URL.Query().Get("session_id")
	observerID := "observer-" + uuid.NewString()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	obs := g.hub.join(sessionID, observerID)
	defer g.hub.leave(sessionID, observerID)

	// Push the current snapshots immediately so a late-joining observer is
	// not blind until the next score change.
	for _, snap := range g.snapshotsFor(ctx, sessionID) {
		if env, err := wire.New(wire.TypeScore, scorePayload(snap)); err == nil {
			_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
		}
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			// Observers send nothing meaningful; reading surfaces closure.
			if _, err := readEnvelope(ctx, conn); err != nil {
				cancel()
				return
			}
		}
	}()

	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case env := <-obs.send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				return
			}
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()
			if err != nil {
				return
			}
		}
	}
}

func (g *Gateway) snapshotsFor(ctx context.Context, sessionID string) []session.Snapshot {
	if sessionID == "" {
		return g.reg.List(ctx)
	}
	snap, err := g.reg.Get(ctx, sessionID)
	if err != nil {
		return nil
	}
	return []session.Snapshot{snap}
}

// ---- shared plumbing ----

func (g *Gateway) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wire.Subprotocol},
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return nil, err
	}
	if sp := conn.Subprotocol(); sp != wire.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("subprotocol mismatch: %q", sp)
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func (g *Gateway) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	env, err := wire.New(wire.TypeError, wire.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
}

var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (wire.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return wire.Envelope{}, err
	}
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env wire.Envelope, timeout time.Duration) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

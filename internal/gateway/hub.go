package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vigilops/vigil/internal/metrics"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/wire"
)

// observer is one connected dashboard consumer.
//
// Send is intentionally never closed by the hub so concurrent broadcasters
// cannot panic; done signals shutdown instead.
type observer struct {
	id   string
	send chan wire.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newObserver(id string, queue int) *observer {
	if queue <= 0 {
		queue = 64
	}
	return &observer{
		id:   id,
		send: make(chan wire.Envelope, queue),
		done: make(chan struct{}),
	}
}

func (o *observer) close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// Hub fans score and alert updates out to observers. Membership is keyed
// by session ID; an observer registered under the empty key receives
// updates for every session.
//
// Broadcast never blocks: under backpressure the envelope is dropped, and
// the consumer catches up on the next update. Intermediate scores carry no
// meaning of their own, so coalescing is safe.
type Hub struct {
	log       *slog.Logger
	queueSize int

	mu     sync.RWMutex
	groups map[string]map[string]*observer
}

// NewHub constructs an observer hub.
func NewHub(log *slog.Logger, queueSize int) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		queueSize: queueSize,
		groups:    make(map[string]map[string]*observer),
	}
}

func (h *Hub) join(sessionID, observerID string) *observer {
	o := newObserver(observerID, h.queueSize)

	h.mu.Lock()
	g, ok := h.groups[sessionID]
	if !ok {
		g = make(map[string]*observer)
		h.groups[sessionID] = g
	}
	g[observerID] = o
	h.mu.Unlock()

	h.log.Info("observer.join", "session_id", sessionID, "observer_id", observerID)
	return o
}

func (h *Hub) leave(sessionID, observerID string) {
	h.mu.Lock()
	var o *observer
	if g, ok := h.groups[sessionID]; ok {
		o = g[observerID]
		delete(g, observerID)
		if len(g) == 0 {
			delete(h.groups, sessionID)
		}
	}
	h.mu.Unlock()

	if o != nil {
		o.close()
	}
	h.log.Info("observer.leave", "session_id", sessionID, "observer_id", observerID)
}

func (h *Hub) broadcast(sessionID string, env wire.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, key := range []string{sessionID, ""} {
		for _, o := range h.groups[key] {
			select {
			case <-o.done:
			case o.send <- env:
			default:
				metrics.BroadcastsDropped.Inc()
			}
		}
	}
}

// ScoreUpdated implements session.Broadcaster.
func (h *Hub) ScoreUpdated(snap session.Snapshot) {
	env, err := wire.New(wire.TypeScore, scorePayload(snap))
	if err != nil {
		return
	}
	h.broadcast(snap.SessionID, env)
}

// AlertRaised implements session.Broadcaster.
func (h *Hub) AlertRaised(alert session.Alert, snap session.Snapshot) {
	env, err := wire.New(wire.TypeAlert, wire.AlertPayload{
		SessionID:   alert.SessionID,
		Score:       alert.Score,
		Reason:      string(alert.Reason),
		TriggeredAt: alert.TriggeredAt,
	})
	if err != nil {
		return
	}
	h.broadcast(snap.SessionID, env)
}

// SessionClosed implements session.Broadcaster.
func (h *Hub) SessionClosed(snap session.Snapshot, reason string) {
	env, err := wire.New(wire.TypeClose, wire.ClosePayload{
		SessionID: snap.SessionID,
		Reason:    reason,
	})
	if err != nil {
		return
	}
	h.broadcast(snap.SessionID, env)
}

func scorePayload(snap session.Snapshot) wire.ScorePayload {
	comps := make(map[string]float64, len(snap.Components))
	for t, v := range snap.Components {
		comps[string(t)] = v
	}
	return wire.ScorePayload{
		SessionID:   snap.SessionID,
		Score:       snap.Score,
		State:       string(snap.State),
		Components:  comps,
		LostContact: snap.LostContact,
		At:          time.Now().UTC(),
	}
}

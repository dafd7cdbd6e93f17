package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil/internal/fusion"
	"github.com/vigilops/vigil/internal/metrics"
	"github.com/vigilops/vigil/internal/signal"
)

// Store persists session rows and append-only alert history.
type Store interface {
	SaveSession(ctx context.Context, snap Snapshot) error
	AppendAlert(ctx context.Context, alert Alert) error
}

// ResumeStore keeps the minimal state needed to survive a server restart
// without breaking the resync handshake.
type ResumeStore interface {
	Save(ctx context.Context, id, candidate string, lastSeq uint64) error
	Load(ctx context.Context, id string) (candidate string, lastSeq uint64, ok bool, err error)
	Delete(ctx context.Context, id string) error
}

// Broadcaster receives score and alert updates for fan-out to observers.
// Delivery is best effort; implementations must not block.
type Broadcaster interface {
	ScoreUpdated(snap Snapshot)
	AlertRaised(alert Alert, snap Snapshot)
	SessionClosed(snap Snapshot, reason string)
}

// Config sets registry-wide policy.
type Config struct {
	Engine fusion.Config
	// IdleTimeout evicts a session after this long without events.
	IdleTimeout time.Duration
	// LostContactAfter marks a session as out of contact on snapshots.
	LostContactAfter time.Duration
	// JanitorInterval is how often idle sessions are swept.
	JanitorInterval time.Duration
}

// Deps are the optional collaborators of the registry. Nil fields disable
// the corresponding concern.
type Deps struct {
	Log       *slog.Logger
	Store     Store
	Resume    ResumeStore
	Broadcast Broadcaster
}

// Registry holds one live session per candidate and isolates their state:
// every session is driven by exactly one worker goroutine, so engine state
// needs no locking. The registry map itself is guarded by a single
// coarse-grained lock.
type Registry struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Handle

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Handle is the registry's per-session entry point. All operations are
// funneled through the session's worker channel.
type Handle struct {
	ID string

	reqs      chan request
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the session worker has shut down. The transport uses
// it to cancel in-flight reordering timers for closed sessions.
func (h *Handle) Done() <-chan struct{} { return h.done }

type request struct {
	ev     *signal.Event
	close  bool
	reason string
	resp   chan response
}

type response struct {
	snap  Snapshot
	alert *Alert
	err   error
}

// NewRegistry constructs a registry. Call Start to run the idle janitor.
func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Handle),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the idle-timeout janitor.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.janitor(ctx)
}

// Stop closes every live session and waits for workers to drain.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		_, _ = r.close(h, "server shutdown")
	}
	r.wg.Wait()
}

// Create registers a new pending session and returns its snapshot.
func (r *Registry) Create(ctx context.Context, candidate string) (Snapshot, error) {
	id := uuid.NewString()
	h, err := r.spawn(id, candidate, 0)
	if err != nil {
		return Snapshot{}, err
	}
	if r.deps.Resume != nil {
		if err := r.deps.Resume.Save(ctx, id, candidate, 0); err != nil {
			r.deps.Log.Warn("session.resume.save_failed", "session_id", id, "err", err)
		}
	}
	return r.snapshot(h)
}

// Attach returns the handle for a live session. If the session is gone but
// the resume store still knows it (server restart), it is re-created with
// its sequence cursor restored so the endpoint's replay lands correctly.
func (r *Registry) Attach(ctx context.Context, id string) (*Handle, error) {
	r.mu.Lock()
	h, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		return h, nil
	}

	if r.deps.Resume != nil {
		candidate, lastSeq, found, err := r.deps.Resume.Load(ctx, id)
		if err != nil {
			r.deps.Log.Warn("session.resume.load_failed", "session_id", id, "err", err)
		} else if found {
			r.deps.Log.Info("session.resume.restored", "session_id", id, "last_seq", lastSeq)
			return r.spawn(id, candidate, lastSeq)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Apply serializes one event into the session's worker and returns the
// updated snapshot plus the alert it raised, if any.
func (r *Registry) Apply(ctx context.Context, h *Handle, ev *signal.Event) (Snapshot, *Alert, error) {
	resp, err := r.send(ctx, h, request{ev: ev})
	if err != nil {
		return Snapshot{}, nil, err
	}
	return resp.snap, resp.alert, resp.err
}

// Get returns the snapshot for a session by ID.
func (r *Registry) Get(ctx context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	h, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.snapshot(h)
}

// List returns snapshots for every live session.
func (r *Registry) List(ctx context.Context) []Snapshot {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(handles))
	for _, h := range handles {
		if snap, err := r.snapshot(h); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// Close ends a session explicitly and evicts it from the registry.
func (r *Registry) Close(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	h, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err := r.close(h, reason)
	return err
}

func (r *Registry) spawn(id, candidate string, lastSeq uint64) (*Handle, error) {
	engine, err := fusion.NewEngine(r.cfg.Engine)
	if err != nil {
		return nil, err
	}
	sess := New(id, candidate, engine, time.Now().UTC())
	if lastSeq > 0 {
		sess.Restore(lastSeq)
	}

	h := &Handle{
		ID:   id,
		reqs: make(chan request),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[id] = h
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	r.deps.Log.Info("session.created", "session_id", id, "candidate", candidate, "last_seq", lastSeq)

	r.wg.Add(1)
	go r.work(h, sess)
	return h, nil
}

// work is the single worker for one session. Event application is strictly
// serialized here; that serialization is what upholds the per-session
// ordering contract.
func (r *Registry) work(h *Handle, sess *Session) {
	defer r.wg.Done()
	defer h.closeOnce.Do(func() { close(h.done) })

	for req := range h.reqs {
		switch {
		case req.close:
			sess.Close(req.reason, time.Now().UTC())
			snap := sess.Snapshot(time.Now().UTC(), r.cfg.LostContactAfter)
			r.finalize(snap, req.reason)
			req.resp <- response{snap: snap}
			return
		case req.ev != nil:
			alert, err := sess.Apply(req.ev, time.Now().UTC())
			snap := sess.Snapshot(time.UnixMilli(req.ev.ObservedAtMs), r.cfg.LostContactAfter)
			if err == nil {
				r.afterApply(snap, alert)
			}
			req.resp <- response{snap: snap, alert: alert, err: err}
		default:
			req.resp <- response{snap: sess.Snapshot(time.Now().UTC(), r.cfg.LostContactAfter)}
		}
	}
}

func (r *Registry) afterApply(snap Snapshot, alert *Alert) {
	metrics.EventsApplied.Inc()
	ctx := context.Background()

	if r.deps.Resume != nil {
		if err := r.deps.Resume.Save(ctx, snap.SessionID, snap.Candidate, snap.LastSeq); err != nil {
			r.deps.Log.Warn("session.resume.save_failed", "session_id", snap.SessionID, "err", err)
		}
	}
	if r.deps.Broadcast != nil {
		r.deps.Broadcast.ScoreUpdated(snap)
	}
	if alert != nil {
		metrics.AlertsRaised.Inc()
		r.deps.Log.Warn("session.alert.raised",
			"session_id", snap.SessionID,
			"score", alert.Score,
			"reason", string(alert.Reason))
		if r.deps.Store != nil {
			if err := r.deps.Store.AppendAlert(ctx, *alert); err != nil {
				r.deps.Log.Error("session.alert.persist_failed", "session_id", snap.SessionID, "err", err)
			}
		}
		if r.deps.Broadcast != nil {
			r.deps.Broadcast.AlertRaised(*alert, snap)
		}
	}
}

// finalize runs on the worker goroutine as the session closes: persist the
// final row, drop resume state, notify observers, release the slot.
func (r *Registry) finalize(snap Snapshot, reason string) {
	ctx := context.Background()

	r.mu.Lock()
	delete(r.sessions, snap.SessionID)
	r.mu.Unlock()
	metrics.ActiveSessions.Dec()

	if r.deps.Store != nil {
		if err := r.deps.Store.SaveSession(ctx, snap); err != nil {
			r.deps.Log.Error("session.persist_failed", "session_id", snap.SessionID, "err", err)
		}
	}
	if r.deps.Resume != nil {
		if err := r.deps.Resume.Delete(ctx, snap.SessionID); err != nil {
			r.deps.Log.Warn("session.resume.delete_failed", "session_id", snap.SessionID, "err", err)
		}
	}
	if r.deps.Broadcast != nil {
		r.deps.Broadcast.SessionClosed(snap, reason)
	}
	r.deps.Log.Info("session.closed", "session_id", snap.SessionID, "reason", reason)
}

func (r *Registry) send(ctx context.Context, h *Handle, req request) (response, error) {
	req.resp = make(chan response, 1)
	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-h.done:
		return response{}, fmt.Errorf("%w: %s", ErrClosed, h.ID)
	case h.reqs <- req:
	}
	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case resp := <-req.resp:
		return resp, nil
	}
}

func (r *Registry) snapshot(h *Handle) (Snapshot, error) {
	resp, err := r.send(context.Background(), h, request{})
	if err != nil {
		return Snapshot{}, err
	}
	return resp.snap, resp.err
}

func (r *Registry) close(h *Handle, reason string) (Snapshot, error) {
	resp, err := r.send(context.Background(), h, request{close: true, reason: reason})
	if err != nil {
		return Snapshot{}, err
	}
	return resp.snap, resp.err
}

func (r *Registry) janitor(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep closes sessions that have gone silent past the idle timeout.
func (r *Registry) sweep() {
	if r.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-r.cfg.IdleTimeout)

	for _, snap := range r.List(context.Background()) {
		last := snap.LastEventAt
		if last.IsZero() {
			last = snap.CreatedAt
		}
		if last.Before(cutoff) {
			r.deps.Log.Info("session.idle_timeout", "session_id", snap.SessionID)
			_ = r.Close(context.Background(), snap.SessionID, "idle timeout")
		}
	}
}

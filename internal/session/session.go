// Package session owns the lifecycle of monitored interview sessions: the
// per-session state machine, the registry that isolates sessions from each
// other, and the single worker that serializes event application.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil/internal/fusion"
	"github.com/vigilops/vigil/internal/signal"
)

// State is the lifecycle phase of a session.
type State string

const (
	// StatePending means the session exists but no event has arrived yet.
	StatePending State = "pending"
	// StateActive means events are flowing and the score is below alert.
	StateActive State = "active"
	// StateFlagged means the hysteresis alert is currently raised.
	StateFlagged State = "flagged"
	// StateClosed is terminal; all further events are rejected.
	StateClosed State = "closed"
)

var (
	// ErrClosed is returned for events arriving after the session ended.
	ErrClosed = errors.New("session closed")
	// ErrDuplicate marks an already-applied sequence number. Duplicates are
	// dropped without touching engine state, keeping redelivery idempotent.
	ErrDuplicate = errors.New("duplicate sequence number")
	// ErrNotFound is returned by the registry for unknown session IDs.
	ErrNotFound = errors.New("session not found")
)

// Alert is one append-only alert record.
type Alert struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	TriggeredAt time.Time   `json:"triggered_at"`
	Score       float64     `json:"score_at_trigger"`
	Reason      signal.Type `json:"reason_signal_type"`
}

// Snapshot is a read-only view pushed to dashboard consumers on every score
// change or state transition.
type Snapshot struct {
	SessionID   string                  `json:"session_id"`
	Candidate   string                  `json:"candidate,omitempty"`
	State       State                   `json:"state"`
	Score       float64                 `json:"score"`
	Components  map[signal.Type]float64 `json:"components,omitempty"`
	LastSeq     uint64                  `json:"last_event_seq"`
	CreatedAt   time.Time               `json:"created_at"`
	LastEventAt time.Time               `json:"last_event_at,omitempty"`
	LostContact bool                    `json:"lost_contact"`
	Alerts      []Alert                 `json:"alert_history,omitempty"`
}

// Session is one candidate's monitored session. It is not safe for
// concurrent use; the registry guarantees a single worker drives it.
type Session struct {
	ID        string
	Candidate string

	state       State
	engine      *fusion.Engine
	lastSeq     uint64
	createdAt   time.Time
	lastEventAt time.Time
	closedAt    time.Time
	closeReason string
	alerts      []Alert
	gaps        uint64
}

// New creates a session in the pending state.
func New(id, candidate string, engine *fusion.Engine, now time.Time) *Session {
	return &Session{
		ID:        id,
		Candidate: candidate,
		state:     StatePending,
		engine:    engine,
		createdAt: now,
	}
}

// Restore sets the sequence cursor after a server restart so replayed
// events from the endpoint are deduplicated correctly. Only valid on a
// pending session.
func (s *Session) Restore(lastSeq uint64) {
	if s.state == StatePending {
		s.lastSeq = lastSeq
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State { return s.state }

// LastSeq returns the last applied sequence number.
func (s *Session) LastSeq() uint64 { return s.lastSeq }

// LastEventAt returns the wall-clock arrival time of the last applied event.
func (s *Session) LastEventAt() time.Time { return s.lastEventAt }

// Apply folds one in-order event into the session. Events must arrive with
// strictly increasing sequence numbers; a gap (seq > last+1) is accepted
// because the transport has already given up on the missing events, and is
// counted. The returned Alert is non-nil when this event raised one.
func (s *Session) Apply(ev *signal.Event, now time.Time) (*Alert, error) {
	if s.state == StateClosed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, s.ID)
	}
	if ev.Seq <= s.lastSeq {
		return nil, fmt.Errorf("%w: seq %d already applied (last %d)", ErrDuplicate, ev.Seq, s.lastSeq)
	}
	if ev.Seq > s.lastSeq+1 {
		s.gaps += ev.Seq - s.lastSeq - 1
	}

	res, err := s.engine.Apply(ev)
	if err != nil {
		// Unknown signal types advance the sequence cursor but carry no
		// score weight; availability of the session is preserved.
		s.lastSeq = ev.Seq
		s.lastEventAt = now
		return nil, err
	}

	s.lastSeq = ev.Seq
	s.lastEventAt = now
	if s.state == StatePending {
		s.state = StateActive
	}

	switch res.Decision {
	case fusion.DecisionRaise:
		s.state = StateFlagged
		alert := Alert{
			ID:          newAlertID(),
			SessionID:   s.ID,
			TriggeredAt: time.UnixMilli(ev.ObservedAtMs),
			Score:       res.Score,
			Reason:      res.Reason,
		}
		s.alerts = append(s.alerts, alert)
		return &alert, nil
	case fusion.DecisionClear:
		s.state = StateActive
	}
	return nil, nil
}

// Close transitions the session to its terminal state. Idempotent.
func (s *Session) Close(reason string, now time.Time) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.closedAt = now
	s.closeReason = reason
}

// Gaps returns the total count of sequence numbers skipped as lost.
func (s *Session) Gaps() uint64 { return s.gaps }

// Snapshot renders the observer-facing view. lostContactAfter bounds how
// stale the last event may be before the session is marked as out of
// contact; a stale score is never presented as current.
func (s *Session) Snapshot(now time.Time, lostContactAfter time.Duration) Snapshot {
	es := s.engine.Snapshot(now)
	lost := false
	if s.state != StateClosed && s.state != StatePending && lostContactAfter > 0 {
		lost = now.Sub(s.lastEventAt) > lostContactAfter
	}
	alerts := make([]Alert, len(s.alerts))
	copy(alerts, s.alerts)
	return Snapshot{
		SessionID:   s.ID,
		Candidate:   s.Candidate,
		State:       s.state,
		Score:       es.Score,
		Components:  es.Components,
		LastSeq:     s.lastSeq,
		CreatedAt:   s.createdAt,
		LastEventAt: s.lastEventAt,
		LostContact: lost,
		Alerts:      alerts,
	}
}

func newAlertID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

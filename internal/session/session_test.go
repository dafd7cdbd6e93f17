package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/fusion"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/signal"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func engineConfig() fusion.Config {
	return fusion.Config{
		Weights: map[signal.Type]float64{
			signal.TypeProcess:    0.30,
			signal.TypeClipboard:  0.25,
			signal.TypeCadence:    0.15,
			signal.TypeClassifier: 0.30,
		},
		HalfLives: map[signal.Type]time.Duration{
			signal.TypeProcess:    60 * time.Second,
			signal.TypeClipboard:  30 * time.Second,
			signal.TypeCadence:    45 * time.Second,
			signal.TypeClassifier: 30 * time.Second,
		},
		High:  0.75,
		Low:   0.50,
		Dwell: 5 * time.Second,
	}
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	eng, err := fusion.NewEngine(engineConfig())
	require.NoError(t, err)
	return session.New("s1", "alice", eng, t0)
}

func event(t signal.Type, seq uint64, value float64, at time.Time) *signal.Event {
	return &signal.Event{
		SessionID:    "s1",
		Type:         t,
		Seq:          seq,
		ObservedAtMs: at.UnixMilli(),
		Payload:      value,
	}
}

func TestSession_FirstEventActivates(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, session.StatePending, s.State())

	_, err := s.Apply(event(signal.TypeCadence, 1, 0.2, t0), t0)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, s.State())
	assert.Equal(t, uint64(1), s.LastSeq())
}

func TestSession_DuplicateSeqIsIdempotent(t *testing.T) {
	s := newSession(t)
	_, err := s.Apply(event(signal.TypeProcess, 1, 1.0, t0), t0)
	require.NoError(t, err)
	score := s.Snapshot(t0, 0).Score

	_, err = s.Apply(event(signal.TypeProcess, 1, 0.0, t0.Add(time.Second)), t0.Add(time.Second))
	assert.ErrorIs(t, err, session.ErrDuplicate)
	assert.Equal(t, score, s.Snapshot(t0, 0).Score, "duplicate must not touch engine state")
	assert.Equal(t, uint64(1), s.LastSeq())
}

func TestSession_GapIsCountedAndAccepted(t *testing.T) {
	s := newSession(t)
	_, err := s.Apply(event(signal.TypeProcess, 1, 0.0, t0), t0)
	require.NoError(t, err)

	_, err = s.Apply(event(signal.TypeProcess, 5, 0.0, t0.Add(time.Second)), t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.Gaps())
	assert.Equal(t, uint64(5), s.LastSeq())
}

func TestSession_ClosedRejectsEvents(t *testing.T) {
	s := newSession(t)
	s.Close("done", t0)
	assert.Equal(t, session.StateClosed, s.State())

	_, err := s.Apply(event(signal.TypeProcess, 1, 1.0, t0), t0)
	assert.ErrorIs(t, err, session.ErrClosed)

	// Close is idempotent.
	s.Close("again", t0.Add(time.Second))
	assert.Equal(t, session.StateClosed, s.State())
}

func TestSession_UnknownTypeAdvancesCursor(t *testing.T) {
	s := newSession(t)
	_, err := s.Apply(event(signal.Type("telemetry"), 1, 0.4, t0), t0)
	assert.ErrorIs(t, err, signal.ErrUnrecognizedType)
	assert.Equal(t, uint64(1), s.LastSeq(), "unknown types occupy their sequence slot")
	assert.Equal(t, session.StatePending, s.State(), "only recognized events activate")
	assert.Zero(t, s.Gaps())

	// The next real event is not treated as a duplicate or a gap.
	_, err = s.Apply(event(signal.TypeProcess, 2, 0.0, t0.Add(time.Second)), t0.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, s.Gaps())
}

func TestSession_FlagAndClearLifecycle(t *testing.T) {
	s := newSession(t)

	// Hard process indicator sustained past the dwell flags the session.
	at := t0
	var alert *session.Alert
	for seq := uint64(1); seq <= 7; seq++ {
		a, err := s.Apply(event(signal.TypeProcess, seq, 1.0, at), at)
		require.NoError(t, err)
		if a != nil {
			require.Nil(t, alert, "a single excursion raises once")
			alert = a
		}
		at = at.Add(time.Second)
	}
	require.NotNil(t, alert, "sustained maximal signal must raise")
	assert.Equal(t, session.StateFlagged, s.State())
	assert.Equal(t, signal.TypeProcess, alert.Reason)
	assert.GreaterOrEqual(t, alert.Score, 0.75)

	snap := s.Snapshot(at, 0)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, alert.ID, snap.Alerts[0].ID)

	// Quiet readings sustained below the lower threshold clear the flag.
	at = at.Add(2 * time.Minute)
	for seq := uint64(8); seq <= 20; seq++ {
		_, err := s.Apply(event(signal.TypeProcess, seq, 0.0, at), at)
		require.NoError(t, err)
		at = at.Add(2 * time.Second)
	}
	assert.Equal(t, session.StateActive, s.State())
	assert.Len(t, s.Snapshot(at, 0).Alerts, 1, "alert history is append-only")
}

func TestSession_RestoreOnlyWhilePending(t *testing.T) {
	s := newSession(t)
	s.Restore(42)
	assert.Equal(t, uint64(42), s.LastSeq())

	_, err := s.Apply(event(signal.TypeProcess, 43, 0.0, t0), t0)
	require.NoError(t, err)

	s.Restore(7)
	assert.Equal(t, uint64(43), s.LastSeq(), "restore is ignored once active")
}

func TestSession_SnapshotLostContact(t *testing.T) {
	s := newSession(t)
	_, err := s.Apply(event(signal.TypeProcess, 1, 0.0, t0), t0)
	require.NoError(t, err)

	assert.False(t, s.Snapshot(t0.Add(time.Minute), 90*time.Second).LostContact)
	assert.True(t, s.Snapshot(t0.Add(3*time.Minute), 90*time.Second).LostContact)

	s.Close("done", t0.Add(4*time.Minute))
	assert.False(t, s.Snapshot(t0.Add(10*time.Minute), 90*time.Second).LostContact,
		"closed sessions are not out of contact")
}

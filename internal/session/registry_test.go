package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/signal"
)

// fakeResume is an in-memory stand-in for the Redis resume store.
type fakeResume struct {
	mu   sync.Mutex
	recs map[string]resumeRec
}

type resumeRec struct {
	candidate string
	lastSeq   uint64
}

func newFakeResume() *fakeResume {
	return &fakeResume{recs: make(map[string]resumeRec)}
}

func (f *fakeResume) Save(ctx context.Context, id, candidate string, lastSeq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[id] = resumeRec{candidate: candidate, lastSeq: lastSeq}
	return nil
}

func (f *fakeResume) Load(ctx context.Context, id string) (string, uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	return rec.candidate, rec.lastSeq, ok, nil
}

func (f *fakeResume) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recs, id)
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	sessions []session.Snapshot
	alerts   []session.Alert
}

func (f *fakeStore) SaveSession(ctx context.Context, snap session.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, snap)
	return nil
}

func (f *fakeStore) AppendAlert(ctx context.Context, alert session.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

type fakeBroadcast struct {
	mu     sync.Mutex
	scores int
	alerts int
	closed int
}

func (f *fakeBroadcast) ScoreUpdated(session.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores++
}

func (f *fakeBroadcast) AlertRaised(session.Alert, session.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts++
}

func (f *fakeBroadcast) SessionClosed(session.Snapshot, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func newRegistry(t *testing.T, deps session.Deps) *session.Registry {
	t.Helper()
	reg := session.NewRegistry(session.Config{
		Engine:           engineConfig(),
		IdleTimeout:      time.Hour,
		LostContactAfter: 90 * time.Second,
	}, deps)
	t.Cleanup(reg.Stop)
	return reg
}

func TestRegistry_CreateApplyClose(t *testing.T) {
	store := &fakeStore{}
	bc := &fakeBroadcast{}
	reg := newRegistry(t, session.Deps{Store: store, Broadcast: bc})
	ctx := context.Background()

	snap, err := reg.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.StatePending, snap.State)
	assert.Equal(t, "alice", snap.Candidate)

	h, err := reg.Attach(ctx, snap.SessionID)
	require.NoError(t, err)

	at := time.Now().UTC()
	got, alert, err := reg.Apply(ctx, h, &signal.Event{
		SessionID:    snap.SessionID,
		Type:         signal.TypeCadence,
		Seq:          1,
		ObservedAtMs: at.UnixMilli(),
		Payload:      0.3,
	})
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Equal(t, session.StateActive, got.State)
	assert.Equal(t, uint64(1), got.LastSeq)

	require.NoError(t, reg.Close(ctx, snap.SessionID, "done"))

	_, err = reg.Get(ctx, snap.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.sessions, 1)
	assert.Equal(t, session.StateClosed, store.sessions[0].State)

	bc.mu.Lock()
	defer bc.mu.Unlock()
	assert.Equal(t, 1, bc.scores)
	assert.Equal(t, 1, bc.closed)
}

func TestRegistry_AttachRestoresFromResumeStore(t *testing.T) {
	resume := newFakeResume()
	reg := newRegistry(t, session.Deps{Resume: resume})
	ctx := context.Background()

	// A session known only to the resume store, as after a server restart.
	require.NoError(t, resume.Save(ctx, "s-restart", "bob", 17))

	h, err := reg.Attach(ctx, "s-restart")
	require.NoError(t, err)

	snap, err := reg.Get(ctx, "s-restart")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), snap.LastSeq, "sequence cursor carries across restart")
	assert.Equal(t, "bob", snap.Candidate)

	// Replayed events at or below the cursor are deduplicated.
	_, _, err = reg.Apply(ctx, h, &signal.Event{
		SessionID:    "s-restart",
		Type:         signal.TypeProcess,
		Seq:          17,
		ObservedAtMs: time.Now().UnixMilli(),
		Payload:      1,
	})
	assert.ErrorIs(t, err, session.ErrDuplicate)
}

func TestRegistry_AttachUnknownSession(t *testing.T) {
	reg := newRegistry(t, session.Deps{})
	_, err := reg.Attach(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRegistry_CloseDeletesResumeState(t *testing.T) {
	resume := newFakeResume()
	reg := newRegistry(t, session.Deps{Resume: resume})
	ctx := context.Background()

	snap, err := reg.Create(ctx, "carol")
	require.NoError(t, err)
	_, _, ok, err := resume.Load(ctx, snap.SessionID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, reg.Close(ctx, snap.SessionID, "done"))
	_, _, ok, err = resume.Load(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.False(t, ok, "closed sessions do not resume")
}

func TestRegistry_List(t *testing.T) {
	reg := newRegistry(t, session.Deps{})
	ctx := context.Background()

	_, err := reg.Create(ctx, "a")
	require.NoError(t, err)
	_, err = reg.Create(ctx, "b")
	require.NoError(t, err)

	assert.Len(t, reg.List(ctx), 2)
}

func TestRegistry_IdleSessionsSwept(t *testing.T) {
	store := &fakeStore{}
	reg := session.NewRegistry(session.Config{
		Engine:          engineConfig(),
		IdleTimeout:     50 * time.Millisecond,
		JanitorInterval: 10 * time.Millisecond,
	}, session.Deps{Store: store})
	t.Cleanup(reg.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Start(ctx)

	snap, err := reg.Create(ctx, "dave")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := reg.Get(ctx, snap.SessionID)
		return err != nil
	}, time.Second, 10*time.Millisecond, "idle session should be evicted")
}

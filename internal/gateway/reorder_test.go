package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/signal"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func seqEvent(seq uint64) *signal.Event {
	return &signal.Event{SessionID: "s1", Type: signal.TypeCadence, Seq: seq, Payload: 0.1}
}

func seqs(evs []*signal.Event) []uint64 {
	out := make([]uint64, len(evs))
	for i, ev := range evs {
		out[i] = ev.Seq
	}
	return out
}

func TestReorder_InOrderPassThrough(t *testing.T) {
	b := newReorderBuffer(0, 3*time.Second, 256)

	for seq := uint64(1); seq <= 3; seq++ {
		ready, skipped, res := b.offer(seqEvent(seq), t0)
		assert.Equal(t, offerApply, res)
		assert.Zero(t, skipped)
		assert.Equal(t, []uint64{seq}, seqs(ready))
	}
}

func TestReorder_HoldsAndReleasesInSequenceOrder(t *testing.T) {
	b := newReorderBuffer(0, 3*time.Second, 256)

	ready, _, res := b.offer(seqEvent(1), t0)
	require.Equal(t, offerApply, res)
	require.Equal(t, []uint64{1}, seqs(ready))

	// 3 arrives before 2 and is held back.
	ready, _, res = b.offer(seqEvent(3), t0)
	assert.Equal(t, offerBuffered, res)
	assert.Empty(t, ready)

	// 2 releases both, in sequence order.
	ready, skipped, res := b.offer(seqEvent(2), t0.Add(time.Second))
	assert.Equal(t, offerApply, res)
	assert.Zero(t, skipped)
	assert.Equal(t, []uint64{2, 3}, seqs(ready))
}

func TestReorder_DuplicatesRejected(t *testing.T) {
	b := newReorderBuffer(5, 3*time.Second, 256)

	_, _, res := b.offer(seqEvent(4), t0)
	assert.Equal(t, offerDuplicate, res, "below the cursor")

	_, _, res = b.offer(seqEvent(8), t0)
	require.Equal(t, offerBuffered, res)
	_, _, res = b.offer(seqEvent(8), t0)
	assert.Equal(t, offerDuplicate, res, "already held")
}

func TestReorder_WindowExpiryForcesGap(t *testing.T) {
	b := newReorderBuffer(0, 3*time.Second, 256)

	_, _, res := b.offer(seqEvent(4), t0)
	require.Equal(t, offerBuffered, res)
	_, _, res = b.offer(seqEvent(5), t0.Add(time.Second))
	require.Equal(t, offerBuffered, res)

	// Before the window closes nothing is released.
	ready, skipped := b.expire(t0.Add(2 * time.Second))
	assert.Empty(t, ready)
	assert.Zero(t, skipped)

	// After it closes, seqs 1-3 are abandoned and 4,5 come out in order.
	ready, skipped = b.expire(t0.Add(3 * time.Second))
	assert.Equal(t, []uint64{4, 5}, seqs(ready))
	assert.Equal(t, uint64(3), skipped)

	// The cursor moved on: the late stragglers are now duplicates.
	_, _, res = b.offer(seqEvent(2), t0.Add(4*time.Second))
	assert.Equal(t, offerDuplicate, res)
}

func TestReorder_OverflowForcesGap(t *testing.T) {
	b := newReorderBuffer(0, time.Hour, 2)

	b.offer(seqEvent(3), t0)
	b.offer(seqEvent(4), t0)
	// Third buffered event exceeds maxSize and forces the gap closed.
	ready, skipped, res := b.offer(seqEvent(5), t0)
	assert.Equal(t, offerApply, res)
	assert.Equal(t, uint64(2), skipped)
	assert.Equal(t, []uint64{3, 4, 5}, seqs(ready))
}

func TestReorder_DeadlineTracksOldestGap(t *testing.T) {
	b := newReorderBuffer(0, 3*time.Second, 256)
	assert.True(t, b.deadline().IsZero())

	b.offer(seqEvent(3), t0)
	assert.Equal(t, t0.Add(3*time.Second), b.deadline())

	// Filling the gap clears the deadline.
	b.offer(seqEvent(1), t0.Add(time.Second))
	b.offer(seqEvent(2), t0.Add(time.Second))
	assert.True(t, b.deadline().IsZero())
}

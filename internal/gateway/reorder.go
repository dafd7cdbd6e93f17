package gateway

import (
	"sort"
	"time"

	"github.com/vigilops/vigil/internal/signal"
)

// reorderBuffer holds out-of-order events for one session until the gaps
// below them fill or the reordering window expires. Events are applied in
// sequence-number order, never arrival order; missing numbers are skipped
// as lost once the window closes — never silently renumbered.
type reorderBuffer struct {
	next    uint64
	pending map[uint64]*signal.Event
	maxSize int
	window  time.Duration

	// openedAt is when the oldest unfilled gap was first observed.
	openedAt time.Time
}

func newReorderBuffer(lastApplied uint64, window time.Duration, maxSize int) *reorderBuffer {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &reorderBuffer{
		next:    lastApplied + 1,
		pending: make(map[uint64]*signal.Event),
		maxSize: maxSize,
		window:  window,
	}
}

// offerResult classifies what happened to an offered event.
type offerResult int

const (
	offerApply     offerResult = iota // ready: include in Ready()
	offerBuffered                     // out of order, held back
	offerDuplicate                    // seq already applied or already held
)

// offer accepts one arriving event and returns the events now ready to be
// applied in order, plus how many sequence numbers were skipped as lost
// (non-zero only when the buffer overflowed and forced a gap).
func (b *reorderBuffer) offer(ev *signal.Event, now time.Time) (ready []*signal.Event, skipped uint64, res offerResult) {
	if ev.Seq < b.next {
		return nil, 0, offerDuplicate
	}
	if _, held := b.pending[ev.Seq]; held {
		return nil, 0, offerDuplicate
	}

	if ev.Seq == b.next {
		ready = append(ready, ev)
		b.next++
		ready = append(ready, b.drain()...)
		b.resetGapClock(now)
		return ready, 0, offerApply
	}

	b.pending[ev.Seq] = ev
	if b.openedAt.IsZero() {
		b.openedAt = now
	}
	if len(b.pending) > b.maxSize {
		ready, skipped = b.forceGap(now)
		return ready, skipped, offerApply
	}
	return nil, 0, offerBuffered
}

// expire gives up on the oldest gap once the window has elapsed and
// returns the events that become applicable, plus the skipped count.
func (b *reorderBuffer) expire(now time.Time) (ready []*signal.Event, skipped uint64) {
	if b.openedAt.IsZero() || now.Sub(b.openedAt) < b.window {
		return nil, 0
	}
	return b.forceGap(now)
}

// deadline reports when the current gap should be given up, or zero time
// when nothing is buffered.
func (b *reorderBuffer) deadline() time.Time {
	if b.openedAt.IsZero() {
		return time.Time{}
	}
	return b.openedAt.Add(b.window)
}

// forceGap advances the cursor to the lowest buffered sequence number.
func (b *reorderBuffer) forceGap(now time.Time) (ready []*signal.Event, skipped uint64) {
	if len(b.pending) == 0 {
		b.openedAt = time.Time{}
		return nil, 0
	}
	lowest := b.lowestPending()
	skipped = lowest - b.next
	b.next = lowest
	ready = b.drain()
	b.resetGapClock(now)
	return ready, skipped
}

// drain pops consecutive pending events starting at the cursor.
func (b *reorderBuffer) drain() []*signal.Event {
	var out []*signal.Event
	for {
		ev, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		out = append(out, ev)
		b.next++
	}
}

// resetGapClock restarts the window for whatever gap remains, if any.
func (b *reorderBuffer) resetGapClock(now time.Time) {
	if len(b.pending) == 0 {
		b.openedAt = time.Time{}
		return
	}
	b.openedAt = now
}

func (b *reorderBuffer) lowestPending() uint64 {
	seqs := make([]uint64, 0, len(b.pending))
	for s := range b.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs[0]
}

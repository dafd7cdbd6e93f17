package agent

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vigilops/vigil/internal/signal"
)

const (
	// keystrokeBufferSize bounds the rolling keystroke window.
	keystrokeBufferSize = 1000
	// pauseCutoff separates typing bursts; gaps longer than this are not
	// part of a cadence measurement.
	pauseCutoff = time.Second
	// rapidThreshold is the mean inter-keystroke interval below which the
	// input looks machine-fed rather than typed.
	rapidThreshold = 50 * time.Millisecond
)

// KeystrokeRecorder collects keystroke timestamps from whatever input hook
// the platform offers and scores the cadence for machine-like regularity.
//
// Humans type with irregular rhythm. Pasted or injected text arrives in
// very fast, very uniform bursts. The score combines both tells: a mean
// interval under rapidThreshold and a low coefficient of variation each
// push the score up.
type KeystrokeRecorder struct {
	mu       sync.Mutex
	times    []time.Time
	interval time.Duration
	now      func() time.Time
}

// NewKeystrokeRecorder constructs the cadence detector. It also implements
// Detector; feed it with Record from the platform input hook.
func NewKeystrokeRecorder(interval time.Duration) *KeystrokeRecorder {
	return &KeystrokeRecorder{interval: interval, now: time.Now}
}

// Record registers one keystroke. Safe for concurrent use.
func (k *KeystrokeRecorder) Record(at time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.times = append(k.times, at)
	if len(k.times) > keystrokeBufferSize {
		k.times = k.times[len(k.times)-keystrokeBufferSize:]
	}
}

func (k *KeystrokeRecorder) Type() signal.Type       { return signal.TypeCadence }
func (k *KeystrokeRecorder) Interval() time.Duration { return k.interval }

// Sample scores the current window. ok is false until enough keystrokes
// have accumulated for the statistics to mean anything.
func (k *KeystrokeRecorder) Sample(ctx context.Context) (Observation, bool, error) {
	k.mu.Lock()
	times := make([]time.Time, len(k.times))
	copy(times, k.times)
	k.mu.Unlock()

	score, ok := Burstiness(times)
	if !ok {
		return Observation{}, false, nil
	}
	return Observation{Type: signal.TypeCadence, Value: score}, true, nil
}

// Burstiness computes the machine-likeness score for a keystroke sequence.
// ok is false when fewer than 10 in-burst intervals are available.
func Burstiness(times []time.Time) (float64, bool) {
	var intervals []float64
	for i := 1; i < len(times); i++ {
		d := times[i].Sub(times[i-1])
		if d > 0 && d < pauseCutoff {
			intervals = append(intervals, d.Seconds())
		}
	}
	if len(intervals) < 10 {
		return 0, false
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))

	var ss float64
	for _, v := range intervals {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(intervals)))

	var score float64

	// Speed component: 0 at or above 2x the rapid threshold, 1 at or
	// below half of it.
	rapid := rapidThreshold.Seconds()
	switch {
	case mean <= rapid/2:
		score += 0.6
	case mean < 2*rapid:
		score += 0.6 * (2*rapid - mean) / (1.5 * rapid)
	}

	// Regularity component: coefficient of variation below 0.25 is far
	// tighter than human typing.
	cv := std / mean
	switch {
	case cv <= 0.05:
		score += 0.4
	case cv < 0.25:
		score += 0.4 * (0.25 - cv) / 0.20
	}

	if score > 1 {
		score = 1
	}
	return score, true
}

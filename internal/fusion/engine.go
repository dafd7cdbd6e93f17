// Package fusion combines normalized detector events into a single bounded
// trust score with per-channel exponential smoothing and hysteresis alerting.
package fusion

import (
	"fmt"
	"math"
	"time"

	"github.com/vigilops/vigil/internal/signal"
)

const weightSumEpsilon = 1e-6

// Config fixes the static fusion policy for one engine. Weights and decay
// half-lives are tuning parameters supplied by configuration, never learned
// at runtime.
type Config struct {
	// Weights per signal type; must sum to 1.
	Weights map[signal.Type]float64
	// HalfLives sets the decay constant tau per signal type.
	HalfLives map[signal.Type]time.Duration
	// High and Low are the hysteresis thresholds (Low < High).
	High float64
	Low  float64
	// Dwell is the minimum time past a threshold before a transition is honored.
	Dwell time.Duration
}

// Validate checks the policy invariants.
func (c Config) Validate() error {
	var sum float64
	for t, w := range c.Weights {
		if !signal.Known(t) {
			return fmt.Errorf("weight for unrecognized signal type %q", t)
		}
		if w < 0 {
			return fmt.Errorf("negative weight for %s", t)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightSumEpsilon {
		return fmt.Errorf("weights sum to %v, want 1", sum)
	}
	for t, tau := range c.HalfLives {
		if tau <= 0 {
			return fmt.Errorf("non-positive half-life for %s", t)
		}
	}
	if c.Low >= c.High {
		return fmt.Errorf("hysteresis low %v must be below high %v", c.Low, c.High)
	}
	if c.High > 1 || c.Low < 0 {
		return fmt.Errorf("hysteresis thresholds must lie in [0,1]")
	}
	if c.Dwell < 0 {
		return fmt.Errorf("negative dwell")
	}
	return nil
}

// scoreState is the running smoothing state for one signal type.
type scoreState struct {
	ema        float64
	lastUpdate time.Time
}

// Result reports the outcome of applying one event.
type Result struct {
	Score    float64
	Decision Decision
	// Reason is the dominant contributing signal type at the time of the
	// observation. Meaningful when Decision is DecisionRaise.
	Reason signal.Type
}

// Snapshot is a read-only view of the engine for dashboard consumers.
type Snapshot struct {
	Score        float64                 `json:"score"`
	Components   map[signal.Type]float64 `json:"components"`
	Flagged      bool                    `json:"flagged"`
	Unrecognized uint64                  `json:"unrecognized_signals"`
}

// Engine maintains one scoreState per signal type and fuses them into the
// session score. It performs no I/O and is not safe for concurrent use;
// each session owns exactly one engine, driven by a single worker.
type Engine struct {
	cfg     Config
	states  map[signal.Type]*scoreState
	alerter *Alerter

	score        float64
	lastEventAt  time.Time
	unrecognized uint64
}

// NewEngine constructs an engine from a validated policy.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fusion config: %w", err)
	}
	return &Engine{
		cfg:     cfg,
		states:  make(map[signal.Type]*scoreState),
		alerter: NewAlerter(cfg.High, cfg.Low, cfg.Dwell),
	}, nil
}

// Apply folds one event into the engine. Unknown signal types are dropped
// and counted; they never abort the session. The caller has already
// enforced sequence ordering.
func (e *Engine) Apply(ev *signal.Event) (Result, error) {
	if !signal.Known(ev.Type) {
		e.unrecognized++
		return Result{Score: e.score}, fmt.Errorf("%w: %q", signal.ErrUnrecognizedType, ev.Type)
	}

	ts := time.UnixMilli(ev.ObservedAtMs)
	st, ok := e.states[ev.Type]
	if !ok {
		st = &scoreState{ema: ev.Payload, lastUpdate: ts}
		e.states[ev.Type] = st
	} else {
		tau := e.tau(ev.Type)
		dt := ts.Sub(st.lastUpdate)
		if dt < 0 {
			dt = 0
		}
		alpha := 1 - math.Exp(-dt.Seconds()/tau.Seconds())
		st.ema += alpha * (ev.Payload - st.ema)
		st.lastUpdate = ts
	}
	if ts.After(e.lastEventAt) {
		e.lastEventAt = ts
	}

	e.score = e.fuse(ts)
	res := Result{
		Score:    e.score,
		Decision: e.alerter.Observe(e.score, ts),
		Reason:   e.dominant(ts),
	}
	return res, nil
}

// Score returns the fused score decayed to now. With no fresh events each
// channel relaxes toward its quiet baseline, so one noisy spike cannot
// cause a permanent state change.
func (e *Engine) Score(now time.Time) float64 {
	return e.fuse(now)
}

// Flagged reports the hysteresis state.
func (e *Engine) Flagged() bool { return e.alerter.Flagged() }

// Unrecognized returns the count of dropped unknown-type events.
func (e *Engine) Unrecognized() uint64 { return e.unrecognized }

// Snapshot captures the current per-channel values and fused score.
func (e *Engine) Snapshot(now time.Time) Snapshot {
	comps := make(map[signal.Type]float64, len(e.states))
	for t := range e.states {
		comps[t] = e.value(t, now)
	}
	return Snapshot{
		Score:        e.fuse(now),
		Components:   comps,
		Flagged:      e.alerter.Flagged(),
		Unrecognized: e.unrecognized,
	}
}

// fuse recomputes the weighted score over the types that have reported at
// least once, renormalizing weights over that subset so an idle detector
// does not silently depress the score.
func (e *Engine) fuse(now time.Time) float64 {
	var sum, weightSum float64
	for t := range e.states {
		w := e.cfg.Weights[t]
		sum += w * e.value(t, now)
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	score := sum / weightSum
	// Guard the invariant under floating point error.
	return math.Min(1, math.Max(0, score))
}

// value returns the channel's EMA decayed from its last update to now.
func (e *Engine) value(t signal.Type, now time.Time) float64 {
	st := e.states[t]
	dt := now.Sub(st.lastUpdate)
	if dt <= 0 {
		return st.ema
	}
	return st.ema * math.Exp(-dt.Seconds()/e.tau(t).Seconds())
}

// dominant returns the signal type with the largest weighted contribution.
func (e *Engine) dominant(now time.Time) signal.Type {
	var best signal.Type
	bestVal := -1.0
	for t := range e.states {
		v := e.cfg.Weights[t] * e.value(t, now)
		if v > bestVal {
			bestVal = v
			best = t
		}
	}
	return best
}

func (e *Engine) tau(t signal.Type) time.Duration {
	if tau, ok := e.cfg.HalfLives[t]; ok && tau > 0 {
		return tau
	}
	return 30 * time.Second
}

package fusion

import "time"

// Decision is the outcome of one hysteresis observation.
type Decision int

const (
	// DecisionNone means no state change.
	DecisionNone Decision = iota
	// DecisionRaise means the score has tripped the alert.
	DecisionRaise
	// DecisionClear means a previously raised alert has cleared.
	DecisionClear
)

// Alerter implements two-threshold hysteresis with a minimum dwell time.
//
// An alert is raised only after the score has crossed High and the dwell
// duration has elapsed with the score never falling below Low in between;
// the raise itself fires at an observation where the score is at or above
// High again. It clears only after the score has stayed below Low for the
// dwell duration. A single threshold would flap under signal noise.
type Alerter struct {
	high  float64
	low   float64
	dwell time.Duration

	flagged      bool
	pendingSince time.Time
	clearSince   time.Time
}

// NewAlerter constructs a hysteresis alerter. high must exceed low.
func NewAlerter(high, low float64, dwell time.Duration) *Alerter {
	return &Alerter{high: high, low: low, dwell: dwell}
}

// Flagged reports whether an alert is currently raised.
func (a *Alerter) Flagged() bool { return a.flagged }

// Observe feeds one (score, time) pair and returns the resulting decision.
// Observations must be fed in non-decreasing time order.
func (a *Alerter) Observe(score float64, now time.Time) Decision {
	if a.flagged {
		if score < a.low {
			if a.clearSince.IsZero() {
				a.clearSince = now
			}
			if now.Sub(a.clearSince) >= a.dwell {
				a.flagged = false
				a.clearSince = time.Time{}
				return DecisionClear
			}
			return DecisionNone
		}
		// Back above the lower threshold: the clear countdown restarts.
		a.clearSince = time.Time{}
		return DecisionNone
	}

	switch {
	case score >= a.high:
		if a.pendingSince.IsZero() {
			a.pendingSince = now
		}
		if now.Sub(a.pendingSince) >= a.dwell {
			a.flagged = true
			a.pendingSince = time.Time{}
			return DecisionRaise
		}
	case score < a.low:
		a.pendingSince = time.Time{}
	default:
		// Between thresholds: an armed countdown survives, but cannot fire
		// until the score is back at or above High.
	}
	return DecisionNone
}

// Package signal defines the canonical event model shared by the agent,
// the transport, and the fusion engine.
package signal

import (
	"errors"
	"fmt"
)

// Type identifies one of the independent detection channels.
type Type string

const (
	// TypeProcess indicates whether a blacklisted process is currently running.
	TypeProcess Type = "process"
	// TypeClipboard carries the AI-likelihood score of a clipboard transition.
	TypeClipboard Type = "clipboard"
	// TypeCadence carries the typing-burstiness anomaly score.
	TypeCadence Type = "cadence"
	// TypeClassifier carries the probability output of the external text classifier.
	TypeClassifier Type = "classifier"
)

// Types lists every recognized signal type.
var Types = []Type{TypeProcess, TypeClipboard, TypeCadence, TypeClassifier}

// Known reports whether t is one of the recognized channels.
func Known(t Type) bool {
	switch t {
	case TypeProcess, TypeClipboard, TypeCadence, TypeClassifier:
		return true
	}
	return false
}

var (
	// ErrInvalidPayload is returned by normalizers for malformed or
	// out-of-range detector output. Out-of-range values are rejected, not
	// clamped, so detector bugs surface instead of being masked.
	ErrInvalidPayload = errors.New("invalid signal payload")

	// ErrUnrecognizedType is returned for a signal type the engine does not
	// know. The event is dropped and counted; the session keeps running.
	ErrUnrecognizedType = errors.New("unrecognized signal type")
)

// Event is one normalized detector observation. Immutable once created.
// Ordering key is (SessionID, Seq); arrival time is never used for ordering
// because network delay can reorder delivery.
type Event struct {
	SessionID    string  `json:"session_id"`
	Type         Type    `json:"signal_type"`
	Seq          uint64  `json:"seq"`
	ObservedAtMs int64   `json:"observed_at_ms"`
	Payload      float64 `json:"payload"`
	Tag          string  `json:"tag,omitempty"`
}

// Validate checks structural invariants of the event itself. Sequence
// monotonicity is enforced by the session, not here.
func (e *Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidPayload)
	}
	if !Known(e.Type) {
		return fmt.Errorf("%w: %q", ErrUnrecognizedType, e.Type)
	}
	if e.Seq == 0 {
		return fmt.Errorf("%w: seq must start at 1", ErrInvalidPayload)
	}
	if e.Payload < 0 || e.Payload > 1 {
		return fmt.Errorf("%w: %s payload %v outside [0,1]", ErrInvalidPayload, e.Type, e.Payload)
	}
	return nil
}

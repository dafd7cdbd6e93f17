package signal

import (
	"fmt"
	"math"
)

// Normalizer converts one raw detector reading into an Event.
type Normalizer interface {
	Normalize(raw Reading) (*Event, error)
	Supports(t Type) bool
}

// Reading is the raw tuple a detector yields before normalization.
type Reading struct {
	SessionID    string
	Type         Type
	Seq          uint64
	ObservedAtMs int64
	Value        float64
	Tag          string
}

// Registry holds ordered normalizers and finds a match for a reading.
type Registry struct {
	items []Normalizer
}

// NewRegistry constructs a registry with the provided normalizers.
func NewRegistry(items ...Normalizer) *Registry {
	return &Registry{items: items}
}

// Find returns the first normalizer that supports the reading's type.
func (r *Registry) Find(t Type) Normalizer {
	if r == nil {
		return nil
	}
	for _, n := range r.items {
		if n.Supports(t) {
			return n
		}
	}
	return nil
}

// Normalize dispatches the reading to a matching normalizer.
func (r *Registry) Normalize(raw Reading) (*Event, error) {
	n := r.Find(raw.Type)
	if n == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedType, raw.Type)
	}
	return n.Normalize(raw)
}

// DefaultRegistry wires the built-in normalizers for all four channels.
func DefaultRegistry() *Registry {
	return NewRegistry(
		IndicatorNormalizer{Type: TypeProcess},
		UnitScoreNormalizer{Type: TypeClipboard},
		UnitScoreNormalizer{Type: TypeCadence},
		UnitScoreNormalizer{Type: TypeClassifier},
	)
}

// IndicatorNormalizer maps a boolean-style detector output onto {0, 1}.
// Any value other than exactly 0 or 1 is rejected.
type IndicatorNormalizer struct {
	Type Type
}

// Supports reports whether this normalizer handles t.
func (n IndicatorNormalizer) Supports(t Type) bool { return t == n.Type }

// Normalize validates and wraps the reading.
func (n IndicatorNormalizer) Normalize(raw Reading) (*Event, error) {
	if raw.Value != 0 && raw.Value != 1 {
		return nil, fmt.Errorf("%w: %s indicator must be 0 or 1, got %v", ErrInvalidPayload, n.Type, raw.Value)
	}
	return build(raw)
}

// UnitScoreNormalizer passes through a detector-produced score in [0,1].
// Out-of-range and non-finite values are rejected rather than clamped;
// silent clamping would mask detector bugs.
type UnitScoreNormalizer struct {
	Type Type
}

// Supports reports whether this normalizer handles t.
func (n UnitScoreNormalizer) Supports(t Type) bool { return t == n.Type }

// Normalize validates and wraps the reading.
func (n UnitScoreNormalizer) Normalize(raw Reading) (*Event, error) {
	if math.IsNaN(raw.Value) || math.IsInf(raw.Value, 0) {
		return nil, fmt.Errorf("%w: %s score is not finite", ErrInvalidPayload, n.Type)
	}
	if raw.Value < 0 || raw.Value > 1 {
		return nil, fmt.Errorf("%w: %s score %v outside [0,1]", ErrInvalidPayload, n.Type, raw.Value)
	}
	return build(raw)
}

// build wraps the reading without enforcing identity fields. SessionID and
// Seq belong to the transport, which assigns them on publish.
func build(raw Reading) (*Event, error) {
	if !Known(raw.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedType, raw.Type)
	}
	return &Event{
		SessionID:    raw.SessionID,
		Type:         raw.Type,
		Seq:          raw.Seq,
		ObservedAtMs: raw.ObservedAtMs,
		Payload:      raw.Value,
		Tag:          raw.Tag,
	}, nil
}

// Package wire defines the vigil streaming protocol v1 contract.
//
// The package is intentionally dependency-light: it is shared between the
// server gateway and the endpoint client to keep the wire format
// authoritative in one place.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vigilops/vigil/internal/signal"
)

// Version is the protocol version embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol both sides must negotiate.
const Subprotocol = "vigil.v1"

// Type constants (wire-stable).
const (
	// TypeHello opens the resync handshake (endpoint -> server).
	TypeHello = "hello"
	// TypeHelloAck completes the handshake with the server's cursor (server -> endpoint).
	TypeHelloAck = "hello_ack"

	// TypeSignal carries one normalized signal event (endpoint -> server).
	TypeSignal = "signal"
	// TypeSignalAck cumulatively acknowledges applied sequence numbers (server -> endpoint).
	TypeSignalAck = "signal_ack"

	// TypeScore broadcasts the current fused score (server -> observers/endpoint).
	TypeScore = "score"
	// TypeAlert broadcasts a raised alert (server -> observers/endpoint).
	TypeAlert = "alert"

	// TypeClose ends the session explicitly (either direction).
	TypeClose = "close"
	// TypeError is a generic error envelope (server -> endpoint).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeHello, TypeHelloAck, TypeSignal, TypeSignalAck,
		TypeScore, TypeAlert, TypeClose, TypeError:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// New wraps a payload value into an envelope, marshaling it to JSON.
func New(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{V: Version, Type: typ, TS: time.Now().UTC(), Payload: raw}, nil
}

// ---- Payloads ----

// HelloPayload opens a connection for exactly one session. LastEventSeq is
// the endpoint's highest sequence number known to be durably applied.
type HelloPayload struct {
	SessionID    string `json:"session_id"`
	Token        string `json:"token"`
	LastEventSeq uint64 `json:"last_event_seq"`
}

// HelloAckPayload returns the server's cursor. The endpoint replays
// buffered events with seq strictly greater than LastAppliedSeq and
// discards earlier ones, bounding redelivery on reconnect.
type HelloAckPayload struct {
	SessionID      string `json:"session_id"`
	LastAppliedSeq uint64 `json:"last_applied_seq"`
	State          string `json:"state"`
}

// SignalPayload is the wire form of one signal event.
type SignalPayload struct {
	SessionID    string  `json:"session_id"`
	SignalType   string  `json:"signal_type"`
	Seq          uint64  `json:"seq"`
	ObservedAtMs int64   `json:"observed_at_ms"`
	Value        float64 `json:"value"`
	Tag          string  `json:"tag,omitempty"`
}

// Event converts the wire payload to the internal event model.
func (p SignalPayload) Event() *signal.Event {
	return &signal.Event{
		SessionID:    p.SessionID,
		Type:         signal.Type(p.SignalType),
		Seq:          p.Seq,
		ObservedAtMs: p.ObservedAtMs,
		Payload:      p.Value,
		Tag:          p.Tag,
	}
}

// FromEvent converts an internal event to its wire form.
func FromEvent(ev *signal.Event) SignalPayload {
	return SignalPayload{
		SessionID:    ev.SessionID,
		SignalType:   string(ev.Type),
		Seq:          ev.Seq,
		ObservedAtMs: ev.ObservedAtMs,
		Value:        ev.Payload,
		Tag:          ev.Tag,
	}
}

// SignalAckPayload is cumulative: every sequence number at or below Seq has
// been durably applied or consciously skipped as a gap.
type SignalAckPayload struct {
	Seq uint64 `json:"seq"`
}

// ScorePayload pushes the latest fused score. Best effort and coalescable:
// observers always see the most recent score, never a history replay.
type ScorePayload struct {
	SessionID   string             `json:"session_id"`
	Score       float64            `json:"score"`
	State       string             `json:"state"`
	Components  map[string]float64 `json:"components,omitempty"`
	LostContact bool               `json:"lost_contact"`
	At          time.Time          `json:"at"`
}

// AlertPayload announces a raised alert.
type AlertPayload struct {
	SessionID   string    `json:"session_id"`
	Score       float64   `json:"score_at_trigger"`
	Reason      string    `json:"reason_signal_type"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// ClosePayload ends the session.
type ClosePayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorPayload is a generic error response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorPayload.
const (
	CodeBadEnvelope      = "bad_envelope"
	CodeBadPayload       = "bad_payload"
	CodeUnauthorized     = "unauthorized"
	CodeSessionClosed    = "session_closed"
	CodeSessionNotFound  = "session_not_found"
	CodeInvalidSignal    = "invalid_signal_payload"
	CodeUnrecognizedType = "unrecognized_signal_type"
)

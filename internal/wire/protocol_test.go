package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/signal"
	"github.com/vigilops/vigil/internal/wire"
)

func TestEnvelope_Validate(t *testing.T) {
	env, err := wire.New(wire.TypeHello, wire.HelloPayload{SessionID: "s1", Token: "t"})
	require.NoError(t, err)
	assert.NoError(t, env.Validate())

	assert.Error(t, wire.Envelope{Type: wire.TypeHello}.Validate(), "missing version")
	assert.Error(t, wire.Envelope{V: "v2", Type: wire.TypeHello}.Validate(), "unsupported version")
	assert.Error(t, wire.Envelope{V: wire.Version}.Validate(), "missing type")
	assert.Error(t, wire.Envelope{V: wire.Version, Type: "telemetry"}.Validate(), "unknown type")
}

func TestSignalPayload_RoundTripsEvent(t *testing.T) {
	ev := &signal.Event{
		SessionID:    "s1",
		Type:         signal.TypeClipboard,
		Seq:          9,
		ObservedAtMs: 1750000000000,
		Payload:      0.42,
		Tag:          "paste",
	}
	assert.Equal(t, ev, wire.FromEvent(ev).Event())
}

func TestEnvelope_PayloadDecodes(t *testing.T) {
	env, err := wire.New(wire.TypeSignalAck, wire.SignalAckPayload{Seq: 17})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var back wire.Envelope
	require.NoError(t, json.Unmarshal(data, &back))
	require.NoError(t, back.Validate())

	var ack wire.SignalAckPayload
	require.NoError(t, json.Unmarshal(back.Payload, &ack))
	assert.Equal(t, uint64(17), ack.Seq)
}

package fusion_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/fusion"
	"github.com/vigilops/vigil/internal/signal"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testConfig() fusion.Config {
	return fusion.Config{
		Weights: map[signal.Type]float64{
			signal.TypeProcess:    0.30,
			signal.TypeClipboard:  0.25,
			signal.TypeCadence:    0.15,
			signal.TypeClassifier: 0.30,
		},
		HalfLives: map[signal.Type]time.Duration{
			signal.TypeProcess:    60 * time.Second,
			signal.TypeClipboard:  30 * time.Second,
			signal.TypeCadence:    45 * time.Second,
			signal.TypeClassifier: 30 * time.Second,
		},
		High:  0.75,
		Low:   0.50,
		Dwell: 5 * time.Second,
	}
}

func event(t signal.Type, seq uint64, value float64, at time.Time) *signal.Event {
	return &signal.Event{
		SessionID:    "s1",
		Type:         t,
		Seq:          seq,
		ObservedAtMs: at.UnixMilli(),
		Payload:      value,
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	bad := testConfig()
	bad.Weights[signal.TypeProcess] = 0.5
	assert.Error(t, bad.Validate(), "weights no longer sum to 1")

	bad = testConfig()
	bad.Low = 0.8
	assert.Error(t, bad.Validate(), "low must stay below high")

	bad = testConfig()
	bad.HalfLives[signal.TypeCadence] = 0
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Weights["telemetry"] = 0
	assert.Error(t, bad.Validate())
}

func TestEngine_ScoreStaysBounded(t *testing.T) {
	eng, err := fusion.NewEngine(testConfig())
	require.NoError(t, err)

	at := t0
	seq := uint64(1)
	for i := 0; i < 50; i++ {
		for _, st := range signal.Types {
			res, err := eng.Apply(event(st, seq, 1.0, at))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Score, 0.0)
			assert.LessOrEqual(t, res.Score, 1.0)
			seq++
			at = at.Add(100 * time.Millisecond)
		}
	}
}

func TestEngine_ConvergesWithoutOvershoot(t *testing.T) {
	eng, err := fusion.NewEngine(testConfig())
	require.NoError(t, err)

	// Seed every channel quiet, then feed a constant 0.9: the score climbs
	// toward 0.9 and never passes it.
	at := t0
	seq := uint64(1)
	for _, st := range signal.Types {
		_, err := eng.Apply(event(st, seq, 0.0, at))
		require.NoError(t, err)
		seq++
	}
	at = at.Add(2 * time.Second)

	var last float64
	for i := 0; i < 120; i++ {
		for _, st := range signal.Types {
			res, err := eng.Apply(event(st, seq, 0.9, at))
			require.NoError(t, err)
			assert.LessOrEqual(t, res.Score, 0.9+1e-9)
			last = res.Score
			seq++
		}
		at = at.Add(2 * time.Second)
	}
	assert.InDelta(t, 0.9, last, 0.02)
}

func TestEngine_DecaysTowardBaseline(t *testing.T) {
	eng, err := fusion.NewEngine(testConfig())
	require.NoError(t, err)

	_, err = eng.Apply(event(signal.TypeClassifier, 1, 1.0, t0))
	require.NoError(t, err)
	require.Greater(t, eng.Score(t0), 0.9)

	// After five half-life constants of silence the channel is within a
	// percent of quiet.
	later := t0.Add(5 * 30 * time.Second)
	assert.Less(t, eng.Score(later), 0.01)
}

func TestEngine_RenormalizesOverReportingTypes(t *testing.T) {
	eng, err := fusion.NewEngine(testConfig())
	require.NoError(t, err)

	// Only the process channel has reported. Its weight is renormalized to
	// 1, so a hard indicator drives the score to 1, not to 0.30.
	res, err := eng.Apply(event(signal.TypeProcess, 1, 1.0, t0))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Score, 1e-9)

	// A second reporting channel splits the weight again.
	res, err = eng.Apply(event(signal.TypeClassifier, 2, 0.0, t0))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Score, 1e-9)
}

func TestEngine_UnknownTypeDroppedAndCounted(t *testing.T) {
	eng, err := fusion.NewEngine(testConfig())
	require.NoError(t, err)

	_, err = eng.Apply(event(signal.TypeProcess, 1, 1.0, t0))
	require.NoError(t, err)
	before := eng.Score(t0)

	res, err := eng.Apply(event(signal.Type("telemetry"), 2, 0.4, t0))
	assert.ErrorIs(t, err, signal.ErrUnrecognizedType)
	assert.Equal(t, before, res.Score, "unknown types carry no score weight")
	assert.Equal(t, uint64(1), eng.Unrecognized())
}

func TestEngine_SnapshotComponents(t *testing.T) {
	eng, err := fusion.NewEngine(testConfig())
	require.NoError(t, err)

	_, err = eng.Apply(event(signal.TypeCadence, 1, 0.6, t0))
	require.NoError(t, err)
	_, err = eng.Apply(event(signal.TypeClipboard, 2, 0.8, t0))
	require.NoError(t, err)

	snap := eng.Snapshot(t0)
	assert.Len(t, snap.Components, 2)
	assert.InDelta(t, 0.6, snap.Components[signal.TypeCadence], 1e-9)
	assert.InDelta(t, 0.8, snap.Components[signal.TypeClipboard], 1e-9)
	assert.False(t, snap.Flagged)
}

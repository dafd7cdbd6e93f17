package fusion_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vigilops/vigil/internal/fusion"
)

func TestAlerter_SustainedHighRaisesOnce(t *testing.T) {
	a := fusion.NewAlerter(0.75, 0.50, 5*time.Second)

	// Score holds at 0.8 for six seconds, observed every second.
	raises := 0
	for i := 0; i <= 6; i++ {
		d := a.Observe(0.8, t0.Add(time.Duration(i)*time.Second))
		if d == fusion.DecisionRaise {
			raises++
		}
	}
	assert.Equal(t, 1, raises, "exactly one alert for a sustained excursion")
	assert.True(t, a.Flagged())

	// Staying high afterwards never re-raises.
	d := a.Observe(0.9, t0.Add(time.Minute))
	assert.Equal(t, fusion.DecisionNone, d)
}

func TestAlerter_BriefSpikeDoesNotRaise(t *testing.T) {
	a := fusion.NewAlerter(0.75, 0.50, 5*time.Second)

	assert.Equal(t, fusion.DecisionNone, a.Observe(0.85, t0))
	assert.Equal(t, fusion.DecisionNone, a.Observe(0.85, t0.Add(time.Second)))
	// Drops to 0.6 before the dwell elapses; 0.6 is between the thresholds,
	// so the countdown survives but cannot fire there.
	for i := 2; i < 20; i++ {
		d := a.Observe(0.6, t0.Add(time.Duration(i)*time.Second))
		assert.Equal(t, fusion.DecisionNone, d)
	}
	assert.False(t, a.Flagged())
}

func TestAlerter_DropBelowLowDisarms(t *testing.T) {
	a := fusion.NewAlerter(0.75, 0.50, 5*time.Second)

	a.Observe(0.9, t0)
	a.Observe(0.4, t0.Add(time.Second)) // below low: countdown cancels

	// Back above high, but the dwell clock must restart from here.
	assert.Equal(t, fusion.DecisionNone, a.Observe(0.9, t0.Add(2*time.Second)))
	assert.Equal(t, fusion.DecisionNone, a.Observe(0.9, t0.Add(6*time.Second)))
	assert.Equal(t, fusion.DecisionRaise, a.Observe(0.9, t0.Add(7*time.Second)))
}

func TestAlerter_ClearRequiresSustainedLow(t *testing.T) {
	a := fusion.NewAlerter(0.75, 0.50, 5*time.Second)

	a.Observe(0.9, t0)
	assert.Equal(t, fusion.DecisionRaise, a.Observe(0.9, t0.Add(5*time.Second)))

	// Dips below low but pops back up: no clear.
	assert.Equal(t, fusion.DecisionNone, a.Observe(0.45, t0.Add(10*time.Second)))
	assert.Equal(t, fusion.DecisionNone, a.Observe(0.6, t0.Add(12*time.Second)))
	assert.True(t, a.Flagged())

	// Sustained below low for the dwell clears exactly once.
	assert.Equal(t, fusion.DecisionNone, a.Observe(0.4, t0.Add(20*time.Second)))
	assert.Equal(t, fusion.DecisionClear, a.Observe(0.4, t0.Add(25*time.Second)))
	assert.False(t, a.Flagged())
}

func TestAlerter_MidBandNeverRaises(t *testing.T) {
	a := fusion.NewAlerter(0.75, 0.50, 5*time.Second)

	// Hovering between low and high for a long time never alerts.
	for i := 0; i < 100; i++ {
		d := a.Observe(0.7, t0.Add(time.Duration(i)*time.Second))
		assert.Equal(t, fusion.DecisionNone, d)
	}
	assert.False(t, a.Flagged())
}

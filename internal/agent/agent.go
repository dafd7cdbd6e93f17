// Package agent runs on the candidate's machine: it samples local
// detectors, normalizes their raw readings, and ships the resulting signal
// events to the server over the streaming client.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vigilops/vigil/internal/signal"
	"github.com/vigilops/vigil/internal/stream"
)

// Observation is one raw detector output before normalization.
type Observation struct {
	Type  signal.Type
	Value float64
	Tag   string
}

// Detector samples one local signal source. Sample returns ok=false when
// there is nothing to report this round (e.g. clipboard unchanged).
type Detector interface {
	Type() signal.Type
	Interval() time.Duration
	Sample(ctx context.Context) (obs Observation, ok bool, err error)
}

// Publisher ships one normalized event toward the server.
type Publisher interface {
	Publish(ev *signal.Event) error
}

// Agent drives the detectors and publishes their readings.
type Agent struct {
	detectors []Detector
	norm      *signal.Registry
	pub       Publisher
	log       *slog.Logger
}

// New constructs an agent over the given detectors.
func New(pub Publisher, log *slog.Logger, detectors ...Detector) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		detectors: detectors,
		norm:      signal.DefaultRegistry(),
		pub:       pub,
		log:       log,
	}
}

// Run samples every detector on its own interval until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	done := make(chan struct{})
	for _, d := range a.detectors {
		d := d
		go func() {
			a.loop(ctx, d)
			done <- struct{}{}
		}()
	}
	for range a.detectors {
		<-done
	}
	return ctx.Err()
}

func (a *Agent) loop(ctx context.Context, d Detector) {
	interval := d.Interval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sample(ctx, d)
		}
	}
}

func (a *Agent) sample(ctx context.Context, d Detector) {
	obs, ok, err := d.Sample(ctx)
	if err != nil {
		a.log.Warn("agent.sample_failed", "signal_type", string(d.Type()), "err", err)
		return
	}
	if !ok {
		return
	}

	// SessionID and Seq are assigned by the publisher.
	ev, err := a.norm.Normalize(signal.Reading{
		Type:         obs.Type,
		Value:        obs.Value,
		Tag:          obs.Tag,
		ObservedAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		a.log.Warn("agent.reading_rejected", "signal_type", string(obs.Type), "err", err)
		return
	}

	if err := a.pub.Publish(ev); err != nil {
		if errors.Is(err, stream.ErrBufferFull) {
			a.log.Warn("agent.publish_dropped", "signal_type", string(obs.Type), "err", err)
			return
		}
		a.log.Error("agent.publish_failed", "signal_type", string(obs.Type), "err", err)
	}
}

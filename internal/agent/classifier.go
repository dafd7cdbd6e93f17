package agent

import (
	"context"
	"strings"
	"time"

	"github.com/vigilops/vigil/internal/signal"
)

// TextSource yields the text produced since the previous call, typically
// the candidate's answer buffer. Empty means nothing new.
type TextSource interface {
	Drain(ctx context.Context) (string, error)
}

// Classifier scores a block of text with the probability that an AI
// assistant wrote it. Implementations wrap whatever model is deployed;
// HeuristicClassifier is the built-in fallback.
type Classifier interface {
	Classify(ctx context.Context, text string) (float64, error)
}

// HeuristicClassifier reuses the clipboard text heuristics as a stand-in
// for a trained model.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(ctx context.Context, text string) (float64, error) {
	return ScoreText(text), nil
}

// ClassifierDetector feeds new candidate text through the classifier.
type ClassifierDetector struct {
	source   TextSource
	clf      Classifier
	interval time.Duration
}

// NewClassifierDetector constructs the detector.
func NewClassifierDetector(source TextSource, clf Classifier, interval time.Duration) *ClassifierDetector {
	if clf == nil {
		clf = HeuristicClassifier{}
	}
	return &ClassifierDetector{source: source, clf: clf, interval: interval}
}

func (d *ClassifierDetector) Type() signal.Type       { return signal.TypeClassifier }
func (d *ClassifierDetector) Interval() time.Duration { return d.interval }

// Sample drains the text source and classifies whatever arrived.
func (d *ClassifierDetector) Sample(ctx context.Context) (Observation, bool, error) {
	text, err := d.source.Drain(ctx)
	if err != nil {
		return Observation{}, false, err
	}
	if strings.TrimSpace(text) == "" {
		return Observation{}, false, nil
	}

	p, err := d.clf.Classify(ctx, text)
	if err != nil {
		return Observation{}, false, err
	}
	return Observation{Type: signal.TypeClassifier, Value: p}, true, nil
}

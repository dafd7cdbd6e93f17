package agent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/vigilops/vigil/internal/signal"
)

// ClipboardSource reads the current clipboard text.
type ClipboardSource interface {
	Read(ctx context.Context) (string, error)
}

var aiPhrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(as an ai|i apologize|i cannot|i'm sorry, but)\b`),
	regexp.MustCompile(`\b(certainly|however|furthermore|additionally)\b.*\b(certainly|however|furthermore)\b`),
	regexp.MustCompile(`(?m)^\d+\.\s+[A-Z].*\n\d+\.\s+[A-Z]`),
	regexp.MustCompile(`\*\*[^*]+\*\*`),
}

var formalWords = []string{"furthermore", "additionally", "consequently", "nevertheless", "therefore"}

// ClipboardDetector watches for clipboard transitions and scores the new
// content for assistant-generated style. Unchanged or empty clipboard
// yields no observation.
type ClipboardDetector struct {
	source   ClipboardSource
	interval time.Duration
	last     string
}

// NewClipboardDetector constructs the detector.
func NewClipboardDetector(source ClipboardSource, interval time.Duration) *ClipboardDetector {
	return &ClipboardDetector{source: source, interval: interval}
}

func (d *ClipboardDetector) Type() signal.Type       { return signal.TypeClipboard }
func (d *ClipboardDetector) Interval() time.Duration { return d.interval }

// Sample reads the clipboard and scores it when the content changed.
func (d *ClipboardDetector) Sample(ctx context.Context) (Observation, bool, error) {
	text, err := d.source.Read(ctx)
	if err != nil {
		return Observation{}, false, err
	}
	if text == d.last || strings.TrimSpace(text) == "" {
		return Observation{}, false, nil
	}
	d.last = text

	return Observation{Type: signal.TypeClipboard, Value: ScoreText(text)}, true, nil
}

// ScoreText estimates how likely a block of text was produced by an AI
// assistant. Heuristics, not a model: phrase patterns, markdown artifacts,
// formal connectives, and unnaturally uniform sentence lengths each add a
// fixed amount. The result is capped at 1.
func ScoreText(text string) float64 {
	if len(text) < 20 {
		return 0
	}

	score := 0.0
	lower := strings.ToLower(text)

	matches := 0
	for _, p := range aiPhrasePatterns {
		if p.MatchString(lower) {
			matches++
		}
	}
	if matches > 0 {
		score += min(0.5, float64(matches)*0.2)
	}

	// Uniform sentence lengths read as generated prose.
	sentences := strings.Split(text, ".")
	if len(sentences) > 3 {
		var lengths []float64
		for _, s := range sentences {
			if t := strings.TrimSpace(s); t != "" {
				lengths = append(lengths, float64(len(t)))
			}
		}
		if len(lengths) > 0 {
			var sum float64
			for _, l := range lengths {
				sum += l
			}
			mean := sum / float64(len(lengths))
			var ss float64
			for _, l := range lengths {
				ss += (l - mean) * (l - mean)
			}
			std := ss / float64(len(lengths))
			if std < 400 && mean > 50 { // std dev < 20 chars
				score += 0.3
			}
		}
	}

	if strings.Contains(text, "**") || strings.Contains(text, "##") || strings.Contains(text, "```") {
		score += 0.2
	}

	formal := 0
	for _, w := range formalWords {
		if strings.Contains(lower, w) {
			formal++
		}
	}
	if formal > 2 {
		score += 0.2
	}

	return min(1.0, score)
}

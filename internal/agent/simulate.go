package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Simulator fabricates detector inputs for demos and load testing. It
// implements ProcessLister, ClipboardSource, and TextSource; SuspicionRate
// controls how often each source produces an incriminating sample.
type Simulator struct {
	// SuspicionRate is the probability in [0,1] that a given sample looks
	// like cheating.
	SuspicionRate float64

	mu       sync.Mutex
	lastClip string
}

// NewSimulator seeds the generator and returns a simulator.
func NewSimulator(suspicionRate float64, seed uint64) *Simulator {
	gofakeit.Seed(int64(seed))
	return &Simulator{SuspicionRate: suspicionRate}
}

// Processes fabricates a plausible process inventory. With probability
// SuspicionRate it includes one blacklisted assistant process.
func (s *Simulator) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs := []ProcessInfo{
		{PID: 1, Name: "systemd", Exe: "/usr/lib/systemd/systemd"},
		{PID: gofakeit.Number(100, 9000), Name: "code", Exe: "/usr/share/code/code"},
		{PID: gofakeit.Number(100, 9000), Name: "firefox", Exe: "/usr/lib/firefox/firefox"},
		{PID: gofakeit.Number(100, 9000), Name: gofakeit.AppName(), Exe: "/usr/bin/" + gofakeit.Word()},
	}
	if gofakeit.Float64() < s.SuspicionRate {
		kw := defaultKeywords[gofakeit.Number(0, len(defaultKeywords)-1)]
		procs = append(procs, ProcessInfo{
			PID:     gofakeit.Number(100, 9000),
			Name:    kw,
			Exe:     "/opt/" + kw + "/" + kw,
			Cmdline: kw + " --hidden",
		})
	}
	return procs, nil
}

// Read fabricates clipboard content: usually a short human phrase, with
// probability SuspicionRate an assistant-flavored answer.
func (s *Simulator) Read(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clip string
	if gofakeit.Float64() < s.SuspicionRate {
		clip = assistantParagraph()
	} else {
		clip = gofakeit.Sentence(gofakeit.Number(3, 12))
	}
	if clip == s.lastClip {
		return s.lastClip, nil
	}
	s.lastClip = clip
	return clip, nil
}

// Drain fabricates a transcript chunk for the classifier channel.
func (s *Simulator) Drain(ctx context.Context) (string, error) {
	if gofakeit.Float64() < s.SuspicionRate {
		return assistantParagraph(), nil
	}
	return gofakeit.Paragraph(1, gofakeit.Number(2, 4), gofakeit.Number(5, 12), " "), nil
}

// FeedKeystrokes pushes a burst of synthetic keystrokes into the recorder.
// Suspicious bursts are fast and metronomic; honest ones are slow and
// jittery.
func (s *Simulator) FeedKeystrokes(rec *KeystrokeRecorder, n int) {
	now := time.Now()
	suspicious := gofakeit.Float64() < s.SuspicionRate
	for i := 0; i < n; i++ {
		var gap time.Duration
		if suspicious {
			gap = time.Duration(20+gofakeit.Number(0, 2)) * time.Millisecond
		} else {
			gap = time.Duration(80+gofakeit.Number(0, 220)) * time.Millisecond
		}
		now = now.Add(gap)
		rec.Record(now)
	}
}

func assistantParagraph() string {
	topic := gofakeit.HackerNoun()
	return fmt.Sprintf(
		"Certainly! Here is an overview of %s.\n\n"+
			"1. First, %s.\n"+
			"2. Additionally, %s.\n\n"+
			"**Note**: furthermore, %s. However, additionally, there are tradeoffs to consider.",
		topic,
		strings.ToLower(gofakeit.HackerPhrase()),
		strings.ToLower(gofakeit.HackerPhrase()),
		strings.ToLower(gofakeit.HackerPhrase()),
	)
}

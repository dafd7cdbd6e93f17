package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilops/vigil/internal/signal"
)

// defaultKeywords flags the assistant tools most commonly seen during
// remote interviews. A blacklist file replaces, not extends, this list.
var defaultKeywords = []string{
	"chatgpt", "claude", "copilot", "cluely", "yoodli",
	"gemini", "bard", "perplexity", "interviewcoder",
	"openai", "anthropic", "gpt", "ai-assistant",
}

// ProcessInfo describes one running process as seen by the lister.
type ProcessInfo struct {
	PID     int
	Name    string
	Exe     string
	Cmdline string
}

// ProcessLister enumerates running processes. Abstracted so tests and the
// simulator can supply inventories without touching the host.
type ProcessLister interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// Blacklist holds the keyword set matched against process inventories.
type Blacklist struct {
	Keywords []string `yaml:"keywords"`
}

// LoadBlacklist reads a keyword file, falling back to the defaults when
// path is empty.
func LoadBlacklist(path string) (Blacklist, error) {
	if path == "" {
		return Blacklist{Keywords: defaultKeywords}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Blacklist{}, fmt.Errorf("failed to read blacklist: %w", err)
	}
	var bl Blacklist
	if err := yaml.Unmarshal(data, &bl); err != nil {
		return Blacklist{}, fmt.Errorf("failed to parse blacklist: %w", err)
	}
	if len(bl.Keywords) == 0 {
		return Blacklist{}, fmt.Errorf("blacklist %s defines no keywords", path)
	}
	for i, k := range bl.Keywords {
		bl.Keywords[i] = strings.ToLower(strings.TrimSpace(k))
	}
	return bl, nil
}

// Match returns the names of processes whose name, executable path, or
// command line contains a blacklisted keyword.
func (b Blacklist) Match(procs []ProcessInfo) []string {
	var hits []string
	for _, p := range procs {
		name := strings.ToLower(p.Name)
		exe := strings.ToLower(p.Exe)
		cmd := strings.ToLower(p.Cmdline)
		for _, kw := range b.Keywords {
			if strings.Contains(name, kw) || strings.Contains(exe, kw) || strings.Contains(cmd, kw) {
				hits = append(hits, p.Name)
				break
			}
		}
	}
	return hits
}

// ProcessDetector emits a binary indicator: 1 while any blacklisted
// process is running, 0 otherwise.
type ProcessDetector struct {
	lister    ProcessLister
	blacklist Blacklist
	interval  time.Duration
}

// NewProcessDetector constructs the detector.
func NewProcessDetector(lister ProcessLister, bl Blacklist, interval time.Duration) *ProcessDetector {
	return &ProcessDetector{lister: lister, blacklist: bl, interval: interval}
}

func (d *ProcessDetector) Type() signal.Type       { return signal.TypeProcess }
func (d *ProcessDetector) Interval() time.Duration { return d.interval }

// Sample scans the inventory and reports the indicator. The first matched
// process name rides along as the event tag.
func (d *ProcessDetector) Sample(ctx context.Context) (Observation, bool, error) {
	procs, err := d.lister.Processes(ctx)
	if err != nil {
		return Observation{}, false, fmt.Errorf("list processes: %w", err)
	}

	obs := Observation{Type: signal.TypeProcess, Value: 0}
	if hits := d.blacklist.Match(procs); len(hits) > 0 {
		obs.Value = 1
		obs.Tag = hits[0]
	}
	return obs, true, nil
}

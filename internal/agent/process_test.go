package agent_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/agent"
	"github.com/vigilops/vigil/internal/signal"
)

type staticLister struct {
	procs []agent.ProcessInfo
}

func (s staticLister) Processes(ctx context.Context) ([]agent.ProcessInfo, error) {
	return s.procs, nil
}

func TestBlacklist_Match(t *testing.T) {
	bl, err := agent.LoadBlacklist("")
	require.NoError(t, err)

	procs := []agent.ProcessInfo{
		{PID: 10, Name: "firefox", Exe: "/usr/lib/firefox/firefox"},
		{PID: 11, Name: "helper", Cmdline: "/opt/ChatGPT/chatgpt --background"},
		{PID: 12, Name: "Claude", Exe: "/Applications/Claude.app/Contents/MacOS/Claude"},
	}
	hits := bl.Match(procs)
	assert.Equal(t, []string{"helper", "Claude"}, hits, "matching is case-insensitive across name, exe, and cmdline")
}

func TestLoadBlacklist_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords:\n  - NotesHelper\n  - cribsheet\n"), 0o644))

	bl, err := agent.LoadBlacklist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"noteshelper", "cribsheet"}, bl.Keywords)

	// A configured file replaces the defaults entirely.
	assert.Empty(t, bl.Match([]agent.ProcessInfo{{Name: "chatgpt"}}))
	assert.Len(t, bl.Match([]agent.ProcessInfo{{Name: "CribSheet"}}), 1)
}

func TestLoadBlacklist_RejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords: []\n"), 0o644))

	_, err := agent.LoadBlacklist(path)
	assert.Error(t, err)
}

func TestProcessDetector_Sample(t *testing.T) {
	bl, err := agent.LoadBlacklist("")
	require.NoError(t, err)

	clean := agent.NewProcessDetector(staticLister{procs: []agent.ProcessInfo{
		{Name: "firefox"}, {Name: "code"},
	}}, bl, time.Second)
	obs, ok, err := clean.Sample(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, signal.TypeProcess, obs.Type)
	assert.Equal(t, 0.0, obs.Value)

	dirty := agent.NewProcessDetector(staticLister{procs: []agent.ProcessInfo{
		{Name: "firefox"}, {Name: "copilot"},
	}}, bl, time.Second)
	obs, ok, err = dirty.Sample(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, obs.Value)
	assert.Equal(t, "copilot", obs.Tag)
}

package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/agent"
	"github.com/vigilops/vigil/internal/signal"
)

const assistantText = `Certainly! Here is an overview of binary search trees.

1. First, recall that lookups descend from the root.
2. Additionally, insertion follows the same comparison path.

**Note**: furthermore, balancing matters. However, additionally, therefore
consequently the worst case degrades to a linked list.`

type scriptedClipboard struct {
	values []string
	idx    int
}

func (s *scriptedClipboard) Read(ctx context.Context) (string, error) {
	if s.idx >= len(s.values) {
		return s.values[len(s.values)-1], nil
	}
	v := s.values[s.idx]
	s.idx++
	return v, nil
}

func TestScoreText(t *testing.T) {
	assert.Zero(t, agent.ScoreText("short"), "tiny snippets are never scored")
	assert.Zero(t, agent.ScoreText(""))

	human := "ok so i think we just sort it first and then walk pairs? lemme try that real quick"
	assert.Less(t, agent.ScoreText(human), 0.3)

	score := agent.ScoreText(assistantText)
	assert.Greater(t, score, 0.6)
	assert.LessOrEqual(t, score, 1.0)
}

func TestClipboardDetector_OnlyReportsTransitions(t *testing.T) {
	src := &scriptedClipboard{values: []string{
		"hello there, just some notes",
		"hello there, just some notes", // unchanged
		assistantText,
	}}
	d := agent.NewClipboardDetector(src, time.Second)

	obs, ok, err := d.Sample(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, signal.TypeClipboard, obs.Type)
	assert.Less(t, obs.Value, 0.3)

	_, ok, err = d.Sample(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "unchanged clipboard yields nothing")

	obs, ok, err = d.Sample(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, obs.Value, 0.6)
}

type scriptedText struct {
	chunks []string
	idx    int
}

func (s *scriptedText) Drain(ctx context.Context) (string, error) {
	if s.idx >= len(s.chunks) {
		return "", nil
	}
	v := s.chunks[s.idx]
	s.idx++
	return v, nil
}

func TestClassifierDetector_Sample(t *testing.T) {
	d := agent.NewClassifierDetector(&scriptedText{chunks: []string{assistantText, ""}}, nil, time.Second)

	obs, ok, err := d.Sample(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, signal.TypeClassifier, obs.Type)
	assert.Greater(t, obs.Value, 0.6)

	_, ok, err = d.Sample(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "no new text, no observation")
}

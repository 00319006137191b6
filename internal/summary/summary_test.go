package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/droverhq/drover/internal/models"
)

func agent(content string) models.LogEntry {
	return models.LogEntry{Type: models.LogTypeAgent, Content: content}
}

func system(content string) models.LogEntry {
	return models.LogEntry{Type: models.LogTypeSystem, Content: content}
}

func TestBuildEmptyLog(t *testing.T) {
	assert.Empty(t, Build(nil, 0))
}

func TestIterationsReported(t *testing.T) {
	entries := []models.LogEntry{
		system("--- Iteration 1 ---"),
		agent("working"),
		system("--- Iteration 3 ---"),
	}
	s := Build(entries, 0)
	assert.Contains(t, s, "Iterations completed: 3")
}

func TestFilesTouched(t *testing.T) {
	entries := []models.LogEntry{
		agent("I created internal/engine/ops.go and modified cmd/main.go"),
		agent("Then I updated internal/engine/ops.go again"),
		system("edited settings.yaml"),
	}
	s := Build(entries, 0)
	assert.Contains(t, s, "Files touched:")
	assert.Contains(t, s, "internal/engine/ops.go")
	assert.Contains(t, s, "cmd/main.go")
	// Deduped within the Files touched section (Recent activity repeats
	// the raw agent lines), and system lines excluded.
	files := s[strings.Index(s, "Files touched:"):]
	if end := strings.Index(files, "\n\n"); end >= 0 {
		files = files[:end]
	}
	assert.Equal(t, 1, strings.Count(files, "internal/engine/ops.go"))
	assert.NotContains(t, s, "settings.yaml")
}

func TestCriteriaProgress(t *testing.T) {
	entries := []models.LogEntry{
		system("Criterion 1 marked complete by agent"),
		system("Criterion 2 marked complete by operator"),
		agent("Criterion 9 complete"), // agent text does not count
	}
	s := Build(entries, 0)
	assert.Contains(t, s, "Criteria progress: 2 updates")
}

func TestLastAnalysisWins(t *testing.T) {
	entries := []models.LogEntry{
		agent("Analysis: first pass looks shaky"),
		agent("Analysis: tests now green"),
	}
	s := Build(entries, 0)
	assert.Contains(t, s, "Last analysis: tests now green")
	assert.NotContains(t, s, "Last analysis: first pass")
}

func TestRecentActivityTruncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	entries := []models.LogEntry{
		agent("one"), agent("two"), agent("three"),
		agent("four"), agent("five"), agent(long),
	}
	s := Build(entries, 0)
	assert.Contains(t, s, "Recent activity:")
	// Oldest of the six agent entries is dropped.
	assert.NotContains(t, s, "one")
	assert.Contains(t, s, "two")
	// Each entry capped at 200 chars.
	assert.NotContains(t, s, strings.Repeat("x", 201))
}

func TestMaxCharsBound(t *testing.T) {
	var entries []models.LogEntry
	for i := 0; i < 50; i++ {
		entries = append(entries, agent(strings.Repeat("y", 100)))
	}
	s := Build(entries, 300)
	assert.LessOrEqual(t, len(s), 300)
	assert.True(t, strings.HasSuffix(s, "..."))
}

func TestMaxIteration(t *testing.T) {
	assert.Zero(t, MaxIteration(nil))
	entries := []models.LogEntry{system("--- Iteration 7 ---")}
	assert.Equal(t, 7, MaxIteration(entries))
}

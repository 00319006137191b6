// Package summary condenses a loop's journal into a compact work summary
// for cross-session resume prompts.
package summary

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/droverhq/drover/internal/models"
)

// DefaultMaxChars bounds the rendered summary.
const DefaultMaxChars = 2000

const (
	maxFiles         = 10
	recentEntries    = 5
	recentEntryChars = 200
	recentTotalChars = 800
)

var (
	iterationRe = regexp.MustCompile(`--- Iteration (\d+)`)

	// Verb followed by a path with a 1-5 letter lowercase extension.
	fileTouchRe = regexp.MustCompile(`\b(?i:created|modified|edited|wrote|updated|deleted)\b[^\n]*?([\w./-]+\.[a-z]{1,5})\b`)

	criterionProgressRe = regexp.MustCompile(`Criterion .*complete`)
)

// Build renders a bounded summary from a loop's log entries. Pure
// function of the log: safe to call on a snapshot at any time.
func Build(entries []models.LogEntry, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var sections []string

	if n := MaxIteration(entries); n > 0 {
		sections = append(sections, fmt.Sprintf("Iterations completed: %d", n))
	}

	if files := touchedFiles(entries); len(files) > 0 {
		sections = append(sections, "Files touched:\n- "+strings.Join(files, "\n- "))
	}

	if k := criteriaUpdates(entries); k > 0 {
		sections = append(sections, fmt.Sprintf("Criteria progress: %d updates", k))
	}

	if analysis := lastAnalysis(entries); analysis != "" {
		sections = append(sections, "Last analysis: "+analysis)
	}

	if recent := recentActivity(entries); recent != "" {
		sections = append(sections, "Recent activity:\n"+recent)
	}

	return truncate(strings.Join(sections, "\n\n"), maxChars)
}

// MaxIteration returns the highest iteration marker in the log, 0 when
// none. The engine uses it to continue numbering across restarts.
func MaxIteration(entries []models.LogEntry) int {
	max := 0
	for _, entry := range entries {
		for _, m := range iterationRe.FindAllStringSubmatch(entry.Content, -1) {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > max {
				max = n
			}
		}
	}
	return max
}

func touchedFiles(entries []models.LogEntry) []string {
	seen := make(map[string]bool)
	var files []string
	for _, entry := range entries {
		if entry.Type != models.LogTypeAgent {
			continue
		}
		for _, m := range fileTouchRe.FindAllStringSubmatch(entry.Content, -1) {
			path := m[1]
			if seen[path] {
				continue
			}
			seen[path] = true
			files = append(files, path)
			if len(files) >= maxFiles {
				return files
			}
		}
	}
	return files
}

func criteriaUpdates(entries []models.LogEntry) int {
	count := 0
	for _, entry := range entries {
		if entry.Type != models.LogTypeSystem {
			continue
		}
		if criterionProgressRe.MatchString(entry.Content) {
			count++
		}
	}
	return count
}

func lastAnalysis(entries []models.LogEntry) string {
	last := ""
	for _, entry := range entries {
		for _, line := range strings.Split(entry.Content, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "Analysis:") {
				last = strings.TrimSpace(strings.TrimPrefix(trimmed, "Analysis:"))
			}
		}
	}
	return last
}

func recentActivity(entries []models.LogEntry) string {
	var agentEntries []string
	for i := len(entries) - 1; i >= 0 && len(agentEntries) < recentEntries; i-- {
		if entries[i].Type != models.LogTypeAgent {
			continue
		}
		agentEntries = append(agentEntries, truncate(entries[i].Content, recentEntryChars))
	}

	for i, k := 0, len(agentEntries)-1; i < k; i, k = i+1, k-1 {
		agentEntries[i], agentEntries[k] = agentEntries[k], agentEntries[i]
	}
	return truncate(strings.Join(agentEntries, "\n"), recentTotalChars)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

package engine

import (
	"fmt"
	"strings"

	"github.com/droverhq/drover/internal/models"
)

// buildInitialPrompt renders the first prompt for a loop from its issue
// snapshot. Criteria are numbered in stored order; the agent's
// completion tokens are 1-indexed against exactly this list.
func buildInitialPrompt(loop models.Loop) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are working on issue #%d: %s\n", loop.Issue.Number, loop.Issue.Title)
	if loop.Issue.URL != "" {
		fmt.Fprintf(&b, "Issue: %s\n", loop.Issue.URL)
	}
	b.WriteString("\n")

	if body := strings.TrimSpace(loop.Issue.Body); body != "" {
		b.WriteString("Issue description:\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	if len(loop.Issue.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for i, criterion := range loop.Issue.AcceptanceCriteria {
			mark := " "
			if criterion.Completed {
				mark = "x"
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, criterion.Text)
		}
		b.WriteString("\n")
		b.WriteString("Work through the criteria in order. When you complete one, output ")
		b.WriteString("<criterion-complete>N</criterion-complete> with its number on its own. ")
		b.WriteString("If a previously completed criterion regresses, output ")
		b.WriteString("<criterion-incomplete>N</criterion-incomplete>. ")
	}
	b.WriteString("When the whole task is done, output <promise>TASK COMPLETE</promise>.\n")

	return b.String()
}

package issue

import (
	"regexp"
	"strings"

	"github.com/droverhq/drover/internal/models"
)

// criteriaHeadingRe matches the section heading that opens the
// acceptance criteria list.
var criteriaHeadingRe = regexp.MustCompile(`(?im)^#{1,6}\s*acceptance criteria\s*$`)

// checkboxRe matches one markdown task-list item.
var checkboxRe = regexp.MustCompile(`^(\s*[-*]\s*)\[([ xX])\](\s*)(.*)$`)

// ParseAcceptanceCriteria extracts the checkbox list under the
// "Acceptance Criteria" heading, in order. Returns nil when the body has
// no recognized section.
func ParseAcceptanceCriteria(body string) []models.AcceptanceCriterion {
	section, ok := criteriaSection(body)
	if !ok {
		return nil
	}

	var criteria []models.AcceptanceCriterion
	for _, line := range section {
		m := checkboxRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		criteria = append(criteria, models.AcceptanceCriterion{
			Text:      strings.TrimSpace(m[4]),
			Completed: m[2] == "x" || m[2] == "X",
		})
	}
	return criteria
}

// ApplyCriteriaToBody rewrites the checkbox states in the body's
// acceptance criteria section to match the given criteria, by position.
// Bodies without a recognized section are returned unchanged. Checkbox
// text is preserved; only the [ ]/[x] marks change, so a parse/apply
// round-trip is the identity up to whitespace.
func ApplyCriteriaToBody(body string, criteria []models.AcceptanceCriterion) string {
	loc := criteriaHeadingRe.FindStringIndex(body)
	if loc == nil {
		return body
	}

	lines := strings.Split(body, "\n")
	headingLine := lineIndexAt(body, loc[0])

	next := 0
	for i := headingLine + 1; i < len(lines); i++ {
		if isHeading(lines[i]) {
			break
		}
		m := checkboxRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		if next >= len(criteria) {
			break
		}
		mark := " "
		if criteria[next].Completed {
			mark = "x"
		}
		lines[i] = m[1] + "[" + mark + "]" + m[3] + m[4]
		next++
	}
	return strings.Join(lines, "\n")
}

// RenderCriteriaSection renders a fresh section for bodies that lack one.
func RenderCriteriaSection(criteria []models.AcceptanceCriterion) string {
	var b strings.Builder
	b.WriteString("## Acceptance Criteria\n\n")
	for _, criterion := range criteria {
		mark := " "
		if criterion.Completed {
			mark = "x"
		}
		b.WriteString("- [" + mark + "] " + criterion.Text + "\n")
	}
	return b.String()
}

// criteriaSection returns the lines between the criteria heading and the
// next heading (or end of body).
func criteriaSection(body string) ([]string, bool) {
	loc := criteriaHeadingRe.FindStringIndex(body)
	if loc == nil {
		return nil, false
	}

	lines := strings.Split(body, "\n")
	start := lineIndexAt(body, loc[0]) + 1

	end := len(lines)
	for i := start; i < len(lines); i++ {
		if isHeading(lines[i]) {
			end = i
			break
		}
	}
	return lines[start:end], true
}

func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// lineIndexAt maps a byte offset to its line number.
func lineIndexAt(s string, offset int) int {
	return strings.Count(s[:offset], "\n")
}

package issue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/models"
)

const sampleBody = `Fix the widget pipeline.

## Acceptance Criteria

- [ ] pipeline no longer drops frames
- [x] unit tests cover the resize path
- [ ] docs updated

## Notes

Unrelated checklist:
- [ ] should not be parsed
`

func TestParseAcceptanceCriteria(t *testing.T) {
	criteria := ParseAcceptanceCriteria(sampleBody)
	require.Len(t, criteria, 3)
	assert.Equal(t, "pipeline no longer drops frames", criteria[0].Text)
	assert.False(t, criteria[0].Completed)
	assert.True(t, criteria[1].Completed)
	assert.Equal(t, "docs updated", criteria[2].Text)
}

func TestParseNoSection(t *testing.T) {
	assert.Nil(t, ParseAcceptanceCriteria("just a body\n- [ ] stray box\n"))
}

func TestApplyCriteriaToBody(t *testing.T) {
	criteria := ParseAcceptanceCriteria(sampleBody)
	criteria[0].Completed = true
	criteria[1].Completed = false

	updated := ApplyCriteriaToBody(sampleBody, criteria)
	assert.Contains(t, updated, "- [x] pipeline no longer drops frames")
	assert.Contains(t, updated, "- [ ] unit tests cover the resize path")
	// Checklist outside the section untouched.
	assert.Contains(t, updated, "- [ ] should not be parsed")
}

func TestApplyRoundTripIsIdentity(t *testing.T) {
	criteria := ParseAcceptanceCriteria(sampleBody)
	assert.Equal(t, sampleBody, ApplyCriteriaToBody(sampleBody, criteria))
}

func TestApplyWithoutSectionLeavesBody(t *testing.T) {
	body := "no section here"
	assert.Equal(t, body, ApplyCriteriaToBody(body, []models.AcceptanceCriterion{{Text: "x", Completed: true}}))
}

func TestRenderCriteriaSection(t *testing.T) {
	section := RenderCriteriaSection([]models.AcceptanceCriterion{
		{Text: "first"},
		{Text: "second", Completed: true},
	})
	assert.Contains(t, section, "## Acceptance Criteria")
	assert.Contains(t, section, "- [ ] first")
	assert.Contains(t, section, "- [x] second")

	parsed := ParseAcceptanceCriteria(section)
	require.Len(t, parsed, 2)
	assert.True(t, parsed[1].Completed)
}

func TestParseURL(t *testing.T) {
	tracker := NewGitHubTracker(0)

	ref, err := tracker.ParseURL("https://github.com/acme/widgets/issues/42")
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", ref.Repo)
	assert.Equal(t, 42, ref.Number)

	cases := []string{
		"https://github.com/acme/widgets/pull/42",
		"https://gitlab.com/acme/widgets/issues/42",
		"not a url",
		"",
	}
	for _, bad := range cases {
		_, err := tracker.ParseURL(bad)
		require.Error(t, err, bad)
		var opErr *models.OpError
		require.ErrorAs(t, err, &opErr, bad)
		assert.Equal(t, models.ErrorKindUserInput, opErr.Kind, bad)
	}
}

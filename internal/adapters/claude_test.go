package adapters

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeSpawnArgs(t *testing.T) {
	a := NewClaudeAdapter()

	spec := a.BuildSpawnArgs("do the thing", false)
	assert.Equal(t, "claude", spec.Cmd)
	assert.Equal(t, []string{"-p", "do the thing", "--output-format", "stream-json", "--verbose"}, spec.Args)

	spec = a.BuildSpawnArgs("do the thing", true)
	assert.Contains(t, spec.Args, "--dangerously-skip-permissions")
}

func TestClaudeContinueArgs(t *testing.T) {
	a := NewClaudeAdapter()

	spec := a.BuildContinueArgs("sess-123", "keep going", false)
	require.True(t, len(spec.Args) >= 2)
	assert.Equal(t, "sess-123", spec.Args[len(spec.Args)-1])
	assert.Equal(t, "--resume", spec.Args[len(spec.Args)-2])

	// No session id: plain spawn.
	spec = a.BuildContinueArgs("", "keep going", false)
	assert.NotContains(t, spec.Args, "--resume")
}

func TestClaudeExtractSessionID(t *testing.T) {
	a := NewClaudeAdapter()

	line := `{"type":"system","subtype":"init","session_id":"abc-def-123","model":"opus"}`
	assert.Equal(t, "abc-def-123", a.ExtractSessionID(line))

	assert.Empty(t, a.ExtractSessionID("plain text output"))
	assert.Empty(t, a.ExtractSessionID(`{"type":"assistant","message":"hi"}`))
	assert.Empty(t, a.ExtractSessionID(`{"broken json`))
}

func TestResumePromptContents(t *testing.T) {
	a := NewClaudeAdapter()

	prompt := a.BuildResumePrompt("Iterations completed: 3", []Criterion{
		{Number: 2, Text: "add retry logic"},
		{Number: 3, Text: "write tests"},
	})

	assert.True(t, strings.HasPrefix(prompt, "RESUMING FROM PAUSE"))
	assert.Contains(t, prompt, "Iterations completed: 3")
	assert.Contains(t, prompt, "2. add retry logic")
	assert.Contains(t, prompt, "3. write tests")
	assert.Contains(t, prompt, "<criterion-complete>N</criterion-complete>")
}

func TestResumePromptWithoutSummary(t *testing.T) {
	a := NewClaudeAdapter()
	prompt := a.BuildResumePrompt("", nil)
	assert.True(t, strings.HasPrefix(prompt, "RESUMING FROM PAUSE"))
	assert.NotContains(t, prompt, "Summary of work")
}

package adapters

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

// claudeAdapter drives the Claude Code CLI in streaming-JSON mode. The
// stream's system/init event carries the durable session id used for
// --resume across supervisor restarts.
type claudeAdapter struct {
	command string
}

// NewClaudeAdapter creates the streaming-JSON Claude adapter.
func NewClaudeAdapter() Adapter {
	return &claudeAdapter{command: "claude"}
}

// Name returns the adapter tag.
func (a *claudeAdapter) Name() string {
	return "claude"
}

// BuildSpawnArgs returns the launch descriptor for a fresh run.
func (a *claudeAdapter) BuildSpawnArgs(prompt string, skipPermissions bool) SpawnSpec {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return SpawnSpec{Cmd: a.command, Args: args}
}

// BuildContinueArgs returns the launch descriptor resuming a session.
func (a *claudeAdapter) BuildContinueArgs(sessionID, prompt string, skipPermissions bool) SpawnSpec {
	spec := a.BuildSpawnArgs(prompt, skipPermissions)
	if sessionID != "" {
		spec.Args = append(spec.Args, "--resume", sessionID)
	}
	return spec
}

// ExtractSessionID pulls session_id from a stream-json line. The init
// event is authoritative; any other event carrying session_id also
// counts since the id is constant for the run.
func (a *claudeAdapter) ExtractSessionID(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return ""
	}
	return gjson.Get(trimmed, "session_id").String()
}

// BuildResumePrompt synthesizes the cross-session resume prompt.
func (a *claudeAdapter) BuildResumePrompt(workSummary string, remaining []Criterion) string {
	return renderResumePrompt(workSummary, remaining)
}

// Available probes PATH for the claude binary.
func (a *claudeAdapter) Available() bool {
	_, err := exec.LookPath(a.command)
	return err == nil
}

// renderResumePrompt is the adapter-independent resume prompt body. The
// leading marker is what operators grep for when auditing resumes.
func renderResumePrompt(workSummary string, remaining []Criterion) string {
	var b strings.Builder
	b.WriteString("RESUMING FROM PAUSE\n\n")
	if strings.TrimSpace(workSummary) != "" {
		b.WriteString("Summary of work completed so far:\n")
		b.WriteString(workSummary)
		b.WriteString("\n\n")
	}
	if len(remaining) > 0 {
		b.WriteString("Remaining acceptance criteria:\n")
		for _, criterion := range remaining {
			fmt.Fprintf(&b, "%d. %s\n", criterion.Number, criterion.Text)
		}
		b.WriteString("\nWhen you complete a criterion, output <criterion-complete>N</criterion-complete> ")
		b.WriteString("with its number. If one regresses, output <criterion-incomplete>N</criterion-incomplete>. ")
		b.WriteString("When everything is done, output <promise>TASK COMPLETE</promise>.\n")
	}
	return b.String()
}

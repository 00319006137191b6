package adapters

import (
	"os/exec"
	"strings"
)

// GenericAdapter wraps any agent CLI that accepts a prompt as its final
// argument. It has no durable sessions, so every cross-session resume is
// a fresh spawn seeded with the resume prompt.
type GenericAdapter struct {
	name    string
	command string
	args    []string

	// skipPermissionsFlag is appended when permission prompts should be
	// bypassed; empty when the CLI has no such flag.
	skipPermissionsFlag string
}

// GenericAdapterOption configures a GenericAdapter.
type GenericAdapterOption func(*GenericAdapter)

// WithBaseArgs sets arguments placed before the prompt.
func WithBaseArgs(args ...string) GenericAdapterOption {
	return func(a *GenericAdapter) {
		a.args = args
	}
}

// WithSkipPermissionsFlag sets the flag appended for skipPermissions.
func WithSkipPermissionsFlag(flag string) GenericAdapterOption {
	return func(a *GenericAdapter) {
		a.skipPermissionsFlag = flag
	}
}

// NewGenericAdapter creates a generic adapter for a command template.
// The template's first field is the binary, the rest are base args.
func NewGenericAdapter(name, commandTemplate string, opts ...GenericAdapterOption) *GenericAdapter {
	fields := strings.Fields(commandTemplate)
	a := &GenericAdapter{name: name}
	if len(fields) > 0 {
		a.command = fields[0]
		a.args = fields[1:]
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter tag.
func (a *GenericAdapter) Name() string {
	return a.name
}

// BuildSpawnArgs returns the launch descriptor for a fresh run.
func (a *GenericAdapter) BuildSpawnArgs(prompt string, skipPermissions bool) SpawnSpec {
	args := append([]string{}, a.args...)
	if skipPermissions && a.skipPermissionsFlag != "" {
		args = append(args, a.skipPermissionsFlag)
	}
	args = append(args, prompt)
	return SpawnSpec{Cmd: a.command, Args: args}
}

// BuildContinueArgs falls back to a fresh spawn; the generic adapter has
// no session identifiers to resume.
func (a *GenericAdapter) BuildContinueArgs(sessionID, prompt string, skipPermissions bool) SpawnSpec {
	return a.BuildSpawnArgs(prompt, skipPermissions)
}

// ExtractSessionID always reports none.
func (a *GenericAdapter) ExtractSessionID(line string) string {
	return ""
}

// BuildResumePrompt synthesizes the cross-session resume prompt.
func (a *GenericAdapter) BuildResumePrompt(workSummary string, remaining []Criterion) string {
	return renderResumePrompt(workSummary, remaining)
}

// Available probes PATH for the configured binary.
func (a *GenericAdapter) Available() bool {
	if a.command == "" {
		return false
	}
	_, err := exec.LookPath(a.command)
	return err == nil
}

// RegisterBuiltinAdapters registers the built-in adapter set. Called
// during engine construction; genericCommand may be empty, in which case
// the generic adapter reports unavailable until configured.
func RegisterBuiltinAdapters(r *Registry, genericCommand string) {
	r.MustRegister(NewClaudeAdapter())
	r.MustRegister(NewGenericAdapter("generic", genericCommand))
}

package models

import (
	"errors"
	"time"
)

// LoopStatus represents the current loop lifecycle status.
type LoopStatus string

const (
	LoopStatusQueued    LoopStatus = "queued"
	LoopStatusRunning   LoopStatus = "running"
	LoopStatusPaused    LoopStatus = "paused"
	LoopStatusCompleted LoopStatus = "completed"
	LoopStatusStopped   LoopStatus = "stopped"
	LoopStatusError     LoopStatus = "error"
)

// Terminal reports whether the status is a terminal state. Terminal loops
// keep their logs and may be resurrected by retry.
func (s LoopStatus) Terminal() bool {
	switch s {
	case LoopStatusCompleted, LoopStatusStopped, LoopStatusError:
		return true
	default:
		return false
	}
}

// CompletedBy identifies who marked an acceptance criterion complete.
type CompletedBy string

const (
	CompletedByAgent    CompletedBy = "agent"
	CompletedByOperator CompletedBy = "operator"
)

// AcceptanceCriterion is one checkable item the agent must satisfy.
type AcceptanceCriterion struct {
	Text        string      `json:"text"`
	Completed   bool        `json:"completed"`
	CompletedBy CompletedBy `json:"completed_by,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Loop represents one managed, long-running attempt by an agent to
// complete a tracked issue.
type Loop struct {
	ID              string     `json:"id"`
	Agent           string     `json:"agent"`
	Status          LoopStatus `json:"status"`
	Issue           Issue      `json:"issue"`
	RepoRoot        string     `json:"repo_root"`
	SkipPermissions bool       `json:"skip_permissions,omitempty"`

	// SessionID is the durable session identifier extracted from the
	// agent's output stream, used for cross-session resume.
	SessionID string `json:"session_id,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`

	// PausedFromPreviousSession is true when the paused loop has no child
	// that can be continued: the orphan sweep reclassified it after a prior
	// supervisor exited, or the pause itself had no live child to signal
	// (or the platform has no stop signal) and so ended the child instead.
	PausedFromPreviousSession bool `json:"paused_from_previous_session,omitempty"`

	IssueClosed bool   `json:"issue_closed,omitempty"`
	LastError   string `json:"error,omitempty"`

	// PID is the last-known child process id. Not authoritative across
	// supervisor restarts; the orphan sweep probes it.
	PID int `json:"pid,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the loop is valid.
func (l *Loop) Validate() error {
	validation := &ValidationErrors{}
	if l.ID == "" {
		validation.Add("id", ErrInvalidLoopID)
	}
	if l.Agent == "" {
		validation.Add("agent", ErrInvalidLoopAgent)
	}
	if l.RepoRoot == "" {
		validation.Add("repo_root", ErrInvalidLoopRepoRoot)
	}
	if validation.Err() != nil {
		return validation.Err()
	}

	switch l.Status {
	case "", LoopStatusQueued, LoopStatusRunning, LoopStatusPaused,
		LoopStatusCompleted, LoopStatusStopped, LoopStatusError:
		return nil
	default:
		return errors.New("invalid loop status")
	}
}

// RemainingCriteria returns the incomplete criteria in stored order.
func (l *Loop) RemainingCriteria() []AcceptanceCriterion {
	remaining := make([]AcceptanceCriterion, 0, len(l.Issue.AcceptanceCriteria))
	for _, criterion := range l.Issue.AcceptanceCriteria {
		if !criterion.Completed {
			remaining = append(remaining, criterion)
		}
	}
	return remaining
}

// AllCriteriaComplete reports whether every criterion is complete. A loop
// with no criteria is never complete by counting alone.
func (l *Loop) AllCriteriaComplete() bool {
	if len(l.Issue.AcceptanceCriteria) == 0 {
		return false
	}
	for _, criterion := range l.Issue.AcceptanceCriteria {
		if !criterion.Completed {
			return false
		}
	}
	return true
}

// DefaultLoopStatus returns the status assigned at creation.
func DefaultLoopStatus() LoopStatus {
	return LoopStatusQueued
}

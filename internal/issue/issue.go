// Package issue provides the tracker interface the engine consumes plus
// the acceptance-criteria body codec shared by its implementations.
package issue

import "github.com/droverhq/drover/internal/models"

// CloseResult reports the outcome of closing an issue.
type CloseResult string

const (
	CloseResultClosed        CloseResult = "closed"
	CloseResultAlreadyClosed CloseResult = "already_closed"
)

// Ref identifies an issue within its tracker.
type Ref struct {
	Repo   string
	Number int
}

// Tracker is the issue-tracker contract. The engine delegates all body
// parsing and remote mutation here; failures on the update path are
// logged but never block local state changes.
type Tracker interface {
	// ParseURL validates and decomposes an issue URL.
	ParseURL(url string) (Ref, error)

	// Fetch retrieves the issue snapshot, criteria parsed from the body.
	Fetch(url string) (models.Issue, error)

	// UpdateBody rewrites the issue body upstream.
	UpdateBody(url, body string) error

	// Close closes the issue, optionally with a comment.
	Close(url, comment string) (CloseResult, error)
}

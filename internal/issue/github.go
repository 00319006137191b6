package issue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/models"
)

// githubIssueURLRe matches https://github.com/<owner>/<repo>/issues/<n>.
var githubIssueURLRe = regexp.MustCompile(`^https://github\.com/([\w.-]+)/([\w.-]+)/issues/(\d+)/?$`)

// GitHubTracker talks to GitHub through the gh CLI. All calls are
// bounded by a timeout; a missing binary surfaces as an external-tool
// error, a timeout as transient.
type GitHubTracker struct {
	binary  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGitHubTracker creates a tracker shelling out to gh.
func NewGitHubTracker(timeout time.Duration) *GitHubTracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitHubTracker{
		binary:  "gh",
		timeout: timeout,
		logger:  logging.Component("issue"),
	}
}

// ParseURL validates and decomposes a GitHub issue URL.
func (t *GitHubTracker) ParseURL(url string) (Ref, error) {
	m := githubIssueURLRe.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return Ref{}, models.NewOpError(models.ErrorKindUserInput, "parse issue url",
			fmt.Errorf("not a GitHub issue url: %s", url))
	}
	number, err := strconv.Atoi(m[3])
	if err != nil {
		return Ref{}, models.NewOpError(models.ErrorKindUserInput, "parse issue url", err)
	}
	return Ref{Repo: m[1] + "/" + m[2], Number: number}, nil
}

// Fetch retrieves the issue snapshot with criteria parsed from the body.
func (t *GitHubTracker) Fetch(url string) (models.Issue, error) {
	ref, err := t.ParseURL(url)
	if err != nil {
		return models.Issue{}, err
	}

	out, err := t.run("issue", "view", url, "--json", "number,title,body,url")
	if err != nil {
		return models.Issue{}, err
	}

	var payload struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return models.Issue{}, models.NewOpError(models.ErrorKindExternalTool, "fetch issue",
			fmt.Errorf("unexpected gh output: %w", err))
	}

	return models.Issue{
		URL:                url,
		Number:             payload.Number,
		Title:              payload.Title,
		Body:               payload.Body,
		Repo:               ref.Repo,
		AcceptanceCriteria: ParseAcceptanceCriteria(payload.Body),
	}, nil
}

// UpdateBody rewrites the issue body upstream.
func (t *GitHubTracker) UpdateBody(url, body string) error {
	_, err := t.run("issue", "edit", url, "--body", body)
	return err
}

// Close closes the issue, optionally with a comment.
func (t *GitHubTracker) Close(url, comment string) (CloseResult, error) {
	args := []string{"issue", "close", url}
	if comment != "" {
		args = append(args, "--comment", comment)
	}
	_, err := t.run(args...)
	if err != nil {
		if strings.Contains(err.Error(), "already closed") {
			return CloseResultAlreadyClosed, nil
		}
		return "", err
	}
	return CloseResultClosed, nil
}

func (t *GitHubTracker) run(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	op := "gh " + strings.Join(args[:min(2, len(args))], " ")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, models.NewOpError(models.ErrorKindTransient, op,
			fmt.Errorf("timed out after %s", t.timeout))
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return nil, models.NewOpError(models.ErrorKindExternalTool, op,
			fmt.Errorf("gh not found: %w", err))
	}

	detail := strings.TrimSpace(stderr.String())
	if detail == "" {
		detail = err.Error()
	}
	t.logger.Debug().Str("op", op).Str("stderr", detail).Msg("gh command failed")
	return nil, models.NewOpError(models.ErrorKindExternalTool, op, errors.New(detail))
}

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/adapters"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/issue"
	"github.com/droverhq/drover/internal/models"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/summary"
	"github.com/droverhq/drover/internal/supervisor"
)

// ErrLoopNotFound mirrors the store sentinel at the API boundary.
var ErrLoopNotFound = state.ErrLoopNotFound

// CreateLoop fetches the issue and registers a new queued loop.
func (e *Engine) CreateLoop(issueURL, agentTag, repoRoot string, skipPermissions bool) (models.Loop, error) {
	if agentTag == "" {
		agentTag = e.cfg.Engine.DefaultAgent
	}
	if _, ok := e.registry.Get(agentTag); !ok {
		return models.Loop{}, models.NewOpError(models.ErrorKindUserInput, "create loop",
			fmt.Errorf("unknown agent %q", agentTag))
	}

	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return models.Loop{}, models.NewOpError(models.ErrorKindUserInput, "create loop", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return models.Loop{}, models.NewOpError(models.ErrorKindUserInput, "create loop",
			fmt.Errorf("repo root is not a directory: %s", abs))
	}

	// Tracker call stays outside the state lock.
	snapshot, err := e.tracker.Fetch(issueURL)
	if err != nil {
		return models.Loop{}, err
	}
	snapshot.OriginalAcceptanceCriteria = append([]models.AcceptanceCriterion(nil), snapshot.AcceptanceCriteria...)

	now := time.Now().UTC()
	loop := models.Loop{
		ID:              uuid.NewString(),
		Agent:           agentTag,
		Status:          models.DefaultLoopStatus(),
		Issue:           snapshot,
		RepoRoot:        abs,
		SkipPermissions: skipPermissions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := loop.Validate(); err != nil {
		return models.Loop{}, models.NewOpError(models.ErrorKindUserInput, "create loop", err)
	}

	e.mu.Lock()
	doc, err := e.store.Load()
	if err == nil {
		doc.Loops = append(doc.Loops, loop)
		err = e.store.Save(doc)
	}
	e.mu.Unlock()
	if err != nil {
		return models.Loop{}, err
	}

	_ = e.journal.Append(loop.ID, models.LogTypeSystem,
		fmt.Sprintf("loop created for issue #%d: %s", loop.Issue.Number, loop.Issue.Title))
	e.bus.Publish(events.LoopEvent{LoopID: loop.ID, Kind: events.KindCreated})
	return loop, nil
}

// HasLiveProcess reports whether a child is currently attached to the
// loop in this supervisor.
func (e *Engine) HasLiveProcess(id string) bool {
	return e.sup.Alive(id)
}

// StartLoop spawns the agent for a queued loop.
func (e *Engine) StartLoop(id string) error {
	loop, err := e.transition("start loop", id, func(loop *models.Loop) error {
		if loop.Status != models.LoopStatusQueued {
			return fmt.Errorf("loop is %s, not queued", loop.Status)
		}
		now := time.Now().UTC()
		loop.Status = models.LoopStatusRunning
		loop.StartedAt = &now
		loop.EndedAt = nil
		loop.LastError = ""
		loop.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	adapter, err := e.availableAdapter(loop.Agent)
	if err != nil {
		e.failLaunch(id, err)
		return err
	}
	spec := adapter.BuildSpawnArgs(buildInitialPrompt(loop), loop.SkipPermissions)
	return e.launch(loop, adapter, spec)
}

// RetryLoop resurrects an errored or stopped loop with a fresh spawn.
func (e *Engine) RetryLoop(id string) error {
	if current, err := e.Get(id); err != nil {
		return err
	} else if e.childAlive(current) {
		return models.NewOpError(models.ErrorKindInvalidTransition, "retry loop",
			errors.New("previous agent process is still terminating"))
	}
	var prior models.LoopStatus
	loop, err := e.transition("retry loop", id, func(loop *models.Loop) error {
		switch loop.Status {
		case models.LoopStatusError, models.LoopStatusStopped:
		default:
			return fmt.Errorf("loop is %s, not error or stopped", loop.Status)
		}
		prior = loop.Status
		now := time.Now().UTC()
		loop.Status = models.LoopStatusRunning
		loop.StartedAt = &now
		loop.EndedAt = nil
		loop.LastError = ""
		loop.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	adapter, err := e.availableAdapter(loop.Agent)
	if err != nil {
		e.failLaunch(id, err)
		return err
	}
	_ = e.journal.Append(id, models.LogTypeSystem, "retrying after "+string(prior))
	spec := adapter.BuildSpawnArgs(buildInitialPrompt(loop), loop.SkipPermissions)
	return e.launch(loop, adapter, spec)
}

// PauseLoop pauses a running loop. With stop/continue signals available
// the child is suspended in place — through this invocation's process
// table, or by the recorded pid when another invocation owns the child.
// Otherwise the child is terminated and the loop degrades to
// cross-session resume semantics.
func (e *Engine) PauseLoop(id string) error {
	current, err := e.Get(id)
	if err != nil {
		return err
	}
	inProcess := e.sup.Alive(id)
	byPid := !inProcess && current.PID > 0 && supervisor.PidAlive(current.PID)
	sameSession := e.sup.CanSignalPause() && (inProcess || byPid)

	_, err = e.transition("pause loop", id, func(loop *models.Loop) error {
		if loop.Status != models.LoopStatusRunning {
			return fmt.Errorf("loop is %s, not running", loop.Status)
		}
		now := time.Now().UTC()
		loop.Status = models.LoopStatusPaused
		loop.PausedAt = &now
		loop.UpdatedAt = now
		if !sameSession {
			loop.PausedFromPreviousSession = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case sameSession && inProcess:
		if err := e.sup.Pause(id); err != nil {
			e.logger.Warn().Err(err).Str("loop_id", id).Msg("pause signal failed")
		}
	case sameSession:
		if err := supervisor.PauseByPid(current.PID); err != nil {
			e.logger.Warn().Err(err).Str("loop_id", id).Int("pid", current.PID).Msg("pause signal failed")
		}
	default:
		e.terminateChild(current)
	}

	_ = e.journal.Append(id, models.LogTypeSystem, "loop paused by operator")
	e.bus.Publish(events.LoopEvent{LoopID: id, Kind: events.KindStatus})
	return nil
}

// ResumeLoop resumes a paused loop, signalling the live child when one
// exists (in this invocation or by recorded pid) and falling back to a
// cross-session spawn otherwise.
func (e *Engine) ResumeLoop(id string) error {
	current, err := e.Get(id)
	if err != nil {
		return err
	}
	inProcess := e.sup.Alive(id)
	byPid := !inProcess && current.PID > 0 && supervisor.PidAlive(current.PID)
	if !e.sup.CanSignalPause() || (!inProcess && !byPid) {
		return e.ResumePausedLoop(id)
	}

	_, err = e.transition("resume loop", id, func(loop *models.Loop) error {
		if loop.Status != models.LoopStatusPaused {
			return fmt.Errorf("loop is %s, not paused", loop.Status)
		}
		loop.Status = models.LoopStatusRunning
		loop.PausedAt = nil
		loop.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	if inProcess {
		if err := e.sup.Resume(id); err != nil {
			e.logger.Warn().Err(err).Str("loop_id", id).Msg("resume signal failed")
		}
	} else {
		if err := supervisor.ResumeByPid(current.PID); err != nil {
			e.logger.Warn().Err(err).Str("loop_id", id).Int("pid", current.PID).Msg("resume signal failed")
		}
	}
	_ = e.journal.Append(id, models.LogTypeSystem, "loop resumed by operator")
	e.bus.Publish(events.LoopEvent{LoopID: id, Kind: events.KindStatus})
	return nil
}

// ResumePausedLoop performs a cross-session resume: a fresh spawn seeded
// with a summary of prior work and the still-incomplete criteria.
// Refuses while a live child exists anywhere — the at-most-one-child
// invariant holds across invocations.
func (e *Engine) ResumePausedLoop(id string) error {
	if current, err := e.Get(id); err != nil {
		return err
	} else if e.childAlive(current) {
		return models.NewOpError(models.ErrorKindInvalidTransition, "resume paused loop",
			errors.New("a live agent process exists for this loop"))
	}
	loop, err := e.transition("resume paused loop", id, func(loop *models.Loop) error {
		if loop.Status != models.LoopStatusPaused {
			return fmt.Errorf("loop is %s, not paused", loop.Status)
		}
		loop.Status = models.LoopStatusRunning
		loop.PausedAt = nil
		loop.PausedFromPreviousSession = false
		loop.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	adapter, err := e.availableAdapter(loop.Agent)
	if err != nil {
		e.failLaunch(id, err)
		return err
	}

	entries, readErr := e.journal.ReadAll(id)
	if readErr != nil {
		e.logger.Warn().Err(readErr).Str("loop_id", id).Msg("journal read failed, resuming without summary")
	}
	workSummary := summary.Build(entries, e.cfg.Engine.SummaryMaxChars)
	prompt := adapter.BuildResumePrompt(workSummary, remainingCriteria(loop))

	var spec adapters.SpawnSpec
	if loop.SessionID != "" {
		spec = adapter.BuildContinueArgs(loop.SessionID, prompt, loop.SkipPermissions)
	} else {
		spec = adapter.BuildSpawnArgs(prompt, loop.SkipPermissions)
	}
	return e.launch(loop, adapter, spec)
}

// StopLoop terminates a running or paused loop. Works on children owned
// by another invocation through the recorded pid.
func (e *Engine) StopLoop(id string) error {
	loop, err := e.transition("stop loop", id, func(loop *models.Loop) error {
		switch loop.Status {
		case models.LoopStatusRunning, models.LoopStatusPaused:
		default:
			return fmt.Errorf("loop is %s, not running or paused", loop.Status)
		}
		now := time.Now().UTC()
		loop.Status = models.LoopStatusStopped
		loop.EndedAt = &now
		loop.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	e.terminateChild(loop)
	_ = e.journal.Append(id, models.LogTypeSystem, "loop stopped by operator")
	e.bus.Publish(events.LoopEvent{LoopID: id, Kind: events.KindStatus})
	return nil
}

// SendIntervention writes an operator message to the child's stdin. The
// stdin pipe only exists in the invocation that spawned the child, so a
// loop supervised elsewhere is reported rather than silently dropped.
func (e *Engine) SendIntervention(id, message string) error {
	e.mu.Lock()
	doc, err := e.store.Load()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	loop, ok := doc.Get(id)
	if !ok {
		return models.NewOpError(models.ErrorKindUserInput, "send intervention", ErrLoopNotFound)
	}
	if loop.Status != models.LoopStatusRunning {
		return models.NewOpError(models.ErrorKindInvalidTransition, "send intervention",
			fmt.Errorf("loop is %s, not running", loop.Status))
	}
	if !e.sup.Alive(id) {
		if loop.PID > 0 && supervisor.PidAlive(loop.PID) {
			return models.NewOpError(models.ErrorKindProcessFailure, "send intervention",
				errors.New("agent process is owned by another supervisor invocation; send from the invocation running this loop"))
		}
		return models.NewOpError(models.ErrorKindProcessFailure, "send intervention",
			supervisor.ErrNoProcess)
	}

	if err := e.journal.Append(id, models.LogTypeOperator, message); err != nil {
		return err
	}
	if err := e.sup.Intervene(id, message); err != nil {
		return models.NewOpError(models.ErrorKindProcessFailure, "send intervention", err)
	}
	return nil
}

// DiscardPausedLoop removes a prior-session paused loop and its log.
func (e *Engine) DiscardPausedLoop(id string) error {
	e.mu.Lock()
	doc, err := e.store.Load()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	loop, ok := doc.Get(id)
	if !ok {
		e.mu.Unlock()
		return models.NewOpError(models.ErrorKindUserInput, "discard loop", ErrLoopNotFound)
	}
	if loop.Status != models.LoopStatusPaused || !loop.PausedFromPreviousSession {
		e.mu.Unlock()
		return models.NewOpError(models.ErrorKindInvalidTransition, "discard loop",
			errors.New("only loops paused from a previous session can be discarded"))
	}

	kept := doc.Loops[:0]
	for _, l := range doc.Loops {
		if l.ID != id {
			kept = append(kept, l)
		}
	}
	doc.Loops = kept
	err = e.store.Save(doc)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if err := e.journal.Remove(id); err != nil {
		e.logger.Warn().Err(err).Str("loop_id", id).Msg("journal remove failed")
	}
	e.bus.Publish(events.LoopEvent{LoopID: id, Kind: events.KindDiscarded})
	return nil
}

// MarkOrphanedPausedLoops sweeps loops whose recorded child no longer
// exists, flipping them to paused-from-previous-session. Returns the
// number of loops swept.
func (e *Engine) MarkOrphanedPausedLoops() (int, error) {
	e.mu.Lock()
	swept, err := e.store.SweepOrphans(supervisor.PidAlive)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		e.logger.Info().Int("count", swept).Msg("orphaned loops marked paused")
		e.bus.Publish(events.LoopEvent{Kind: events.KindOrphanSweep})
	}
	return swept, nil
}

// CanResumeInSession reports whether resume can signal a live child
// rather than spawn a fresh one. The child may be attached to this
// invocation or reachable through the recorded pid.
func (e *Engine) CanResumeInSession(id string) bool {
	if !e.sup.CanSignalPause() {
		return false
	}
	if e.sup.Alive(id) {
		return true
	}
	loop, err := e.Get(id)
	return err == nil && loop.PID > 0 && supervisor.PidAlive(loop.PID)
}

// childAlive reports whether a live child exists for the loop anywhere:
// this invocation's process table, or another invocation's recorded pid.
func (e *Engine) childAlive(loop models.Loop) bool {
	if e.sup.Alive(loop.ID) {
		return true
	}
	return loop.PID > 0 && supervisor.PidAlive(loop.PID)
}

// terminateChild tears down the loop's child wherever it lives. The
// pid path blocks through the grace window so callers observe a dead
// process; the in-table path reports exit through the usual handler.
func (e *Engine) terminateChild(loop models.Loop) {
	if e.sup.Alive(loop.ID) {
		_ = e.sup.Terminate(loop.ID)
		return
	}
	if loop.PID > 0 && supervisor.PidAlive(loop.PID) {
		if err := supervisor.TerminateByPid(loop.PID, e.cfg.StopGrace()); err != nil {
			e.logger.Warn().Err(err).Str("loop_id", loop.ID).Int("pid", loop.PID).Msg("terminate by pid failed")
		}
	}
}

// ToggleCriterion sets a criterion's completion on behalf of the
// operator. Allowed in any status; never auto-completes the loop — only
// the agent's promise, the agent marking the last criterion complete, or
// an observed exit does that.
func (e *Engine) ToggleCriterion(id string, index int, completed bool) error {
	now := time.Now().UTC()

	e.mu.Lock()
	var loopCopy models.Loop
	changed := false
	_, err := e.store.UpdateLoop(id, func(loop *models.Loop) {
		if index < 1 || index > len(loop.Issue.AcceptanceCriteria) {
			return
		}
		criterion := &loop.Issue.AcceptanceCriteria[index-1]
		if criterion.Completed != completed {
			if completed {
				criterion.Completed = true
				criterion.CompletedBy = models.CompletedByOperator
				criterion.CompletedAt = &now
			} else {
				criterion.Completed = false
				criterion.CompletedBy = ""
				criterion.CompletedAt = nil
			}
			loop.UpdatedAt = now
			changed = true
		}
		loopCopy = *loop
	})
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, state.ErrLoopNotFound) {
			return models.NewOpError(models.ErrorKindUserInput, "toggle criterion", err)
		}
		return err
	}
	if loopCopy.ID == "" || index < 1 || index > len(loopCopy.Issue.AcceptanceCriteria) {
		return models.NewOpError(models.ErrorKindUserInput, "toggle criterion",
			fmt.Errorf("criterion index %d out of range", index))
	}
	if !changed {
		return nil
	}

	word := "complete"
	if !completed {
		word = "incomplete"
	}
	_ = e.journal.Append(id, models.LogTypeSystem,
		fmt.Sprintf("Criterion %d marked %s by operator", index, word))
	e.bus.Publish(events.LoopEvent{LoopID: id, Kind: events.KindCriteria})

	// Body re-render is best-effort and stays off the state lock.
	e.syncIssueBody(loopCopy)
	return nil
}

// CloseIssue closes the upstream issue for a completed loop.
func (e *Engine) CloseIssue(id, comment string) (issue.CloseResult, error) {
	e.mu.Lock()
	doc, err := e.store.Load()
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	loop, ok := doc.Get(id)
	if !ok {
		return "", models.NewOpError(models.ErrorKindUserInput, "close issue", ErrLoopNotFound)
	}
	if loop.Status != models.LoopStatusCompleted {
		return "", models.NewOpError(models.ErrorKindInvalidTransition, "close issue",
			fmt.Errorf("loop is %s, not completed", loop.Status))
	}
	if loop.IssueClosed {
		return issue.CloseResultAlreadyClosed, nil
	}

	result, err := e.tracker.Close(loop.Issue.URL, comment)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	_, err = e.store.UpdateLoop(id, func(loop *models.Loop) {
		loop.IssueClosed = true
		loop.UpdatedAt = time.Now().UTC()
	})
	e.mu.Unlock()
	if err != nil {
		return result, err
	}

	_ = e.journal.Append(id, models.LogTypeSystem, "issue closed")
	e.bus.Publish(events.LoopEvent{LoopID: id, Kind: events.KindStatus})
	return result, nil
}

// Get returns a loop snapshot.
func (e *Engine) Get(id string) (models.Loop, error) {
	e.mu.Lock()
	doc, err := e.store.Load()
	e.mu.Unlock()
	if err != nil {
		return models.Loop{}, err
	}
	loop, ok := doc.Get(id)
	if !ok {
		return models.Loop{}, models.NewOpError(models.ErrorKindUserInput, "get loop", ErrLoopNotFound)
	}
	return loop, nil
}

// List returns all loops in stored order.
func (e *Engine) List() ([]models.Loop, error) {
	e.mu.Lock()
	doc, err := e.store.Load()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return doc.Loops, nil
}

// SyncIssueBodies re-renders every loop's issue body upstream. Called at
// startup; failures are journaled and do not block.
func (e *Engine) SyncIssueBodies() {
	loops, err := e.List()
	if err != nil {
		return
	}
	for _, loop := range loops {
		e.syncIssueBody(loop)
	}
}

func (e *Engine) syncIssueBody(loop models.Loop) {
	if loop.Issue.Body == "" || len(loop.Issue.AcceptanceCriteria) == 0 {
		return
	}
	body := issue.ApplyCriteriaToBody(loop.Issue.Body, loop.Issue.AcceptanceCriteria)
	if body == loop.Issue.Body {
		return
	}
	if err := e.tracker.UpdateBody(loop.Issue.URL, body); err != nil {
		_ = e.journal.Append(loop.ID, models.LogTypeError,
			fmt.Sprintf("issue body update failed: %v", err))
		return
	}

	e.mu.Lock()
	_, _ = e.store.UpdateLoop(loop.ID, func(l *models.Loop) {
		l.Issue.Body = body
	})
	e.mu.Unlock()
}

// transition applies a guarded mutation and returns the updated loop.
func (e *Engine) transition(op, id string, mutate func(*models.Loop) error) (models.Loop, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result models.Loop
	var guardErr error
	_, err := e.store.UpdateLoop(id, func(loop *models.Loop) {
		if guardErr = mutate(loop); guardErr == nil {
			result = *loop
		}
	})
	if err != nil {
		if errors.Is(err, state.ErrLoopNotFound) {
			return models.Loop{}, models.NewOpError(models.ErrorKindUserInput, op, err)
		}
		return models.Loop{}, err
	}
	if guardErr != nil {
		return models.Loop{}, models.NewOpError(models.ErrorKindInvalidTransition, op, guardErr)
	}
	return result, nil
}

// launch marks an iteration, spawns the child, and records its pid. The
// loop is already in running; spawn failure moves it to error.
func (e *Engine) launch(loop models.Loop, adapter adapters.Adapter, spec adapters.SpawnSpec) error {
	e.bus.Publish(events.LoopEvent{LoopID: loop.ID, Kind: events.KindStatus})
	_ = e.journal.Append(loop.ID, models.LogTypeSystem,
		fmt.Sprintf("--- Iteration %d ---", e.nextIteration(loop.ID)))

	pid, err := e.sup.Spawn(loop.ID, spec, loop.RepoRoot, adapter.ExtractSessionID)
	if err != nil {
		opErr := models.NewOpError(models.ErrorKindExternalTool, "spawn agent", err)
		e.failLaunch(loop.ID, opErr)
		return opErr
	}

	e.mu.Lock()
	_, err = e.store.UpdateLoop(loop.ID, func(l *models.Loop) {
		l.PID = pid
		l.UpdatedAt = time.Now().UTC()
	})
	e.mu.Unlock()
	return err
}

// failLaunch moves a loop that could not spawn into error.
func (e *Engine) failLaunch(id string, cause error) {
	now := time.Now().UTC()
	e.mu.Lock()
	_, _ = e.store.UpdateLoop(id, func(loop *models.Loop) {
		loop.Status = models.LoopStatusError
		loop.LastError = cause.Error()
		loop.EndedAt = &now
		loop.UpdatedAt = now
	})
	e.mu.Unlock()
	_ = e.journal.Append(id, models.LogTypeError, cause.Error())
	e.bus.Publish(events.LoopEvent{LoopID: id, Kind: events.KindStatus})
}

// availableAdapter resolves and probes the adapter for a loop.
func (e *Engine) availableAdapter(tag string) (adapters.Adapter, error) {
	adapter, ok := e.registry.Get(tag)
	if !ok {
		return nil, models.NewOpError(models.ErrorKindUserInput, "resolve adapter",
			fmt.Errorf("unknown agent %q", tag))
	}
	if !adapter.Available() {
		return nil, models.NewOpError(models.ErrorKindExternalTool, "resolve adapter",
			fmt.Errorf("agent binary for %q not found on PATH", tag))
	}
	return adapter, nil
}

// remainingCriteria maps a loop's incomplete criteria to prompt
// criteria, keeping their original 1-based numbering.
func remainingCriteria(loop models.Loop) []adapters.Criterion {
	var remaining []adapters.Criterion
	for i, criterion := range loop.Issue.AcceptanceCriteria {
		if !criterion.Completed {
			remaining = append(remaining, adapters.Criterion{Number: i + 1, Text: criterion.Text})
		}
	}
	return remaining
}

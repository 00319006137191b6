// Package engine owns the loop state machine and orchestrates the store,
// journal, supervisor, adapters, and issue tracker.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/internal/adapters"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/issue"
	"github.com/droverhq/drover/internal/journal"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/models"
	"github.com/droverhq/drover/internal/parser"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/summary"
	"github.com/droverhq/drover/internal/supervisor"
)

// Engine is the loop lifecycle engine. All state mutation serializes
// through one mutex; long I/O (spawn, signals, tracker calls) happens
// off the critical section.
type Engine struct {
	cfg      *config.Config
	store    *state.Store
	journal  *journal.Journal
	bus      *events.Bus
	registry *adapters.Registry
	tracker  issue.Tracker
	sup      *supervisor.Supervisor
	logger   zerolog.Logger

	mu sync.Mutex

	// iterations tracks the next journal iteration marker per loop,
	// seeded lazily from the journal on first spawn after startup.
	iterMu     sync.Mutex
	iterations map[string]int
}

// New creates an engine. registry may be nil, in which case the built-in
// adapter set is registered.
func New(cfg *config.Config, tracker issue.Tracker, registry *adapters.Registry) *Engine {
	if registry == nil {
		registry = adapters.NewRegistry()
		adapters.RegisterBuiltinAdapters(registry, cfg.Agents.GenericCommand)
	}

	e := &Engine{
		cfg:        cfg,
		store:      state.NewStore(cfg.StatePath()),
		journal:    journal.New(cfg.LoopsDir()),
		bus:        events.NewBus(),
		registry:   registry,
		tracker:    tracker,
		logger:     logging.Component("engine"),
		iterations: make(map[string]int),
	}
	e.sup = supervisor.New(e.handleAgentEvent, e.handleExit, e.handleReaderError, cfg.StopGrace())
	return e
}

// Bus returns the loop event bus.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Journal returns the log journal for tail readers.
func (e *Engine) Journal() *journal.Journal {
	return e.journal
}

// Close releases journal file handles. Running children are left alone;
// the orphan sweep reclaims their loops on the next start.
func (e *Engine) Close() {
	e.journal.Close()
}

// handleAgentEvent consumes parsed events from a child's output streams.
func (e *Engine) handleAgentEvent(loopID string, event parser.Event) {
	switch event.Kind {
	case parser.EventText:
		if err := e.journal.Append(loopID, models.LogTypeAgent, event.Text); err != nil {
			e.logger.Error().Err(err).Str("loop_id", loopID).Msg("journal append failed")
		}
	case parser.EventSessionID:
		e.storeSessionID(loopID, event.SessionID)
	case parser.EventCriterionComplete:
		e.applyCriterionEvent(loopID, event.Index, true)
	case parser.EventCriterionIncomplete:
		e.applyCriterionEvent(loopID, event.Index, false)
	case parser.EventTaskComplete:
		e.completeFromPromise(loopID)
	}
}

// handleReaderError routes stdio reader failures into the loop's journal.
// A reader failure never takes down other loops.
func (e *Engine) handleReaderError(loopID string, err error) {
	e.logger.Warn().Err(err).Str("loop_id", loopID).Msg("stream reader error")
	_ = e.journal.Append(loopID, models.LogTypeError, fmt.Sprintf("stream read error: %v", err))
}

// storeSessionID records the first session id seen for a loop.
func (e *Engine) storeSessionID(loopID, sessionID string) {
	e.mu.Lock()
	stored := false
	_, err := e.store.UpdateLoop(loopID, func(loop *models.Loop) {
		if loop.SessionID == "" {
			loop.SessionID = sessionID
			loop.UpdatedAt = time.Now().UTC()
			stored = true
		}
	})
	e.mu.Unlock()

	if err != nil || !stored {
		return
	}
	_ = e.journal.Append(loopID, models.LogTypeSystem, "session id captured: "+sessionID)
	e.bus.Publish(events.LoopEvent{LoopID: loopID, Kind: events.KindSession})
}

// applyCriterionEvent marks a criterion from the agent's stream. Unknown
// indices are journaled at system level and ignored. Repeats are no-ops;
// the original completion timestamp is preserved.
func (e *Engine) applyCriterionEvent(loopID string, index int, completed bool) {
	now := time.Now().UTC()

	e.mu.Lock()
	var (
		applied    bool
		outOfRange bool
		allDone    bool
	)
	_, err := e.store.UpdateLoop(loopID, func(loop *models.Loop) {
		if index < 1 || index > len(loop.Issue.AcceptanceCriteria) {
			outOfRange = true
			return
		}
		if loop.Status != models.LoopStatusRunning {
			return
		}
		criterion := &loop.Issue.AcceptanceCriteria[index-1]
		if criterion.Completed == completed {
			return
		}
		if completed {
			criterion.Completed = true
			criterion.CompletedBy = models.CompletedByAgent
			criterion.CompletedAt = &now
		} else {
			criterion.Completed = false
			criterion.CompletedBy = ""
			criterion.CompletedAt = nil
		}
		loop.UpdatedAt = now
		applied = true
		allDone = completed && loop.AllCriteriaComplete()
		if allDone {
			loop.Status = models.LoopStatusCompleted
			loop.EndedAt = &now
		}
	})
	e.mu.Unlock()

	if err != nil {
		return
	}
	if outOfRange {
		_ = e.journal.Append(loopID, models.LogTypeSystem,
			fmt.Sprintf("ignoring unknown criterion index %d", index))
		return
	}
	if !applied {
		return
	}

	word := "complete"
	if !completed {
		word = "incomplete"
	}
	_ = e.journal.Append(loopID, models.LogTypeSystem,
		fmt.Sprintf("Criterion %d marked %s by agent", index, word))
	e.bus.Publish(events.LoopEvent{LoopID: loopID, Kind: events.KindCriteria})

	if allDone {
		_ = e.journal.Append(loopID, models.LogTypeSystem, "all criteria complete")
		e.bus.Publish(events.LoopEvent{LoopID: loopID, Kind: events.KindStatus})
		e.terminateQuietly(loopID)
	}
}

// completeFromPromise finalizes a loop on the agent's TASK COMPLETE
// promise. The promise is authoritative even with criteria unchecked.
func (e *Engine) completeFromPromise(loopID string) {
	now := time.Now().UTC()

	e.mu.Lock()
	completed := false
	_, err := e.store.UpdateLoop(loopID, func(loop *models.Loop) {
		if loop.Status != models.LoopStatusRunning {
			return
		}
		loop.Status = models.LoopStatusCompleted
		loop.EndedAt = &now
		loop.UpdatedAt = now
		completed = true
	})
	e.mu.Unlock()

	if err != nil || !completed {
		return
	}
	_ = e.journal.Append(loopID, models.LogTypeSystem, "agent promised task completion")
	e.bus.Publish(events.LoopEvent{LoopID: loopID, Kind: events.KindStatus})
	e.terminateQuietly(loopID)
}

// handleExit classifies a child exit once both streams have drained.
func (e *Engine) handleExit(loopID string, exitCode int, runErr error) {
	now := time.Now().UTC()

	e.mu.Lock()
	var status models.LoopStatus
	var logLine string
	_, err := e.store.UpdateLoop(loopID, func(loop *models.Loop) {
		loop.PID = 0
		loop.UpdatedAt = now

		switch loop.Status {
		case models.LoopStatusCompleted, models.LoopStatusStopped:
			// Already finalized by a promise, full criteria, or an
			// operator stop; nothing to classify.
		case models.LoopStatusPaused:
			// Expected on platforms that degrade pause to termination.
		default:
			if loop.AllCriteriaComplete() {
				loop.Status = models.LoopStatusCompleted
				loop.EndedAt = &now
				logLine = "agent exited with all criteria complete"
			} else {
				loop.Status = models.LoopStatusError
				loop.LastError = "agent exited"
				if exitCode != 0 {
					loop.LastError = fmt.Sprintf("agent exited (code %d)", exitCode)
				}
				loop.EndedAt = &now
				logLine = loop.LastError
			}
		}
		status = loop.Status
	})
	e.mu.Unlock()

	if err != nil {
		return
	}

	if logLine != "" {
		entryType := models.LogTypeSystem
		if status == models.LoopStatusError {
			entryType = models.LogTypeError
		}
		_ = e.journal.Append(loopID, entryType, logLine)
	}
	e.bus.Publish(events.LoopEvent{LoopID: loopID, Kind: events.KindStatus})
}

// terminateQuietly tears down a finalized loop's child, if any.
func (e *Engine) terminateQuietly(loopID string) {
	if e.sup.Alive(loopID) {
		_ = e.sup.Terminate(loopID)
	}
}

// nextIteration returns the next iteration number for a loop, counting
// prior markers in the journal the first time a loop spawns this session.
func (e *Engine) nextIteration(loopID string) int {
	e.iterMu.Lock()
	defer e.iterMu.Unlock()

	n, ok := e.iterations[loopID]
	if !ok {
		entries, err := e.journal.ReadAll(loopID)
		if err == nil {
			n = summary.MaxIteration(entries)
		}
	}
	n++
	e.iterations[loopID] = n
	return n
}

// Package supervisor spawns and tracks child agent processes, bridging
// their stdio to the output parser and enforcing lifecycle signals.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/internal/adapters"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/parser"
)

// ErrAlreadyRunning is returned when a loop already has a live child.
var ErrAlreadyRunning = errors.New("loop already has a live process")

// ErrNoProcess is returned when an operation needs a live child and the
// loop has none.
var ErrNoProcess = errors.New("no live process for loop")

// EventHandler receives parsed events from a child's output streams.
// Events from one stream arrive in stream order, one at a time; stdout
// and stderr are read concurrently, so calls for the same loop may come
// from both readers at once.
type EventHandler func(loopID string, event parser.Event)

// ExitHandler is called once when a child exits and both streams have
// drained. exitCode is -1 when the process failed to report one.
type ExitHandler func(loopID string, exitCode int, runErr error)

// ErrorHandler receives background reader failures. A reader failure
// never takes down other loops.
type ErrorHandler func(loopID string, err error)

type process struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool
}

// Supervisor owns the process table, keyed by loop id. At most one live
// child per loop at any time.
type Supervisor struct {
	mu     sync.Mutex
	table  map[string]*process
	logger zerolog.Logger

	onEvent EventHandler
	onExit  ExitHandler
	onError ErrorHandler

	grace time.Duration
}

// New creates a supervisor. grace is the terminate-to-kill window.
func New(onEvent EventHandler, onExit ExitHandler, onError ErrorHandler, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Supervisor{
		table:   make(map[string]*process),
		logger:  logging.Component("supervisor"),
		onEvent: onEvent,
		onExit:  onExit,
		onError: onError,
		grace:   grace,
	}
}

// Spawn launches the agent described by spec with cwd repoRoot and
// attaches its stdio. Refuses to start a second process for a loop
// already present in the table. Returns the child pid.
func (s *Supervisor) Spawn(loopID string, spec adapters.SpawnSpec, repoRoot string, extract parser.SessionExtractor) (int, error) {
	if spec.Cmd == "" {
		return 0, errors.New("spawn spec has no command")
	}

	s.mu.Lock()
	if _, exists := s.table[loopID]; exists {
		s.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	// Reserve the slot before the (slow) start so concurrent starts for
	// the same loop cannot race past the table check.
	s.table[loopID] = nil
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.table, loopID)
		s.mu.Unlock()
	}

	cmd := exec.Command(spec.Cmd, spec.Args...)
	cmd.Dir = repoRoot
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		release()
		return 0, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		release()
		return 0, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		release()
		return 0, err
	}

	if err := cmd.Start(); err != nil {
		release()
		return 0, fmt.Errorf("spawn agent: %w", err)
	}

	proc := &process{cmd: cmd, stdin: stdin}
	s.mu.Lock()
	s.table[loopID] = proc
	s.mu.Unlock()

	pid := cmd.Process.Pid
	s.logger.Info().Str("loop_id", loopID).Int("pid", pid).Str("cmd", spec.Cmd).Msg("agent spawned")

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readStream(loopID, stdout, extract, &readers)
	go s.readStream(loopID, stderr, extract, &readers)

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()

		s.mu.Lock()
		delete(s.table, loopID)
		s.mu.Unlock()

		code := 0
		if waitErr != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			}
		}
		s.logger.Info().Str("loop_id", loopID).Int("exit_code", code).Msg("agent exited")
		if s.onExit != nil {
			s.onExit(loopID, code, waitErr)
		}
	}()

	return pid, nil
}

// readStream pumps one output stream through a parser, delivering events
// to the handler. Each stream gets its own parser so a token split
// across reads on one stream cannot be confused by the other.
func (s *Supervisor) readStream(loopID string, r io.Reader, extract parser.SessionExtractor, wg *sync.WaitGroup) {
	defer wg.Done()

	p := parser.New(extract)
	reader := bufio.NewReader(r)
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			s.deliver(loopID, p.Feed(buf[:n]))
		}
		if err != nil {
			if err != io.EOF && s.onError != nil {
				s.onError(loopID, err)
			}
			break
		}
	}
	s.deliver(loopID, p.Flush())
}

func (s *Supervisor) deliver(loopID string, events []parser.Event) {
	if s.onEvent == nil {
		return
	}
	for _, event := range events {
		s.onEvent(loopID, event)
	}
}

// Alive reports whether a loop has a live child.
func (s *Supervisor) Alive(loopID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.table[loopID]
	return ok && proc != nil
}

// Pid returns the live child's pid, or 0.
func (s *Supervisor) Pid(loopID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.table[loopID]
	if !ok || proc == nil {
		return 0
	}
	return proc.cmd.Process.Pid
}

// Stopping reports whether Terminate has been requested for the loop's
// live child.
func (s *Supervisor) Stopping(loopID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.table[loopID]
	return ok && proc != nil && proc.stopping
}

// Pause delivers the OS stop signal to the child.
func (s *Supervisor) Pause(loopID string) error {
	proc, err := s.get(loopID)
	if err != nil {
		return err
	}
	return signalStop(proc.cmd)
}

// Resume delivers the OS continue signal to the child.
func (s *Supervisor) Resume(loopID string) error {
	proc, err := s.get(loopID)
	if err != nil {
		return err
	}
	return signalContinue(proc.cmd)
}

// Terminate asks the child to exit, escalating to kill after the grace
// period. A stopped child is continued first so the terminate signal can
// be delivered. Returns immediately; exit is reported via the handler.
func (s *Supervisor) Terminate(loopID string) error {
	s.mu.Lock()
	proc, ok := s.table[loopID]
	if !ok || proc == nil {
		s.mu.Unlock()
		return ErrNoProcess
	}
	proc.stopping = true
	s.mu.Unlock()

	_ = signalContinue(proc.cmd)
	if err := signalTerminate(proc.cmd); err != nil {
		return signalKill(proc.cmd)
	}

	go func() {
		timer := time.NewTimer(s.grace)
		defer timer.Stop()
		<-timer.C
		if s.Alive(loopID) {
			s.logger.Warn().Str("loop_id", loopID).Msg("grace expired, killing agent")
			_ = signalKill(proc.cmd)
		}
	}()
	return nil
}

// Intervene writes an operator message to the child's stdin, terminated
// by a newline.
func (s *Supervisor) Intervene(loopID, message string) error {
	proc, err := s.get(loopID)
	if err != nil {
		return err
	}
	_, err = io.WriteString(proc.stdin, message+"\n")
	return err
}

// CanSignalPause reports whether this platform supports stop/continue
// signals. Where it does not, every pause degrades to cross-session
// semantics and resume is a fresh spawn.
func (s *Supervisor) CanSignalPause() bool {
	return platformCanSignalPause
}

func (s *Supervisor) get(loopID string) (*process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.table[loopID]
	if !ok || proc == nil {
		return nil, ErrNoProcess
	}
	return proc, nil
}

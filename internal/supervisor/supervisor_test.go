//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/adapters"
	"github.com/droverhq/drover/internal/parser"
)

type recorder struct {
	mu     sync.Mutex
	events []parser.Event
	exits  []int
	errs   []error
}

func (r *recorder) onEvent(loopID string, event parser.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) onExit(loopID string, code int, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, code)
}

func (r *recorder) onError(loopID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) waitExit(t *testing.T, timeout time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.exits)
		r.mu.Unlock()
		if n > 0 {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.exits[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for exit")
	return 0
}

func shSpec(script string) adapters.SpawnSpec {
	return adapters.SpawnSpec{Cmd: "sh", Args: []string{"-c", script}}
}

func TestSpawnStreamsEventsAndExit(t *testing.T) {
	rec := &recorder{}
	s := New(rec.onEvent, rec.onExit, rec.onError, time.Second)

	_, err := s.Spawn("loop-1", shSpec(`printf 'hello\n<criterion-complete>1</criterion-complete>\n'`), t.TempDir(), nil)
	require.NoError(t, err)

	code := rec.waitExit(t, 5*time.Second)
	assert.Equal(t, 0, code)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var kinds []parser.EventKind
	for _, event := range rec.events {
		kinds = append(kinds, event.Kind)
	}
	assert.Equal(t, []parser.EventKind{parser.EventText, parser.EventCriterionComplete}, kinds)
	assert.False(t, s.Alive("loop-1"))
}

func TestSpawnReportsNonzeroExit(t *testing.T) {
	rec := &recorder{}
	s := New(rec.onEvent, rec.onExit, rec.onError, time.Second)

	_, err := s.Spawn("loop-1", shSpec("exit 3"), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.waitExit(t, 5*time.Second))
}

func TestRefusesSecondSpawn(t *testing.T) {
	rec := &recorder{}
	s := New(rec.onEvent, rec.onExit, rec.onError, time.Second)

	pid, err := s.Spawn("loop-1", shSpec("sleep 5"), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Greater(t, pid, 0)
	assert.True(t, s.Alive("loop-1"))
	assert.Equal(t, pid, s.Pid("loop-1"))

	_, err = s.Spawn("loop-1", shSpec("sleep 5"), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, s.Terminate("loop-1"))
	rec.waitExit(t, 5*time.Second)
}

func TestInterventionReachesStdin(t *testing.T) {
	rec := &recorder{}
	s := New(rec.onEvent, rec.onExit, rec.onError, time.Second)

	_, err := s.Spawn("loop-1", shSpec(`read line; printf 'got: %s\n' "$line"`), t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Intervene("loop-1", "switch to plan B"))
	rec.waitExit(t, 5*time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.events)
	assert.Equal(t, "got: switch to plan B", rec.events[0].Text)
}

func TestInterveneWithoutProcess(t *testing.T) {
	s := New(nil, nil, nil, time.Second)
	assert.ErrorIs(t, s.Intervene("ghost", "hello"), ErrNoProcess)
}

func TestTerminateEscalatesToKill(t *testing.T) {
	rec := &recorder{}
	s := New(rec.onEvent, rec.onExit, rec.onError, 200*time.Millisecond)

	// The shell ignores SIGTERM, and its sleep inherits the ignored
	// signal; only the kill escalation ends them.
	_, err := s.Spawn("loop-1", shSpec(`trap '' TERM; while :; do sleep 1; done`), t.TempDir(), nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Terminate("loop-1"))
	assert.True(t, s.Stopping("loop-1"))
	rec.waitExit(t, 5*time.Second)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestPauseAndResumeSignals(t *testing.T) {
	rec := &recorder{}
	s := New(rec.onEvent, rec.onExit, rec.onError, time.Second)
	require.True(t, s.CanSignalPause())

	_, err := s.Spawn("loop-1", shSpec("sleep 5"), t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Pause("loop-1"))
	assert.True(t, s.Alive("loop-1"))
	require.NoError(t, s.Resume("loop-1"))

	require.NoError(t, s.Terminate("loop-1"))
	rec.waitExit(t, 5*time.Second)
}

func TestPidControl(t *testing.T) {
	assert.True(t, PidAlive(os.Getpid()))
	assert.False(t, PidAlive(0))
	assert.False(t, PidAlive(99999999))

	cmd := exec.Command("sleep", "10")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()

	require.True(t, PidAlive(pid))
	require.NoError(t, PauseByPid(pid))
	require.NoError(t, ResumeByPid(pid))
	require.NoError(t, TerminateByPid(pid, time.Second))

	deadline := time.Now().Add(2 * time.Second)
	for PidAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, PidAlive(pid))
}

func TestTerminateByPidDeadProcess(t *testing.T) {
	require.NoError(t, TerminateByPid(99999999, time.Second))
}

func TestSpawnMissingBinary(t *testing.T) {
	rec := &recorder{}
	s := New(rec.onEvent, rec.onExit, rec.onError, time.Second)

	_, err := s.Spawn("loop-1", adapters.SpawnSpec{Cmd: "definitely-not-a-binary-xyz"}, t.TempDir(), nil)
	require.Error(t, err)
	assert.False(t, s.Alive("loop-1"))

	// The slot is released; a later spawn works.
	_, err = s.Spawn("loop-1", shSpec("true"), t.TempDir(), nil)
	require.NoError(t, err)
	rec.waitExit(t, 5*time.Second)
}

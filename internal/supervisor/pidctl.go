package supervisor

import "time"

// Pid-based control for children recorded in the state document but
// owned by another supervisor invocation. The CLI runs one engine per
// invocation, so a pause or stop issued from a second terminal cannot
// reach the owning invocation's process table; the recorded pid is the
// shared handle. Signals target the child's process group (every spawn
// sets one up).

// PidAlive reports whether a process with the given pid exists.
func PidAlive(pid int) bool {
	return pidAlive(pid)
}

// PauseByPid delivers the OS stop signal to a child owned by another
// invocation.
func PauseByPid(pid int) error {
	return pidSignalStop(pid)
}

// ResumeByPid delivers the OS continue signal to a child owned by
// another invocation.
func ResumeByPid(pid int) error {
	return pidSignalContinue(pid)
}

// TerminateByPid asks a child owned by another invocation to exit,
// escalating to kill after the grace period. Blocks until the process
// is gone or the escalation has fired; the owning invocation still
// reaps the exit through its own wait.
func TerminateByPid(pid int, grace time.Duration) error {
	if !pidAlive(pid) {
		return nil
	}
	if grace <= 0 {
		grace = 2 * time.Second
	}

	// A stopped child cannot handle the terminate signal; continue it
	// first so delivery works.
	_ = pidSignalContinue(pid)
	if err := pidSignalTerminate(pid); err != nil {
		return pidSignalKill(pid)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return pidSignalKill(pid)
}

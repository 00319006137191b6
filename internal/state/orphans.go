package state

import (
	"errors"
	"time"

	"github.com/droverhq/drover/internal/models"
)

// AliveFunc probes whether a pid refers to a live process.
type AliveFunc func(pid int) bool

// SweepOrphans rewrites the document so every running or paused loop
// whose recorded child process no longer exists becomes paused with
// PausedFromPreviousSession set. Returns the number of loops flipped.
// Best-effort: runs once at supervisor startup before any loop starts.
func (s *Store) SweepOrphans(alive AliveFunc) (int, error) {
	if alive == nil {
		return 0, errors.New("alive probe is required")
	}

	doc, err := s.Load()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	swept := 0
	for i := range doc.Loops {
		loop := &doc.Loops[i]
		switch loop.Status {
		case models.LoopStatusRunning, models.LoopStatusPaused:
		default:
			continue
		}
		if loop.PID > 0 && alive(loop.PID) {
			continue
		}

		if loop.Status == models.LoopStatusRunning {
			loop.PausedAt = &now
		}
		loop.Status = models.LoopStatusPaused
		loop.PausedFromPreviousSession = true
		loop.PID = 0
		loop.UpdatedAt = now
		swept++
	}

	if swept == 0 {
		return 0, nil
	}
	if err := s.Save(doc); err != nil {
		return 0, err
	}
	return swept, nil
}

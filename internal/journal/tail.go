package journal

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/models"
)

// Tail starts a polling tailer on a loop's log. Complete lines are parsed
// and delivered to onEntry in order, starting from the beginning of the
// file, so lines written before the call are delivered too; a
// partially written final line is held back until its newline arrives.
// Malformed lines are skipped. A missing file is not an error: the tailer
// waits for it to appear. onError, when non-nil, receives read failures;
// polling continues afterward.
//
// Polling was chosen over filesystem notifications for cross-platform
// reliability. The returned cancel halts polling at the next tick.
func (j *Journal) Tail(loopID string, onEntry func(models.LogEntry), onError func(error), pollInterval time.Duration) func() {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	path := j.Path(loopID)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		var offset int64
		var partial string

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			info, err := os.Stat(path)
			if err != nil {
				if !os.IsNotExist(err) && onError != nil {
					onError(err)
				}
				continue
			}

			size := info.Size()
			if size < offset {
				// Truncated or rotated underneath us; start over.
				offset = 0
				partial = ""
			}
			if size == offset {
				continue
			}

			file, err := os.Open(path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}

			delta := make([]byte, size-offset)
			_, err = file.ReadAt(delta, offset)
			file.Close()
			if err == io.EOF {
				err = nil
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			offset = size

			text := partial + string(delta)
			lines := strings.Split(text, "\n")
			partial = lines[len(lines)-1]

			for _, line := range lines[:len(lines)-1] {
				entry, ok := parseLine([]byte(line))
				if !ok {
					continue
				}
				onEntry(entry)
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// Package journal stores per-loop append-only logs as newline-delimited
// JSON records and provides tail reads plus a polling tailer.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/models"
)

const (
	// recentBytesPerEntry sizes the tail window for ReadRecent. Records
	// are comfortably under 500 bytes in practice.
	recentBytesPerEntry = 500

	// DefaultPollInterval is the documented tailer default.
	DefaultPollInterval = 250 * time.Millisecond
)

// Journal owns the log files under a root directory, one file per loop.
// Each file has a single appender; any number of tail readers.
type Journal struct {
	root   string
	logger zerolog.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// New creates a journal rooted at dir.
func New(dir string) *Journal {
	return &Journal{
		root:   dir,
		logger: logging.Component("journal"),
		files:  make(map[string]*os.File),
	}
}

// Path returns the log file path for a loop.
func (j *Journal) Path(loopID string) string {
	return filepath.Join(j.root, loopID, "log.jsonl")
}

// Append stamps the entry with the current time and loop id, serializes
// it to one line, and appends it. The record goes out in a single write
// so concurrent tail readers never observe an interleaved line.
func (j *Journal) Append(loopID string, entryType models.LogType, content string) error {
	entry := models.LogEntry{
		Timestamp: time.Now().UTC(),
		LoopID:    loopID,
		Type:      entryType,
		Content:   content,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := j.openLocked(loopID)
	if err != nil {
		return err
	}
	_, err = file.Write(data)
	return err
}

func (j *Journal) openLocked(loopID string) (*os.File, error) {
	if file, ok := j.files[loopID]; ok {
		return file, nil
	}
	path := j.Path(loopID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j.files[loopID] = file
	return file, nil
}

// Close closes all open appenders.
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, file := range j.files {
		_ = file.Close()
		delete(j.files, id)
	}
}

// Remove deletes a loop's journal directory. Used by discard.
func (j *Journal) Remove(loopID string) error {
	j.mu.Lock()
	if file, ok := j.files[loopID]; ok {
		_ = file.Close()
		delete(j.files, loopID)
	}
	j.mu.Unlock()
	return os.RemoveAll(filepath.Join(j.root, loopID))
}

// ReadAll streams the whole log, skipping malformed lines silently.
// A missing file yields an empty slice.
func (j *Journal) ReadAll(loopID string) ([]models.LogEntry, error) {
	file, err := os.Open(j.Path(loopID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []models.LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		entry, ok := parseLine(scanner.Bytes())
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

// ReadRecent returns up to n entries from the end of the log in original
// order. Reads a bounded tail window rather than the whole file.
func (j *Journal) ReadRecent(loopID string, n int) ([]models.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	file, err := os.Open(j.Path(loopID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	window := int64(n) * recentBytesPerEntry
	size := info.Size()
	offset := int64(0)
	if size > window {
		offset = size - window
	}

	buf := make([]byte, size-offset)
	if _, err := file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}

	lines := bytes.Split(buf, []byte{'\n'})
	if offset > 0 && len(lines) > 0 {
		// The window almost certainly starts mid-record.
		lines = lines[1:]
	}

	entries := make([]models.LogEntry, 0, n)
	for i := len(lines) - 1; i >= 0 && len(entries) < n; i-- {
		entry, ok := parseLine(lines[i])
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	// Collected tail-first; restore original order.
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}

func parseLine(line []byte) (models.LogEntry, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return models.LogEntry{}, false
	}
	var entry models.LogEntry
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return models.LogEntry{}, false
	}
	return entry, true
}

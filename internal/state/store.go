// Package state persists the supervisor's loop collection as a single
// JSON document on disk.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/models"
)

// Document is the full persistent state. Loop order is preserved so the
// UI keeps stable identity across reloads.
type Document struct {
	Loops []models.Loop `json:"loops"`

	// extra holds unknown top-level fields so older documents written by
	// newer versions round-trip.
	extra map[string]json.RawMessage
}

// ErrLoopNotFound is returned when an operation references an unknown loop.
var ErrLoopNotFound = errors.New("loop not found")

// Store owns the state document file. It is not safe for concurrent use;
// the engine serializes access through its own lock.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a store for the document at path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: logging.Component("state"),
	}
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing file yields an empty document. An
// unparseable file is reset to an empty document which is written back,
// so state corruption never takes the supervisor down.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("state document unparseable, resetting")
		doc = &Document{}
		if saveErr := s.Save(doc); saveErr != nil {
			return nil, fmt.Errorf("reset corrupt state: %w", saveErr)
		}
	}
	return doc, nil
}

// Save writes the full document atomically (temp file + rename).
func (s *Store) Save(doc *Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// UpdateLoop loads the document, applies patch to the loop with the given
// id, and saves. Returns the updated document. Unknown ids return
// ErrLoopNotFound without touching the file.
func (s *Store) UpdateLoop(id string, patch func(*models.Loop)) (*Document, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}

	idx := doc.indexOf(id)
	if idx < 0 {
		return doc, ErrLoopNotFound
	}

	patch(&doc.Loops[idx])
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns a copy of the loop with the given id.
func (d *Document) Get(id string) (models.Loop, bool) {
	idx := d.indexOf(id)
	if idx < 0 {
		return models.Loop{}, false
	}
	return d.Loops[idx], true
}

func (d *Document) indexOf(id string) int {
	for i := range d.Loops {
		if d.Loops[i].ID == id {
			return i
		}
	}
	return -1
}

func decodeDocument(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	doc := &Document{}
	if loopsRaw, ok := raw["loops"]; ok {
		if err := json.Unmarshal(loopsRaw, &doc.Loops); err != nil {
			return nil, err
		}
		delete(raw, "loops")
	}
	if len(raw) > 0 {
		doc.extra = raw
	}
	return doc, nil
}

func encodeDocument(doc *Document) ([]byte, error) {
	out := make(map[string]any, len(doc.extra)+1)
	for key, value := range doc.extra {
		out[key] = value
	}
	loops := doc.Loops
	if loops == nil {
		loops = []models.Loop{}
	}
	out["loops"] = loops
	return json.MarshalIndent(out, "", "  ")
}

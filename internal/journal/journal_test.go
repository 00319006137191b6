package journal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/models"
)

func TestAppendThenReadAll(t *testing.T) {
	j := New(t.TempDir())
	defer j.Close()

	require.NoError(t, j.Append("loop-1", models.LogTypeAgent, "hello"))
	require.NoError(t, j.Append("loop-1", models.LogTypeSystem, "world"))

	entries, err := j.ReadAll("loop-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hello", entries[0].Content)
	assert.Equal(t, models.LogTypeAgent, entries[0].Type)
	assert.Equal(t, "loop-1", entries[0].LoopID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, models.LogTypeSystem, entries[1].Type)
}

func TestReadAllMissingFile(t *testing.T) {
	j := New(t.TempDir())
	entries, err := j.ReadAll("nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	j := New(t.TempDir())
	defer j.Close()

	require.NoError(t, j.Append("loop-1", models.LogTypeAgent, "first"))

	f, err := os.OpenFile(j.Path("loop-1"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, j.Append("loop-1", models.LogTypeAgent, "second"))

	entries, err := j.ReadAll("loop-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Content)
	assert.Equal(t, "second", entries[1].Content)
}

func TestReadRecent(t *testing.T) {
	j := New(t.TempDir())
	defer j.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, j.Append("loop-1", models.LogTypeAgent, content(i)))
	}

	entries, err := j.ReadRecent("loop-1", 5)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, content(15), entries[0].Content)
	assert.Equal(t, content(19), entries[4].Content)
}

func content(i int) string {
	return "entry-" + string(rune('a'+i))
}

func TestReadRecentMoreThanAvailable(t *testing.T) {
	j := New(t.TempDir())
	defer j.Close()

	require.NoError(t, j.Append("loop-1", models.LogTypeAgent, "only"))

	entries, err := j.ReadRecent("loop-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "only", entries[0].Content)
}

func TestTailDeliversAppendsInOrder(t *testing.T) {
	j := New(t.TempDir())
	defer j.Close()

	var mu sync.Mutex
	var got []string
	cancel := j.Tail("loop-1", func(entry models.LogEntry) {
		mu.Lock()
		got = append(got, entry.Content)
		mu.Unlock()
	}, nil, 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append("loop-1", models.LogTypeAgent, content(i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, content(i), got[i])
	}
}

func TestTailHoldsBackPartialLine(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	path := j.Path("loop-1")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var mu sync.Mutex
	var got []string
	cancel := j.Tail("loop-1", func(entry models.LogEntry) {
		mu.Lock()
		got = append(got, entry.Content)
		mu.Unlock()
	}, nil, 10*time.Millisecond)
	defer cancel()

	// A complete record followed by a partial one.
	full := `{"timestamp":"2026-01-02T03:04:05Z","loopId":"loop-1","type":"agent","content":"whole"}` + "\n"
	partial := `{"timestamp":"2026-01-02T03:04:06Z","loopId":"loop-1","type":"agent","cont`
	require.NoError(t, os.WriteFile(path, []byte(full+partial), 0o644))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"whole"}, got)
	mu.Unlock()

	// Completing the partial line delivers it.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`ent":"rest"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"whole", "rest"}, got)
}

func TestTailResetsOnTruncation(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	defer j.Close()

	require.NoError(t, j.Append("loop-1", models.LogTypeAgent, "before"))

	var mu sync.Mutex
	var got []string
	cancel := j.Tail("loop-1", func(entry models.LogEntry) {
		mu.Lock()
		got = append(got, entry.Content)
		mu.Unlock()
	}, nil, 10*time.Millisecond)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Truncate and write fresh content.
	require.NoError(t, os.Truncate(j.Path("loop-1"), 0))
	require.NoError(t, j.Append("loop-1", models.LogTypeAgent, "after"))

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"before", "after"}, got)
}

func TestTailCancelStopsDelivery(t *testing.T) {
	j := New(t.TempDir())
	defer j.Close()

	var mu sync.Mutex
	count := 0
	cancel := j.Tail("loop-1", func(models.LogEntry) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil, 10*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, j.Append("loop-1", models.LogTypeAgent, "late"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

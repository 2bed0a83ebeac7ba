package deadletter

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWritesOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "mem")
	l.now = func() time.Time { return time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, l.Record(Entry{Symbol: "AAPL", Dataset: "prices", ErrorCode: 400, ErrorClass: "client_error", ErrorMessage: "bad symbol"}))
	require.NoError(t, l.Record(Entry{Symbol: "MSFT", Dataset: "income", ErrorCode: 418, ErrorClass: "unknown", ErrorMessage: "teapot"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"timestamp":"2025-01-08T12:00:00Z"`)
	assert.Contains(t, lines[0], `"symbol":"AAPL"`)
	assert.Contains(t, lines[0], `"error_code":400`)
	assert.Contains(t, lines[1], `"error_message":"teapot"`)
	assert.Equal(t, "mem", l.Path())
}

func TestReadKeepsTail(t *testing.T) {
	input := strings.Join([]string{
		`{"symbol":"A","error_code":400}`,
		`not json`,
		``,
		`{"symbol":"B","error_code":500}`,
		`{"symbol":"C","error_code":404}`,
	}, "\n")

	entries, bad, err := Read(strings.NewReader(input), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, bad)
	require.Len(t, entries, 2)
	assert.Equal(t, "B", entries[0].Symbol)
	assert.Equal(t, "C", entries[1].Symbol)

	all, _, err := Read(strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpenRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead_letter.jsonl")
	l, err := Open(Config{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Record(Entry{Symbol: "AAPL", Dataset: "prices", ErrorCode: 400}))
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	entries, bad, err := ReadFile(path, 0)
	require.NoError(t, err)
	assert.Zero(t, bad)
	assert.Len(t, entries, 20)
}

func TestReadFileMissing(t *testing.T) {
	entries, bad, err := ReadFile(filepath.Join(t.TempDir(), "absent.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, bad)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
	assert.NoError(t, Discard{}.Record(Entry{}))
}

package deadletter

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one terminal, non-retried failure. Serialized as one JSON line.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id,omitempty"`
	Symbol       string    `json:"symbol"`
	Dataset      string    `json:"dataset"`
	ErrorCode    int       `json:"error_code"`
	ErrorClass   string    `json:"error_class"`
	ErrorMessage string    `json:"error_message"`
}

// Sink accepts dead-letter entries.
type Sink interface {
	Record(e Entry) error
	Path() string
}

// Config controls the on-disk log and its rotation.
type Config struct {
	Path       string `yaml:"path" env:"PATH, overwrite"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB, overwrite"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS, overwrite"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS, overwrite"`
	Compress   bool   `yaml:"compress" env:"COMPRESS, overwrite"`
}

// Log appends entries as NDJSON. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	w    io.Writer
	path string
	now  func() time.Time
}

// Open creates a size-rotated log at cfg.Path.
func Open(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, errors.New("dead-letter path is required")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	return New(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, cfg.Path), nil
}

// New wraps an arbitrary writer; path is only reported back to callers.
func New(w io.Writer, path string) *Log {
	return &Log{w: w, path: path, now: time.Now}
}

// Record appends e, stamping the timestamp when unset.
func (l *Log) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode dead-letter entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("write dead-letter entry: %w", err)
	}
	return nil
}

// Path returns the file backing the log.
func (l *Log) Path() string { return l.path }

// Close closes the underlying writer when it is closable.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(Entry) error { return nil }
func (Discard) Path() string       { return "" }

// ReadFile returns the last limit entries in path (all when limit <= 0).
// Malformed lines are skipped and counted.
func ReadFile(path string, limit int) ([]Entry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()
	return Read(f, limit)
}

// Read decodes NDJSON entries from r, keeping the last limit.
func Read(r io.Reader, limit int) ([]Entry, int, error) {
	var (
		entries []Entry
		bad     int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			bad++
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return entries, bad, fmt.Errorf("read dead-letter log: %w", err)
	}
	return entries, bad, nil
}

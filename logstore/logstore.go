// Package logstore implements the append-only, line-delimited JSON logs shared
// by the monitor and the healer. Each record is one line; appends never
// interleave and records are never edited or removed.
package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned when appending to a closed Log
var ErrClosed = errors.New("logstore: log is closed")

// Reader tails a log file by path. The file may not exist yet; readers treat
// that as an empty log.
type Reader struct {
	path string
}

// NewReader returns a Reader for the log at path
func NewReader(path string) Reader {
	return Reader{path: path}
}

// Path returns the file path of the log
func (r Reader) Path() string {
	return r.path
}

// Tail returns the last n parseable records in file order
func (r Reader) Tail(n int) ([]json.RawMessage, error) {
	return Tail(r.path, n)
}

// TailText returns the last n parseable records joined by newlines
func (r Reader) TailText(n int) (string, error) {
	return TailText(r.path, n)
}

// Log is a Reader that can also append records.
type Log struct {
	Reader

	mu   sync.Mutex
	file *os.File
}

// Open opens (creating it and its directory if needed) the log at path for
// appending.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logstore.Open: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logstore.Open: %w", err)
	}
	return &Log{Reader: NewReader(path), file: f}, nil
}

// Append serializes v as a single JSON line and appends it to the log. The
// line is written with one write call on an O_APPEND descriptor, so writers in
// other processes never interleave with it, and it is synced to disk before
// Append returns.
func (l *Log) Append(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("Log.Append: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrClosed
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("Log.Append: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("Log.Append: %w", err)
	}
	return nil
}

// Close closes the underlying file; later appends fail with ErrClosed
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

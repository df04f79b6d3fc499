package logstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// chunkSize is how much of the file is read per step while scanning backward
const chunkSize = 32 << 10

// Tail returns the last n records of the log at path that are valid JSON, in
// file order. Malformed lines, including a partially written last line, are
// skipped. A missing or empty file yields an empty slice and no error.
func Tail(path string, n int) ([]json.RawMessage, error) {
	return tailAs(path, n, func(line []byte) (json.RawMessage, bool) {
		if line[0] != '{' || !json.Valid(line) {
			return nil, false
		}
		return append(json.RawMessage(nil), line...), true
	})
}

// TailText returns the text of the last n valid records joined by newlines,
// which is the form the decision oracle reads.
func TailText(path string, n int) (string, error) {
	records, err := Tail(path, n)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, string(rec))
	}
	return strings.Join(lines, "\n"), nil
}

// TailInto returns the last n lines that decode into T, in file order.
func TailInto[T any](path string, n int) ([]T, error) {
	return tailAs(path, n, func(line []byte) (T, bool) {
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return v, false
		}
		return v, true
	})
}

// tailAs scans the log at path backward and keeps the last n lines accepted by
// parse, returning them in file order.
func tailAs[T any](path string, n int, parse func([]byte) (T, bool)) ([]T, error) {
	out := []T{}
	if n <= 0 {
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("logstore.Tail: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("logstore.Tail: %w", err)
	}

	err = scanLinesBackward(f, info.Size(), func(line []byte) bool {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return false
		}
		if v, ok := parse(line); ok {
			out = append(out, v)
		}
		return len(out) >= n
	})
	if err != nil {
		return nil, fmt.Errorf("logstore.Tail: %w", err)
	}

	// collected newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// scanLinesBackward calls visit for every line of r, last line first, until
// visit returns true. The slice given to visit is only valid during the call.
func scanLinesBackward(r io.ReaderAt, size int64, visit func([]byte) bool) error {
	var carry []byte
	pos := size
	for pos > 0 {
		readSize := int64(chunkSize)
		if readSize > pos {
			readSize = pos
		}
		pos -= readSize

		buf := make([]byte, readSize, int(readSize)+len(carry))
		if _, err := r.ReadAt(buf, pos); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		buf = append(buf, carry...)

		for {
			i := bytes.LastIndexByte(buf, '\n')
			if i < 0 {
				break
			}
			if visit(buf[i+1:]) {
				return nil
			}
			buf = buf[:i]
		}
		carry = buf
	}
	if len(carry) > 0 {
		visit(carry)
	}
	return nil
}

// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package corpus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	json "github.com/goccy/go-json"
	"github.com/gofrs/flock"
)

const maxLineSize = 64 << 20

// LineError is a record that failed to decode. The reader stays usable.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Reader streams JSON Lines records of type T.
type Reader[T any] struct {
	scanner *bufio.Scanner
	line    int
	close   func() error
}

// Open opens a JSONL file. Regular files are memory-mapped; "-" reads
// standard input.
func Open[T any](path string) (*Reader[T], error) {
	if path == "-" {
		return NewReader[T](os.Stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 || !info.Mode().IsRegular() {
		r := NewReader[T](f)
		r.close = f.Close
		return r, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	r := NewReader[T](bytes.NewReader(m))
	r.close = func() error {
		if err := m.Unmap(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	return r, nil
}

// NewReader reads JSONL from r.
func NewReader[T any](r io.Reader) *Reader[T] {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader[T]{scanner: s, close: func() error { return nil }}
}

// Next returns the next record, io.EOF at the end, or a *LineError for a
// line that does not decode. Blank lines are skipped.
func (r *Reader[T]) Next() (T, error) {
	var zero T
	for r.scanner.Scan() {
		r.line++
		b := bytes.TrimSpace(r.scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return zero, &LineError{Line: r.line, Err: err}
		}
		return v, nil
	}
	if err := r.scanner.Err(); err != nil {
		return zero, fmt.Errorf("line %d: %w", r.line+1, err)
	}
	return zero, io.EOF
}

// Line returns the number of the last line read.
func (r *Reader[T]) Line() int {
	return r.line
}

// Close releases the underlying file.
func (r *Reader[T]) Close() error {
	return r.close()
}

// ReadAll reads every record, skipping lines that do not decode. It
// returns the records and the decode errors.
func ReadAll[T any](path string) ([]T, []error, error) {
	r, err := Open[T](path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = r.Close() }()

	var (
		out []T
		bad []error
	)
	for {
		v, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, bad, nil
		}
		var le *LineError
		if errors.As(err, &le) {
			bad = append(bad, le)
			continue
		}
		if err != nil {
			return out, bad, err
		}
		out = append(out, v)
	}
}

// Writer writes JSON Lines records of type T.
type Writer[T any] struct {
	w     *bufio.Writer
	f     *os.File
	lock  *flock.Flock
	count int
}

// Create truncates or creates path and holds an exclusive lock on
// "<path>.lock" until Close, so concurrent runs cannot interleave output.
// "-" writes to standard output.
func Create[T any](path string) (*Writer[T], error) {
	if path == "-" {
		return &Writer[T]{w: bufio.NewWriter(os.Stdout)}, nil
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s is being written by another process", path)
	}

	f, err := os.Create(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &Writer[T]{w: bufio.NewWriterSize(f, 1<<20), f: f, lock: lock}, nil
}

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("corpus writer is closed")

// Write appends one record.
func (w *Writer[T]) Write(v T) error {
	if w.w == nil {
		return ErrWriterClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	w.count++
	return w.w.WriteByte('\n')
}

// Count returns the number of records written.
func (w *Writer[T]) Count() int {
	return w.count
}

// Close flushes, closes the file and releases the lock. The lock file is
// left in place so a waiting process locks the same inode. Calls after the
// first return nil.
func (w *Writer[T]) Close() error {
	if w.w == nil {
		return nil
	}
	err := w.w.Flush()
	w.w = nil
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	if w.lock != nil {
		if uerr := w.lock.Unlock(); err == nil {
			err = uerr
		}
		w.lock = nil
	}
	return err
}

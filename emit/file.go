package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robsok/dt-replay-demo/errors"
)

// fileLine is the JSONL record written by FileEmitter. The destination is
// recorded per line so a single-file dry run stays self-describing.
type fileLine struct {
	Subject string         `json:"subject"`
	TS      string         `json:"ts"`
	Stream  string         `json:"stream"`
	Data    map[string]any `json:"data"`
}

// FileEmitter writes events as JSON lines, either to one file or to one
// file per destination. It backs -dry-run and tests; output is always
// JSONL regardless of the broker encoding.
type FileEmitter struct {
	path    string
	perDest bool

	mu     sync.Mutex
	files  map[string]*os.File
	closed bool

	written atomic.Int64
	bytes   atomic.Int64
}

// FileOption configures a FileEmitter.
type FileOption func(*FileEmitter)

// WithPerDestination treats the emitter path as a directory and writes one
// <subject>.jsonl file per destination instead of a single file.
func WithPerDestination() FileOption {
	return func(e *FileEmitter) {
		e.perDest = true
	}
}

// NewFileEmitter creates a JSONL sink at path. Path "-" writes to stdout.
// Files are opened lazily on first emit and appended to.
func NewFileEmitter(path string, opts ...FileOption) (*FileEmitter, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "FileEmitter", "NewFileEmitter",
			"output path is required")
	}

	e := &FileEmitter{
		path:  path,
		files: make(map[string]*os.File),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.perDest {
		if path == "-" {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "FileEmitter", "NewFileEmitter",
				"per-destination mode needs a directory, not stdout")
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, errors.WrapFatal(err, "FileEmitter", "NewFileEmitter", "create output directory")
		}
	}

	return e, nil
}

// Emit appends the event as one JSON line to the destination's file.
func (e *FileEmitter) Emit(_ context.Context, destination string, event Event) error {
	line, err := json.Marshal(fileLine{
		Subject: destination,
		TS:      event.TS.UTC().Format(time.RFC3339Nano),
		Stream:  event.Stream,
		Data:    event.Data,
	})
	if err != nil {
		return errors.WrapInvalid(err, "FileEmitter", "Emit", "marshal event")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "FileEmitter", "Emit", "emitter closed")
	}

	f, err := e.fileFor(destination)
	if err != nil {
		return err
	}

	n, err := f.Write(append(line, '\n'))
	if err != nil {
		return errors.WrapTransient(err, "FileEmitter", "Emit",
			fmt.Sprintf("write event for %s", destination))
	}

	e.written.Add(1)
	e.bytes.Add(int64(n))
	return nil
}

// fileFor returns the open file for a destination, creating it on first
// use. Callers hold e.mu.
func (e *FileEmitter) fileFor(destination string) (*os.File, error) {
	key := ""
	if e.perDest {
		key = destination
	}
	if f, ok := e.files[key]; ok {
		return f, nil
	}

	var path string
	switch {
	case e.path == "-":
		e.files[key] = os.Stdout
		return os.Stdout, nil
	case e.perDest:
		path = filepath.Join(e.path, sanitizeSubject(destination)+".jsonl")
	default:
		path = e.path
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "FileEmitter", "Emit", "open output file")
	}
	e.files[key] = f
	return f, nil
}

// Written returns the number of events written so far.
func (e *FileEmitter) Written() int64 {
	return e.written.Load()
}

// Close closes all open output files. Safe to call more than once.
func (e *FileEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for _, f := range e.files {
		if f == os.Stdout {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "FileEmitter", "Close", "close output file")
		}
	}
	e.files = nil
	return firstErr
}

// sanitizeSubject maps a destination subject to a safe file name.
func sanitizeSubject(subject string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '*', '>', ' ', ':':
			return '_'
		}
		return r
	}, subject)
}

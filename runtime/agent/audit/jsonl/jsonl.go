// Package jsonl implements a file-backed audit.Recorder. Entries are
// appended as newline-delimited JSON to a single append-only log file; the
// file is never rewritten or compacted.
package jsonl

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"goa.design/clue/log"

	"github.com/dexterhq/dexter/runtime/agent/audit"
)

// DefaultPath is the audit log location relative to the working directory.
const DefaultPath = ".dexter/scratchpad/audit.jsonl"

// Recorder appends audit entries to an NDJSON file. Writes are serialized
// with a mutex; each write is a single append so concurrent runs in one
// process never interleave partial lines.
type Recorder struct {
	path string

	mu      sync.Mutex
	dirOnce sync.Once
	dirErr  error
}

// New builds a file-backed recorder writing to path. An empty path uses
// DefaultPath. The containing directory is created on first use.
func New(path string) (*Recorder, error) {
	if path == "" {
		path = DefaultPath
	}
	if filepath.Ext(path) == "" {
		return nil, errors.New("audit log path must name a file")
	}
	return &Recorder{path: path}, nil
}

// Record implements audit.Recorder. I/O failures are contained: they are
// logged to the diagnostic channel and never surfaced to the caller, so
// audit logging can never abort a run.
func (r *Recorder) Record(ctx context.Context, e *audit.Entry) {
	if e == nil {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "audit: marshal entry"}, log.KV{K: "tool", V: e.Tool})
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dirOnce.Do(func() {
		r.dirErr = os.MkdirAll(filepath.Dir(r.path), 0o755)
	})
	if r.dirErr != nil {
		log.Error(ctx, r.dirErr, log.KV{K: "msg", V: "audit: create log directory"})
		return
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "audit: open log file"})
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "audit: append entry"})
	}
}

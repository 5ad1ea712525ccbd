// Package mongo wires the audit.Recorder interface to the MongoDB client.
// It is a persistent alternative to the NDJSON file recorder for
// deployments that query the audit trail.
package mongo

import (
	"context"
	"errors"

	"goa.design/clue/log"

	clientsmongo "github.com/dexterhq/dexter/features/audit/mongo/clients/mongo"
	"github.com/dexterhq/dexter/runtime/agent/audit"
)

// Recorder implements audit.Recorder by delegating to the Mongo client.
// Like every recorder, it never fails the run: insert errors are logged
// and dropped.
type Recorder struct {
	client clientsmongo.Client
}

// NewRecorder builds a Mongo-backed audit recorder.
func NewRecorder(client clientsmongo.Client) (*Recorder, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Recorder{client: client}, nil
}

// Record implements audit.Recorder.
func (r *Recorder) Record(ctx context.Context, e *audit.Entry) {
	if e == nil {
		return
	}
	if err := r.client.Insert(ctx, e); err != nil {
		log.Error(ctx, err,
			log.KV{K: "msg", V: "audit insert failed"},
			log.KV{K: "tool", V: e.Tool})
	}
}

// List returns a page of recorded entries, optionally filtered by tool.
func (r *Recorder) List(ctx context.Context, tool string, cursor string, limit int) (clientsmongo.Page, error) {
	return r.client.List(ctx, tool, cursor, limit)
}

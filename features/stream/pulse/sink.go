// Package pulse implements event.Sink on goa.design/pulse streams so
// out-of-process consumers (other UI instances, workers) can follow a
// conversation's events over Redis.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dexterhq/dexter/features/stream/pulse/clients/pulse"
	"github.com/dexterhq/dexter/runtime/agent/event"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client publishes events. Required.
		Client pulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// "session/<SessionID>".
		StreamID func(event.Event) (string, error)
	}

	// Sink publishes agent events into Pulse streams. Safe for
	// concurrent Send calls.
	Sink struct {
		client   pulse.Client
		streamID func(event.Event) (string, error)
	}

	// Envelope wraps agent events for transmission over Pulse streams.
	Envelope struct {
		// Type identifies the event kind, e.g. "tool_start".
		Type string `json:"type"`
		// RunID and SessionID locate the event.
		RunID     string `json:"runId"`
		SessionID string `json:"sessionId"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload carries the event-specific data.
		Payload json.RawMessage `json:"payload,omitempty"`
	}
)

// NewSink constructs a Pulse-backed event sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{client: opts.Client, streamID: streamID}, nil
}

// Send publishes the event to the derived Pulse stream.
func (s *Sink) Send(ctx context.Context, evt event.Event) error {
	streamID, err := s.streamID(evt)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(evt.Payload())
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	env := Envelope{
		Type:      string(evt.Type()),
		RunID:     evt.RunID(),
		SessionID: evt.SessionID(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := handle.Add(ctx, env.Type, data); err != nil {
		return err
	}
	return nil
}

// Close delegates to the underlying Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// DecodeEnvelope parses an envelope published by Send. Subscribers use it
// to rebuild the event stream from Pulse messages.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("envelope missing type")
	}
	return env, nil
}

func defaultStreamID(evt event.Event) (string, error) {
	if evt.SessionID() == "" {
		return "", errors.New("event missing session id")
	}
	return fmt.Sprintf("session/%s", evt.SessionID()), nil
}

// Package bridge translates a normalized provider stream into the public
// domain event sequence consumed by transport adapters. It is the only
// component that understands both sides: the loosely-ordered provider chunk
// protocol and the strict AgentEvent ordering contract.
//
// Responsibilities, in order of chunk arrival:
//
//   - Track in-flight tool calls by call ID so tool results can be timed.
//   - Suppress internal bookkeeping tools (reserved names used by the
//     agent framework for memory maintenance) from public output, while
//     still tracking their call IDs for correctness.
//   - Emit answer_start exactly once, triggered by the first text chunk.
//   - Build one audit entry per externally-visible tool result and hand it
//     to the optional recorder. Audit failures never reach the run path.
//   - Emit a single terminal done event carrying the accumulated tool
//     calls, iteration count, total duration, and token usage.
//
// The bridge is a lazy, finite, non-restartable sequence: callers pull one
// event at a time with Recv until io.EOF. A provider stream failure is
// returned as-is; the bridge never converts it or emits a synthetic done.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"goa.design/clue/log"

	"github.com/dexterhq/dexter/runtime/agent/audit"
	"github.com/dexterhq/dexter/runtime/agent/event"
	"github.com/dexterhq/dexter/runtime/agent/provider"
)

// DefaultInternalTools is the reserved tool name set used by the agent
// framework for working-memory bookkeeping. Calls to these tools are
// excluded from user-visible and audit output. Extending the set is a
// configuration change, not a protocol change.
var DefaultInternalTools = []string{"updateWorkingMemory"}

type (
	// Options configures a Bridge.
	Options struct {
		// RunID identifies the run. Required.
		RunID string
		// SessionID groups runs of one conversation. Optional.
		SessionID string
		// Recorder receives one audit entry per externally-visible tool
		// result. Nil disables auditing.
		Recorder audit.Recorder
		// InternalTools overrides DefaultInternalTools when non-nil.
		InternalTools []string
		// Now overrides the clock. Tests only.
		Now func() time.Time
	}

	// Bridge converts provider chunks into domain events for one run.
	// Not safe for concurrent use: one goroutine pulls events at a time.
	Bridge struct {
		ctx      context.Context
		stream   provider.Stream
		recorder audit.Recorder
		internal map[string]struct{}
		now      func() time.Time

		runID     string
		sessionID string
		start     time.Time

		pending       map[string]pendingCall
		internalCalls map[string]struct{}
		toolCalls     []event.ToolCallRecord
		answerStarted bool

		queue []event.Event
		done  bool
		err   error
	}

	// pendingCall tracks one in-flight tool invocation.
	pendingCall struct {
		tool  string
		start time.Time
	}
)

// New builds a bridge over the given provider stream. The context carries
// the diagnostic logger and bounds the deferred final-value resolution.
func New(ctx context.Context, stream provider.Stream, opts Options) (*Bridge, error) {
	if stream == nil {
		return nil, fmt.Errorf("provider stream is required")
	}
	if opts.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	names := opts.InternalTools
	if names == nil {
		names = DefaultInternalTools
	}
	internal := make(map[string]struct{}, len(names))
	for _, n := range names {
		internal[n] = struct{}{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		ctx:           ctx,
		stream:        stream,
		recorder:      opts.Recorder,
		internal:      internal,
		now:           now,
		runID:         opts.RunID,
		sessionID:     opts.SessionID,
		start:         now(),
		pending:       make(map[string]pendingCall),
		internalCalls: make(map[string]struct{}),
	}, nil
}

// Recv returns the next domain event. io.EOF signals that the terminal
// done event has already been delivered. Any other error is a provider
// stream failure and ends the sequence without a done event.
func (b *Bridge) Recv() (event.Event, error) {
	for {
		if len(b.queue) > 0 {
			evt := b.queue[0]
			b.queue = b.queue[1:]
			return evt, nil
		}
		if b.err != nil {
			return nil, b.err
		}
		if b.done {
			return nil, io.EOF
		}

		chunk, err := b.stream.Recv()
		if err == io.EOF {
			evt, ferr := b.finish()
			if ferr != nil {
				b.err = ferr
				return nil, ferr
			}
			b.done = true
			return evt, nil
		}
		if err != nil {
			b.err = err
			return nil, err
		}
		b.handle(chunk)
	}
}

// Close releases the underlying provider stream.
func (b *Bridge) Close() error {
	return b.stream.Close()
}

func (b *Bridge) handle(chunk provider.Chunk) {
	switch chunk.Type {
	case provider.ChunkStepStart:
		b.emit(event.NewThinking(b.runID, b.sessionID, "Processing..."))

	case provider.ChunkToolCall:
		b.pending[chunk.ToolCallID] = pendingCall{tool: chunk.ToolName, start: b.now()}
		if _, ok := b.internal[chunk.ToolName]; ok {
			b.internalCalls[chunk.ToolCallID] = struct{}{}
			return
		}
		b.emit(event.NewToolStart(b.runID, b.sessionID, chunk.ToolName, chunk.Args))

	case provider.ChunkToolProgress:
		if _, internal := b.internalCalls[chunk.ToolCallID]; internal {
			return
		}
		if chunk.Message == "" {
			return
		}
		b.emit(event.NewToolProgress(b.runID, b.sessionID, chunk.Message))

	case provider.ChunkToolResult:
		started, matched := b.pending[chunk.ToolCallID]
		if !matched {
			// Degraded case: no recorded call for this result. Report a zero
			// duration rather than failing the run.
			started = pendingCall{tool: chunk.ToolName, start: b.now()}
			log.Warn(b.ctx,
				log.KV{K: "msg", V: "tool result without matching tool call"},
				log.KV{K: "tool", V: chunk.ToolName},
				log.KV{K: "tool_call_id", V: chunk.ToolCallID})
		}
		duration := b.now().Sub(started.start)
		delete(b.pending, chunk.ToolCallID)

		if _, internal := b.internalCalls[chunk.ToolCallID]; internal {
			delete(b.internalCalls, chunk.ToolCallID)
			return
		}

		result := stringifyResult(chunk.Result)
		if chunk.IsError {
			b.emit(event.NewToolError(b.runID, b.sessionID, chunk.ToolName, result))
			return
		}
		b.toolCalls = append(b.toolCalls, event.ToolCallRecord{
			Tool:   chunk.ToolName,
			Args:   chunk.Args,
			Result: result,
		})
		b.emit(event.NewToolEnd(b.runID, b.sessionID, chunk.ToolName, chunk.Args, result, duration))
		b.audit(chunk, result, duration)

	case provider.ChunkTextStart:
		b.startAnswer()

	case provider.ChunkTextDelta:
		b.startAnswer()
		if chunk.TextDelta != "" {
			b.emit(event.NewTextDelta(b.runID, b.sessionID, chunk.TextDelta))
		}

	default:
		// Unrecognized chunk kinds are skipped; the normalizer already
		// logged them.
	}
}

// startAnswer emits answer_start exactly once per run.
func (b *Bridge) startAnswer() {
	if b.answerStarted {
		return
	}
	b.answerStarted = true
	b.emit(event.NewAnswerStart(b.runID, b.sessionID))
}

// finish resolves the deferred final values and builds the terminal done
// event. The three deferred values are independent; resolution order does
// not matter.
func (b *Bridge) finish() (event.Event, error) {
	if !b.answerStarted {
		b.startAnswer()
	}

	text, err := b.stream.FinalText(b.ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve final text: %w", err)
	}
	usage, err := b.stream.Usage(b.ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve usage: %w", err)
	}
	steps, err := b.stream.Steps(b.ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve steps: %w", err)
	}

	payload := event.DonePayload{
		Answer:     text,
		ToolCalls:  b.toolCalls,
		Iterations: steps,
		TotalTime:  b.now().Sub(b.start),
	}
	if usage != nil {
		payload.TokenUsage = &event.TokenUsage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TotalTokens:  usage.InputTokens + usage.OutputTokens,
		}
	}
	if b.toolCalls == nil {
		payload.ToolCalls = []event.ToolCallRecord{}
	}
	b.emit(event.NewDone(b.runID, b.sessionID, payload))

	evt := b.queue[0]
	b.queue = b.queue[1:]
	return evt, nil
}

// audit builds and records the audit entry for an externally-visible tool
// result. Recorders contain their own failures; this call cannot abort the
// run.
func (b *Bridge) audit(chunk provider.Chunk, result string, duration time.Duration) {
	if b.recorder == nil {
		return
	}
	b.recorder.Record(b.ctx, &audit.Entry{
		Timestamp:     b.now().UTC(),
		Tool:          chunk.ToolName,
		Args:          chunk.Args,
		ResultSummary: audit.Summarize(result),
		SourceURLs:    audit.ExtractSourceURLs(chunk.Result),
		ToolCallID:    chunk.ToolCallID,
		Duration:      duration,
	})
}

func (b *Bridge) emit(evt event.Event) {
	b.queue = append(b.queue, evt)
}

// stringifyResult normalizes a tool result to a string: textual results
// pass through, everything else is JSON-serialized. Serialization failures
// degrade to fmt formatting, never to a run failure.
func stringifyResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

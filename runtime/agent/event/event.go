// Package event defines the closed set of domain events produced for one
// agent run. Events are the public contract between the event bridge and
// transport adapters: the terminal renderer and the SSE responder consume
// the same sequence and only differ in how they paint it.
//
// Events are emitted in strict temporal order matching causation in the
// provider stream. Done is always the terminal event of a run and is
// emitted exactly once. All concrete event types embed Base to provide
// standard metadata (type, run ID, session ID, payload).
package event

import (
	"context"
	"time"
)

type (
	// Sink delivers domain events to a consumer over a transport (terminal,
	// SSE, message bus). Implementations must be safe for concurrent Send
	// calls: a server process may fan out events from multiple sessions
	// through a shared sink.
	Sink interface {
		// Send publishes an event. Implementations marshal the event into
		// their wire format and handle delivery.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. Idempotent.
		Close(ctx context.Context) error
	}

	// Event describes a single domain event. Consumers type-assert to the
	// concrete types for structured field access and use Payload for generic
	// serialization.
	Event interface {
		// Type returns the event type constant (e.g., EventToolEnd).
		Type() EventType

		// RunID returns the run identifier that produced this event. All
		// events within a single run share the same run ID.
		RunID() string

		// SessionID returns the conversation session identifier. All runs in
		// the same conversation share the same session ID.
		SessionID() string

		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// Thinking signals that the agent started a reasoning step. Multiple
	// Thinking events may occur in one run, one per provider step.
	Thinking struct {
		Base
		Data ThinkingPayload
	}

	// ToolStart signals that an externally-visible tool invocation began.
	// Internal bookkeeping tools never produce this event.
	ToolStart struct {
		Base
		Data ToolStartPayload
	}

	// ToolProgress carries an intermediate progress message for the tool
	// that is currently running. Consumers coalesce rapid progress updates;
	// only the most recent message within a coalescing window is displayed.
	ToolProgress struct {
		Base
		Data ToolProgressPayload
	}

	// ToolEnd signals that a tool invocation completed with a result. Every
	// public ToolStart is eventually followed by exactly one ToolEnd or
	// ToolError with the same tool name.
	ToolEnd struct {
		Base
		Data ToolEndPayload
	}

	// ToolError signals that a tool invocation failed. The run continues;
	// tool failures are not run failures.
	ToolError struct {
		Base
		Data ToolErrorPayload
	}

	// AnswerStart marks the transition from tool use to answer synthesis.
	// Emitted exactly once per run, before the first TextDelta.
	AnswerStart struct {
		Base
		Data AnswerStartPayload
	}

	// TextDelta streams an incremental fragment of the final answer.
	// Concatenating all deltas in emission order yields the full answer.
	TextDelta struct {
		Base
		Data TextDeltaPayload
	}

	// Done is the terminal event of a run. It carries the full answer, the
	// accumulated externally-visible tool calls, and run statistics.
	Done struct {
		Base
		Data DonePayload
	}

	// ThinkingPayload is the wire payload for Thinking events.
	ThinkingPayload struct {
		Message string `json:"message"`
	}

	// ToolStartPayload carries the metadata for a started tool invocation.
	ToolStartPayload struct {
		// Tool is the tool name as advertised to the model.
		Tool string `json:"tool"`
		// Args contains the structured tool arguments.
		Args map[string]any `json:"args,omitempty"`
	}

	// ToolProgressPayload is the wire payload for ToolProgress events.
	ToolProgressPayload struct {
		Message string `json:"message"`
	}

	// ToolEndPayload carries the result metadata for a completed tool
	// invocation.
	ToolEndPayload struct {
		// Tool is the tool name, matching the corresponding ToolStart.
		Tool string `json:"tool"`
		// Args are the arguments the tool was invoked with.
		Args map[string]any `json:"args,omitempty"`
		// Result is the stringified tool result. Results that are not
		// already textual are JSON-serialized.
		Result string `json:"result"`
		// Duration is the wall-clock time from tool call to tool result.
		// Zero when the result arrived without a matching call record.
		Duration time.Duration `json:"duration"`
	}

	// ToolErrorPayload describes a failed tool invocation.
	ToolErrorPayload struct {
		Tool  string `json:"tool"`
		Error string `json:"error"`
	}

	// AnswerStartPayload is intentionally empty; AnswerStart is a pure
	// ordering marker.
	AnswerStartPayload struct{}

	// TextDeltaPayload is the wire payload for TextDelta events.
	TextDeltaPayload struct {
		Delta string `json:"delta"`
	}

	// ToolCallRecord summarizes one externally-visible completed tool call
	// for inclusion in the Done payload.
	ToolCallRecord struct {
		Tool   string         `json:"tool"`
		Args   map[string]any `json:"args,omitempty"`
		Result string         `json:"result"`
	}

	// TokenUsage reports token accounting for the run when the provider
	// supplied it.
	TokenUsage struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
		TotalTokens  int `json:"totalTokens"`
	}

	// DonePayload carries the terminal run summary.
	DonePayload struct {
		// Answer is the full final answer text.
		Answer string `json:"answer"`
		// ToolCalls lists the externally-visible tool calls in completion
		// order. Internal tool calls are never included.
		ToolCalls []ToolCallRecord `json:"toolCalls"`
		// Iterations is the number of provider steps the run took.
		Iterations int `json:"iterations"`
		// TotalTime is the wall-clock duration of the whole run.
		TotalTime time.Duration `json:"totalTime"`
		// TokenUsage is nil when the provider reported no usage.
		TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
	}

	// Base provides a default implementation of Event. Embed it in concrete
	// event types to inherit the Type, RunID, SessionID, and Payload methods.
	Base struct {
		t EventType
		r string
		s string
		p any
	}
)

// EventType enumerates domain event flavors.
type EventType string

const (
	// EventThinking marks the start of a reasoning step.
	EventThinking EventType = "thinking"

	// EventToolStart marks the start of an externally-visible tool call.
	EventToolStart EventType = "tool_start"

	// EventToolProgress carries an intermediate tool progress message.
	EventToolProgress EventType = "tool_progress"

	// EventToolEnd marks the completion of an externally-visible tool call.
	EventToolEnd EventType = "tool_end"

	// EventToolError marks a failed tool call.
	EventToolError EventType = "tool_error"

	// EventAnswerStart marks the transition to answer synthesis.
	EventAnswerStart EventType = "answer_start"

	// EventTextDelta streams an incremental answer fragment.
	EventTextDelta EventType = "text_delta"

	// EventDone is the terminal event of a run.
	EventDone EventType = "done"
)

// NewBase constructs a Base with the given type, run ID, session ID, and
// payload.
func NewBase(t EventType, runID, sessionID string, payload any) Base {
	return Base{t: t, r: runID, s: sessionID, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// RunID implements Event.RunID.
func (e Base) RunID() string { return e.r }

// SessionID implements Event.SessionID.
func (e Base) SessionID() string { return e.s }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

// NewThinking builds a Thinking event.
func NewThinking(runID, sessionID, message string) Thinking {
	p := ThinkingPayload{Message: message}
	return Thinking{Base: NewBase(EventThinking, runID, sessionID, p), Data: p}
}

// NewToolStart builds a ToolStart event.
func NewToolStart(runID, sessionID, tool string, args map[string]any) ToolStart {
	p := ToolStartPayload{Tool: tool, Args: args}
	return ToolStart{Base: NewBase(EventToolStart, runID, sessionID, p), Data: p}
}

// NewToolProgress builds a ToolProgress event.
func NewToolProgress(runID, sessionID, message string) ToolProgress {
	p := ToolProgressPayload{Message: message}
	return ToolProgress{Base: NewBase(EventToolProgress, runID, sessionID, p), Data: p}
}

// NewToolEnd builds a ToolEnd event.
func NewToolEnd(runID, sessionID, tool string, args map[string]any, result string, duration time.Duration) ToolEnd {
	p := ToolEndPayload{Tool: tool, Args: args, Result: result, Duration: duration}
	return ToolEnd{Base: NewBase(EventToolEnd, runID, sessionID, p), Data: p}
}

// NewToolError builds a ToolError event.
func NewToolError(runID, sessionID, tool, errMsg string) ToolError {
	p := ToolErrorPayload{Tool: tool, Error: errMsg}
	return ToolError{Base: NewBase(EventToolError, runID, sessionID, p), Data: p}
}

// NewAnswerStart builds an AnswerStart event.
func NewAnswerStart(runID, sessionID string) AnswerStart {
	p := AnswerStartPayload{}
	return AnswerStart{Base: NewBase(EventAnswerStart, runID, sessionID, p), Data: p}
}

// NewTextDelta builds a TextDelta event.
func NewTextDelta(runID, sessionID, delta string) TextDelta {
	p := TextDeltaPayload{Delta: delta}
	return TextDelta{Base: NewBase(EventTextDelta, runID, sessionID, p), Data: p}
}

// NewDone builds the terminal Done event.
func NewDone(runID, sessionID string, payload DonePayload) Done {
	return Done{Base: NewBase(EventDone, runID, sessionID, payload), Data: payload}
}

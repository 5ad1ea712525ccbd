// Package provider defines the normalized boundary between the agent
// framework and the event bridge. A provider stream yields a flat sequence
// of typed chunks (steps, tool calls, tool results, answer text) plus
// deferred end-of-run values (final text, token usage, step count).
//
// The package has no business logic: it only gives the heterogeneous,
// loosely-typed provider output a minimal typed shape the bridge can
// consume. Filtering, timing, and audit concerns live in the bridge.
package provider

import "context"

type (
	// Stream exposes one agent invocation as a chunk sequence with deferred
	// final values. Implementations adapt a concrete agent framework (or a
	// recorded fixture in tests) to this shape.
	//
	// Streams are finite and non-restartable. Recv returns io.EOF once the
	// chunk sequence is exhausted; after that the deferred accessors resolve.
	// A stream failure surfaces as a non-EOF error from Recv.
	Stream interface {
		// Recv returns the next chunk. io.EOF signals normal exhaustion.
		Recv() (Chunk, error)

		// Close releases resources backing the stream. Safe to call more
		// than once.
		Close() error

		// FinalText resolves the final answer text. Valid only after Recv
		// returned io.EOF; blocks until the value is available or ctx ends.
		FinalText(ctx context.Context) (string, error)

		// Usage resolves the token usage summary. Nil when the provider
		// reported no usage.
		Usage(ctx context.Context) (*Usage, error)

		// Steps resolves the number of reasoning steps the run took.
		Steps(ctx context.Context) (int, error)
	}

	// Chunk is one normalized unit from the provider stream. Type indicates
	// which fields are populated:
	//
	//   - ChunkStepStart: no payload.
	//   - ChunkToolCall:  ToolCallID, ToolName, Args.
	//   - ChunkToolProgress: ToolCallID, ToolName, Message.
	//   - ChunkToolResult: ToolCallID, ToolName, Args, Result, IsError.
	//   - ChunkTextStart: no payload.
	//   - ChunkTextDelta: TextDelta.
	Chunk struct {
		// Type is the chunk kind.
		Type ChunkType
		// ToolCallID uniquely identifies a tool invocation within a run.
		ToolCallID string
		// ToolName is the tool identifier as advertised to the model.
		ToolName string
		// Args contains the structured tool arguments.
		Args map[string]any
		// Result is the raw tool result value. May be a string or any
		// JSON-serializable value.
		Result any
		// IsError reports that the tool execution failed and Result carries
		// the error description.
		IsError bool
		// Message is the human-readable progress ping for the in-flight call.
		Message string
		// TextDelta is the incremental answer fragment.
		TextDelta string
	}

	// Usage reports token counts for a run when the provider supplies them.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// ChunkType identifies the chunk kind.
	ChunkType string
)

const (
	// ChunkStepStart marks the start of a reasoning step.
	ChunkStepStart ChunkType = "step-start"
	// ChunkToolCall carries a tool invocation request.
	ChunkToolCall ChunkType = "tool-call"
	// ChunkToolProgress carries a progress ping for an in-flight tool call.
	ChunkToolProgress ChunkType = "tool-progress"
	// ChunkToolResult carries a tool invocation result.
	ChunkToolResult ChunkType = "tool-result"
	// ChunkTextStart marks the start of final answer synthesis.
	ChunkTextStart ChunkType = "text-start"
	// ChunkTextDelta carries an incremental answer fragment.
	ChunkTextDelta ChunkType = "text-delta"
)

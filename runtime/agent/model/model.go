// Package model defines the provider-agnostic LLM contract the engine
// drives. Implementations wrap provider SDKs (Anthropic, OpenAI) and
// translate Request/Response into provider-specific formats. The engine
// never imports an SDK directly.
package model

import (
	"context"
	"errors"

	"github.com/dexterhq/dexter/runtime/agent/tools"
)

type (
	// Client is the contract the engine uses to invoke a model. Clients
	// must be safe for concurrent use and reusable across runs.
	Client interface {
		// Complete sends a chat completion request and blocks until the
		// full response is available.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a chat completion request and returns a Streamer
		// yielding incremental chunks. Callers must close the returned
		// Streamer. Clients without streaming support return
		// ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Recv returns chunks
	// until io.EOF. Recv is single-goroutine; Close releases underlying
	// transport resources and may be called from any goroutine.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
		// Metadata exposes provider-defined stream details such as
		// "provider", "model" and request identifiers. Contents are
		// optional.
		Metadata() map[string]any
	}

	// Request captures the normalized parameters for one model call.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string

		// Messages is the ordered conversation, system prompt first.
		Messages []*Message

		// Tools lists the tool schemas exposed for function calling.
		// Empty disables tool use.
		Tools []*ToolDefinition

		// Temperature controls sampling. Zero means provider default.
		Temperature float32

		// MaxTokens caps completion tokens. Zero means provider default.
		MaxTokens int
	}

	// Response is the full result of a non-streaming call.
	Response struct {
		// Text is the concatenated assistant text. Empty when the model
		// only requested tools.
		Text string

		// ToolCalls lists tool invocations requested by the model, in
		// request order.
		ToolCalls []ToolCall

		// Usage reports token accounting when the provider supplied it.
		Usage TokenUsage

		// StopReason is the provider-specific termination reason, e.g.
		// "end_turn", "max_tokens" or "tool_use". May be empty.
		StopReason string
	}

	// Message is one turn of the conversation.
	Message struct {
		// Role is "system", "user", "assistant" or "tool".
		Role string

		// Content is the message text. Empty for pure tool-call turns.
		Content string

		// ToolCallID links a "tool" role message to the call it answers.
		ToolCallID string

		// ToolCalls carries the calls an assistant turn requested, so the
		// next request can replay them ahead of their results.
		ToolCalls []ToolCall
	}

	// ToolDefinition is a tool schema advertised to the model.
	ToolDefinition struct {
		// Name is the identifier the model invokes the tool by.
		Name string

		// Description tells the model when and how to use the tool.
		Description string

		// InputSchema is a JSON Schema object constraining the arguments
		// the model may generate.
		InputSchema map[string]any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		// ID is the provider-assigned call identifier, used to pair the
		// eventual result with this request.
		ID string

		// Name identifies the tool, matching a ToolDefinition.Name.
		Name tools.Ident

		// Args holds the model-generated arguments.
		Args map[string]any
	}

	// Chunk is one streaming event. Type selects which field is set.
	Chunk struct {
		// Type is one of the ChunkType constants.
		Type string
		// Text is the text delta when Type == ChunkTypeText.
		Text string
		// ToolCall is set when Type == ChunkTypeToolCall.
		ToolCall *ToolCall
		// UsageDelta is set when Type == ChunkTypeUsage.
		UsageDelta *TokenUsage
		// StopReason is set when Type == ChunkTypeStop.
		StopReason string
	}

	// TokenUsage records token counts when the provider reports them.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		// TotalTokens is provider-computed when available, otherwise the
		// sum of input and output.
		TotalTokens int
	}
)

// Chunk type values for Chunk.Type.
const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeUsage    = "usage"
	ChunkTypeStop     = "stop"
)

// Well-known StopReason values shared across providers.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// ErrStreamingUnsupported indicates the provider does not implement
// streaming for the requested model.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

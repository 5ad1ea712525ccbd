package provider

import (
	"context"

	"goa.design/clue/log"
)

// RawChunk is one loosely-typed item from a provider's wire stream: a type
// discriminator plus a payload map whose populated keys depend on the type.
type RawChunk struct {
	// Type is the provider's chunk discriminator.
	Type string `json:"type"`
	// Payload carries the optional fields for this chunk kind
	// (toolCallId, toolName, args, result, text, textDelta).
	Payload map[string]any `json:"payload"`
}

// Decode normalizes a raw provider chunk into a typed Chunk. The second
// return value is false for chunk types this core does not consume; those
// are logged once at debug level and skipped by callers rather than
// surfaced as errors, since providers are free to add event kinds.
func Decode(ctx context.Context, raw RawChunk) (Chunk, bool) {
	switch ChunkType(raw.Type) {
	case ChunkStepStart:
		return Chunk{Type: ChunkStepStart}, true
	case ChunkTextStart:
		return Chunk{Type: ChunkTextStart}, true
	case ChunkTextDelta:
		return Chunk{Type: ChunkTextDelta, TextDelta: payloadString(raw.Payload, "textDelta", "text")}, true
	case ChunkToolCall:
		return Chunk{
			Type:       ChunkToolCall,
			ToolCallID: payloadString(raw.Payload, "toolCallId"),
			ToolName:   payloadString(raw.Payload, "toolName"),
			Args:       payloadMap(raw.Payload, "args"),
		}, true
	case ChunkToolProgress:
		return Chunk{
			Type:       ChunkToolProgress,
			ToolCallID: payloadString(raw.Payload, "toolCallId"),
			ToolName:   payloadString(raw.Payload, "toolName"),
			Message:    payloadString(raw.Payload, "message"),
		}, true
	case ChunkToolResult:
		var result any
		if raw.Payload != nil {
			result = raw.Payload["result"]
		}
		isErr, _ := raw.Payload["isError"].(bool)
		return Chunk{
			Type:       ChunkToolResult,
			ToolCallID: payloadString(raw.Payload, "toolCallId"),
			ToolName:   payloadString(raw.Payload, "toolName"),
			Args:       payloadMap(raw.Payload, "args"),
			Result:     result,
			IsError:    isErr,
		}, true
	default:
		log.Debug(ctx, log.KV{K: "msg", V: "skipping unrecognized provider chunk"}, log.KV{K: "chunk_type", V: raw.Type})
		return Chunk{}, false
	}
}

// payloadString returns the first present string value among keys.
func payloadString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok {
			return v
		}
	}
	return ""
}

func payloadMap(payload map[string]any, key string) map[string]any {
	if v, ok := payload[key].(map[string]any); ok {
		return v
	}
	return nil
}

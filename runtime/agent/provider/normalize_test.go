package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name string
		raw  RawChunk
		want Chunk
	}{
		{
			name: "step start",
			raw:  RawChunk{Type: "step-start"},
			want: Chunk{Type: ChunkStepStart},
		},
		{
			name: "text start",
			raw:  RawChunk{Type: "text-start"},
			want: Chunk{Type: ChunkTextStart},
		},
		{
			name: "text delta",
			raw:  RawChunk{Type: "text-delta", Payload: map[string]any{"textDelta": "Rev"}},
			want: Chunk{Type: ChunkTextDelta, TextDelta: "Rev"},
		},
		{
			name: "text delta under legacy key",
			raw:  RawChunk{Type: "text-delta", Payload: map[string]any{"text": "enue"}},
			want: Chunk{Type: ChunkTextDelta, TextDelta: "enue"},
		},
		{
			name: "tool call",
			raw: RawChunk{Type: "tool-call", Payload: map[string]any{
				"toolCallId": "call-1",
				"toolName":   "webSearch",
				"args":       map[string]any{"query": "earnings"},
			}},
			want: Chunk{Type: ChunkToolCall, ToolCallID: "call-1", ToolName: "webSearch", Args: map[string]any{"query": "earnings"}},
		},
		{
			name: "tool progress",
			raw: RawChunk{Type: "tool-progress", Payload: map[string]any{
				"toolCallId": "call-1",
				"toolName":   "webSearch",
				"message":    "searching...",
			}},
			want: Chunk{Type: ChunkToolProgress, ToolCallID: "call-1", ToolName: "webSearch", Message: "searching..."},
		},
		{
			name: "tool result",
			raw: RawChunk{Type: "tool-result", Payload: map[string]any{
				"toolCallId": "call-1",
				"toolName":   "webSearch",
				"result":     "two filings",
			}},
			want: Chunk{Type: ChunkToolResult, ToolCallID: "call-1", ToolName: "webSearch", Result: "two filings"},
		},
		{
			name: "failed tool result",
			raw: RawChunk{Type: "tool-result", Payload: map[string]any{
				"toolCallId": "call-2",
				"toolName":   "webSearch",
				"result":     "rate limited",
				"isError":    true,
			}},
			want: Chunk{Type: ChunkToolResult, ToolCallID: "call-2", ToolName: "webSearch", Result: "rate limited", IsError: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Decode(ctx, tc.raw)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeSkipsUnrecognizedTypes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, typ := range []string{"reasoning-delta", "finish", ""} {
		_, ok := Decode(ctx, RawChunk{Type: typ})
		assert.False(t, ok, typ)
	}
}

func TestDecodeToleratesMissingPayload(t *testing.T) {
	t.Parallel()
	got, ok := Decode(context.Background(), RawChunk{Type: "tool-result"})
	require.True(t, ok)
	assert.Equal(t, Chunk{Type: ChunkToolResult}, got)
}

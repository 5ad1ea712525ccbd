package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexterhq/dexter/runtime/agent/model"
)

type fakeMessages struct {
	lastParams sdk.MessageNewParams
	message    *sdk.Message
	err        error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	return f.message, f.err
}

func (f *fakeMessages) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	f.lastParams = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{}, nil)
}

func mustMessage(t *testing.T, raw string) *sdk.Message {
	t.Helper()
	var msg sdk.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return &msg
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-sonnet-4-5"})
	assert.Error(t, err)
	_, err = New(&fakeMessages{}, Options{})
	assert.Error(t, err)
}

func TestEncodeRequestDefaults(t *testing.T) {
	fake := &fakeMessages{message: mustMessage(t, `{"content":[],"usage":{}}`)}
	c, err := New(fake, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "hello"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), fake.lastParams.Model)
	assert.Equal(t, int64(DefaultMaxTokens), fake.lastParams.MaxTokens)
	require.Len(t, fake.lastParams.System, 1)
	assert.Equal(t, "Be terse.", fake.lastParams.System[0].Text)
	require.Len(t, fake.lastParams.Messages, 1)
}

func TestEncodeToolRoundTrip(t *testing.T) {
	fake := &fakeMessages{message: mustMessage(t, `{"content":[],"usage":{}}`)}
	c, err := New(fake, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{
			{Role: "user", Content: "search"},
			{Role: "assistant", ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "webSearch", Args: map[string]any{"query": "x"}},
			}},
			{Role: "tool", ToolCallID: "call-1", Content: "results"},
		},
		Tools: []*model.ToolDefinition{
			{Name: "webSearch", Description: "Search the web.", InputSchema: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)

	require.Len(t, fake.lastParams.Tools, 1)
	require.NotNil(t, fake.lastParams.Tools[0].OfTool)
	assert.Equal(t, "webSearch", fake.lastParams.Tools[0].OfTool.Name)
	require.Len(t, fake.lastParams.Messages, 3)
}

func TestEncodeRejectsBadMessages(t *testing.T) {
	c, err := New(&fakeMessages{}, Options{DefaultModel: "m"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{})
	assert.Error(t, err)

	_, err = c.Complete(context.Background(), model.Request{Messages: []*model.Message{
		{Role: "tool", Content: "orphan"},
	}})
	assert.Error(t, err)

	_, err = c.Complete(context.Background(), model.Request{Messages: []*model.Message{
		{Role: "narrator", Content: "x"},
	}})
	assert.Error(t, err)
}

func TestDecodeResponse(t *testing.T) {
	msg := mustMessage(t, `{
		"content": [
			{"type": "text", "text": "Checking "},
			{"type": "text", "text": "now."},
			{"type": "tool_use", "id": "call-1", "name": "webSearch", "input": {"query": "fed"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 30, "output_tokens": 11}
	}`)

	resp, err := decodeResponse(msg)
	require.NoError(t, err)
	assert.Equal(t, "Checking now.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"query": "fed"}, resp.ToolCalls[0].Args)
	assert.Equal(t, model.StopToolUse, resp.StopReason)
	assert.Equal(t, 41, resp.Usage.TotalTokens)
}

package openai

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexterhq/dexter/runtime/agent/model"
)

type fakeChat struct {
	lastRequest openai.ChatCompletionRequest
	response    openai.ChatCompletionResponse
	err         error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastRequest = request
	return f.response, f.err
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{DefaultModel: "gpt-4o"})
	assert.Error(t, err)
	_, err = New(Options{Client: &fakeChat{}})
	assert.Error(t, err)
}

func TestCompleteEncodesConversation(t *testing.T) {
	fake := &fakeChat{response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "Steady."},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25},
	}}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "what did the fed do?"},
			{Role: "assistant", ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "webSearch", Args: map[string]any{"query": "fed"}},
			}},
			{Role: "tool", ToolCallID: "call-1", Content: "rates unchanged"},
		},
		Tools: []*model.ToolDefinition{
			{Name: "webSearch", Description: "Search the web.", InputSchema: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", fake.lastRequest.Model)
	require.Len(t, fake.lastRequest.Messages, 4)
	assert.Equal(t, "call-1", fake.lastRequest.Messages[3].ToolCallID)
	require.Len(t, fake.lastRequest.Messages[2].ToolCalls, 1)
	require.Len(t, fake.lastRequest.Tools, 1)
	assert.Equal(t, "webSearch", fake.lastRequest.Tools[0].Function.Name)

	assert.Equal(t, "Steady.", resp.Text)
	assert.Equal(t, 25, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestCompleteDecodesToolCalls(t *testing.T) {
	fake := &fakeChat{response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call-9",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "webSearch",
						Arguments: `{"query":"earnings"}`,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{{Role: "user", Content: "q"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-9", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"query": "earnings"}, resp.ToolCalls[0].Args)
}

func TestCompleteClassifiesAPIErrors(t *testing.T) {
	fake := &fakeChat{err: &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{{Role: "user", Content: "q"}},
	})
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, model.ProviderErrorKindRateLimited, pe.Kind())
	assert.True(t, pe.Retryable())
}

func TestStreamUnsupported(t *testing.T) {
	c, err := New(Options{Client: &fakeChat{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = c.Stream(context.Background(), model.Request{})
	assert.ErrorIs(t, err, model.ErrStreamingUnsupported)
}

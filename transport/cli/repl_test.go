package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexterhq/dexter/runtime/agent/controller"
	"github.com/dexterhq/dexter/runtime/agent/provider"
)

type scriptedStream struct {
	chunks []provider.Chunk
	text   string

	mu sync.Mutex
	i  int
}

func (s *scriptedStream) Recv() (provider.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.chunks) {
		return provider.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.i]
	s.i++
	return chunk, nil
}

func (s *scriptedStream) Close() error { return nil }

func (s *scriptedStream) FinalText(context.Context) (string, error) { return s.text, nil }

func (s *scriptedStream) Usage(context.Context) (*provider.Usage, error) { return nil, nil }

func (s *scriptedStream) Steps(context.Context) (int, error) { return 1, nil }

type agentFunc func(ctx context.Context, query string, opts controller.StreamOptions) (provider.Stream, error)

func (f agentFunc) Stream(ctx context.Context, query string, opts controller.StreamOptions) (provider.Stream, error) {
	return f(ctx, query, opts)
}

func answerAgent(answer string, queries *[]string) controller.Agent {
	return agentFunc(func(_ context.Context, query string, _ controller.StreamOptions) (provider.Stream, error) {
		*queries = append(*queries, query)
		return &scriptedStream{
			chunks: []provider.Chunk{
				{Type: provider.ChunkStepStart},
				{Type: provider.ChunkTextStart},
				{Type: provider.ChunkTextDelta, TextDelta: answer},
			},
			text: answer,
		}, nil
	})
}

func TestREPLRunsQueriesUntilExit(t *testing.T) {
	var queries []string
	ctrl, err := controller.New(controller.Options{Agent: answerAgent("Answer.", &queries)})
	require.NoError(t, err)

	var out bytes.Buffer
	repl, err := NewREPL(REPLOptions{
		Controller: ctrl,
		In:         strings.NewReader("first query\n\nsecond query\nexit\n"),
		Out:        &out,
	})
	require.NoError(t, err)

	require.NoError(t, repl.Run(context.Background()))
	assert.Equal(t, []string{"first query", "second query"}, queries)
	assert.Contains(t, out.String(), ctrl.SessionID())
}

func TestREPLStopsOnEOF(t *testing.T) {
	var queries []string
	ctrl, err := controller.New(controller.Options{Agent: answerAgent("Answer.", &queries)})
	require.NoError(t, err)

	var out bytes.Buffer
	repl, err := NewREPL(REPLOptions{Controller: ctrl, In: strings.NewReader("only one\n"), Out: &out})
	require.NoError(t, err)

	require.NoError(t, repl.Run(context.Background()))
	assert.Equal(t, []string{"only one"}, queries)
}

func TestREPLReportsRunError(t *testing.T) {
	agent := agentFunc(func(context.Context, string, controller.StreamOptions) (provider.Stream, error) {
		return nil, assert.AnError
	})
	ctrl, err := controller.New(controller.Options{Agent: agent})
	require.NoError(t, err)

	var out bytes.Buffer
	repl, err := NewREPL(REPLOptions{Controller: ctrl, In: strings.NewReader("boom\nexit\n"), Out: &out})
	require.NoError(t, err)

	require.NoError(t, repl.Run(context.Background()))
	assert.Contains(t, out.String(), assert.AnError.Error())
}

func TestNewREPLValidation(t *testing.T) {
	_, err := NewREPL(REPLOptions{})
	require.Error(t, err)

	ctrl, err := controller.New(controller.Options{Agent: agentFunc(func(context.Context, string, controller.StreamOptions) (provider.Stream, error) {
		return nil, assert.AnError
	})})
	require.NoError(t, err)
	_, err = NewREPL(REPLOptions{Controller: ctrl})
	require.Error(t, err)
}

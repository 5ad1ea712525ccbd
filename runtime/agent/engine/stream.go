package engine

import (
	"context"
	"io"
	"sync"

	"github.com/dexterhq/dexter/runtime/agent/provider"
)

// runStream carries chunks from the run goroutine to the consumer and
// holds the run outcome for the finalization accessors.
type runStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	chunks chan provider.Chunk
	done   chan struct{}

	mu        sync.Mutex
	err       error
	finalText string
	usage     *provider.Usage
	steps     int
}

func newRunStream(ctx context.Context) *runStream {
	cctx, cancel := context.WithCancel(ctx)
	return &runStream{
		ctx:    cctx,
		cancel: cancel,
		chunks: make(chan provider.Chunk, 32),
		done:   make(chan struct{}),
	}
}

// Recv returns the next chunk, io.EOF after a clean finish, or the run
// failure.
func (s *runStream) Recv() (provider.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return provider.Chunk{}, s.err
		}
		return provider.Chunk{}, io.EOF
	case <-s.ctx.Done():
		return provider.Chunk{}, s.ctx.Err()
	}
}

// Close stops the run goroutine. Safe to call from any goroutine and
// after the stream has finished.
func (s *runStream) Close() error {
	s.cancel()
	return nil
}

// FinalText blocks until the run finishes and returns the full answer.
func (s *runStream) FinalText(ctx context.Context) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalText, s.err
}

// Usage blocks until the run finishes and returns accumulated token
// usage, nil when the model reported none.
func (s *runStream) Usage(ctx context.Context) (*provider.Usage, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.err
}

// Steps blocks until the run finishes and returns the number of model
// turns taken.
func (s *runStream) Steps(ctx context.Context) (int, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps, s.err
}

func (s *runStream) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		select {
		case <-s.done:
			return nil
		default:
			return s.ctx.Err()
		}
	}
}

// emit delivers one chunk to the consumer. Returns false when the stream
// context is done, signalling the run goroutine to stop.
func (s *runStream) emit(chunk provider.Chunk) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// finish records the successful outcome and closes the stream.
func (s *runStream) finish(text string, usage *provider.Usage, steps int) {
	s.mu.Lock()
	s.finalText = text
	s.usage = usage
	s.steps = steps
	s.mu.Unlock()
	close(s.done)
	close(s.chunks)
}

// fail records the run failure and closes the stream.
func (s *runStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
	close(s.chunks)
}

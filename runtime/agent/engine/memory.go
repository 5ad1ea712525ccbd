package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/dexterhq/dexter/runtime/agent/model"
	"github.com/dexterhq/dexter/runtime/agent/tools"
)

// WorkingMemoryTool is the runtime-owned tool the model calls to persist
// notes across steps and runs. Its activity is internal and never appears
// in consumer-facing events.
const WorkingMemoryTool tools.Ident = "updateWorkingMemory"

type (
	// SessionStore holds per-conversation state. Sessions are created on
	// first use and live for the process lifetime.
	SessionStore struct {
		mu       sync.Mutex
		sessions map[string]*Session
	}

	// Session is one conversation's history and working memory.
	Session struct {
		id string

		mu      sync.Mutex
		history []*model.Message
		memory  string
	}
)

// NewSessionStore builds an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating it when absent.
func (s *SessionStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{id: id}
		s.sessions[id] = sess
	}
	return sess
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// History returns a copy of the conversation history.
func (s *Session) History() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]*model.Message, len(s.history))
	copy(history, s.history)
	return history
}

// Append adds messages to the conversation history.
func (s *Session) Append(msgs ...*model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

// WorkingMemory returns the current working memory text.
func (s *Session) WorkingMemory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

// SetWorkingMemory replaces the working memory text.
func (s *Session) SetWorkingMemory(memory string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = memory
}

type sessionKey struct{}

func withSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func sessionFrom(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok
}

func workingMemoryDefinition() tools.Definition {
	return tools.Definition{
		Name:        WorkingMemoryTool,
		Description: "Replace your persistent working memory with updated notes about the task. Use it to carry facts, open questions and intermediate findings across steps.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"memory"},
			"properties": map[string]any{
				"memory": map[string]any{
					"type":        "string",
					"description": "The full working memory text. Replaces the previous content.",
				},
			},
			"additionalProperties": false,
		},
		Internal: true,
		Handler:  updateWorkingMemory,
	}
}

func updateWorkingMemory(ctx context.Context, args map[string]any) (any, error) {
	sess, ok := sessionFrom(ctx)
	if !ok {
		return nil, errors.New("no active session")
	}
	memory, _ := args["memory"].(string)
	sess.SetWorkingMemory(memory)
	return map[string]any{"success": true}, nil
}

// Package sse exposes agent runs over HTTP as a server-sent-event stream.
// Each POST /api/chat request starts one run: the responder emits an
// initial session frame, one data frame per domain event, and the final
// answer as provider-compatible text frames. The responder is a pure
// consumer of the domain event sequence; run semantics live in the bridge.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/dexterhq/dexter/runtime/agent/audit"
	"github.com/dexterhq/dexter/runtime/agent/bridge"
	"github.com/dexterhq/dexter/runtime/agent/controller"
	"github.com/dexterhq/dexter/runtime/agent/event"
)

// SessionPrefix namespaces HTTP conversation threads in the agent's
// session store, keeping them apart from terminal sessions.
const SessionPrefix = "web-"

type (
	// Options configures a Server.
	Options struct {
		// Agent produces provider streams. Required.
		Agent controller.Agent
		// Recorder receives audit entries for externally-visible tool
		// calls. Nil disables auditing.
		Recorder audit.Recorder
		// InternalTools overrides the bridge's reserved tool name set.
		InternalTools []string
		// MaxSteps caps reasoning steps per run. Zero uses the agent
		// default.
		MaxSteps int
		// AllowedOrigins configures CORS. Empty allows any origin.
		AllowedOrigins []string
		// Pingers back the health endpoint. Empty reports healthy.
		Pingers []health.Pinger
	}

	// Server handles chat and health requests.
	Server struct {
		agent    controller.Agent
		recorder audit.Recorder
		internal []string
		maxSteps int
		origins  []string
		pingers  []health.Pinger
	}

	// chatRequest is the POST /api/chat body. Only the last user message
	// is consumed; prior turns are reconstructed from session memory.
	chatRequest struct {
		Messages  []chatMessage `json:"messages"`
		SessionID string        `json:"sessionId"`
	}

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
)

// New builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		agent:    opts.Agent,
		recorder: opts.Recorder,
		internal: opts.InternalTools,
		maxSteps: opts.MaxSteps,
		origins:  origins,
		pingers:  opts.Pingers,
	}, nil
}

// Handler returns the HTTP handler with routes and middleware configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Post("/api/chat", s.handleChat)
	r.Method(http.MethodGet, "/healthz", health.Handler(health.NewChecker(s.pingers...)))
	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	query, ok := lastUserMessage(req.Messages)
	if !ok {
		http.Error(w, "no user message found", http.StatusBadRequest)
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fw, err := newFrameWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	fw.writeHeaders()

	ctx := r.Context()
	if err := s.stream(ctx, fw, sessionID, query); err != nil {
		log.Error(ctx, err, log.KV{K: "session", V: sessionID})
		fw.event(errorFrame{Type: "error", Message: errorMessage(err)})
	}
}

// stream runs one agent invocation and frames its events. The session
// frame is sent before the agent is invoked so the client learns its
// session identifier even when the run fails immediately.
func (s *Server) stream(ctx context.Context, fw *frameWriter, sessionID, query string) error {
	if err := fw.event(sessionFrame{Type: "session", SessionID: sessionID}); err != nil {
		return err
	}

	ps, err := s.agent.Stream(ctx, query, controller.StreamOptions{
		SessionID: SessionPrefix + sessionID,
		MaxSteps:  s.maxSteps,
	})
	if err != nil {
		return err
	}
	defer ps.Close()

	br, err := bridge.New(ctx, ps, bridge.Options{
		RunID:         uuid.NewString(),
		SessionID:     sessionID,
		Recorder:      s.recorder,
		InternalTools: s.internal,
	})
	if err != nil {
		return err
	}

	streamedText := false
	for {
		evt, err := br.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch e := evt.(type) {
		case event.TextDelta:
			streamedText = true
			if err := fw.text(e.Data.Delta); err != nil {
				return err
			}
		case event.Done:
			if !streamedText && e.Data.Answer != "" {
				if err := fw.text(e.Data.Answer); err != nil {
					return err
				}
			}
			if err := fw.event(doneFrame{
				Type:            "done",
				Iterations:      e.Data.Iterations,
				TotalTimeMS:     e.Data.TotalTime.Milliseconds(),
				TokenUsage:      e.Data.TokenUsage,
				TokensPerSecond: tokensPerSecond(e.Data),
			}); err != nil {
				return err
			}
		default:
			if err := fw.event(eventFrame(evt)); err != nil {
				return err
			}
		}
	}
}

func lastUserMessage(msgs []chatMessage) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || strings.TrimSpace(last.Content) == "" {
		return "", false
	}
	return last.Content, true
}

func tokensPerSecond(p event.DonePayload) float64 {
	if p.TokenUsage == nil || p.TotalTime <= 0 {
		return 0
	}
	return float64(p.TokenUsage.OutputTokens) / p.TotalTime.Seconds()
}

func errorMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	return err.Error()
}

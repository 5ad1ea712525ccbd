package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dexterhq/dexter/runtime/agent/event"
)

type (
	// frameWriter serializes frames onto the response. Two frame shapes
	// share the connection: SSE data frames carrying domain events, and
	// numbered text frames carrying answer text in the provider wire
	// format clients already parse.
	frameWriter struct {
		w http.ResponseWriter
		f http.Flusher
	}

	sessionFrame struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}

	thinkingFrame struct {
		Type string `json:"type"`
		event.ThinkingPayload
	}

	toolStartFrame struct {
		Type string `json:"type"`
		event.ToolStartPayload
	}

	toolProgressFrame struct {
		Type string `json:"type"`
		event.ToolProgressPayload
	}

	toolEndFrame struct {
		Type   string         `json:"type"`
		Tool   string         `json:"tool"`
		Args   map[string]any `json:"args,omitempty"`
		Result string         `json:"result"`
		// DurationMS is wall-clock milliseconds from call to result.
		DurationMS int64 `json:"duration"`
	}

	toolErrorFrame struct {
		Type string `json:"type"`
		event.ToolErrorPayload
	}

	answerStartFrame struct {
		Type string `json:"type"`
	}

	doneFrame struct {
		Type            string            `json:"type"`
		Iterations      int               `json:"iterations"`
		TotalTimeMS     int64             `json:"totalTime"`
		TokenUsage      *event.TokenUsage `json:"tokenUsage,omitempty"`
		TokensPerSecond float64           `json:"tokensPerSecond,omitempty"`
	}

	errorFrame struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
)

func newFrameWriter(w http.ResponseWriter) (*frameWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &frameWriter{w: w, f: f}, nil
}

func (fw *frameWriter) writeHeaders() {
	h := fw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	fw.w.WriteHeader(http.StatusOK)
	fw.f.Flush()
}

// event writes one SSE data frame and flushes it.
func (fw *frameWriter) event(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(fw.w, "data: %s\n\n", data); err != nil {
		return err
	}
	fw.f.Flush()
	return nil
}

// textEscaper applies the escaping the text frame format requires:
// backslash, double quote, and newline.
var textEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// text writes one answer text frame and flushes it.
func (fw *frameWriter) text(s string) error {
	if _, err := fmt.Fprintf(fw.w, "0:\"%s\"\n", textEscaper.Replace(s)); err != nil {
		return err
	}
	fw.f.Flush()
	return nil
}

// eventFrame maps a domain event to its wire frame. TextDelta and Done
// are framed by the caller; everything else passes through here.
func eventFrame(evt event.Event) any {
	switch e := evt.(type) {
	case event.Thinking:
		return thinkingFrame{Type: string(e.Type()), ThinkingPayload: e.Data}
	case event.ToolStart:
		return toolStartFrame{Type: string(e.Type()), ToolStartPayload: e.Data}
	case event.ToolProgress:
		return toolProgressFrame{Type: string(e.Type()), ToolProgressPayload: e.Data}
	case event.ToolEnd:
		return toolEndFrame{
			Type:       string(e.Type()),
			Tool:       e.Data.Tool,
			Args:       e.Data.Args,
			Result:     e.Data.Result,
			DurationMS: e.Data.Duration.Milliseconds(),
		}
	case event.ToolError:
		return toolErrorFrame{Type: string(e.Type()), ToolErrorPayload: e.Data}
	case event.AnswerStart:
		return answerStartFrame{Type: string(e.Type())}
	default:
		return map[string]any{"type": string(evt.Type())}
	}
}

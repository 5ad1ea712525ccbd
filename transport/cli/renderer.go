// Package cli renders agent runs in the terminal. The renderer is a pure
// consumer of controller snapshots: every state change repaints the full
// view, so the renderer holds no run state of its own.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dexterhq/dexter/runtime/agent/controller"
	"github.com/dexterhq/dexter/runtime/agent/event"
)

// maxArgsWidth caps the rendered tool argument preview.
const maxArgsWidth = 60

type (
	// Snapshot is the immutable view state for one paint.
	Snapshot struct {
		History   []controller.HistoryItem
		Working   controller.WorkingState
		Streaming string
		Err       string
	}

	// Renderer paints snapshots to a terminal writer.
	Renderer struct {
		mu  sync.Mutex
		out io.Writer
	}
)

// NewRenderer builds a renderer over the given writer.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Snap captures the controller's current view state.
func Snap(c *controller.Controller) Snapshot {
	return Snapshot{
		History:   c.History(),
		Working:   c.Working(),
		Streaming: c.StreamingAnswer(),
		Err:       c.Err(),
	}
}

// Paint clears the terminal and renders the snapshot.
func (r *Renderer) Paint(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, "\x1b[2J\x1b[H")
	fmt.Fprint(r.out, View(s))
}

// View renders the snapshot to a string.
func View(s Snapshot) string {
	var b strings.Builder
	for i, item := range s.History {
		if i > 0 {
			b.WriteString("\n")
		}
		renderItem(&b, item, s)
	}
	if s.Err != "" {
		b.WriteString(errorStyle.Render("error: "+s.Err) + "\n")
	}
	if line := workingLine(s.Working); line != "" {
		b.WriteString(line + "\n")
	}
	return b.String()
}

func renderItem(b *strings.Builder, item controller.HistoryItem, s Snapshot) {
	b.WriteString(queryStyle.Render("> "+item.Query) + "\n")

	for _, g := range item.Events {
		b.WriteString(renderGroup(g) + "\n")
	}

	switch item.Status {
	case controller.StatusProcessing:
		if s.Streaming != "" {
			b.WriteString(answerStyle.Render(s.Streaming) + "\n")
		}
	case controller.StatusComplete:
		if item.Answer != "" {
			b.WriteString(answerStyle.Render(item.Answer) + "\n")
		}
		b.WriteString(statsStyle.Render(statsLine(item)) + "\n")
	case controller.StatusInterrupted:
		b.WriteString(dimStyle.Render("(interrupted)") + "\n")
	case controller.StatusError:
		b.WriteString(errorStyle.Render("error: "+item.Error) + "\n")
	}
}

func renderGroup(g *controller.EventGroup) string {
	switch e := g.Event.(type) {
	case event.Thinking:
		return thinkingStyle.Render("  * " + e.Data.Message)
	case event.ToolStart:
		label := e.Data.Tool + argsPreview(e.Data.Args)
		if !g.Completed {
			line := toolStyle.Render("  > " + label)
			if g.ProgressMessage != "" {
				line += dimStyle.Render(" " + g.ProgressMessage)
			}
			return line
		}
		if end, ok := g.End.(event.ToolError); ok {
			return errorStyle.Render("  x " + end.Data.Tool + ": " + end.Data.Error)
		}
		if end, ok := g.End.(event.ToolEnd); ok && end.Data.Duration > 0 {
			return toolDoneStyle.Render(fmt.Sprintf("  + %s (%s)", label, formatDuration(end.Data.Duration)))
		}
		return toolDoneStyle.Render("  + " + label)
	default:
		return dimStyle.Render("  " + string(g.Event.Type()))
	}
}

func workingLine(w controller.WorkingState) string {
	switch w.Status {
	case controller.WorkingThinking:
		return thinkingStyle.Render("thinking...")
	case controller.WorkingTool:
		return toolStyle.Render("running " + w.ToolName + "...")
	case controller.WorkingAnswering:
		return dimStyle.Render("answering...")
	default:
		return ""
	}
}

func statsLine(item controller.HistoryItem) string {
	parts := []string{formatDuration(item.Duration)}
	if item.TokenUsage != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", item.TokenUsage.TotalTokens))
	}
	if item.TokensPerSecond > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", item.TokensPerSecond))
	}
	return strings.Join(parts, " | ")
}

func argsPreview(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	preview := string(data)
	if len(preview) > maxArgsWidth {
		preview = preview[:maxArgsWidth-3] + "..."
	}
	return " " + preview
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dexterhq/dexter/runtime/agent/controller"
	"github.com/dexterhq/dexter/runtime/agent/event"
)

func completedTool(tool string, args map[string]any, result string, d time.Duration) *controller.EventGroup {
	return &controller.EventGroup{
		ID:        "g-" + tool,
		Event:     event.NewToolStart("run-1", "s-1", tool, args),
		Completed: true,
		End:       event.NewToolEnd("run-1", "s-1", tool, args, result, d),
	}
}

func TestViewCompleteRun(t *testing.T) {
	s := Snapshot{
		History: []controller.HistoryItem{{
			ID:    "run-1",
			Query: "how did Q2 go?",
			Events: []*controller.EventGroup{
				{ID: "g-think", Event: event.NewThinking("run-1", "s-1", "Analyzing the request"), Completed: true},
				completedTool("webSearch", map[string]any{"query": "Q2 earnings"}, "two filings", 1200*time.Millisecond),
			},
			Status:          controller.StatusComplete,
			Answer:          "Revenue grew 12%.",
			Duration:        3200 * time.Millisecond,
			TokenUsage:      &event.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
			TokensPerSecond: 15.6,
		}},
		Working: controller.WorkingState{Status: controller.WorkingIdle},
	}

	out := View(s)
	assert.Contains(t, out, "how did Q2 go?")
	assert.Contains(t, out, "Analyzing the request")
	assert.Contains(t, out, "webSearch")
	assert.Contains(t, out, `"query":"Q2 earnings"`)
	assert.Contains(t, out, "(1.2s)")
	assert.Contains(t, out, "Revenue grew 12%.")
	assert.Contains(t, out, "150 tokens")
	assert.Contains(t, out, "15.6 tok/s")
	assert.Contains(t, out, "3.2s")
}

func TestViewProcessingRun(t *testing.T) {
	s := Snapshot{
		History: []controller.HistoryItem{{
			ID:    "run-2",
			Query: "compare margins",
			Events: []*controller.EventGroup{{
				ID:              "g-tool",
				Event:           event.NewToolStart("run-2", "s-1", "secFilings", nil),
				ProgressMessage: "fetching 10-K",
			}},
			Status: controller.StatusProcessing,
		}},
		Working:   controller.WorkingState{Status: controller.WorkingTool, ToolName: "secFilings"},
		Streaming: "Margins are",
	}

	out := View(s)
	assert.Contains(t, out, "secFilings")
	assert.Contains(t, out, "fetching 10-K")
	assert.Contains(t, out, "Margins are")
	assert.Contains(t, out, "running secFilings...")
}

func TestViewToolError(t *testing.T) {
	s := Snapshot{
		History: []controller.HistoryItem{{
			ID:    "run-3",
			Query: "q",
			Events: []*controller.EventGroup{{
				ID:        "g-tool",
				Event:     event.NewToolStart("run-3", "s-1", "webSearch", nil),
				Completed: true,
				End:       event.NewToolError("run-3", "s-1", "webSearch", "rate limited"),
			}},
			Status: controller.StatusComplete,
		}},
		Working: controller.WorkingState{Status: controller.WorkingIdle},
	}

	out := View(s)
	assert.Contains(t, out, "webSearch: rate limited")
}

func TestViewInterruptedAndError(t *testing.T) {
	s := Snapshot{
		History: []controller.HistoryItem{
			{ID: "run-4", Query: "one", Status: controller.StatusInterrupted},
			{ID: "run-5", Query: "two", Status: controller.StatusError, Error: "provider unavailable"},
		},
		Working: controller.WorkingState{Status: controller.WorkingIdle},
		Err:     "provider unavailable",
	}

	out := View(s)
	assert.Contains(t, out, "(interrupted)")
	assert.Contains(t, out, "error: provider unavailable")
}

func TestViewTruncatesLongArgs(t *testing.T) {
	long := make(map[string]any)
	long["query"] = "a very long query string that certainly overflows the preview width limit"
	s := Snapshot{
		History: []controller.HistoryItem{{
			ID:     "run-6",
			Query:  "q",
			Events: []*controller.EventGroup{completedTool("webSearch", long, "ok", 0)},
			Status: controller.StatusComplete,
		}},
		Working: controller.WorkingState{Status: controller.WorkingIdle},
	}

	out := View(s)
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "overflows the preview width limit")
}

func TestWorkingLines(t *testing.T) {
	assert.Contains(t, workingLine(controller.WorkingState{Status: controller.WorkingThinking}), "thinking...")
	assert.Contains(t, workingLine(controller.WorkingState{Status: controller.WorkingAnswering}), "answering...")
	assert.Empty(t, workingLine(controller.WorkingState{Status: controller.WorkingIdle}))
}

// Package audit defines the append-only audit trail for externally-visible
// tool invocations. The event bridge builds one Entry per public tool
// result and hands it to a Recorder; recorders are pure side effects and
// are never read back by the run path.
//
// A Recorder must never fail the run: implementations contain their own
// I/O errors and report them to the diagnostic log instead of returning
// them. That is why Record has no error result.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// SummaryLimit is the maximum length of a persisted result summary.
// Longer results are truncated with an ellipsis suffix.
const SummaryLimit = 200

type (
	// Entry is the persisted record of one externally-visible tool call.
	Entry struct {
		// Timestamp is the entry creation time.
		Timestamp time.Time `json:"ts"`
		// Tool is the tool name.
		Tool string `json:"tool"`
		// Args are the tool arguments.
		Args map[string]any `json:"args,omitempty"`
		// ResultSummary is the stringified result truncated to SummaryLimit.
		ResultSummary string `json:"resultSummary"`
		// SourceURLs lists source URLs extracted from the tool result.
		// Empty when the result carried none.
		SourceURLs []string `json:"sourceUrls"`
		// ToolCallID is the provider-assigned call identifier.
		ToolCallID string `json:"toolCallId"`
		// Duration is the tool call wall-clock duration.
		Duration time.Duration `json:"duration,omitempty"`
	}

	// Recorder appends audit entries. Implementations serialize their own
	// writes and swallow their own failures; a recorder error must never
	// abort an in-progress run.
	Recorder interface {
		Record(ctx context.Context, e *Entry)
	}

	nop struct{}
)

// Nop returns a Recorder that discards all entries. Used in hosted or
// ephemeral execution environments without a durable local filesystem.
func Nop() Recorder { return nop{} }

func (nop) Record(context.Context, *Entry) {}

// Summarize truncates a stringified tool result to SummaryLimit characters,
// appending an ellipsis when the result was longer.
func Summarize(result string) string {
	if len(result) <= SummaryLimit {
		return result
	}
	return result[:SummaryLimit] + "..."
}

// ExtractSourceURLs pulls source URLs out of a raw tool result. It looks
// for a "urls" array of strings, then a single "url" string. Results that
// are JSON-encoded strings are decoded first. Returns an empty (non-nil)
// slice when the result carries no URL information.
func ExtractSourceURLs(result any) []string {
	if s, ok := result.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			result = decoded
		}
	}
	obj, ok := result.(map[string]any)
	if !ok {
		return []string{}
	}
	if raw, ok := obj["urls"].([]any); ok {
		urls := make([]string, 0, len(raw))
		for _, v := range raw {
			if u, ok := v.(string); ok && u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	}
	if u, ok := obj["url"].(string); ok && u != "" {
		return []string{u}
	}
	return []string{}
}

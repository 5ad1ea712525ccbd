// Package controller owns the lifecycle of agent runs for one consumer: it
// starts the event bridge against a fresh agent invocation, applies
// UI-side coalescing to high-frequency events, tracks the run history, and
// exposes cooperative cancellation.
//
// One controller serves one conversation. Runs are strictly sequential: at
// most one history item is in the processing state at any time, and only
// that item is ever mutated. Event handling is sequential too — the
// consuming loop fully processes each event before pulling the next — so
// the only concurrency the controller manages is its two flush timers,
// which are serialized through the controller mutex.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/dexterhq/dexter/runtime/agent/audit"
	"github.com/dexterhq/dexter/runtime/agent/bridge"
	"github.com/dexterhq/dexter/runtime/agent/event"
	"github.com/dexterhq/dexter/runtime/agent/provider"
)

// Flush intervals bound UI repaint frequency. Multiple updates inside one
// window collapse into a single externally observable change.
const (
	// TextFlushInterval is the coalescing window for answer text deltas.
	TextFlushInterval = 66 * time.Millisecond
	// ProgressFlushInterval is the coalescing window for tool progress
	// messages; only the most recent message in a window survives.
	ProgressFlushInterval = 200 * time.Millisecond
)

// Sentinel errors returned by Submit.
var (
	// ErrBusy reports that a run is already processing.
	ErrBusy = errors.New("a run is already processing")
	// ErrInterrupted reports that the run was cancelled by the operator.
	ErrInterrupted = errors.New("run interrupted")
)

type (
	// Agent abstracts the external agent framework: one call produces one
	// provider stream for one query. Implementations handle planning, tool
	// dispatch, and multi-turn memory keyed by the session identifier.
	Agent interface {
		Stream(ctx context.Context, query string, opts StreamOptions) (provider.Stream, error)
	}

	// StreamOptions carries per-invocation agent parameters.
	StreamOptions struct {
		// SessionID scopes conversation memory. Stable across runs in the
		// same conversation.
		SessionID string
		// MaxSteps caps the number of reasoning steps. Zero uses the agent
		// default.
		MaxSteps int
	}

	// Options configures a Controller.
	Options struct {
		// Agent produces provider streams. Required.
		Agent Agent
		// SessionID identifies the conversation. Generated when empty.
		SessionID string
		// Recorder receives audit entries for externally-visible tool
		// calls. Nil disables auditing.
		Recorder audit.Recorder
		// InternalTools overrides the bridge's reserved tool name set.
		InternalTools []string
		// Sink optionally receives every domain event as it is consumed,
		// for transports that frame events themselves (SSE, message bus).
		// Sink failures are logged and do not affect the run.
		Sink event.Sink
		// OnUpdate is invoked after every externally observable state
		// change (history, working state, streaming answer). Called
		// without locks held; used by renderers to repaint.
		OnUpdate func()
		// MaxSteps caps reasoning steps per run.
		MaxSteps int
		// TextFlushInterval overrides TextFlushInterval when positive.
		TextFlushInterval time.Duration
		// ProgressFlushInterval overrides ProgressFlushInterval when
		// positive.
		ProgressFlushInterval time.Duration
	}

	// Controller drives runs for one conversation.
	Controller struct {
		agent     Agent
		sessionID string
		recorder  audit.Recorder
		internal  []string
		sink      event.Sink
		onUpdate  func()
		maxSteps  int

		mu        sync.Mutex
		history   []*HistoryItem
		working   WorkingState
		errMsg    string
		streaming string

		active      *HistoryItem
		activeGroup *EventGroup
		cancelRun   context.CancelFunc

		textBuf     strings.Builder
		textFlush   debounced
		progressBuf string
		progFlush   debounced
	}

	// HistoryItem is one query's display state. It is mutated in place
	// while processing and frozen once it reaches a terminal status.
	HistoryItem struct {
		// ID uniquely identifies the run.
		ID string
		// Query is the submitted query text.
		Query string
		// Events are the rendered event groups in arrival order.
		Events []*EventGroup
		// Answer is the final answer text, set on completion.
		Answer string
		// Status is the lifecycle state.
		Status Status
		// StartedAt records when the query was submitted.
		StartedAt time.Time
		// Duration is the total run time, set on completion.
		Duration time.Duration
		// TokenUsage is set on completion when the provider reported usage.
		TokenUsage *event.TokenUsage
		// TokensPerSecond is the output token throughput, derived on
		// completion when usage and duration are available.
		TokensPerSecond float64
		// Error holds the failure message for error status.
		Error string
	}

	// EventGroup is one rendered entry within a history item: either a
	// completed one-shot event (thinking) or a tool invocation that
	// accumulates progress until its terminal event arrives.
	EventGroup struct {
		// ID uniquely identifies the group for renderers.
		ID string
		// Event is the opening event.
		Event event.Event
		// Completed reports whether the terminal event arrived.
		Completed bool
		// ProgressMessage is the most recent coalesced progress message.
		ProgressMessage string
		// End is the terminal tool_end or tool_error event, when completed.
		End event.Event
	}

	// Status is the lifecycle state of a history item.
	Status string

	// WorkingState is a lightweight status indicator independent of the
	// history, driving spinners and status lines. Not persisted.
	WorkingState struct {
		// Status is the current phase.
		Status WorkingStatus
		// ToolName is set while Status is WorkingTool.
		ToolName string
		// StartTime is set while Status is WorkingAnswering.
		StartTime time.Time
	}

	// WorkingStatus enumerates working-state phases.
	WorkingStatus string
)

const (
	// StatusProcessing marks the single active run.
	StatusProcessing Status = "processing"
	// StatusComplete marks a successfully finished run.
	StatusComplete Status = "complete"
	// StatusInterrupted marks an operator-cancelled run.
	StatusInterrupted Status = "interrupted"
	// StatusError marks a failed run.
	StatusError Status = "error"
)

const (
	// WorkingIdle means no run is active.
	WorkingIdle WorkingStatus = "idle"
	// WorkingThinking means the agent is reasoning.
	WorkingThinking WorkingStatus = "thinking"
	// WorkingTool means a tool call is in flight.
	WorkingTool WorkingStatus = "tool"
	// WorkingAnswering means the final answer is streaming.
	WorkingAnswering WorkingStatus = "answering"
)

// New builds a controller. The Agent option is required.
func New(opts Options) (*Controller, error) {
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	textInterval := opts.TextFlushInterval
	if textInterval <= 0 {
		textInterval = TextFlushInterval
	}
	progInterval := opts.ProgressFlushInterval
	if progInterval <= 0 {
		progInterval = ProgressFlushInterval
	}
	c := &Controller{
		agent:     opts.Agent,
		sessionID: sessionID,
		recorder:  opts.Recorder,
		internal:  opts.InternalTools,
		sink:      opts.Sink,
		onUpdate:  opts.OnUpdate,
		maxSteps:  opts.MaxSteps,
		working:   WorkingState{Status: WorkingIdle},
	}
	c.textFlush.interval = textInterval
	c.progFlush.interval = progInterval
	return c, nil
}

// SessionID returns the conversation identifier, stable across runs.
func (c *Controller) SessionID() string { return c.sessionID }

// Submit runs one query through the agent to a terminal state and returns
// the final answer. It rejects with ErrBusy while another run is
// processing, returns ErrInterrupted after a cancellation, and surfaces
// provider failures verbatim. The history item status is the
// authoritative side channel for the terminal state.
func (c *Controller) Submit(ctx context.Context, query string) (string, error) {
	runCtx, item, err := c.begin(ctx, query)
	if err != nil {
		return "", err
	}
	c.notify()

	answer, err := c.consume(runCtx, item, query)
	c.notify()
	return answer, err
}

// begin creates the processing history item and resets transient run
// state. Fails with ErrBusy when a run is already active.
func (c *Controller) begin(ctx context.Context, query string) (context.Context, *HistoryItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, nil, ErrBusy
	}
	item := &HistoryItem{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    StatusProcessing,
		StartedAt: time.Now(),
	}
	c.history = append(c.history, item)
	c.active = item
	c.activeGroup = nil
	c.errMsg = ""
	c.streaming = ""
	c.textBuf.Reset()
	c.progressBuf = ""
	c.textFlush.cancel()
	c.progFlush.cancel()
	c.working = WorkingState{Status: WorkingThinking}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	return runCtx, item, nil
}

// consume drives the bridge until a terminal state.
func (c *Controller) consume(runCtx context.Context, item *HistoryItem, query string) (string, error) {
	defer func() {
		c.mu.Lock()
		if c.cancelRun != nil {
			c.cancelRun()
			c.cancelRun = nil
		}
		c.active = nil
		c.mu.Unlock()
	}()

	stream, err := c.agent.Stream(runCtx, query, StreamOptions{
		SessionID: c.sessionID,
		MaxSteps:  c.maxSteps,
	})
	if err != nil {
		return "", c.fail(runCtx, item, err)
	}

	b, err := bridge.New(runCtx, stream, bridge.Options{
		RunID:         item.ID,
		SessionID:     c.sessionID,
		Recorder:      c.recorder,
		InternalTools: c.internal,
	})
	if err != nil {
		return "", c.fail(runCtx, item, err)
	}
	defer b.Close()

	var answer string
	for {
		evt, err := b.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", c.fail(runCtx, item, err)
		}

		// Cancellation is cooperative: stop observing the stream on the
		// next iteration after the signal, without forcing the provider.
		if runCtx.Err() != nil {
			c.interrupt(item)
			return "", ErrInterrupted
		}

		c.forward(runCtx, evt)
		if done, ok := evt.(event.Done); ok {
			answer = done.Data.Answer
		}
		c.handle(evt)
		c.notify()
	}
	return answer, nil
}

// fail transitions the active item to its failure terminal state:
// interrupted for cancellation signals, error otherwise.
func (c *Controller) fail(runCtx context.Context, item *HistoryItem, err error) error {
	if errors.Is(err, context.Canceled) || runCtx.Err() != nil {
		c.interrupt(item)
		return ErrInterrupted
	}

	c.mu.Lock()
	c.clearTimersLocked()
	if item.Status == StatusProcessing {
		item.Status = StatusError
		item.Error = err.Error()
	}
	c.errMsg = err.Error()
	c.working = WorkingState{Status: WorkingIdle}
	c.mu.Unlock()
	return fmt.Errorf("run failed: %w", err)
}

// interrupt transitions the item to interrupted unless it already reached
// a terminal state (e.g. Cancel raced with completion).
func (c *Controller) interrupt(item *HistoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearTimersLocked()
	if item.Status == StatusProcessing {
		item.Status = StatusInterrupted
	}
	c.working = WorkingState{Status: WorkingIdle}
}

// Cancel signals cooperative cancellation of the active run. The consuming
// loop stops pulling events on its next iteration; the underlying provider
// stream is not force-stopped. All pending flush timers are cleared
// synchronously.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancelRun
	c.cancelRun = nil
	c.clearTimersLocked()
	if c.active != nil && c.active.Status == StatusProcessing {
		c.active.Status = StatusInterrupted
	}
	c.activeGroup = nil
	c.working = WorkingState{Status: WorkingIdle}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.notify()
}

// handle applies one domain event to the run state.
func (c *Controller) handle(evt event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.active
	if item == nil || item.Status != StatusProcessing {
		return
	}

	switch e := evt.(type) {
	case event.Thinking:
		c.working = WorkingState{Status: WorkingThinking}
		item.Events = append(item.Events, &EventGroup{
			ID:        uuid.NewString(),
			Event:     evt,
			Completed: true,
		})

	case event.ToolStart:
		c.working = WorkingState{Status: WorkingTool, ToolName: e.Data.Tool}
		group := &EventGroup{ID: uuid.NewString(), Event: evt}
		item.Events = append(item.Events, group)
		c.activeGroup = group

	case event.ToolProgress:
		if c.activeGroup == nil {
			return
		}
		c.progressBuf = e.Data.Message
		c.progFlush.schedule(&c.mu, c.flushProgressLocked)

	case event.ToolEnd, event.ToolError:
		c.progFlush.cancel()
		c.progressBuf = ""
		if c.activeGroup != nil {
			c.activeGroup.Completed = true
			c.activeGroup.End = evt
			c.activeGroup = nil
		}
		c.working = WorkingState{Status: WorkingThinking}

	case event.AnswerStart:
		c.working = WorkingState{Status: WorkingAnswering, StartTime: time.Now()}

	case event.TextDelta:
		c.textBuf.WriteString(e.Data.Delta)
		c.textFlush.schedule(&c.mu, c.flushTextLocked)

	case event.Done:
		c.textFlush.cancel()
		c.progFlush.cancel()
		c.textBuf.Reset()
		c.progressBuf = ""
		c.activeGroup = nil

		item.Answer = e.Data.Answer
		item.Status = StatusComplete
		item.Duration = e.Data.TotalTime
		item.TokenUsage = e.Data.TokenUsage
		if e.Data.TokenUsage != nil && e.Data.TotalTime > 0 {
			item.TokensPerSecond = float64(e.Data.TokenUsage.OutputTokens) / e.Data.TotalTime.Seconds()
		}
		c.streaming = e.Data.Answer
		c.working = WorkingState{Status: WorkingIdle}
	}
}

// flushTextLocked moves the coalesced delta buffer into the externally
// observable streaming answer. Called by the text flush timer with the
// controller mutex held.
func (c *Controller) flushTextLocked() {
	if c.textBuf.Len() == 0 {
		return
	}
	c.streaming += c.textBuf.String()
	c.textBuf.Reset()
	go c.notify()
}

// flushProgressLocked applies the most recent progress message to the
// active tool group. Called by the progress flush timer with the
// controller mutex held.
func (c *Controller) flushProgressLocked() {
	if c.activeGroup == nil || c.progressBuf == "" {
		return
	}
	c.activeGroup.ProgressMessage = c.progressBuf
	c.progressBuf = ""
	go c.notify()
}

// clearTimersLocked cancels both flush timers and clears their buffers.
// Every terminal transition funnels through here; a timer firing after a
// terminal transition is a defect.
func (c *Controller) clearTimersLocked() {
	c.textFlush.cancel()
	c.progFlush.cancel()
	c.textBuf.Reset()
	c.progressBuf = ""
}

// forward sends the event to the optional sink. Sink failures are logged
// and never affect the run.
func (c *Controller) forward(ctx context.Context, evt event.Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Send(ctx, evt); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "event sink send"}, log.KV{K: "event", V: string(evt.Type())})
	}
}

func (c *Controller) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}

// IsProcessing reports whether the most recent history item is processing.
func (c *Controller) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history) > 0 && c.history[len(c.history)-1].Status == StatusProcessing
}

// Working returns the current working state.
func (c *Controller) Working() WorkingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.working
}

// Err returns the last run failure message, empty when the last run did
// not fail.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// StreamingAnswer returns the coalesced answer text flushed so far for the
// active run, or the final answer after completion.
func (c *Controller) StreamingAnswer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// History returns a snapshot of all run history items, oldest first. The
// returned items and groups are copies; mutating them does not affect the
// controller.
func (c *Controller) History() []HistoryItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]HistoryItem, 0, len(c.history))
	for _, item := range c.history {
		snapshot := *item
		snapshot.Events = make([]*EventGroup, len(item.Events))
		for i, group := range item.Events {
			copied := *group
			snapshot.Events[i] = &copied
		}
		items = append(items, snapshot)
	}
	return items
}

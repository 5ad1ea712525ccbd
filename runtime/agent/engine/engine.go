// Package engine runs the multi-step agent loop: it drives a model.Client
// with the registered tool schemas, executes the tool calls the model
// requests, feeds results back for the next step, and exposes the whole
// run as a provider chunk stream.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"goa.design/clue/log"

	"github.com/dexterhq/dexter/runtime/agent/model"
	"github.com/dexterhq/dexter/runtime/agent/provider"
	"github.com/dexterhq/dexter/runtime/agent/tools"
)

// DefaultMaxSteps caps the model loop when the caller does not.
const DefaultMaxSteps = 10

type (
	// Options configures an Engine.
	Options struct {
		// Client invokes the model. Required.
		Client model.Client
		// Registry holds the tools advertised to the model. Required.
		// The engine registers its working-memory tool on it.
		Registry *tools.Registry
		// Model is the provider-specific model identifier. Required.
		Model string
		// SystemPrompt is prepended to every run.
		SystemPrompt string
		// MaxSteps is the default step cap. Zero uses DefaultMaxSteps.
		MaxSteps int
		// Temperature and MaxTokens pass through to every model request.
		Temperature float32
		MaxTokens   int
		// Sessions stores per-conversation state. Created when nil.
		Sessions *SessionStore
	}

	// RunOptions carries per-run parameters.
	RunOptions struct {
		// SessionID scopes conversation history and working memory.
		SessionID string
		// MaxSteps overrides the engine default when positive.
		MaxSteps int
	}

	// Engine drives agent runs. Safe for concurrent use; concurrent runs
	// in distinct sessions proceed independently.
	Engine struct {
		client      model.Client
		registry    *tools.Registry
		model       string
		system      string
		maxSteps    int
		temperature float32
		maxTokens   int
		sessions    *SessionStore
	}
)

// New builds an Engine and registers the working-memory tool on the
// registry when it is not already present.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("engine: model client is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("engine: tool registry is required")
	}
	if opts.Model == "" {
		return nil, errors.New("engine: model identifier is required")
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessionStore()
	}
	e := &Engine{
		client:      opts.Client,
		registry:    opts.Registry,
		model:       opts.Model,
		system:      opts.SystemPrompt,
		maxSteps:    maxSteps,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		sessions:    sessions,
	}
	if _, ok := opts.Registry.Lookup(WorkingMemoryTool); !ok {
		if err := opts.Registry.Register(workingMemoryDefinition()); err != nil {
			return nil, fmt.Errorf("engine: register working memory tool: %w", err)
		}
	}
	return e, nil
}

// InternalTools returns the names of registered internal tools, for
// consumers that filter internal activity.
func (e *Engine) InternalTools() []string {
	return e.registry.Internal()
}

// Stream starts one run and returns its chunk stream. The returned stream
// must be closed by the caller. Cancelling ctx stops the run.
func (e *Engine) Stream(ctx context.Context, query string, opts RunOptions) (provider.Stream, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("engine: query is empty")
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = e.maxSteps
	}
	sess := e.sessions.Get(opts.SessionID)
	rs := newRunStream(ctx)
	go e.run(rs, sess, query, maxSteps)
	return rs, nil
}

func (e *Engine) run(rs *runStream, sess *Session, query string, maxSteps int) {
	ctx := withSession(rs.ctx, sess)

	userMsg := &model.Message{Role: "user", Content: query}
	messages := e.buildMessages(sess, userMsg)

	var (
		answer    strings.Builder
		usage     provider.Usage
		usageSeen bool
		steps     int
	)

	for steps < maxSteps {
		steps++
		if !rs.emit(provider.Chunk{Type: provider.ChunkStepStart}) {
			return
		}

		res, err := e.step(ctx, rs, messages, &answer)
		if err != nil {
			rs.fail(err)
			return
		}
		if res.usage != nil {
			usage.InputTokens += res.usage.InputTokens
			usage.OutputTokens += res.usage.OutputTokens
			usageSeen = true
		}

		assistant := &model.Message{Role: "assistant", Content: res.text, ToolCalls: res.calls}
		messages = append(messages, assistant)

		if len(res.calls) == 0 {
			break
		}
		for _, call := range res.calls {
			toolMsg, ok := e.invoke(ctx, rs, call)
			if !ok {
				return
			}
			messages = append(messages, toolMsg)
		}
	}

	sess.Append(userMsg, &model.Message{Role: "assistant", Content: answer.String()})

	var usagePtr *provider.Usage
	if usageSeen {
		usagePtr = &usage
	}
	rs.finish(answer.String(), usagePtr, steps)
}

// stepResult collects one model turn.
type stepResult struct {
	text  string
	calls []model.ToolCall
	usage *model.TokenUsage
	stop  string
}

// step performs one model call, forwarding text deltas as they arrive and
// collecting tool call requests.
func (e *Engine) step(ctx context.Context, rs *runStream, messages []*model.Message, answer *strings.Builder) (stepResult, error) {
	req := model.Request{
		Model:       e.model,
		Messages:    messages,
		Tools:       e.definitions(),
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	}

	streamer, err := e.client.Stream(ctx, req)
	if errors.Is(err, model.ErrStreamingUnsupported) {
		return e.stepComplete(ctx, rs, req, answer)
	}
	if err != nil {
		return stepResult{}, fmt.Errorf("model stream: %w", err)
	}
	defer func() {
		if cerr := streamer.Close(); cerr != nil {
			log.Error(ctx, cerr, log.KV{K: "msg", V: "close model stream"})
		}
	}()

	var res stepResult
	var text strings.Builder
	for {
		chunk, err := streamer.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stepResult{}, fmt.Errorf("model stream recv: %w", err)
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			if chunk.Text == "" {
				continue
			}
			text.WriteString(chunk.Text)
			if answer.Len() == 0 {
				if !rs.emit(provider.Chunk{Type: provider.ChunkTextStart}) {
					return stepResult{}, ctx.Err()
				}
			}
			answer.WriteString(chunk.Text)
			if !rs.emit(provider.Chunk{Type: provider.ChunkTextDelta, TextDelta: chunk.Text}) {
				return stepResult{}, ctx.Err()
			}
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				res.calls = append(res.calls, *chunk.ToolCall)
			}
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				if res.usage == nil {
					res.usage = &model.TokenUsage{}
				}
				res.usage.InputTokens += chunk.UsageDelta.InputTokens
				res.usage.OutputTokens += chunk.UsageDelta.OutputTokens
			}
		case model.ChunkTypeStop:
			res.stop = chunk.StopReason
		}
	}
	res.text = text.String()
	return res, nil
}

// stepComplete is the non-streaming fallback for clients without
// streaming support. The full response text surfaces as one delta.
func (e *Engine) stepComplete(ctx context.Context, rs *runStream, req model.Request, answer *strings.Builder) (stepResult, error) {
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return stepResult{}, fmt.Errorf("model complete: %w", err)
	}
	if resp.Text != "" {
		if answer.Len() == 0 {
			if !rs.emit(provider.Chunk{Type: provider.ChunkTextStart}) {
				return stepResult{}, ctx.Err()
			}
		}
		answer.WriteString(resp.Text)
		if !rs.emit(provider.Chunk{Type: provider.ChunkTextDelta, TextDelta: resp.Text}) {
			return stepResult{}, ctx.Err()
		}
	}
	res := stepResult{text: resp.Text, calls: resp.ToolCalls, stop: resp.StopReason}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		usage := resp.Usage
		res.usage = &usage
	}
	return res, nil
}

// invoke executes one tool call and emits its chunks. Handler failures
// surface as error results so the model can recover; they never abort the
// run. Returns false when the run context was cancelled mid-call.
func (e *Engine) invoke(ctx context.Context, rs *runStream, call model.ToolCall) (*model.Message, bool) {
	name := string(call.Name)
	if !rs.emit(provider.Chunk{
		Type:       provider.ChunkToolCall,
		ToolCallID: call.ID,
		ToolName:   name,
		Args:       call.Args,
	}) {
		return nil, false
	}

	tctx := tools.WithReporter(ctx, func(msg string) {
		rs.emit(provider.Chunk{
			Type:       provider.ChunkToolProgress,
			ToolCallID: call.ID,
			ToolName:   name,
			Message:    msg,
		})
	})

	result, err := e.registry.Execute(tctx, call.Name, call.Args)
	if err != nil {
		log.Error(ctx, err,
			log.KV{K: "msg", V: "tool execution failed"},
			log.KV{K: "tool", V: name},
			log.KV{K: "tool_call_id", V: call.ID})
		if !rs.emit(provider.Chunk{
			Type:       provider.ChunkToolResult,
			ToolCallID: call.ID,
			ToolName:   name,
			Args:       call.Args,
			Result:     err.Error(),
			IsError:    true,
		}) {
			return nil, false
		}
		return &model.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool error: %s", err),
		}, true
	}

	if !rs.emit(provider.Chunk{
		Type:       provider.ChunkToolResult,
		ToolCallID: call.ID,
		ToolName:   name,
		Args:       call.Args,
		Result:     result,
	}) {
		return nil, false
	}
	return &model.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Content:    stringifyToolResult(result),
	}, true
}

// buildMessages assembles the request conversation: system prompt with the
// session's working memory appended, prior history, then the new query.
func (e *Engine) buildMessages(sess *Session, userMsg *model.Message) []*model.Message {
	var messages []*model.Message
	system := e.system
	if memory := sess.WorkingMemory(); memory != "" {
		if system != "" {
			system += "\n\n"
		}
		system += "Working memory:\n" + memory
	}
	if system != "" {
		messages = append(messages, &model.Message{Role: "system", Content: system})
	}
	messages = append(messages, sess.History()...)
	return append(messages, userMsg)
}

func (e *Engine) definitions() []*model.ToolDefinition {
	names := e.registry.Names()
	defs := make([]*model.ToolDefinition, 0, len(names))
	for _, name := range names {
		def, _ := e.registry.Lookup(name)
		defs = append(defs, &model.ToolDefinition{
			Name:        string(def.Name),
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return defs
}

func stringifyToolResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

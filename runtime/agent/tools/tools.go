// Package tools defines the runtime tool registry the engine dispatches
// model tool calls through. Each tool carries a JSON Schema describing its
// arguments; the registry validates model-generated arguments against the
// schema before the handler runs.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Ident is the strong type for tool identifiers as advertised to the
// model. Use it in maps and APIs to avoid mixing with free-form strings.
type Ident string

// String returns the string form of the identifier.
func (id Ident) String() string { return string(id) }

type (
	// Handler executes one tool call. Args have already been validated
	// against the tool's input schema. The returned value is serialized
	// for the model; returning an error surfaces a tool failure to the
	// model without aborting the run.
	Handler func(ctx context.Context, args map[string]any) (any, error)

	// Definition declares a tool: its schema as advertised to the model
	// and the handler that executes it.
	Definition struct {
		// Name is the identifier the model calls the tool by.
		Name Ident
		// Description tells the model when to use the tool.
		Description string
		// InputSchema is a JSON Schema object constraining arguments.
		// Nil means the tool accepts any arguments.
		InputSchema map[string]any
		// Internal marks runtime-owned tools that are advertised to the
		// model but whose activity is hidden from consumers.
		Internal bool
		// Handler executes the tool.
		Handler Handler
	}

	// Registry holds the tools available to a run. Build it once at
	// startup; it is safe for concurrent reads after Register calls
	// complete.
	Registry struct {
		defs    map[Ident]*Definition
		schemas map[Ident]*jsonschema.Schema
	}

	// ValidationError reports model-generated arguments that failed the
	// tool's input schema.
	ValidationError struct {
		Tool  Ident
		Cause error
	}
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:    make(map[Ident]*Definition),
		schemas: make(map[Ident]*jsonschema.Schema),
	}
}

// Register adds a tool definition, compiling its input schema. Fails on
// duplicate names, missing handlers, and invalid schemas.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tools: tool name is required")
	}
	if strings.ContainsAny(string(def.Name), " \t\n") {
		return fmt.Errorf("tools: tool name %q contains whitespace", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", def.Name)
	}
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("tools: tool %q already registered", def.Name)
	}
	if def.InputSchema != nil {
		schema, err := compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", def.Name, err)
		}
		r.schemas[def.Name] = schema
	}
	r.defs[def.Name] = &def
	return nil
}

func compileSchema(name Ident, doc map[string]any) (*jsonschema.Schema, error) {
	// Round-trip through the jsonschema decoder so numeric types match
	// what the compiler expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s/input.json", name)
	if err := compiler.AddResource(url, decoded); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name Ident) (*Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered tool names in lexical order.
func (r *Registry) Names() []Ident {
	names := make([]Ident, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Internal returns the names of registered internal tools.
func (r *Registry) Internal() []string {
	var names []string
	for name, def := range r.defs {
		if def.Internal {
			names = append(names, string(name))
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks args against the tool's input schema. Tools without a
// schema accept anything.
func (r *Registry) Validate(name Ident, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}
	instance := normalizeInstance(args)
	if err := schema.Validate(instance); err != nil {
		return &ValidationError{Tool: name, Cause: err}
	}
	return nil
}

// Execute validates args and runs the tool handler.
func (r *Registry) Execute(ctx context.Context, name Ident, args map[string]any) (any, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %q", name)
	}
	if err := r.Validate(name, args); err != nil {
		return nil, err
	}
	return def.Handler(ctx, args)
}

// normalizeInstance re-decodes args so numbers carry the types the schema
// validator expects regardless of how the arguments were produced.
func normalizeInstance(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return args
	}
	return decoded
}

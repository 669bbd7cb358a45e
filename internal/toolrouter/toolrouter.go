// Package toolrouter implements C6: building the spec list advertised to
// the model, normalizing model-emitted response items into ToolCalls, and
// dispatching each call to its registered runtime after validating its
// arguments against a JSON Schema.
package toolrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/toolruntime"
)

// Spec is one entry of the tool list advertised to the model.
type Spec struct {
	Name        string
	Description string
	Schema      json.RawMessage
	// ParallelSafe reports whether this tool may run concurrently with
	// other tool calls in the same turn without risking file conflicts.
	ParallelSafe bool
}

// entry bundles a Spec with its compiled schema and runtime.
type entry struct {
	spec    Spec
	schema  *jsonschema.Schema
	runtime toolruntime.Runtime
}

// Router owns the set of registered tools for one conversation.
type Router struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty Router.
func New() *Router {
	return &Router{entries: make(map[string]*entry)}
}

// Register adds a tool, compiling its JSON Schema up front so a malformed
// schema fails at registration time rather than on first dispatch.
func (r *Router) Register(spec Spec, runtime toolruntime.Runtime) error {
	compiled, err := compileSchema(spec.Name, spec.Schema)
	if err != nil {
		return fmt.Errorf("toolrouter: register %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[spec.Name] = &entry{spec: spec, schema: compiled, runtime: runtime}
	return nil
}

// Unregister removes a tool by name.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	c := jsonschema.NewCompiler()
	resource := "mem://" + name + ".json"
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resource)
}

// Specs returns the tool list to advertise to the model, in a stable,
// sorted order so repeated turns produce identical prompts.
func (r *Router) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.spec)
	}
	sortSpecs(out)
	return out
}

func sortSpecs(specs []Spec) {
	for i := 1; i < len(specs); i++ {
		for j := i; j > 0 && specs[j].Name < specs[j-1].Name; j-- {
			specs[j], specs[j-1] = specs[j-1], specs[j]
		}
	}
}

// ToolSupportsParallel reports whether name's Spec declared itself safe to
// run concurrently with other calls in the same turn.
func (r *Router) ToolSupportsParallel(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.spec.ParallelSafe
}

// BuildToolCall normalizes a model-emitted call-bearing ResponseItem into
// the canonical ToolCall shape C8 hands to Dispatch.
func BuildToolCall(item protocol.ResponseItem) (protocol.ToolCall, error) {
	if !item.IsCall() {
		return protocol.ToolCall{}, fmt.Errorf("toolrouter: item kind %q is not a call", item.Kind)
	}

	kind := protocol.PayloadFunction
	switch item.Kind {
	case protocol.KindLocalShellCall:
		kind = protocol.PayloadLocalShell
	case protocol.KindCustomToolCall:
		kind = protocol.PayloadCustom
	}

	return protocol.ToolCall{
		ToolName: item.ToolName,
		CallID:   item.CallID,
		Kind:     kind,
		Payload:  item.Payload,
	}, nil
}

// Dispatch validates call.Payload against the registered tool's schema and,
// if valid, executes it through the tool's runtime.
func (r *Router) Dispatch(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (toolruntime.Output, error) {
	r.mu.RLock()
	e, ok := r.entries[call.ToolName]
	r.mu.RUnlock()
	if !ok {
		return toolruntime.Output{Success: false, Text: fmt.Sprintf("unknown tool %q", call.ToolName)}, nil
	}

	if err := validate(e.schema, call.Payload); err != nil {
		return toolruntime.Output{Success: false, Text: fmt.Sprintf("invalid arguments for %s: %v", call.ToolName, err)}, nil
	}

	return e.runtime.Execute(ctx, call, tc)
}

func validate(schema *jsonschema.Schema, payload json.RawMessage) error {
	if schema == nil || len(payload) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(v)
}

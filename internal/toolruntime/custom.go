package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codexcore/agentcore/internal/protocol"
)

// CustomHandler is the opaque handler a custom tool registers: given the
// raw input text, produce a text response the model parses itself.
type CustomHandler func(ctx context.Context, input string) (string, error)

// CustomRuntime dispatches to a registry of opaque, text-in/text-out tools
// that don't fit the shell/MCP/apply-patch shapes.
type CustomRuntime struct {
	handlers map[string]CustomHandler
}

// NewCustomRuntime builds an empty registry.
func NewCustomRuntime() *CustomRuntime {
	return &CustomRuntime{handlers: make(map[string]CustomHandler)}
}

// Register adds a handler under name, replacing any existing one.
func (r *CustomRuntime) Register(name string, handler CustomHandler) {
	r.handlers[name] = handler
}

// Name implements Runtime.
func (r *CustomRuntime) Name() string { return "custom" }

// Execute looks up call.ToolName in the registry and invokes its handler.
func (r *CustomRuntime) Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (Output, error) {
	handler, ok := r.handlers[call.ToolName]
	if !ok {
		return Output{Success: false, Text: fmt.Sprintf("custom: unknown tool %q", call.ToolName)}, nil
	}

	var payload protocol.CustomPayload
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		return Output{}, fmt.Errorf("custom: decode payload: %w", err)
	}

	text, err := handler(ctx, payload.Input)
	if err != nil {
		return Output{Success: false, Text: err.Error()}, nil
	}
	return Output{Success: true, Text: text}, nil
}

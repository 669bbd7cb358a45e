package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codexcore/agentcore/internal/protocol"
)

// ToolCaller is the narrow MCP collaborator interface this runtime
// consumes, matching the teacher's own ToolCaller contract
// (internal/mcp/bridge.go) — the concrete JSON-RPC transport lives in
// internal/mcp and is injected here.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (json.RawMessage, error)
}

// MCPRuntime proxies a tool call to the MCP server that advertises it.
type MCPRuntime struct {
	caller ToolCaller
}

// NewMCPRuntime builds an MCPRuntime over caller.
func NewMCPRuntime(caller ToolCaller) *MCPRuntime {
	return &MCPRuntime{caller: caller}
}

// Name implements Runtime.
func (r *MCPRuntime) Name() string { return "mcp" }

// Execute serializes raw_arguments into the target server's JSON-RPC call
// and returns either the structured result or a success=false output
// carrying the error text — MCP failures are never fatal to the turn.
func (r *MCPRuntime) Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (Output, error) {
	var payload protocol.MCPPayload
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		return Output{}, fmt.Errorf("mcp: decode payload: %w", err)
	}

	var args map[string]any
	if len(payload.RawArgs) > 0 {
		if err := json.Unmarshal(payload.RawArgs, &args); err != nil {
			return Output{Success: false, Text: fmt.Sprintf("mcp: invalid arguments: %v", err)}, nil
		}
	}

	result, err := r.caller.CallTool(ctx, payload.Server, payload.Tool, args)
	if err != nil {
		return Output{Success: false, Text: fmt.Sprintf("mcp: %s.%s failed: %v", payload.Server, payload.Tool, err)}, nil
	}
	return Output{Success: true, Text: string(result), Detail: result}, nil
}

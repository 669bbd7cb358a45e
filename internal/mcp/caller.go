package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// RuntimeCaller adapts a Manager to toolruntime.ToolCaller, reusing
// bridge.go's formatToolCallResult flattening to produce the plain JSON
// string C5's MCPRuntime records as the call's output.
type RuntimeCaller struct {
	manager *Manager
}

// NewRuntimeCaller wraps manager for use as a toolruntime.ToolCaller.
func NewRuntimeCaller(manager *Manager) *RuntimeCaller {
	return &RuntimeCaller{manager: manager}
}

// CallTool implements toolruntime.ToolCaller.
func (r *RuntimeCaller) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (json.RawMessage, error) {
	result, err := r.manager.CallTool(ctx, serverID, toolName, arguments)
	if err != nil {
		return nil, err
	}
	text, isError := formatToolCallResult(result)
	if isError {
		return nil, fmt.Errorf("mcp: %s.%s returned an error result: %s", serverID, toolName, text)
	}
	return json.Marshal(text)
}

// ToolNames lists every tool name advertised across connected servers, in
// "server.tool" form, for Conversation.ListMcpTools (spec §4.9).
func (r *RuntimeCaller) ToolNames() []string {
	var names []string
	for serverID, tools := range r.manager.AllTools() {
		for _, tool := range tools {
			names = append(names, serverID+"."+tool.Name)
		}
	}
	return names
}

package mcp

import (
	"context"
	"encoding/json"

	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/toolruntime"
)

// bridgeTool is the shape every *Bridge type in bridge.go already exposes;
// bridgeRuntime adapts it to toolruntime.Runtime so individual MCP
// resources and prompts register as first-class tools in C6's spec list,
// alongside the catch-all "mcp" tool toolruntime.MCPRuntime provides.
type bridgeTool interface {
	Name() string
	Execute(ctx context.Context, params json.RawMessage) (*BridgeResult, error)
}

type bridgeRuntime struct {
	tool bridgeTool
}

// newBridgeRuntime wraps one resource/prompt bridge as a toolruntime.Runtime.
func newBridgeRuntime(tool bridgeTool) toolruntime.Runtime {
	return &bridgeRuntime{tool: tool}
}

func (r *bridgeRuntime) Name() string { return r.tool.Name() }

func (r *bridgeRuntime) Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (toolruntime.Output, error) {
	result, err := r.tool.Execute(ctx, call.Payload)
	if err != nil {
		return toolruntime.Output{Success: false, Text: err.Error()}, nil
	}
	return toolruntime.Output{Success: !result.IsError, Text: result.Content, Detail: result}, nil
}

// ServerSpec pairs a registerable tool name/description/schema with the
// runtime that serves it, for callers (cmd/agentcore/wire.go) that need to
// hand both to a toolrouter.Router.Register call.
type ServerSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Runtime     toolruntime.Runtime
}

// BridgeSpecs returns one ServerSpec per resource/prompt bridge available
// for serverID: resources.list, resources.read, prompts.list, prompts.get.
// Tool names are sanitized through safeToolName so they stay valid across
// arbitrary server IDs and fit C6's naming limits.
func BridgeSpecs(mgr *Manager, serverID string) []ServerSpec {
	used := make(map[string]struct{})
	listName := safeToolName(serverID, "resources_list", used)
	readName := safeToolName(serverID, "resources_read", used)
	promptListName := safeToolName(serverID, "prompts_list", used)
	promptGetName := safeToolName(serverID, "prompts_get", used)

	resourceList := NewResourceListBridge(mgr, serverID, listName)
	resourceRead := NewResourceReadBridge(mgr, serverID, readName)
	promptList := NewPromptListBridge(mgr, serverID, promptListName)
	promptGet := NewPromptGetBridge(mgr, serverID, promptGetName)

	return []ServerSpec{
		{Name: resourceList.Name(), Description: resourceList.Description(), Schema: resourceList.Schema(), Runtime: newBridgeRuntime(resourceList)},
		{Name: resourceRead.Name(), Description: resourceRead.Description(), Schema: resourceRead.Schema(), Runtime: newBridgeRuntime(resourceRead)},
		{Name: promptList.Name(), Description: promptList.Description(), Schema: promptList.Schema(), Runtime: newBridgeRuntime(promptList)},
		{Name: promptGet.Name(), Description: promptGet.Description(), Schema: promptGet.Schema(), Runtime: newBridgeRuntime(promptGet)},
	}
}

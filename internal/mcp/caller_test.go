package mcp

import (
	"context"
	"testing"
)

func TestRuntimeCallerCallToolUnknownServer(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, nil)
	caller := NewRuntimeCaller(mgr)

	_, err := caller.CallTool(context.Background(), "missing", "tool", nil)
	if err == nil {
		t.Fatal("expected an error calling a tool on an unconnected server")
	}
}

func TestRuntimeCallerToolNamesEmptyWithNoServers(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, nil)
	caller := NewRuntimeCaller(mgr)

	if names := caller.ToolNames(); len(names) != 0 {
		t.Fatalf("expected no tool names, got %v", names)
	}
}

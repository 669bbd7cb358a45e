package mcp

import (
	"context"
	"testing"

	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/toolruntime"
)

func TestBridgeSpecsNamesAreStable(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, nil)

	specs := BridgeSpecs(mgr, "github")
	if len(specs) != 4 {
		t.Fatalf("expected 4 bridge specs, got %d", len(specs))
	}

	names := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if _, dup := names[s.Name]; dup {
			t.Fatalf("duplicate bridge tool name %q", s.Name)
		}
		names[s.Name] = struct{}{}
		if s.Runtime == nil {
			t.Fatalf("expected runtime for %q", s.Name)
		}
	}
}

func TestBridgeRuntimeExecuteSurfacesErrors(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, nil)
	specs := BridgeSpecs(mgr, "github")

	used := make(map[string]struct{})
	readName := safeToolName("github", "resources_read", used)

	var readRuntime toolruntime.Runtime
	for _, s := range specs {
		if s.Name == readName {
			readRuntime = s.Runtime
		}
	}
	if readRuntime == nil {
		t.Fatal("expected a resources_read runtime among the bridge specs")
	}

	out, err := readRuntime.Execute(context.Background(), protocol.ToolCall{Payload: []byte(`{}`)}, protocol.TurnContext{})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if out.Success {
		t.Fatal("expected missing uri to surface as a failed output")
	}
}

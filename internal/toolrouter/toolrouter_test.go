package toolrouter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/toolruntime"
)

type fakeRuntime struct {
	name string
	out  toolruntime.Output
	err  error
	got  protocol.ToolCall
}

func (f *fakeRuntime) Name() string { return f.name }

func (f *fakeRuntime) Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (toolruntime.Output, error) {
	f.got = call
	return f.out, f.err
}

func echoSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"command": {"type": "string"}},
		"required": ["command"],
		"additionalProperties": false
	}`)
}

func TestRegisterAndSpecsSorted(t *testing.T) {
	r := New()
	if err := r.Register(Spec{Name: "zeta", Schema: echoSchema()}, &fakeRuntime{name: "zeta"}); err != nil {
		t.Fatalf("register zeta: %v", err)
	}
	if err := r.Register(Spec{Name: "alpha", Schema: echoSchema()}, &fakeRuntime{name: "alpha"}); err != nil {
		t.Fatalf("register alpha: %v", err)
	}

	specs := r.Specs()
	if len(specs) != 2 || specs[0].Name != "alpha" || specs[1].Name != "zeta" {
		t.Fatalf("expected sorted [alpha, zeta], got %+v", specs)
	}
}

func TestRegisterRejectsMalformedSchema(t *testing.T) {
	r := New()
	err := r.Register(Spec{Name: "bad", Schema: json.RawMessage(`{"type": 123}`)}, &fakeRuntime{name: "bad"})
	if err == nil {
		t.Fatalf("expected error for malformed schema")
	}
}

func TestUnregisterRemovesTool(t *testing.T) {
	r := New()
	_ = r.Register(Spec{Name: "alpha", Schema: echoSchema()}, &fakeRuntime{name: "alpha"})
	r.Unregister("alpha")
	if len(r.Specs()) != 0 {
		t.Fatalf("expected no specs after unregister")
	}
}

func TestToolSupportsParallel(t *testing.T) {
	r := New()
	_ = r.Register(Spec{Name: "safe", ParallelSafe: true, Schema: echoSchema()}, &fakeRuntime{name: "safe"})
	_ = r.Register(Spec{Name: "unsafe", Schema: echoSchema()}, &fakeRuntime{name: "unsafe"})

	if !r.ToolSupportsParallel("safe") {
		t.Fatalf("expected safe to support parallel execution")
	}
	if r.ToolSupportsParallel("unsafe") {
		t.Fatalf("expected unsafe to not support parallel execution")
	}
	if r.ToolSupportsParallel("missing") {
		t.Fatalf("expected unknown tool to report false")
	}
}

func TestBuildToolCallNormalizesKinds(t *testing.T) {
	cases := []struct {
		kind protocol.ItemKind
		want protocol.PayloadKind
	}{
		{protocol.KindFunctionCall, protocol.PayloadFunction},
		{protocol.KindLocalShellCall, protocol.PayloadLocalShell},
		{protocol.KindCustomToolCall, protocol.PayloadCustom},
	}
	for _, c := range cases {
		item := protocol.ResponseItem{Kind: c.kind, ToolName: "t", CallID: "c1", Payload: json.RawMessage(`{}`)}
		call, err := BuildToolCall(item)
		if err != nil {
			t.Fatalf("BuildToolCall(%s): %v", c.kind, err)
		}
		if call.Kind != c.want {
			t.Errorf("kind %s: got payload kind %s, want %s", c.kind, call.Kind, c.want)
		}
		if call.ToolName != "t" || call.CallID != "c1" {
			t.Errorf("kind %s: fields not carried through: %+v", c.kind, call)
		}
	}
}

func TestBuildToolCallRejectsNonCallItems(t *testing.T) {
	item := protocol.ResponseItem{Kind: protocol.KindAssistantMessage, Text: "hi"}
	if _, err := BuildToolCall(item); err == nil {
		t.Fatalf("expected error for non-call item")
	}
}

func TestDispatchValidatesArgumentsBeforeRunning(t *testing.T) {
	r := New()
	rt := &fakeRuntime{name: "echo", out: toolruntime.Output{Success: true, Text: "ok"}}
	if err := r.Register(Spec{Name: "echo", Schema: echoSchema()}, rt); err != nil {
		t.Fatalf("register: %v", err)
	}

	bad := protocol.ToolCall{ToolName: "echo", CallID: "c1", Payload: json.RawMessage(`{}`)}
	out, err := r.Dispatch(context.Background(), bad, protocol.TurnContext{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Success {
		t.Fatalf("expected validation failure for missing required field")
	}
	if rt.got.ToolName != "" {
		t.Fatalf("runtime should not have been invoked on invalid arguments")
	}

	good := protocol.ToolCall{ToolName: "echo", CallID: "c2", Payload: json.RawMessage(`{"command":"ls"}`)}
	out, err = r.Dispatch(context.Background(), good, protocol.TurnContext{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.Success || out.Text != "ok" {
		t.Fatalf("expected runtime output to pass through, got %+v", out)
	}
	if rt.got.CallID != "c2" {
		t.Fatalf("expected runtime to receive the call, got %+v", rt.got)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := New()
	out, err := r.Dispatch(context.Background(), protocol.ToolCall{ToolName: "missing"}, protocol.TurnContext{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Success {
		t.Fatalf("expected failure for unknown tool")
	}
}

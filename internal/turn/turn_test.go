package turn

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/codexcore/agentcore/internal/backoff"
	"github.com/codexcore/agentcore/internal/contextmgr"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/provider"
	"github.com/codexcore/agentcore/internal/toolruntime"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	scripted [][]provider.Event
}

func (f *fakeProvider) Name() string            { return "fake" }
func (f *fakeProvider) Models() []provider.Model { return nil }

func (f *fakeProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	if idx >= len(f.scripted) {
		idx = len(f.scripted) - 1
	}
	events := f.scripted[idx]

	ch := make(chan provider.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

type fakeCM struct {
	mu    sync.Mutex
	items []protocol.ResponseItem
}

func (f *fakeCM) RecordItems(items ...protocol.ResponseItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
}

func (f *fakeCM) AssembleForModel() contextmgr.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]protocol.ResponseItem, len(f.items))
	copy(items, f.items)
	return contextmgr.Prompt{SystemPrompt: "sys", Items: items}
}

type fakeRollout struct {
	mu     sync.Mutex
	items  []protocol.ResponseItem
	events []protocol.EventMsg
}

func (f *fakeRollout) AppendResponseItem(item protocol.ResponseItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

func (f *fakeRollout) AppendEvent(evt protocol.EventMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	parallel map[string]bool
	handler  func(call protocol.ToolCall) (toolruntime.Output, error)
}

func (f *fakeDispatcher) ToolSupportsParallel(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parallel[name]
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (toolruntime.Output, error) {
	return f.handler(call)
}

func buildCall(item protocol.ResponseItem) (protocol.ToolCall, error) {
	if !item.IsCall() {
		return protocol.ToolCall{}, errors.New("not a call")
	}
	return protocol.ToolCall{ToolName: item.ToolName, CallID: item.CallID, Payload: item.Payload}, nil
}

func TestRunTurnCompletesWithNoToolCalls(t *testing.T) {
	p := &fakeProvider{scripted: [][]provider.Event{
		{
			{Kind: provider.EventItem, Item: protocol.ResponseItem{Kind: protocol.KindAssistantMessage, Text: "hi"}},
			{Kind: provider.EventCompleted},
		},
	}}
	eng := New(p, &fakeDispatcher{parallel: map[string]bool{}}, buildCall)
	cm := &fakeCM{}
	rw := &fakeRollout{}

	result, err := eng.RunTurn(context.Background(), protocol.TurnContext{}, cm, rw, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Outcome != OutcomeComplete || result.NewItems {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunTurnDispatchesNonParallelToolAndRecordsOutput(t *testing.T) {
	p := &fakeProvider{scripted: [][]provider.Event{
		{
			{Kind: provider.EventItem, Item: protocol.ResponseItem{Kind: protocol.KindFunctionCall, CallID: "c1", ToolName: "shell"}},
			{Kind: provider.EventCompleted},
		},
	}}
	dispatcher := &fakeDispatcher{
		parallel: map[string]bool{},
		handler: func(call protocol.ToolCall) (toolruntime.Output, error) {
			return toolruntime.Output{Success: true, Text: "ok"}, nil
		},
	}
	eng := New(p, dispatcher, buildCall)
	cm := &fakeCM{}
	rw := &fakeRollout{}

	result, err := eng.RunTurn(context.Background(), protocol.TurnContext{}, cm, rw, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Outcome != OutcomeComplete || !result.NewItems {
		t.Fatalf("unexpected result: %+v", result)
	}

	if len(rw.items) != 2 {
		t.Fatalf("expected call + output recorded, got %d items", len(rw.items))
	}
	if rw.items[0].Kind != protocol.KindFunctionCall || rw.items[1].Kind != protocol.KindFunctionOutput {
		t.Fatalf("unexpected recorded order: %+v", rw.items)
	}
	if rw.items[1].OutputFor != "c1" || !rw.items[1].Success {
		t.Fatalf("unexpected output item: %+v", rw.items[1])
	}
}

func TestRunTurnPreservesEmissionOrderForParallelTools(t *testing.T) {
	release1 := make(chan struct{})
	p := &fakeProvider{scripted: [][]provider.Event{
		{
			{Kind: provider.EventItem, Item: protocol.ResponseItem{Kind: protocol.KindFunctionCall, CallID: "first", ToolName: "slow"}},
			{Kind: provider.EventItem, Item: protocol.ResponseItem{Kind: protocol.KindFunctionCall, CallID: "second", ToolName: "slow"}},
			{Kind: provider.EventCompleted},
		},
	}}
	dispatcher := &fakeDispatcher{
		parallel: map[string]bool{"slow": true},
		handler: func(call protocol.ToolCall) (toolruntime.Output, error) {
			if call.CallID == "first" {
				<-release1 // finishes after "second"
			} else {
				close(release1)
			}
			return toolruntime.Output{Success: true, Text: call.CallID}, nil
		},
	}
	eng := New(p, dispatcher, buildCall)
	cm := &fakeCM{}
	rw := &fakeRollout{}

	result, err := eng.RunTurn(context.Background(), protocol.TurnContext{}, cm, rw, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !result.NewItems {
		t.Fatalf("expected new items from tool dispatch")
	}

	var outputOrder []string
	for _, item := range rw.items {
		if item.Kind == protocol.KindFunctionOutput {
			outputOrder = append(outputOrder, item.OutputFor)
		}
	}
	if len(outputOrder) != 2 || outputOrder[0] != "first" || outputOrder[1] != "second" {
		t.Fatalf("expected outputs recorded in emission order [first second], got %v", outputOrder)
	}
}

func TestRunTurnAbortsOnCancellationAndSynthesizesOutput(t *testing.T) {
	started := make(chan struct{})
	blockForever := make(chan struct{})
	p := &fakeProvider{scripted: [][]provider.Event{
		{
			{Kind: provider.EventItem, Item: protocol.ResponseItem{Kind: protocol.KindFunctionCall, CallID: "c1", ToolName: "sleep"}},
		},
	}}
	dispatcher := &fakeDispatcher{
		parallel: map[string]bool{},
		handler: func(call protocol.ToolCall) (toolruntime.Output, error) {
			close(started)
			<-blockForever
			return toolruntime.Output{}, nil
		},
	}
	eng := New(p, dispatcher, buildCall)
	cm := &fakeCM{}
	rw := &fakeRollout{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var result Result
	var runErr error
	go func() {
		result, runErr = eng.RunTurn(ctx, protocol.TurnContext{}, cm, rw, nil)
		close(done)
	}()

	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunTurn did not return after cancellation")
	}

	if runErr != nil {
		t.Fatalf("RunTurn returned error: %v", runErr)
	}
	if result.Outcome != OutcomeAborted {
		t.Fatalf("expected aborted outcome, got %+v", result)
	}

	var abortedOutput *protocol.ResponseItem
	for i, item := range rw.items {
		if item.Kind == protocol.KindFunctionOutput && item.OutputFor == "c1" {
			abortedOutput = &rw.items[i]
		}
	}
	if abortedOutput == nil {
		t.Fatalf("expected synthesized aborted output for c1, got items: %+v", rw.items)
	}
	matched, _ := regexp.MatchString(`^Wall time: [0-9]+(?:\.[0-9])? seconds\naborted by user$`, abortedOutput.Output)
	if !matched {
		t.Fatalf("aborted output text did not match canonical pattern: %q", abortedOutput.Output)
	}
}

func TestRunTurnQuotaExceededEndsTurnCleanly(t *testing.T) {
	p := &fakeProvider{scripted: [][]provider.Event{
		{
			{Kind: provider.EventFailed, FailureCode: provider.FailureInsufficientQuota, Err: errors.New("quota")},
		},
	}}
	eng := New(p, &fakeDispatcher{parallel: map[string]bool{}}, buildCall)
	cm := &fakeCM{}
	rw := &fakeRollout{}

	result, err := eng.RunTurn(context.Background(), protocol.TurnContext{}, cm, rw, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Outcome != OutcomeComplete {
		t.Fatalf("expected clean completion after quota-exceeded, got %+v", result)
	}

	found := false
	for _, evt := range rw.events {
		if evt.Kind == protocol.EventError && evt.Message == protocol.CanonicalQuotaExceeded {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected canonical quota-exceeded error event, got %+v", rw.events)
	}
}

func TestRunTurnRetriesOnEarlyStreamCloseThenCompletes(t *testing.T) {
	p := &fakeProvider{scripted: [][]provider.Event{
		{}, // first attempt: closes with no completion event at all
		{
			{Kind: provider.EventItem, Item: protocol.ResponseItem{Kind: protocol.KindAssistantMessage, Text: "done"}},
			{Kind: provider.EventCompleted},
		},
	}}
	eng := New(p, &fakeDispatcher{parallel: map[string]bool{}}, buildCall)
	eng.Retry = RetryPolicy{MaxRetries: 1, Policy: backoff.BackoffPolicy{InitialMs: 1, MaxMs: 1, Factor: 2}}
	cm := &fakeCM{}
	rw := &fakeRollout{}

	result, err := eng.RunTurn(context.Background(), protocol.TurnContext{}, cm, rw, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Outcome != OutcomeComplete {
		t.Fatalf("expected eventual completion, got %+v", result)
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly 2 provider.Stream calls, got %d", p.calls)
	}
}

func TestRunTurnServerErrorExhaustsRetriesThenReturnsTurnError(t *testing.T) {
	p := &fakeProvider{scripted: [][]provider.Event{
		{{Kind: provider.EventFailed, FailureCode: provider.FailureServerError, Err: errors.New("boom")}},
	}}
	eng := New(p, &fakeDispatcher{parallel: map[string]bool{}}, buildCall)
	eng.Retry = RetryPolicy{MaxRetries: 1, Policy: backoff.BackoffPolicy{InitialMs: 1, MaxMs: 1, Factor: 2}}
	cm := &fakeCM{}
	rw := &fakeRollout{}

	result, err := eng.RunTurn(context.Background(), protocol.TurnContext{}, cm, rw, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Outcome != OutcomeError {
		t.Fatalf("expected turn error after exhausting retries, got %+v", result)
	}
	if p.calls != 2 { // initial + 1 retry
		t.Fatalf("expected 2 attempts, got %d", p.calls)
	}
}

func TestRunTurnGateBlocksFirstDispatch(t *testing.T) {
	p := &fakeProvider{scripted: [][]provider.Event{
		{
			{Kind: provider.EventItem, Item: protocol.ResponseItem{Kind: protocol.KindFunctionCall, CallID: "c1", ToolName: "shell"}},
			{Kind: provider.EventCompleted},
		},
	}}
	var gateCalled bool
	dispatcher := &fakeDispatcher{
		parallel: map[string]bool{},
		handler: func(call protocol.ToolCall) (toolruntime.Output, error) {
			if !gateCalled {
				t.Fatalf("tool dispatched before gate was waited on")
			}
			return toolruntime.Output{Success: true}, nil
		},
	}
	eng := New(p, dispatcher, buildCall)
	cm := &fakeCM{}
	rw := &fakeRollout{}

	gate := func(ctx context.Context) error {
		gateCalled = true
		return nil
	}

	if _, err := eng.RunTurn(context.Background(), protocol.TurnContext{}, cm, rw, gate); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !gateCalled {
		t.Fatalf("expected gate to be invoked")
	}
}

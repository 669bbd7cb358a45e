// Package turn implements C8: the per-turn state machine that drives one
// submission through a model stream, dispatches tool calls via C6,
// records history via C1/C7, and handles interrupt/retry/quota-exceeded
// per spec §4.8.
//
// Grounded on the teacher's AgenticLoop.Run state machine
// (internal/agent/loop.go): Init -> Stream -> ExecuteTools -> Continue,
// retargeted from a "chat completion" contract to a call-by-call
// tool-dispatch contract with concurrent parallel-safe execution.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/codexcore/agentcore/internal/backoff"
	"github.com/codexcore/agentcore/internal/contextmgr"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/provider"
	"github.com/codexcore/agentcore/internal/toolruntime"
)

// ContextManager is the subset of *contextmgr.Manager the engine depends
// on. Declared locally so tests can supply a fake.
type ContextManager interface {
	RecordItems(items ...protocol.ResponseItem)
	AssembleForModel() contextmgr.Prompt
}

// ToolDispatcher is the subset of *toolrouter.Router the engine depends
// on.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (toolruntime.Output, error)
	ToolSupportsParallel(name string) bool
}

// RolloutWriter is the subset of *rollout.Writer the engine appends
// through.
type RolloutWriter interface {
	AppendResponseItem(item protocol.ResponseItem) error
	AppendEvent(evt protocol.EventMsg) error
}

// BuildCallFunc normalizes a call-bearing response item into a ToolCall,
// matching toolrouter.BuildToolCall's signature.
type BuildCallFunc func(item protocol.ResponseItem) (protocol.ToolCall, error)

// GateFunc blocks the first tool dispatch of a turn until a preparatory
// task (ghost snapshot) is ready. A nil GateFunc never blocks.
type GateFunc func(ctx context.Context) error

// RetryPolicy controls retry of transient model-stream failures, grounded
// on the teacher's FailoverConfig backoff shape and computed by
// internal/backoff's jittered exponential formula.
type RetryPolicy struct {
	MaxRetries int
	Policy     backoff.BackoffPolicy
}

// DefaultRetryPolicy mirrors the teacher's DefaultFailoverConfig values.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Policy: backoff.BackoffPolicy{InitialMs: 100, MaxMs: 5000, Factor: 2, Jitter: 0.1}}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	return backoff.ComputeBackoff(p.Policy, attempt+1)
}

// Engine drives a single conversation's turns.
type Engine struct {
	Provider  provider.Provider
	Router    ToolDispatcher
	BuildCall BuildCallFunc
	Retry     RetryPolicy

	// Telemetry is optional; a nil value makes every instrumentation call a
	// no-op, so tests can construct an Engine without a metrics registry.
	Telemetry *Telemetry
}

// New creates an Engine with DefaultRetryPolicy and no telemetry.
func New(p provider.Provider, router ToolDispatcher, buildCall BuildCallFunc) *Engine {
	return &Engine{Provider: p, Router: router, BuildCall: buildCall, Retry: DefaultRetryPolicy()}
}

// Outcome is the terminal result of RunTurn.
type Outcome string

const (
	OutcomeComplete Outcome = "task_complete"
	OutcomeAborted  Outcome = "turn_aborted"
	OutcomeError    Outcome = "turn_error"
)

// Result summarizes what happened in one call to RunTurn.
type Result struct {
	Outcome      Outcome
	NewItems     bool // true if any tool produced new conversation items, so C9 should start another turn
	ErrorMessage string
}

type pendingCall struct {
	callID    string
	startedAt time.Time
	completed bool
}

// RunTurn drives one model turn to completion, interruption, or error.
// cm.AssembleForModel() supplies the prompt; recorded items/events are
// pushed into cm and rw as they are produced, in emission order.
func (e *Engine) RunTurn(ctx context.Context, tc protocol.TurnContext, cm ContextManager, rw RolloutWriter, gate GateFunc) (Result, error) {
	start := time.Now()
	ctx, span := e.Telemetry.startSpan(ctx, "turn.run", attribute.String("model", tc.Model))

	prompt := cm.AssembleForModel()

	req := provider.Request{
		Model:            tc.Model,
		System:           prompt.SystemPrompt,
		Instructions:     prompt.Instructions,
		Items:            prompt.Items,
		ReasoningEffort:  tc.ReasoningEffort,
		ReasoningSummary: tc.ReasoningSummary,
	}

	var lastErr error
	for attempt := 0; attempt <= e.Retry.MaxRetries; attempt++ {
		result, err := e.runAttempt(ctx, tc, cm, rw, gate, req)
		if err == nil {
			e.Telemetry.recordOutcome(tc.Model, result.Outcome, time.Since(start))
			endSpan(span, nil)
			return result, nil
		}
		if errors.Is(err, errAborted) {
			e.Telemetry.recordOutcome(tc.Model, OutcomeAborted, time.Since(start))
			endSpan(span, nil)
			return Result{Outcome: OutcomeAborted}, nil
		}
		if !isRetryable(err) || attempt == e.Retry.MaxRetries {
			lastErr = err
			break
		}
		e.Telemetry.recordRetry(tc.Model)
		lastErr = err
		select {
		case <-ctx.Done():
			e.Telemetry.recordOutcome(tc.Model, OutcomeAborted, time.Since(start))
			endSpan(span, nil)
			return Result{Outcome: OutcomeAborted}, nil
		case <-time.After(e.Retry.backoff(attempt)):
		}
	}

	msg := lastErr.Error()
	_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventError, Message: msg})
	e.Telemetry.recordOutcome(tc.Model, OutcomeError, time.Since(start))
	endSpan(span, lastErr)
	return Result{Outcome: OutcomeError, ErrorMessage: msg}, nil
}

var errAborted = errors.New("turn: aborted")

type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func isRetryable(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// runAttempt runs exactly one model stream to completion, interruption, or
// a terminal failure. Retryable failures are returned wrapped in
// transientError so RunTurn's outer loop can retry them.
func (e *Engine) runAttempt(ctx context.Context, tc protocol.TurnContext, cm ContextManager, rw RolloutWriter, gate GateFunc, req provider.Request) (Result, error) {
	llmCtx, llmSpan := e.Telemetry.traceLLM(ctx, e.Provider.Name(), tc.Model)
	events, err := e.Provider.Stream(llmCtx, req)
	endSpan(llmSpan, err)
	if err != nil {
		return Result{}, &transientError{err}
	}

	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		pending     []pendingCall
		results     = make(map[string]toolruntime.Output)
		gateWaited  bool
		newItems    bool
		sawComplete bool
	)

	recordOutput := func(callID string, tcOut toolruntime.Output) {
		item := protocol.ResponseItem{
			Kind:      protocol.KindFunctionOutput,
			OutputFor: callID,
			Success:   tcOut.Success,
			Output:    tcOut.Text,
			CreatedAt: time.Now(),
		}
		cm.RecordItems(item)
		_ = rw.AppendResponseItem(item)
	}

	flushReady := func() {
		for i := range pending {
			if pending[i].completed {
				continue
			}
			out, ok := results[pending[i].callID]
			if !ok {
				return // preserve order: stop at the first not-yet-done call
			}
			pending[i].completed = true
			recordOutput(pending[i].callID, out)
			newItems = true
		}
	}

	dispatchOne := func(item protocol.ResponseItem) error {
		call, err := e.BuildCall(item)
		if err != nil {
			return fmt.Errorf("turn: build tool call: %w", err)
		}
		if gate != nil && !gateWaited {
			gateWaited = true
			if err := gate(ctx); err != nil {
				return err
			}
		}

		parallel := e.Router.ToolSupportsParallel(call.ToolName)
		if !parallel {
			wg.Wait()
			// Run aside so cancellation is seen even if the tool ignores ctx.
			var out toolruntime.Output
			var err error
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				toolCtx, toolSpan := e.Telemetry.traceTool(ctx, call.ToolName)
				dispatchStart := time.Now()
				out, err = e.Router.Dispatch(toolCtx, call, tc)
				e.Telemetry.recordToolDuration(call.ToolName, time.Since(dispatchStart))
				endSpan(toolSpan, err)
			}()
			select {
			case <-finished:
			case <-ctx.Done():
				return errAborted
			}
			if err != nil {
				return fmt.Errorf("turn: dispatch %s: %w", call.ToolName, err)
			}
			mu.Lock()
			results[call.CallID] = out
			flushReady()
			mu.Unlock()
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			toolCtx, toolSpan := e.Telemetry.traceTool(ctx, call.ToolName)
			dispatchStart := time.Now()
			out, err := e.Router.Dispatch(toolCtx, call, tc)
			e.Telemetry.recordToolDuration(call.ToolName, time.Since(dispatchStart))
			endSpan(toolSpan, err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[call.CallID] = toolruntime.Output{Success: false, Text: err.Error()}
			} else {
				results[call.CallID] = out
			}
			flushReady()
		}()
		return nil
	}

loop:
	for {
		select {
		case <-ctx.Done():
			return e.abort(ctx, cm, rw, &mu, &wg, pending, results)
		case evt, ok := <-events:
			if !ok {
				break loop
			}
			switch evt.Kind {
			case provider.EventItem:
				item := evt.Item
				if item.CreatedAt.IsZero() {
					item.CreatedAt = time.Now()
				}
				cm.RecordItems(item)
				_ = rw.AppendResponseItem(item)

				if item.IsCall() {
					mu.Lock()
					pending = append(pending, pendingCall{callID: item.CallID, startedAt: time.Now()})
					mu.Unlock()
					_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventExecBegin, CallID: item.CallID})
					if err := dispatchOne(item); err != nil {
						if errors.Is(err, errAborted) {
							return e.abort(ctx, cm, rw, &mu, &wg, pending, results)
						}
						return Result{}, err
					}
				}
			case provider.EventCompleted:
				sawComplete = true
			case provider.EventFailed:
				if evt.FailureCode == provider.FailureInsufficientQuota {
					e.Telemetry.recordQuotaExceeded()
					_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventError, Message: protocol.CanonicalQuotaExceeded})
					_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventTaskComplete})
					return Result{Outcome: OutcomeComplete}, nil
				}
				if evt.FailureCode == provider.FailureServerError {
					return Result{}, &transientError{evt.Err}
				}
				return Result{}, evt.Err
			}
		}
	}

	wg.Wait()
	mu.Lock()
	flushReady()
	mu.Unlock()

	for _, p := range pending {
		if !p.completed {
			return Result{}, fmt.Errorf("turn: call %s never produced an output", p.callID)
		}
		_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventExecEnd, CallID: p.callID})
	}

	if !sawComplete {
		return Result{}, &transientError{errors.New("turn: stream closed without a completion event")}
	}

	_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventTaskComplete})
	return Result{Outcome: OutcomeComplete, NewItems: newItems}, nil
}

// abort implements spec §4.8 step 5: synthesize an aborted output for
// every outstanding call, record a TurnAborted event, and return.
func (e *Engine) abort(ctx context.Context, cm ContextManager, rw RolloutWriter, mu *sync.Mutex, wg *sync.WaitGroup, pending []pendingCall, results map[string]toolruntime.Output) (Result, error) {
	// Give in-flight dispatches a short grace period to land a real result
	// before synthesizing abort outputs (spec §5: "best-effort... does not
	// await child teardown for longer than a short grace").
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	for _, p := range pending {
		if p.completed {
			continue
		}
		if _, ok := results[p.callID]; ok {
			continue
		}
		wall := time.Since(p.startedAt)
		item := protocol.AbortedOutput(p.callID, wall)
		cm.RecordItems(item)
		_ = rw.AppendResponseItem(item)
	}
	_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventTurnAborted})
	return Result{Outcome: OutcomeAborted}, errAborted
}

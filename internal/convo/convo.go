package convo

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/codexcore/agentcore/internal/contextmgr"
	"github.com/codexcore/agentcore/internal/observability"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/rollout"
	"github.com/codexcore/agentcore/internal/turn"
)

const submissionQueueSize = 64

// Engine is the subset of *turn.Engine a Conversation drives. Declared
// locally so tests can supply a fake.
type Engine interface {
	RunTurn(ctx context.Context, tc protocol.TurnContext, cm turn.ContextManager, rw turn.RolloutWriter, gate turn.GateFunc) (turn.Result, error)
}

// ToolIntrospector exposes read-only MCP/prompt listings for
// ListMcpTools/ListCustomPrompts. Left optional; a nil func reports none.
type ToolIntrospector func() []string

// Conversation is one conversation's submission-queue driver: it owns the
// single background goroutine that runs tasks sequentially, per spec
// §4.9's "one active task per conversation."
type Conversation struct {
	engine  Engine
	cm      *contextmgr.Manager
	rw      *rollout.Writer
	history *History

	mcpTools      ToolIntrospector
	customPrompts ToolIntrospector

	// NewGhostTask, if set, is invoked once per task to produce a fresh
	// GhostSnapshotTask run concurrently with the task's first turn.
	// Nil disables ghost-snapshot gating entirely (every gate is a no-op).
	NewGhostTask func() *GhostSnapshotTask

	// OnIdle, if set, is invoked each time the conversation returns to idle
	// with no chained task to run next — a synchronous driver (the CLI)
	// uses it to know a submitted task has finished without polling.
	OnIdle func()

	baseTC protocol.TurnContext

	// tracer spans each task from startTask through finishTask, when set.
	tracer *observability.Tracer

	submissions chan Submission

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// New creates a Conversation. baseTC supplies the turn context used for
// plain UserInput submissions; UserTurn submissions override it per-task.
func New(engine Engine, cm *contextmgr.Manager, rw *rollout.Writer, history *History, baseTC protocol.TurnContext) *Conversation {
	return &Conversation{
		engine:      engine,
		cm:          cm,
		rw:          rw,
		history:     history,
		baseTC:      baseTC,
		submissions: make(chan Submission, submissionQueueSize),
	}
}

// WithMCPTools sets the introspector ListMcpTools replies from, returning
// c for chaining at construction time. Nil (the default) reports no tools.
func (c *Conversation) WithMCPTools(f ToolIntrospector) *Conversation {
	c.mcpTools = f
	return c
}

// WithCustomPrompts sets the introspector ListCustomPrompts replies from.
func (c *Conversation) WithCustomPrompts(f ToolIntrospector) *Conversation {
	c.customPrompts = f
	return c
}

// WithTracer sets the tracer each task's run is spanned under. Nil (the
// default) leaves tasks untraced.
func (c *Conversation) WithTracer(tracer *observability.Tracer) *Conversation {
	c.tracer = tracer
	return c
}

// Submit enqueues a submission for processing by Run's background loop.
// Blocks if the queue is full, applying backpressure to the caller.
func (c *Conversation) Submit(s Submission) {
	c.submissions <- s
}

// Run drains the submission queue until ctx is cancelled or the queue is
// closed. Intended to be the single background goroutine per conversation
// (spec §4.9).
func (c *Conversation) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-c.submissions:
			if !ok {
				return
			}
			c.handle(ctx, sub)
		}
	}
}

func (c *Conversation) handle(ctx context.Context, sub Submission) {
	switch s := sub.(type) {
	case UserInput:
		c.enqueueOrStart(ctx, s.Items, c.baseTC)

	case UserTurn:
		tc := c.baseTC
		tc.WorkingDirectory = s.Cwd
		tc.ApprovalPolicy = s.ApprovalPolicy
		tc.SandboxPolicy = s.SandboxPolicy
		tc.Model = s.Model
		tc.ReasoningEffort = s.Effort
		tc.ReasoningSummary = s.Summary
		c.enqueueOrStart(ctx, s.Items, tc)

	case Interrupt:
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

	case Compact:
		c.mu.Lock()
		busy := c.active
		if busy {
			c.mu.Unlock()
			return // a task already occupies the slot; Compact is dropped
		}
		c.active = true
		compactCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.mu.Unlock()

		go func() {
			defer cancel()
			defer c.finishTask(ctx)
			if _, err := c.cm.Compact(compactCtx); err != nil {
				_ = c.rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventWarning, Message: "compaction failed: " + err.Error()})
			}
		}()

	case AddToHistory:
		if c.history != nil {
			_ = c.history.Append(HistoryEntry{Text: s.Text, Cwd: c.baseTC.WorkingDirectory})
		}

	case GetHistoryEntryRequest:
		var entry HistoryEntry
		if c.history != nil {
			entry, _ = c.history.EntryFromEnd(s.Offset)
		}
		trySend(s.Reply, entry)

	case GetPath:
		trySend(s.Reply, c.rw.Path())

	case ListMcpTools:
		trySend(s.Reply, c.listOrEmpty(c.mcpTools))

	case ListCustomPrompts:
		trySend(s.Reply, c.listOrEmpty(c.customPrompts))
	}
}

func (c *Conversation) listOrEmpty(f ToolIntrospector) []string {
	if f == nil {
		return nil
	}
	return f()
}

// trySend delivers a reply without blocking Run forever if the requester
// gave up; callers are expected to pass a buffered channel of size >= 1.
func trySend[T any](ch chan<- T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

// enqueueOrStart implements spec §4.9: if a task is active, items are
// buffered into C7's pending input; otherwise a fresh task starts.
func (c *Conversation) enqueueOrStart(ctx context.Context, items []protocol.ResponseItem, tc protocol.TurnContext) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		for _, item := range items {
			c.cm.PushPendingInput(item)
		}
		return
	}
	c.active = true
	c.mu.Unlock()

	c.startTask(ctx, items, tc)
}

// startTask runs one task to completion: an initial set of items plus zero
// or more model turns for as long as tool calls keep producing new
// conversation items, then drains any input queued while it ran and
// immediately starts the next task with it.
func (c *Conversation) startTask(parent context.Context, items []protocol.ResponseItem, tc protocol.TurnContext) {
	taskCtx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		defer c.finishTask(parent)

		if c.tracer != nil {
			var span trace.Span
			taskCtx, span = c.tracer.TraceMessageProcessing(taskCtx, "cli", "task", tc.WorkingDirectory)
			defer span.End()
		}

		c.cm.RecordItems(items...)
		for _, item := range items {
			_ = c.rw.AppendResponseItem(item)
		}

		gate := c.startGhostGate(taskCtx, tc)

		for {
			result, err := c.engine.RunTurn(taskCtx, tc, c.cm, c.rw, gate)
			if err != nil {
				_ = c.rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventError, Message: err.Error()})
				return
			}
			if result.Outcome != turn.OutcomeComplete || !result.NewItems {
				return
			}
			gate = nil // ghost gate only guards the first dispatch of a task
		}
	}()
}

// startGhostGate launches a GhostSnapshotTask for this task, if configured,
// and returns the GateFunc the turn engine should wait on before its first
// tool dispatch. Returns nil (no-op gate) when ghost snapshots are
// disabled for this conversation.
func (c *Conversation) startGhostGate(ctx context.Context, tc protocol.TurnContext) turn.GateFunc {
	if c.NewGhostTask == nil {
		return nil
	}
	task := c.NewGhostTask()
	if task == nil {
		return nil
	}
	gate := NewGhostGate()
	go task.Run(ctx, tc.WorkingDirectory, gate)
	return gate.Wait
}

// finishTask marks the conversation idle and, if input queued up while the
// task ran, starts the next task immediately with it (spec §4.9).
func (c *Conversation) finishTask(ctx context.Context) {
	pending := c.cm.PendingInputTake()

	c.mu.Lock()
	c.cancel = nil
	if len(pending) == 0 {
		c.active = false
		c.mu.Unlock()
		if c.OnIdle != nil {
			c.OnIdle()
		}
		return
	}
	c.mu.Unlock()

	c.startTask(ctx, pending, c.baseTC)
}

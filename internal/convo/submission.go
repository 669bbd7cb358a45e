// Package convo implements C9: the per-conversation submission queue, one
// active task per conversation, queued-input draining, and ghost-snapshot
// gating, wiring together the turn engine (C8), context manager (C7), and
// rollout writer (C1).
//
// Grounded on internal/process/command_queue.go's lane/queue/drain shape
// (one active task per lane, here per conversation) and
// internal/agent/steering.go's queued-message handling.
package convo

import "github.com/codexcore/agentcore/internal/protocol"

// Submission is the closed sum type of operations a conversation accepts,
// per spec §4.9.
type Submission interface {
	isSubmission()
}

// UserInput enqueues conversation items. If no task is active one starts
// immediately; otherwise the items are buffered into C7's pending input.
type UserInput struct {
	Items []protocol.ResponseItem
}

// UserTurn is a UserInput with a per-turn override bundle that becomes the
// turn context for the task it starts.
type UserTurn struct {
	Items                 []protocol.ResponseItem
	Cwd                   string
	ApprovalPolicy        protocol.ApprovalPolicy
	SandboxPolicy         protocol.SandboxPolicyKind
	Model                 string
	Effort                string
	Summary               string
	FinalOutputJSONSchema []byte
}

// Interrupt cancels the current task's token. A no-op if the conversation
// is idle.
type Interrupt struct{}

// Compact runs a compaction turn using C7. A no-op while a task is active;
// Compact itself counts as occupying the task slot while it runs.
type Compact struct{}

// AddToHistory appends text to the local cross-session history file.
type AddToHistory struct {
	Text string
}

// HistoryEntry is one line of the cross-session history file.
type HistoryEntry struct {
	Text string
	Cwd  string
}

// GetHistoryEntryRequest is a read-only introspection request for one
// history entry by offset from the end (0 = most recent).
type GetHistoryEntryRequest struct {
	Offset int
	Reply  chan<- HistoryEntry
}

// GetPath asks for the conversation's rollout file path.
type GetPath struct {
	Reply chan<- string
}

// ListMcpTools asks for the tool names exposed by connected MCP servers.
type ListMcpTools struct {
	Reply chan<- []string
}

// ListCustomPrompts asks for the names of configured custom prompts.
type ListCustomPrompts struct {
	Reply chan<- []string
}

func (UserInput) isSubmission()              {}
func (UserTurn) isSubmission()                {}
func (Interrupt) isSubmission()               {}
func (Compact) isSubmission()                 {}
func (AddToHistory) isSubmission()            {}
func (GetHistoryEntryRequest) isSubmission()  {}
func (GetPath) isSubmission()                 {}
func (ListMcpTools) isSubmission()            {}
func (ListCustomPrompts) isSubmission()       {}

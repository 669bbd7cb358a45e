package protocol

import (
	"encoding/json"
	"time"
)

// RecordType enumerates the rollout line types (spec §3, §6).
type RecordType string

const (
	RecordSessionMeta  RecordType = "session_meta"
	RecordResponseItem RecordType = "response_item"
	RecordEventMsg     RecordType = "event_msg"
	RecordTurnContext  RecordType = "turn_context"
	RecordCompacted    RecordType = "compacted"
)

// Record is one JSONL line of a rollout file.
type Record struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      RecordType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionMeta is the payload of the mandatory first record of every
// rollout file.
type SessionMeta struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Cwd           string `json:"cwd"`
	Originator    string `json:"originator"`
	CLIVersion    string `json:"cli_version"`
	Instructions  string `json:"instructions,omitempty"`
	Source        string `json:"source"`
	ModelProvider string `json:"model_provider,omitempty"`
}

// EventKind tags an event_msg payload.
type EventKind string

const (
	EventTaskComplete       EventKind = "task_complete"
	EventTurnAborted        EventKind = "turn_aborted"
	EventError              EventKind = "error"
	EventWarning             EventKind = "warning"
	EventDeprecationNotice  EventKind = "deprecation_notice"
	EventBackground         EventKind = "background_event"
	EventExecBegin          EventKind = "exec_command_begin"
	EventExecEnd            EventKind = "exec_command_end"
)

// EventMsg is the payload of an event_msg record.
type EventMsg struct {
	Kind       EventKind       `json:"kind"`
	Message    string          `json:"message,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	OldName    string          `json:"old_name,omitempty"`
	NewName    string          `json:"new_name,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	Output     string          `json:"output,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// CanonicalQuotaExceeded is the exact user-visible message spec §7/§8
// require for a quota-exceeded turn error.
const CanonicalQuotaExceeded = "Quota exceeded. Check your plan and billing details."

// TurnContext is the immutable per-turn bundle shared by reference into
// the turn engine and every tool runtime invoked for that turn (spec §3).
type TurnContext struct {
	WorkingDirectory string
	ApprovalPolicy   ApprovalPolicy
	SandboxPolicy    SandboxPolicyKind
	Model            string
	ReasoningEffort  string
	ReasoningSummary string
	SubmissionID     string
}

// ApprovalPolicy enumerates the recognized approval policies (spec §4.4).
type ApprovalPolicy string

const (
	ApprovalNever          ApprovalPolicy = "never"
	ApprovalOnRequest      ApprovalPolicy = "on_request"
	ApprovalUnlessTrusted  ApprovalPolicy = "unless_trusted"
	ApprovalAlways         ApprovalPolicy = "always"
)

// SandboxPolicyKind enumerates the recognized sandbox policies (spec §4.4).
type SandboxPolicyKind string

const (
	SandboxReadOnly         SandboxPolicyKind = "read_only"
	SandboxWorkspaceWrite   SandboxPolicyKind = "workspace_write"
	SandboxDangerFullAccess SandboxPolicyKind = "danger_full_access"
)

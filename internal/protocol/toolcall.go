package protocol

import (
	"encoding/json"
	"time"
)

// ToolCall is the normalized shape C6 produces from a response item:
// {tool_name, call_id, payload}.
type ToolCall struct {
	ToolName string          `json:"tool_name"`
	CallID   string          `json:"call_id"`
	Kind     PayloadKind     `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// PayloadKind distinguishes the shape of ToolCall.Payload.
type PayloadKind string

const (
	PayloadFunction    PayloadKind = "function"
	PayloadMCP         PayloadKind = "mcp"
	PayloadLocalShell  PayloadKind = "local_shell"
	PayloadCustom      PayloadKind = "custom"
	PayloadUnifiedExec PayloadKind = "unified_exec"
)

// MCPPayload is the decoded shape of a PayloadMCP ToolCall.
type MCPPayload struct {
	Server   string          `json:"server"`
	Tool     string          `json:"tool"`
	RawArgs  json.RawMessage `json:"raw_args"`
}

// LocalShellPayload is the decoded shape of a PayloadLocalShell ToolCall.
type LocalShellPayload struct {
	Command   []string `json:"command"`
	Workdir   string   `json:"workdir,omitempty"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
}

// CustomPayload is the decoded shape of a PayloadCustom ToolCall.
type CustomPayload struct {
	Input string `json:"input"`
}

// UnifiedExecPayload is the decoded shape of a PayloadUnifiedExec ToolCall.
type UnifiedExecPayload struct {
	Args []string `json:"args"`
}

// CommandSpec is the canonical input to the sandbox orchestrator (C4) and
// the process-spawning tool runtimes (C5).
type CommandSpec struct {
	Program       string            `json:"program"`
	Args          []string          `json:"args"`
	Cwd           string            `json:"cwd"`
	Env           map[string]string `json:"env,omitempty"`
	TimeoutMs     int64             `json:"timeout_ms,omitempty"`
	Escalated     bool              `json:"escalated,omitempty"`
	Justification string            `json:"justification,omitempty"`
}

// ExecResult is the outcome of running a CommandSpec.
type ExecResult struct {
	ExitCode         int           `json:"exit_code"`
	AggregatedOutput string        `json:"aggregated_output"`
	FormattedOutput  string        `json:"formatted_output"`
	Duration         time.Duration `json:"duration"`
	TimedOut         bool          `json:"timed_out"`
}

// ApprovalRisk is the model-attached risk classification for an exec
// approval request (spec §6).
type ApprovalRisk struct {
	Description string `json:"description"`
	RiskLevel   string `json:"risk_level"` // low, medium, high
}

// Package protocol defines the wire-agnostic data model shared by the turn
// engine, tool router, context manager, and rollout recorder: response
// items, tool calls, command specs, and rollout records.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemKind tags the variant of a ResponseItem.
type ItemKind string

const (
	KindAssistantMessage  ItemKind = "assistant_message"
	KindUserMessage       ItemKind = "user_message"
	KindReasoningSummary  ItemKind = "reasoning_summary"
	KindReasoningRaw      ItemKind = "reasoning_raw"
	KindFunctionCall      ItemKind = "function_call"
	KindCustomToolCall    ItemKind = "custom_tool_call"
	KindLocalShellCall    ItemKind = "local_shell_call"
	KindFunctionOutput    ItemKind = "function_call_output"
	KindMCPToolCallOutput ItemKind = "mcp_tool_call_output"
	KindGhostSnapshot     ItemKind = "ghost_snapshot"
	KindOther             ItemKind = "other"
)

// ResponseItem is the tagged-variant type produced by the model stream and
// persisted into the rollout. Unknown kinds are preserved via Raw so that
// resume never drops a record it doesn't understand (design note: tagged
// variants for forward compatibility).
type ResponseItem struct {
	Kind ItemKind `json:"kind"`

	// Text-bearing variants (assistant_message, user_message,
	// reasoning_summary, reasoning_raw).
	Text string `json:"text,omitempty"`

	// Call-bearing variants (function_call, custom_tool_call,
	// local_shell_call). CallID must be unique within a turn.
	CallID   string          `json:"call_id,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// Output-bearing variants (function_call_output, mcp_tool_call_output).
	// OutputFor references the CallID of the call this output answers.
	OutputFor string `json:"output_for,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Output    string `json:"output,omitempty"`

	// GhostSnapshot carries the checkpoint ref for KindGhostSnapshot items.
	SnapshotRef string `json:"snapshot_ref,omitempty"`

	// Raw preserves the original encoding for KindOther / unknown tags so
	// resume can re-emit them unchanged.
	Raw json.RawMessage `json:"raw,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsCall reports whether the item represents a model-emitted call that
// requires exactly one matching output before the turn ends.
func (r ResponseItem) IsCall() bool {
	switch r.Kind {
	case KindFunctionCall, KindCustomToolCall, KindLocalShellCall:
		return true
	default:
		return false
	}
}

// IsOutput reports whether the item is an output answering some call.
func (r ResponseItem) IsOutput() bool {
	switch r.Kind {
	case KindFunctionOutput, KindMCPToolCallOutput:
		return true
	default:
		return false
	}
}

// AbortedOutput synthesizes a function-call-output item for a call that was
// interrupted mid-flight, so the "every call has exactly one output"
// invariant holds across an Interrupt or a resume (spec §4.7 invariant).
func AbortedOutput(callID string, wall time.Duration) ResponseItem {
	return ResponseItem{
		Kind:      KindFunctionOutput,
		OutputFor: callID,
		Success:   false,
		Output:    AbortedMessage(wall),
		CreatedAt: time.Now(),
	}
}

// AbortedMessage renders the canonical abort text checked by spec §8's
// end-to-end interrupt scenario: `^Wall time: [0-9]+(?:\.[0-9])? seconds\naborted by user$`.
func AbortedMessage(wall time.Duration) string {
	return fmt.Sprintf("Wall time: %.1f seconds\naborted by user", wall.Seconds())
}

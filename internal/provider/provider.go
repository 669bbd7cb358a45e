// Package provider defines the narrow collaborator boundary the turn
// engine depends on to talk to a model backend. No concrete wire client
// lives here: that is explicitly out of scope, the same way the teacher
// keeps LLMProvider an interface in internal/agent and pushes concrete
// wire clients into internal/providers.
package provider

import (
	"context"

	"github.com/codexcore/agentcore/internal/protocol"
)

// Model describes one model a provider exposes.
type Model struct {
	ID              string
	ContextWindow   int
	SupportsTools   bool
	ReasoningEffort []string
}

// Request is everything the turn engine sends upstream for one model turn.
type Request struct {
	Model            string
	System           string
	Instructions     string
	Items            []protocol.ResponseItem
	Tools            []ToolDef
	ReasoningEffort  string
	ReasoningSummary string
}

// ToolDef is the wire-facing shape of a tool spec, independent of
// toolrouter.Spec so this package never imports it.
type ToolDef struct {
	Name        string
	Description string
	Schema      []byte
}

// EventKind tags a streamed Event.
type EventKind int

const (
	EventItem EventKind = iota
	EventTokenCount
	EventCompleted
	EventFailed
)

// FailureCode enumerates provider-reported terminal failures the turn
// engine maps to specific turn-level outcomes (spec §7/§8).
type FailureCode string

const (
	FailureInsufficientQuota FailureCode = "insufficient_quota"
	FailureServerError       FailureCode = "server_error"
	FailureOther             FailureCode = "other"
)

// Event is one item in the streamed response.
type Event struct {
	Kind        EventKind
	Item        protocol.ResponseItem
	InputTokens int
	OutputTokens int
	FailureCode FailureCode
	Err         error
}

// Provider is the narrow boundary the turn engine depends on. Concrete
// wire clients (Chat Completions, Responses API, Anthropic Messages, ...)
// implement this outside the agent runtime core.
type Provider interface {
	Name() string
	Models() []Model
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

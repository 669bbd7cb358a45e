// Package toolruntime implements the five tool runtimes C6 dispatches into:
// shell, unified PTY exec, apply-patch, MCP-proxied tools, and custom
// opaque tools. The shell, unified-exec and apply-patch runtimes also
// implement sandbox.Approvable; of these, only the shell runtime runs
// through C4's approval/sandbox state machine.
package toolruntime

import (
	"context"

	"github.com/codexcore/agentcore/internal/protocol"
)

// Output is the uniform result every runtime returns to the tool router,
// regardless of whether the call succeeded.
type Output struct {
	Success bool
	Text    string
	Detail  any
}

// Runtime executes one normalized tool call and returns a model-visible
// output.
type Runtime interface {
	Name() string
	Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (Output, error)
}

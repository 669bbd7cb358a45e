package toolruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/codexcore/agentcore/internal/approval"
	"github.com/codexcore/agentcore/internal/exec"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/sandbox"
)

// dangerousPatterns classifies shell commands a default policy treats as
// requiring approval even under `on_request`, mirroring the teacher's
// approval-by-pattern predicate (internal/tools/policy/approval.go) adapted
// from tool-name allow/deny lists to command-text classification.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-rf\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\bcurl\b.*\|\s*sh\b`),
	regexp.MustCompile(`\bchmod\s+-R\s+777\b`),
}

// IsDangerous reports whether command matches one of the default dangerous
// shell patterns.
func IsDangerous(command string) bool {
	for _, re := range dangerousPatterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// OutputSink receives a shell call's stdout/stderr keyed by (sub_id,
// call_id). ShellRuntime writes the aggregated output once, after the
// command has finished; output is not streamed while the command runs.
type OutputSink interface {
	Write(subID, callID string, chunk []byte)
}

// NopSink discards streamed output; used when no UI is attached.
type NopSink struct{}

// Write implements OutputSink.
func (NopSink) Write(string, string, []byte) {}

// AskFunc prompts the user for an approval decision on a shell command.
type AskFunc func(ctx context.Context, spec protocol.CommandSpec, reason sandbox.AskReason, risk *protocol.ApprovalRisk) (approval.Decision, error)

// ShellRuntime executes shell commands through a sandbox.Orchestrator.
type ShellRuntime struct {
	orchestrator *sandbox.Orchestrator
	policy       sandbox.Policy
	ask          AskFunc
	sink         OutputSink
}

// NewShellRuntime builds a ShellRuntime. ask supplies the approval prompt
// callback; sink receives streamed output (use NopSink{} if none).
func NewShellRuntime(orchestrator *sandbox.Orchestrator, policy sandbox.Policy, ask AskFunc, sink OutputSink) *ShellRuntime {
	if sink == nil {
		sink = NopSink{}
	}
	return &ShellRuntime{orchestrator: orchestrator, policy: policy, ask: ask, sink: sink}
}

// Name implements Runtime.
func (r *ShellRuntime) Name() string { return "shell" }

// Preference implements sandbox.Approvable.
func (r *ShellRuntime) Preference() sandbox.Preference { return sandbox.PreferenceAuto }

// EscalateOnFailure implements sandbox.Approvable.
func (r *ShellRuntime) EscalateOnFailure() bool { return true }

// WantsInitialApproval implements sandbox.Approvable: required when the
// policy predicate classifies the command as dangerous, the caller asked
// for escalated permissions, or the approval policy demands asking for
// every spawn.
func (r *ShellRuntime) WantsInitialApproval(spec protocol.CommandSpec, approvalPolicy protocol.ApprovalPolicy, _ protocol.SandboxPolicyKind) bool {
	if approvalPolicy == protocol.ApprovalAlways {
		return true
	}
	if approvalPolicy == protocol.ApprovalNever {
		return false
	}
	command := strings.Join(append([]string{spec.Program}, spec.Args...), " ")
	return spec.Escalated || IsDangerous(command)
}

// Key implements sandbox.Approvable: (command, cwd, escalated).
func (r *ShellRuntime) Key(spec protocol.CommandSpec) approval.Key {
	command := strings.Join(append([]string{spec.Program}, spec.Args...), " ")
	return approval.ShellKey(command, spec.Cwd, spec.Escalated)
}

// Ask implements sandbox.Approvable.
func (r *ShellRuntime) Ask(ctx context.Context, spec protocol.CommandSpec, reason sandbox.AskReason, risk *protocol.ApprovalRisk) (approval.Decision, error) {
	if r.ask == nil {
		return approval.Denied, nil
	}
	return r.ask(ctx, spec, reason, risk)
}

// Execute decodes the call's LocalShellPayload and runs it through the
// orchestrator.
func (r *ShellRuntime) Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (Output, error) {
	var payload protocol.LocalShellPayload
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		return Output{}, fmt.Errorf("shell: decode payload: %w", err)
	}
	if len(payload.Command) == 0 {
		return Output{Success: false, Text: "shell: command is required"}, nil
	}

	spec := protocol.CommandSpec{
		Program:   payload.Command[0],
		Args:      payload.Command[1:],
		Cwd:       firstNonEmpty(payload.Workdir, tc.WorkingDirectory),
		TimeoutMs: payload.TimeoutMs,
	}

	// Args are passed directly to the process (argv), never through a
	// shell, so shell metacharacters inside an argument are ordinary
	// content (e.g. a grep pattern). Only the executable itself — which a
	// model could disguise as an inline shell pipeline — is validated.
	if !exec.IsSafeExecutableValue(spec.Program) {
		return Output{Success: false, Text: fmt.Sprintf("shell: unsafe executable value %q", spec.Program)}, nil
	}

	result, err := r.orchestrator.Run(ctx, spec, r, tc, r.policy, nil)
	if err != nil {
		var toolErr *sandbox.ToolError
		if errors.As(err, &toolErr) {
			return Output{Success: false, Text: toolErr.Error()}, nil
		}
		return Output{Success: false, Text: err.Error()}, nil
	}

	r.sink.Write(tc.SubmissionID, call.CallID, []byte(result.AggregatedOutput))
	return Output{Success: result.ExitCode == 0, Text: result.FormattedOutput, Detail: result}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package sandbox implements the sandboxing orchestrator (C4): the initial
// approval gate, a sandboxed attempt, automatic escalation on sandbox
// denial, and translation of the turn's sandbox policy into a backend
// invocation. The orchestrator never spawns a process itself — it drives a
// Backend, the same separation the teacher draws between its Executor and
// its pluggable Docker/Firecracker/Daytona backends.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/codexcore/agentcore/internal/approval"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/ratelimit"
)

// Preference is a runtime's declared sandbox affinity.
type Preference string

const (
	PreferenceAuto   Preference = "auto"
	PreferenceNever  Preference = "never"
	PreferenceAlways Preference = "always"
)

// ErrSandboxDenied is returned by a Backend when the command was blocked by
// the sandbox mechanism itself (not a process exit failure).
var ErrSandboxDenied = errors.New("sandbox: command denied by sandbox policy")

// Approvable is the set of capability hooks a tool runtime exposes to the
// orchestrator so it can drive approval without knowing the runtime's
// internal shape.
type Approvable interface {
	// Preference reports this runtime's sandbox affinity.
	Preference() Preference

	// EscalateOnFailure reports whether a sandbox denial should trigger an
	// automatic re-ask with sandbox bypassed.
	EscalateOnFailure() bool

	// WantsInitialApproval reports whether this specific command spec, under
	// the given approval/sandbox policy, must be approved before the first
	// attempt is made at all.
	WantsInitialApproval(spec protocol.CommandSpec, approvalPolicy protocol.ApprovalPolicy, sandboxPolicy protocol.SandboxPolicyKind) bool

	// Key returns the stable approval key for this command spec.
	Key(spec protocol.CommandSpec) approval.Key

	// Ask prompts for a decision, given the reason generating the prompt
	// (initial gate vs. sandbox-denial retry) and any risk classification
	// the model attached to the call.
	Ask(ctx context.Context, spec protocol.CommandSpec, reason AskReason, risk *protocol.ApprovalRisk) (approval.Decision, error)
}

// AskReason distinguishes why C4 is asking for approval.
type AskReason string

const (
	AskInitialGate    AskReason = "initial_gate"
	AskSandboxDeniedRetry AskReason = "sandbox_denied_retry"
)

// Backend actually spawns a command under a translated sandbox policy.
type Backend interface {
	// Run executes spec under the given sandbox attempt. If the sandbox
	// mechanism itself blocks the command, Run returns ErrSandboxDenied
	// (wrapped or bare) alongside whatever partial result is available.
	Run(ctx context.Context, attempt Attempt) (protocol.ExecResult, error)
}

// Attempt is the canonical input to a Backend: a command spec plus the
// concrete sandbox policy in effect for this one attempt. Bypassed is true
// on the escalation retry, when the sandbox is deliberately skipped.
type Attempt struct {
	Spec     protocol.CommandSpec
	Policy   Policy
	Bypassed bool
}

// Policy is the orchestrator's translation of a turn's SandboxPolicyKind
// into concrete, resolved parameters a Backend can act on.
type Policy struct {
	Kind             protocol.SandboxPolicyKind
	WritableRoots    []string
	NetworkAccess    bool
	ExcludeTmpdirEnv bool
	ExcludeSlashTmp  bool
}

// ResolvePolicy builds a Policy from a turn's sandbox policy kind, the
// turn's cwd (always added to WorkspaceWrite's writable roots), and
// additional writable roots from configuration, canonicalized relative to
// base.
func ResolvePolicy(kind protocol.SandboxPolicyKind, cwd, base string, extraRoots []string, networkAccess, excludeTmpdirEnv, excludeSlashTmp bool) (Policy, error) {
	p := Policy{Kind: kind}
	if kind != protocol.SandboxWorkspaceWrite {
		return p, nil
	}

	roots := make([]string, 0, len(extraRoots)+1)
	roots = append(roots, cwd)
	for _, r := range extraRoots {
		resolved := r
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(base, resolved)
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			return Policy{}, fmt.Errorf("sandbox: resolve writable root %q: %w", r, err)
		}
		roots = append(roots, abs)
	}

	p.WritableRoots = roots
	p.NetworkAccess = networkAccess
	p.ExcludeTmpdirEnv = excludeTmpdirEnv
	p.ExcludeSlashTmp = excludeSlashTmp
	return p, nil
}

// ToolError is the structured failure C4 hands back to the turn engine when
// a spawn never happened (rejected at the gate) or was denied after retry.
type ToolError struct {
	Reason string
	Risk   *protocol.ApprovalRisk
}

func (e *ToolError) Error() string { return e.Reason }

// Orchestrator drives the approval-gate / attempt / escalate-on-denial
// state machine for a single conversation's approval cache.
type Orchestrator struct {
	approvals *approval.Store
	backend   Backend

	// limiter caps how many command attempts this orchestrator spawns per
	// second, guarding against a misbehaving model issuing runaway shell
	// calls. Nil (the default from New) means unlimited.
	limiter *ratelimit.Bucket

	// policy forbids spawning certain programs outright, checked before the
	// approval gate so a forbidden command is rejected even under
	// AskForApproval::Never + DangerFullAccess. Nil means nothing is
	// forbidden.
	policy *ExecPolicy
}

// New creates an Orchestrator over the given per-conversation approval
// store and command-spawning backend, with no attempt rate limit.
func New(approvals *approval.Store, backend Backend) *Orchestrator {
	return &Orchestrator{approvals: approvals, backend: backend}
}

// WithRateLimit caps attempted command spawns to cfg's token-bucket rate,
// returning o for chaining at construction time.
func (o *Orchestrator) WithRateLimit(cfg ratelimit.Config) *Orchestrator {
	if cfg.Enabled {
		o.limiter = ratelimit.NewBucket(cfg)
	}
	return o
}

// WithExecPolicy installs a forbidden-command policy, returning o for
// chaining at construction time. A nil policy is a no-op.
func (o *Orchestrator) WithExecPolicy(policy *ExecPolicy) *Orchestrator {
	o.policy = policy
	return o
}

// Run executes the four-step state machine described in the component
// design: initial-approval gate, first sandboxed attempt, escalate-on-denial
// retry (at most once — C4 never attempts a command more than twice), and
// surfacing of any other failure.
func (o *Orchestrator) Run(ctx context.Context, spec protocol.CommandSpec, appr Approvable, tc protocol.TurnContext, policy Policy, risk *protocol.ApprovalRisk) (protocol.ExecResult, error) {
	// Step 0: execpolicy forbid check, ahead of approval entirely — a
	// forbidden command stays forbidden even under AskForApproval::Never
	// with a fully-open sandbox policy.
	if o.policy.Forbids(spec.Program) {
		return protocol.ExecResult{}, &ToolError{Reason: ErrForbiddenByPolicy, Risk: risk}
	}

	// Step 1: initial-approval gate.
	if appr.WantsInitialApproval(spec, tc.ApprovalPolicy, tc.SandboxPolicy) {
		dec, err := o.approvals.GetOrCompute(ctx, appr.Key(spec), func(ctx context.Context) (approval.Decision, error) {
			return appr.Ask(ctx, spec, AskInitialGate, risk)
		})
		if err != nil {
			return protocol.ExecResult{}, fmt.Errorf("sandbox: initial approval: %w", err)
		}
		if !dec.Allowed() {
			return protocol.ExecResult{}, &ToolError{Reason: "rejected: command was not approved", Risk: risk}
		}
	}

	if o.limiter != nil && !o.limiter.Allow() {
		return protocol.ExecResult{}, &ToolError{Reason: "rejected: command attempt rate limit exceeded", Risk: risk}
	}

	// Step 2: first attempt, sandbox bypassed only if the caller explicitly
	// requested escalated permissions.
	attempt := Attempt{Spec: spec, Policy: policy, Bypassed: spec.Escalated}
	result, err := o.backend.Run(ctx, attempt)
	if err == nil {
		return result, nil
	}

	if !errors.Is(err, ErrSandboxDenied) {
		// Step 4: non-sandbox failure, surfaced as-is.
		return result, err
	}

	// Step 3: sandbox-denial retry, at most once.
	if !appr.EscalateOnFailure() {
		return result, err
	}

	dec, askErr := o.approvals.GetOrCompute(ctx, appr.Key(spec), func(ctx context.Context) (approval.Decision, error) {
		return appr.Ask(ctx, spec, AskSandboxDeniedRetry, risk)
	})
	if askErr != nil {
		return protocol.ExecResult{}, fmt.Errorf("sandbox: escalation approval: %w", askErr)
	}
	if !dec.Allowed() {
		// Denied: return the original sandbox-denial result to the model,
		// not a fresh rejection — the model sees why the command failed.
		return result, err
	}

	escalated := Attempt{Spec: spec, Policy: policy, Bypassed: true}
	return o.backend.Run(ctx, escalated)
}

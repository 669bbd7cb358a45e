package sandbox

import "strings"

// ExecPolicy is a small prefix-match blocklist, the Go counterpart of the
// original Rust implementation's `.codexpolicy` file format
// (`prefix_rule(pattern=["echo"], decision="forbidden")`). agentcore's
// config carries the equivalent as a plain list of forbidden program
// prefixes (internal/config's ExecPolicyConfig), decoded once at startup
// rather than parsed from a standalone policy file — there's no spec
// requirement for a separate DSL, just for the forbid-before-spawn
// behavior and its exact rejection text.
type ExecPolicy struct {
	forbidden []string
}

// NewExecPolicy builds a policy that forbids any command whose program name
// starts with one of the given prefixes; the arguments are not checked.
// Empty/blank prefixes are ignored.
func NewExecPolicy(forbiddenPrefixes []string) *ExecPolicy {
	p := &ExecPolicy{}
	for _, prefix := range forbiddenPrefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			p.forbidden = append(p.forbidden, prefix)
		}
	}
	return p
}

// Forbids reports whether program matches one of the policy's forbidden
// prefixes. A nil *ExecPolicy forbids nothing, so an orchestrator with no
// configured policy behaves exactly as before this feature existed.
func (p *ExecPolicy) Forbids(program string) bool {
	if p == nil {
		return false
	}
	for _, prefix := range p.forbidden {
		if strings.HasPrefix(program, prefix) {
			return true
		}
	}
	return false
}

// ErrForbiddenByPolicy is the reason text surfaced to the model verbatim,
// matching the original implementation's end-to-end contract
// (core/tests/suite/exec_policy.rs asserts on this exact substring).
const ErrForbiddenByPolicy = "execpolicy forbids this command"

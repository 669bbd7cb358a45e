// Package config loads config.toml: model/approval/sandbox defaults,
// named model providers, profile overlays, optional tool toggles, and
// feature flags, per spec §6.
//
// Load decodes config.toml with BurntSushi/toml directly into a Config
// seeded from Default(); there is no intermediate generic map and no file
// include step. Named profiles are applied afterwards by WithProfile.
package config

import (
	"time"

	"github.com/codexcore/agentcore/internal/protocol"
)

// Config is the decoded contents of config.toml. Fields also carry yaml
// tags, decoupled from the toml names where TOML and YAML idiomatically
// case keys differently, so Dump's diagnostic rendering reads naturally
// rather than leaking TOML's table syntax into a YAML document.
type Config struct {
	Model                 string                          `toml:"model" yaml:"model"`
	ApprovalPolicy        protocol.ApprovalPolicy         `toml:"approval_policy" yaml:"approvalPolicy"`
	SandboxMode           protocol.SandboxPolicyKind      `toml:"sandbox_mode" yaml:"sandboxMode"`
	SandboxWorkspaceWrite SandboxWorkspaceWriteConfig     `toml:"sandbox_workspace_write" yaml:"sandboxWorkspaceWrite"`
	ModelReasoningEffort  string                          `toml:"model_reasoning_effort" yaml:"modelReasoningEffort"`
	ModelReasoningSummary string                          `toml:"model_reasoning_summary" yaml:"modelReasoningSummary"`
	ModelVerbosity        string                          `toml:"model_verbosity" yaml:"modelVerbosity"`
	ModelProviders        map[string]ModelProviderConfig  `toml:"model_providers" yaml:"modelProviders,omitempty"`
	Profiles              map[string]ProfileConfig        `toml:"profiles" yaml:"profiles,omitempty"`
	Tools                 ToolsConfig                     `toml:"tools" yaml:"tools"`
	Features              map[string]bool                 `toml:"features" yaml:"features,omitempty"`
	Rollout               RolloutConfig                   `toml:"rollout" yaml:"rollout"`
	MCPServers            map[string]MCPServerConfig      `toml:"mcp_servers" yaml:"mcpServers,omitempty"`
	ExecPolicy            ExecPolicyConfig                `toml:"execpolicy" yaml:"execPolicy"`
	Tracing               TracingConfig                   `toml:"tracing" yaml:"tracing"`
}

// TracingConfig configures internal/observability's OpenTelemetry tracer.
// An empty Endpoint (the default) keeps the tracer a no-op, matching
// observability.NewTracer's own fallback.
type TracingConfig struct {
	Endpoint       string  `toml:"endpoint" yaml:"endpoint"`
	SamplingRate   float64 `toml:"sampling_rate" yaml:"samplingRate"`
	EnableInsecure bool    `toml:"enable_insecure" yaml:"enableInsecure"`
}

// ExecPolicyConfig lists program-name prefixes the sandbox orchestrator
// rejects before the approval gate even runs, regardless of approval or
// sandbox policy — the Go config-table equivalent of a `.codexpolicy`
// prefix_rule file.
type ExecPolicyConfig struct {
	ForbiddenPrefixes []string `toml:"forbidden_prefixes" yaml:"forbiddenPrefixes,omitempty"`
}

// SandboxWorkspaceWriteConfig tunes the workspace-write sandbox policy.
type SandboxWorkspaceWriteConfig struct {
	WritableRoots       []string `toml:"writable_roots" yaml:"writableRoots,omitempty"`
	NetworkAccess       bool     `toml:"network_access" yaml:"networkAccess"`
	ExcludeTmpdirEnvVar bool     `toml:"exclude_tmpdir_env_var" yaml:"excludeTmpdirEnvVar"`
	ExcludeSlashTmp     bool     `toml:"exclude_slash_tmp" yaml:"excludeSlashTmp"`
}

// ModelProviderConfig describes one named model provider endpoint.
type ModelProviderConfig struct {
	Name          string        `toml:"name" yaml:"name"`
	BaseURL       string        `toml:"base_url" yaml:"baseURL"`
	WireAPI       string        `toml:"wire_api" yaml:"wireAPI"` // "chat" | "responses"
	MaxRetries    int           `toml:"max_retries" yaml:"maxRetries"`
	RetryBaseWait time.Duration `toml:"retry_base_wait" yaml:"retryBaseWait"`
}

// ProfileConfig is a named override bundle layered over the top-level
// defaults by WithProfile, which copies each non-empty profile field over
// the corresponding top-level value.
type ProfileConfig struct {
	Model                 string                     `toml:"model" yaml:"model,omitempty"`
	ApprovalPolicy        protocol.ApprovalPolicy    `toml:"approval_policy" yaml:"approvalPolicy,omitempty"`
	SandboxMode           protocol.SandboxPolicyKind `toml:"sandbox_mode" yaml:"sandboxMode,omitempty"`
	ModelReasoningEffort  string                     `toml:"model_reasoning_effort" yaml:"modelReasoningEffort,omitempty"`
	ModelReasoningSummary string                     `toml:"model_reasoning_summary" yaml:"modelReasoningSummary,omitempty"`
}

// ToolsConfig toggles optional tool runtimes on or off.
type ToolsConfig struct {
	UnifiedExec bool `toml:"unified_exec" yaml:"unifiedExec"`
	ApplyPatch  bool `toml:"apply_patch" yaml:"applyPatch"`
	WebSearch   bool `toml:"web_search" yaml:"webSearch"`
}

// RolloutConfig overrides where C1 writes session files.
type RolloutConfig struct {
	HomeDir string `toml:"home_dir" yaml:"homeDir,omitempty"`
}

// MCPServerConfig describes one configured MCP server connection.
type MCPServerConfig struct {
	Command string            `toml:"command" yaml:"command,omitempty"`
	Args    []string          `toml:"args" yaml:"args,omitempty"`
	URL     string            `toml:"url" yaml:"url,omitempty"`
	Env     map[string]string `toml:"env" yaml:"env,omitempty"`
}

// Default returns the built-in defaults applied before config.toml is
// merged in, matching spec §6's stated defaults.
func Default() Config {
	return Config{
		ApprovalPolicy: protocol.ApprovalOnRequest,
		SandboxMode:    protocol.SandboxWorkspaceWrite,
	}
}

// WithProfile returns a copy of cfg with the named profile's non-zero
// fields layered over the top-level defaults. An unknown profile name
// returns cfg unchanged.
func (c Config) WithProfile(name string) Config {
	profile, ok := c.Profiles[name]
	if !ok {
		return c
	}
	merged := c
	if profile.Model != "" {
		merged.Model = profile.Model
	}
	if profile.ApprovalPolicy != "" {
		merged.ApprovalPolicy = profile.ApprovalPolicy
	}
	if profile.SandboxMode != "" {
		merged.SandboxMode = profile.SandboxMode
	}
	if profile.ModelReasoningEffort != "" {
		merged.ModelReasoningEffort = profile.ModelReasoningEffort
	}
	if profile.ModelReasoningSummary != "" {
		merged.ModelReasoningSummary = profile.ModelReasoningSummary
	}
	return merged
}

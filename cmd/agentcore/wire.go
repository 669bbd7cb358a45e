package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/codexcore/agentcore/cmd/agentcore/tui"
	"github.com/codexcore/agentcore/internal/approval"
	"github.com/codexcore/agentcore/internal/config"
	"github.com/codexcore/agentcore/internal/contextmgr"
	"github.com/codexcore/agentcore/internal/convo"
	"github.com/codexcore/agentcore/internal/mcp"
	"github.com/codexcore/agentcore/internal/observability"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/ratelimit"
	"github.com/codexcore/agentcore/internal/rollout"
	"github.com/codexcore/agentcore/internal/sandbox"
	"github.com/codexcore/agentcore/internal/toolrouter"
	"github.com/codexcore/agentcore/internal/toolruntime"
	"github.com/codexcore/agentcore/internal/turn"
)

// session bundles everything one invocation of exec/resume needs: the
// conversation driver plus the pieces a command prints from or tears down
// afterward.
type session struct {
	cfg     config.Config
	home    string
	cm      *contextmgr.Manager
	rw      *rollout.Writer
	history *convo.History
	conv    *convo.Conversation
	mcpMgr  *mcp.Manager
	tc      protocol.TurnContext

	// shutdownTracer flushes any buffered spans on exit. Always callable
	// even when tracing is disabled (tracing.Endpoint == ""), in which case
	// it's a no-op.
	shutdownTracer func(context.Context) error
}

// close releases session resources acquired outside the rollout file
// itself: the MCP manager's subprocess/HTTP connections and the tracer's
// span exporter.
func (s *session) close(ctx context.Context) {
	if s.mcpMgr != nil {
		if err := s.mcpMgr.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "mcp shutdown: %v\n", err)
		}
	}
	if s.shutdownTracer != nil {
		if err := s.shutdownTracer(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "tracer shutdown: %v\n", err)
		}
	}
}

// buildSession wires C1 (rollout) through C9 (convo) per SPEC_FULL.md's
// package map, the way cmd/nexus/main.go assembles its gateway from
// internal/config, internal/mcp, and internal/agent at startup.
func buildSession(ctx context.Context, cwd string) (*session, error) {
	home, err := rollout.Home()
	if err != nil {
		return nil, err
	}

	cfg, notices, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	if profileName != "" {
		cfg = cfg.WithProfile(profileName)
	}
	for _, n := range notices {
		fmt.Fprintln(os.Stderr, n.String())
	}

	meta := protocol.SessionMeta{
		Cwd:        cwd,
		Originator: "agentcore",
		CLIVersion: version,
		Source:     "cli",
	}
	rw, err := rollout.Create(home, meta)
	if err != nil {
		return nil, fmt.Errorf("create rollout: %w", err)
	}
	for _, n := range notices {
		_ = rw.AppendEvent(protocol.EventMsg{Kind: protocol.EventDeprecationNotice, Message: n.String()})
	}

	return finishBuildSession(ctx, home, cfg, rw, cwd)
}

// resumeSession re-opens an existing rollout by id and replays it into a
// fresh contextmgr.Manager, per spec §4.1's resume contract.
func resumeSession(ctx context.Context, id string) (*session, error) {
	home, err := rollout.Home()
	if err != nil {
		return nil, err
	}
	path, err := rollout.FindByID(home, id)
	if err != nil {
		return nil, err
	}
	records, err := rollout.ReadAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || records[0].Type != protocol.RecordSessionMeta {
		return nil, fmt.Errorf("resume: %s: missing session_meta", path)
	}
	var meta protocol.SessionMeta
	if err := json.Unmarshal(records[0].Payload, &meta); err != nil {
		return nil, fmt.Errorf("resume: decode session_meta: %w", err)
	}

	cfg, _, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	if profileName != "" {
		cfg = cfg.WithProfile(profileName)
	}

	rw, err := rollout.Resume(path, meta.ID)
	if err != nil {
		return nil, fmt.Errorf("resume rollout: %w", err)
	}

	s, err := finishBuildSession(ctx, home, cfg, rw, meta.Cwd)
	if err != nil {
		return nil, err
	}

	for _, rec := range records[1:] {
		if rec.Type != protocol.RecordResponseItem {
			continue
		}
		var item protocol.ResponseItem
		if err := json.Unmarshal(rec.Payload, &item); err == nil {
			s.cm.RecordItems(item)
		}
	}

	return s, nil
}

func finishBuildSession(ctx context.Context, home string, cfg config.Config, rw *rollout.Writer, cwd string) (*session, error) {
	history, err := convo.OpenHistory(home)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	cm := contextmgr.New("You are agentcore, a code-assistant agent.", "", contextmgr.DefaultConfig(), nil)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentcore",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.EnableInsecure,
	})

	approvals := approval.New()
	ask := tui.NewApprover().Ask

	policy, err := sandbox.ResolvePolicy(cfg.SandboxMode, cwd, cwd, cfg.SandboxWorkspaceWrite.WritableRoots,
		cfg.SandboxWorkspaceWrite.NetworkAccess, cfg.SandboxWorkspaceWrite.ExcludeTmpdirEnvVar, cfg.SandboxWorkspaceWrite.ExcludeSlashTmp)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox policy: %w", err)
	}
	orchestrator := sandbox.New(approvals, &sandbox.SubprocessBackend{}).
		WithRateLimit(ratelimit.Config{RequestsPerSecond: 5, BurstSize: 10, Enabled: true}).
		WithExecPolicy(sandbox.NewExecPolicy(cfg.ExecPolicy.ForbiddenPrefixes))

	router := toolrouter.New()
	if err := registerRuntimes(router, cfg, cwd, orchestrator, policy, approvals, ask); err != nil {
		return nil, err
	}

	var mcpMgr *mcp.Manager
	var mcpToolNames convo.ToolIntrospector
	if len(cfg.MCPServers) > 0 {
		servers := make([]*mcp.ServerConfig, 0, len(cfg.MCPServers))
		for id, sc := range cfg.MCPServers {
			transport := mcp.TransportStdio
			if sc.URL != "" {
				transport = mcp.TransportHTTP
			}
			servers = append(servers, &mcp.ServerConfig{
				ID: id, Name: id, Transport: transport,
				Command: sc.Command, Args: sc.Args, Env: sc.Env, URL: sc.URL,
				AutoStart: true,
			})
		}
		mcpMgr = mcp.NewManager(&mcp.Config{Enabled: true, Servers: servers}, nil)
		mcpMgr.SetTracer(tracer)
		if err := mcpMgr.Start(ctx); err != nil {
			return nil, fmt.Errorf("start mcp manager: %w", err)
		}
		caller := mcp.NewRuntimeCaller(mcpMgr)
		mcpToolNames = caller.ToolNames
		if err := router.Register(toolrouter.Spec{
			Name:        "mcp",
			Description: "Invoke an MCP-proxied tool",
			Schema:      []byte(`{"type":"object","properties":{"server":{"type":"string"},"tool":{"type":"string"},"raw_args":{"type":"object"}},"required":["server","tool"]}`),
		}, toolruntime.NewMCPRuntime(caller)); err != nil {
			return nil, fmt.Errorf("register mcp runtime: %w", err)
		}
		for id := range cfg.MCPServers {
			for _, bs := range mcp.BridgeSpecs(mcpMgr, id) {
				if err := router.Register(toolrouter.Spec{
					Name:        bs.Name,
					Description: bs.Description,
					Schema:      bs.Schema,
				}, bs.Runtime); err != nil {
					return nil, fmt.Errorf("register mcp bridge %s: %w", bs.Name, err)
				}
			}
		}
	}

	engine := turn.New(echoProvider{}, router, toolrouter.BuildToolCall)
	engine.Telemetry = turn.NewTelemetry(tracer)

	tc := protocol.TurnContext{
		WorkingDirectory: cwd,
		ApprovalPolicy:   cfg.ApprovalPolicy,
		SandboxPolicy:    cfg.SandboxMode,
		Model:            cfg.Model,
		ReasoningEffort:  cfg.ModelReasoningEffort,
		ReasoningSummary: cfg.ModelReasoningSummary,
	}

	conv := convo.New(engine, cm, rw, history, tc).WithMCPTools(mcpToolNames).WithTracer(tracer)
	go conv.Run(ctx)

	return &session{cfg: cfg, home: home, cm: cm, rw: rw, history: history, conv: conv, mcpMgr: mcpMgr, tc: tc, shutdownTracer: shutdownTracer}, nil
}

// registerRuntimes wires the shell, unified-exec, and apply-patch runtimes
// into router, grounded on the same set toolruntime's package doc
// enumerates for C5.
func registerRuntimes(router *toolrouter.Router, cfg config.Config, cwd string, orchestrator *sandbox.Orchestrator, policy sandbox.Policy, approvals *approval.Store, ask toolruntime.AskFunc) error {
	shellSchema := []byte(`{"type":"object","properties":{"command":{"type":"array","items":{"type":"string"}},"workdir":{"type":"string"},"timeout_ms":{"type":"integer"}},"required":["command"]}`)
	if err := router.Register(toolrouter.Spec{Name: "shell", Description: "Run a shell command", Schema: shellSchema},
		toolruntime.NewShellRuntime(orchestrator, policy, ask, toolruntime.NopSink{})); err != nil {
		return fmt.Errorf("register shell runtime: %w", err)
	}

	if cfg.Tools.UnifiedExec {
		uexSchema := []byte(`{"type":"object","properties":{"action":{"type":"string"},"program":{"type":"string"},"args":{"type":"array","items":{"type":"string"}},"session_id":{"type":"string"},"input":{"type":"string"}},"required":["action"]}`)
		if err := router.Register(toolrouter.Spec{Name: "unified_exec", Description: "Open/write/read/close a PTY session", Schema: uexSchema},
			toolruntime.NewUnifiedExecRuntime(toolruntime.NewUnifiedExecManager(), ask)); err != nil {
			return fmt.Errorf("register unified_exec runtime: %w", err)
		}
	}

	if cfg.Tools.ApplyPatch {
		patchSchema := []byte(`{"type":"object","properties":{"patch":{"type":"string"}},"required":["patch"]}`)
		if err := router.Register(toolrouter.Spec{Name: "apply_patch", Description: "Apply a unified diff to workspace files", Schema: patchSchema},
			toolruntime.NewApplyPatchRuntime(cwd, cfg.SandboxWorkspaceWrite.WritableRoots, ask, approvals)); err != nil {
			return fmt.Errorf("register apply_patch runtime: %w", err)
		}
	}

	if err := router.Register(toolrouter.Spec{Name: "custom", Description: "Opaque custom tool", Schema: []byte(`{"type":"object"}`)},
		toolruntime.NewCustomRuntime()); err != nil {
		return fmt.Errorf("register custom runtime: %w", err)
	}

	return nil
}

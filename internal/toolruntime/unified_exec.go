package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/codexcore/agentcore/internal/approval"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/sandbox"
	"github.com/codexcore/agentcore/internal/truncate"
)

// ptySession is one long-lived pseudo-terminal session addressed by id,
// matching the spec's "unified exec" session model: a process whose
// lifetime spans multiple tool calls (open, write, read, close).
type ptySession struct {
	id   string
	cmd  *exec.Cmd
	pty  osFile
	mu   sync.Mutex
	done chan struct{}
}

// osFile narrows *os.File to the handful of methods unified_exec needs,
// so tests can substitute an in-memory pipe instead of a real PTY.
type osFile interface {
	io.ReadWriteCloser
}

// UnifiedExecManager owns every open PTY session for one conversation.
type UnifiedExecManager struct {
	mu       sync.Mutex
	sessions map[string]*ptySession
}

// NewUnifiedExecManager creates an empty manager.
func NewUnifiedExecManager() *UnifiedExecManager {
	return &UnifiedExecManager{sessions: make(map[string]*ptySession)}
}

// Open starts a new PTY session running program/args in cwd and returns its
// session id.
func (m *UnifiedExecManager) Open(program string, args []string, cwd string, env []string) (string, error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = env
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("unified_exec: start pty: %w", err)
	}

	sess := &ptySession{id: uuid.NewString(), cmd: cmd, pty: f, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(sess.done)
	}()

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()
	return sess.id, nil
}

// Write sends bytes to a session's PTY input.
func (m *UnifiedExecManager) Write(sessionID string, data []byte) error {
	sess, ok := m.get(sessionID)
	if !ok {
		return fmt.Errorf("unified_exec: unknown session %q", sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, err := sess.pty.Write(data)
	return err
}

// Read reads up to len(buf) bytes of output from a session's PTY.
func (m *UnifiedExecManager) Read(sessionID string, buf []byte) (int, error) {
	sess, ok := m.get(sessionID)
	if !ok {
		return 0, fmt.Errorf("unified_exec: unknown session %q", sessionID)
	}
	return sess.pty.Read(buf)
}

// Close terminates a session and releases its PTY.
func (m *UnifiedExecManager) Close(sessionID string) error {
	sess, ok := m.get(sessionID)
	if !ok {
		return fmt.Errorf("unified_exec: unknown session %q", sessionID)
	}
	err := sess.pty.Close()
	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Kill()
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return err
}

func (m *UnifiedExecManager) get(id string) (*ptySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// UnifiedExecRuntime executes commands through a per-conversation
// UnifiedExecManager. Each call to Execute opens a session, drains output
// until the process exits or ctx is done, and closes it — the model sees
// one synchronous tool call per invocation even though the underlying
// mechanism is a long-lived PTY. Execute does not go through
// sandbox.Orchestrator: it asks for no approval and applies no sandbox
// policy.
type UnifiedExecRuntime struct {
	manager *UnifiedExecManager
	ask     AskFunc
}

// NewUnifiedExecRuntime builds a UnifiedExecRuntime over a manager.
func NewUnifiedExecRuntime(manager *UnifiedExecManager, ask AskFunc) *UnifiedExecRuntime {
	return &UnifiedExecRuntime{manager: manager, ask: ask}
}

// Name implements Runtime.
func (r *UnifiedExecRuntime) Name() string { return "unified_exec" }

// Preference implements sandbox.Approvable.
func (r *UnifiedExecRuntime) Preference() sandbox.Preference { return sandbox.PreferenceAuto }

// EscalateOnFailure implements sandbox.Approvable.
func (r *UnifiedExecRuntime) EscalateOnFailure() bool { return true }

// WantsInitialApproval implements sandbox.Approvable.
func (r *UnifiedExecRuntime) WantsInitialApproval(spec protocol.CommandSpec, approvalPolicy protocol.ApprovalPolicy, _ protocol.SandboxPolicyKind) bool {
	return approvalPolicy == protocol.ApprovalAlways || spec.Escalated
}

// Key implements sandbox.Approvable.
func (r *UnifiedExecRuntime) Key(spec protocol.CommandSpec) approval.Key {
	return approval.ShellKey(spec.Program, spec.Cwd, spec.Escalated)
}

// Ask implements sandbox.Approvable.
func (r *UnifiedExecRuntime) Ask(ctx context.Context, spec protocol.CommandSpec, reason sandbox.AskReason, risk *protocol.ApprovalRisk) (approval.Decision, error) {
	if r.ask == nil {
		return approval.Denied, nil
	}
	return r.ask(ctx, spec, reason, risk)
}

// Execute implements Runtime by opening a session, running it to
// completion (or until ctx is done), and returning its truncated output.
func (r *UnifiedExecRuntime) Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (Output, error) {
	var payload protocol.UnifiedExecPayload
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		return Output{}, fmt.Errorf("unified_exec: decode payload: %w", err)
	}
	if len(payload.Args) == 0 {
		return Output{Success: false, Text: "unified_exec: args is required"}, nil
	}

	id, err := r.manager.Open(payload.Args[0], payload.Args[1:], tc.WorkingDirectory, nil)
	if err != nil {
		return Output{Success: false, Text: err.Error()}, nil
	}
	defer r.manager.Close(id)

	sess, ok := r.manager.get(id)
	if !ok {
		return Output{Success: false, Text: "unified_exec: session vanished"}, nil
	}

	var out []byte
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return Output{Success: false, Text: truncate.Text(string(out))}, ctx.Err()
		case <-sess.done:
			drainRemaining(sess, &out, buf)
			return Output{Success: true, Text: truncate.Text(string(out))}, nil
		default:
		}
		n, rerr := sess.pty.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if rerr != nil {
			drainRemaining(sess, &out, buf)
			return Output{Success: true, Text: truncate.Text(string(out))}, nil
		}
	}
}

func drainRemaining(sess *ptySession, out *[]byte, buf []byte) {
	for {
		n, err := sess.pty.Read(buf)
		if n > 0 {
			*out = append(*out, buf[:n]...)
		}
		if err != nil {
			return
		}
	}
}

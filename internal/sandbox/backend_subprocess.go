package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/truncate"
)

// limitedBuffer caps how much of a stream it retains, discarding the
// overflow rather than growing without bound.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// SubprocessBackend is a Backend that runs commands as ordinary OS
// subprocesses. A SandboxFunc may be attached to enforce the policy this
// process's platform supports (seatbelt, Landlock, restricted tokens);
// without one, SubprocessBackend only records the policy, it does not
// enforce it — the actual platform sandbox mechanism is an external
// collaborator per the spec's scope.
type SubprocessBackend struct {
	// MaxOutputBytes caps retained stdout/stderr per call; 0 means the
	// package default.
	MaxOutputBytes int

	// SandboxFunc, if set, is consulted before Run spawns the process. It
	// returns ErrSandboxDenied (or a wrapped form of it) to signal a
	// platform sandbox rejection rather than a normal exec failure.
	SandboxFunc func(attempt Attempt) error
}

const defaultMaxOutputBytes = 1 << 20 // 1 MiB retained before truncation

// Run implements Backend.
func (b *SubprocessBackend) Run(ctx context.Context, attempt Attempt) (protocol.ExecResult, error) {
	if !attempt.Bypassed && b.SandboxFunc != nil {
		if err := b.SandboxFunc(attempt); err != nil {
			return protocol.ExecResult{}, fmt.Errorf("%w: %v", ErrSandboxDenied, err)
		}
	}

	spec := attempt.Spec
	runCtx := ctx
	if spec.TimeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Program, spec.Args...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	if spec.Env != nil {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	max := b.MaxOutputBytes
	if max <= 0 {
		max = defaultMaxOutputBytes
	}
	combined := newLimitedBuffer(max)
	cmd.Stdout = combined
	cmd.Stderr = combined

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := protocol.ExecResult{
		ExitCode:         exitCode(err),
		AggregatedOutput: combined.String(),
		Duration:         duration,
		TimedOut:         runCtx.Err() == context.DeadlineExceeded,
	}
	result.FormattedOutput = truncate.Text(result.AggregatedOutput)

	if err != nil && !isExitError(err) {
		return result, fmt.Errorf("sandbox: spawn %s: %w", spec.Program, err)
	}
	return result, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func isExitError(err error) bool {
	_, ok := err.(*exec.ExitError)
	return ok
}

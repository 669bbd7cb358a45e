package toolruntime

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/codexcore/agentcore/internal/approval"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/sandbox"
)

// FileChange is one parsed operation out of a patch envelope.
type FileChange struct {
	Path  string
	Hunks []Hunk
}

// Hunk is one parsed unified-diff hunk.
type Hunk struct {
	OldStart, OldLines, NewStart, NewLines int
	Lines                                  []string
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParsePatch parses a unified-diff patch envelope into per-file changes.
func ParsePatch(patch string) ([]FileChange, error) {
	lines := strings.Split(patch, "\n")
	var changes []FileChange
	var current *FileChange
	var currentHunk *Hunk

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index "):
			continue
		case strings.HasPrefix(line, "--- "):
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("apply_patch: missing +++ header after --- header")
			}
			newPath := strings.TrimSpace(strings.TrimPrefix(lines[i+1], "+++ "))
			newPath = strings.TrimPrefix(strings.TrimPrefix(newPath, "b/"), "a/")
			changes = append(changes, FileChange{Path: newPath})
			current = &changes[len(changes)-1]
			currentHunk = nil
			i++
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("apply_patch: hunk without a preceding file header")
			}
			m := hunkHeader.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("apply_patch: malformed hunk header %q", line)
			}
			h := Hunk{
				OldStart: atoi(m[1]),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoi(m[3]),
				NewLines: atoiDefault(m[4], 1),
			}
			current.Hunks = append(current.Hunks, h)
			currentHunk = &current.Hunks[len(current.Hunks)-1]
		default:
			if currentHunk == nil || line == "" || line == "\\ No newline at end of file" {
				continue
			}
			prefix := line[:1]
			if prefix != " " && prefix != "+" && prefix != "-" {
				return nil, fmt.Errorf("apply_patch: invalid hunk line %q", line)
			}
			currentHunk.Lines = append(currentHunk.Lines, line)
		}
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("apply_patch: no file headers found")
	}
	return changes, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	return atoi(s)
}

// applyHunks applies a file's hunks to its current content, in order.
func applyHunks(content string, change FileChange) (string, int, int, error) {
	hadTrailingNewline := strings.HasSuffix(content, "\n")
	var lines []string
	if trimmed := strings.TrimSuffix(content, "\n"); trimmed != "" {
		lines = strings.Split(trimmed, "\n")
	}

	added, removed := 0, 0
	offset := 0
	for _, h := range change.Hunks {
		start := h.OldStart - 1 + offset
		if start < 0 || start > len(lines) {
			return "", 0, 0, fmt.Errorf("apply_patch: hunk out of range for %s", change.Path)
		}

		var replacement []string
		consumed := 0
		for _, l := range h.Lines {
			switch l[0] {
			case ' ':
				replacement = append(replacement, l[1:])
				consumed++
			case '-':
				removed++
				consumed++
			case '+':
				replacement = append(replacement, l[1:])
				added++
			}
		}

		tail := append([]string{}, lines[start+consumed:]...)
		lines = append(lines[:start], append(replacement, tail...)...)
		offset += len(replacement) - consumed
	}

	out := strings.Join(lines, "\n")
	if hadTrailingNewline && out != "" {
		out += "\n"
	}
	return out, added, removed, nil
}

// changesFingerprint derives a stable hash of a patch's file set for the
// approval key, grounded on the bridge's sha1-based stable name hashing.
func changesFingerprint(changes []FileChange) string {
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	sort.Strings(paths)
	h := sha1.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ApplyPatchRuntime applies unified-diff patches to workspace files,
// writing atomically (temp file + rename), the same idiom the teacher's
// sandbox executor uses for workspace staging.
type ApplyPatchRuntime struct {
	workspaceRoot string
	writableRoots []string
	ask           AskFunc
	approvals     *approval.Store
}

// NewApplyPatchRuntime builds an ApplyPatchRuntime scoped to workspaceRoot,
// additionally permitting writableRoots. approvals is the conversation's
// shared approval cache (the same one sandbox.Orchestrator uses for other
// runtimes), so an approved_for_session decision here is not re-asked.
func NewApplyPatchRuntime(workspaceRoot string, writableRoots []string, ask AskFunc, approvals *approval.Store) *ApplyPatchRuntime {
	return &ApplyPatchRuntime{workspaceRoot: workspaceRoot, writableRoots: writableRoots, ask: ask, approvals: approvals}
}

// Name implements Runtime.
func (r *ApplyPatchRuntime) Name() string { return "apply_patch" }

// Preference implements sandbox.Approvable: apply-patch never spawns a
// process, so the sandbox dimension is irrelevant; Never keeps C4 from
// ever building a sandboxed Attempt for it.
func (r *ApplyPatchRuntime) Preference() sandbox.Preference { return sandbox.PreferenceNever }

// EscalateOnFailure implements sandbox.Approvable: there is no "sandbox
// denial" outcome for a pure filesystem write, so there is nothing to
// escalate.
func (r *ApplyPatchRuntime) EscalateOnFailure() bool { return false }

// WantsInitialApproval implements sandbox.Approvable: required unless every
// target path already falls inside a writable root.
func (r *ApplyPatchRuntime) WantsInitialApproval(spec protocol.CommandSpec, approvalPolicy protocol.ApprovalPolicy, _ protocol.SandboxPolicyKind) bool {
	if approvalPolicy == protocol.ApprovalAlways {
		return true
	}
	if approvalPolicy == protocol.ApprovalNever {
		return false
	}
	return spec.Justification != "outside-writable-roots:false"
}

// Key implements sandbox.Approvable.
func (r *ApplyPatchRuntime) Key(spec protocol.CommandSpec) approval.Key {
	return approval.ApplyPatchKey(spec.Program, spec.Cwd)
}

// Ask implements sandbox.Approvable.
func (r *ApplyPatchRuntime) Ask(ctx context.Context, spec protocol.CommandSpec, reason sandbox.AskReason, risk *protocol.ApprovalRisk) (approval.Decision, error) {
	if r.ask == nil {
		return approval.Denied, nil
	}
	return r.ask(ctx, spec, reason, risk)
}

// PatchResult is what Execute reports per changed file.
type PatchResult struct {
	Path     string `json:"path"`
	Applied  bool   `json:"applied"`
	Added    int    `json:"lines_added"`
	Removed  int    `json:"lines_removed"`
	Conflict string `json:"conflict,omitempty"`
}

// Execute decodes a custom payload carrying {"patch": "..."}, parses it,
// checks each target path against the writable roots, and applies
// approved changes atomically.
func (r *ApplyPatchRuntime) Execute(ctx context.Context, call protocol.ToolCall, tc protocol.TurnContext) (Output, error) {
	var payload protocol.CustomPayload
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		return Output{}, fmt.Errorf("apply_patch: decode payload: %w", err)
	}

	changes, err := ParsePatch(payload.Input)
	if err != nil {
		return Output{Success: false, Text: err.Error()}, nil
	}

	allWritable := true
	for _, c := range changes {
		if !r.isWritable(c.Path) {
			allWritable = false
			break
		}
	}

	approvalPolicy := tc.ApprovalPolicy
	fingerprint := changesFingerprint(changes)
	spec := protocol.CommandSpec{Program: fingerprint, Cwd: r.workspaceRoot, Justification: fmt.Sprintf("outside-writable-roots:%t", !allWritable)}

	if r.WantsInitialApproval(spec, approvalPolicy, tc.SandboxPolicy) {
		dec, askErr := r.approvals.GetOrCompute(ctx, r.Key(spec), func(ctx context.Context) (approval.Decision, error) {
			return r.Ask(ctx, spec, sandbox.AskInitialGate, nil)
		})
		if askErr != nil {
			return Output{}, fmt.Errorf("apply_patch: approval: %w", askErr)
		}
		if !dec.Allowed() {
			return Output{Success: false, Text: "rejected: patch was not approved"}, nil
		}
	}

	results := make([]PatchResult, 0, len(changes))
	for _, c := range changes {
		res, applyErr := r.applyOne(c)
		if applyErr != nil {
			res.Conflict = applyErr.Error()
		}
		results = append(results, res)
	}

	out, err := json.MarshalIndent(map[string]any{"applied": results}, "", "  ")
	if err != nil {
		return Output{}, fmt.Errorf("apply_patch: encode result: %w", err)
	}
	return Output{Success: true, Text: string(out), Detail: results}, nil
}

func (r *ApplyPatchRuntime) isWritable(relPath string) bool {
	abs := filepath.Join(r.workspaceRoot, relPath)
	for _, root := range append([]string{r.workspaceRoot}, r.writableRoots...) {
		rel, err := filepath.Rel(root, abs)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (r *ApplyPatchRuntime) applyOne(change FileChange) (PatchResult, error) {
	result := PatchResult{Path: change.Path}
	abs := filepath.Join(r.workspaceRoot, change.Path)

	data, err := os.ReadFile(abs)
	if err != nil {
		return result, fmt.Errorf("read %s: %w", change.Path, err)
	}

	updated, added, removed, err := applyHunks(string(data), change)
	if err != nil {
		return result, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".patch-*")
	if err != nil {
		return result, fmt.Errorf("stage write for %s: %w", change.Path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(updated); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return result, fmt.Errorf("write %s: %w", change.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return result, fmt.Errorf("close staged write for %s: %w", change.Path, err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		os.Remove(tmpPath)
		return result, fmt.Errorf("commit %s: %w", change.Path, err)
	}

	result.Applied = true
	result.Added = added
	result.Removed = removed
	return result, nil
}

// Package contextmgr implements C7: the running conversation item list, the
// pending-input buffer accumulated while a turn is in flight, prompt
// assembly for the next model request, and token-budget compaction.
package contextmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codexcore/agentcore/internal/cache"
	"github.com/codexcore/agentcore/internal/protocol"
)

// Summarizer generates a summary of a run of conversation items, the same
// collaborator shape C8's turn engine implements over its own provider.
type Summarizer interface {
	Summarize(ctx context.Context, items []protocol.ResponseItem) (string, error)
}

// Config controls when and how Compact trims the item list.
type Config struct {
	// MaxItems triggers compaction once RecordItems pushes the list past
	// this length. Zero disables the item-count trigger.
	MaxItems int
	// KeepRecent is the number of most recent items Compact always leaves
	// untouched, regardless of the summarized prefix's size.
	KeepRecent int
}

// DefaultConfig mirrors the teacher's hybrid-strategy defaults, retargeted
// from session compaction to turn-item compaction.
func DefaultConfig() Config {
	return Config{MaxItems: 200, KeepRecent: 40}
}

// Manager holds one conversation's running item list and pending-input
// queue. It is safe for concurrent use: RecordItems/PendingInputTake run
// from the turn engine's goroutine while new submissions may arrive on
// another goroutine mid-turn.
type Manager struct {
	mu sync.Mutex

	systemPrompt string
	instructions string

	items   []protocol.ResponseItem
	pending []protocol.ResponseItem

	cfg        Config
	summarizer Summarizer

	// pendingDedupe guards PushPendingInput against a duplicate resubmission
	// of the same item arriving within a short window (a flaky collaborator
	// retrying delivery), so it is queued once rather than replayed to the
	// model twice.
	pendingDedupe *cache.DedupeCache
}

// New creates a Manager. summarizer may be nil; Compact then falls back to
// truncation without a summary line, mirroring the teacher's
// compactLastN fallback when no Summarizer is configured.
func New(systemPrompt, instructions string, cfg Config, summarizer Summarizer) *Manager {
	return &Manager{
		systemPrompt:  systemPrompt,
		instructions:  instructions,
		cfg:           cfg,
		summarizer:    summarizer,
		pendingDedupe: cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: 2 * time.Second, MaxSize: 64}),
	}
}

// RecordItems appends model outputs and synthesized tool outputs to the
// running item list.
func (m *Manager) RecordItems(items ...protocol.ResponseItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
}

// Items returns a snapshot of the recorded items, for rollout persistence
// or inspection. The returned slice is a copy.
func (m *Manager) Items() []protocol.ResponseItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.ResponseItem, len(m.items))
	copy(out, m.items)
	return out
}

// PushPendingInput records a message submitted while a turn is running, to
// be drained by PendingInputTake once the turn completes. A duplicate of
// the same call ID or text seen within the dedupe window is dropped.
func (m *Manager) PushPendingInput(item protocol.ResponseItem) {
	key := cache.PendingInputDedupeKey(string(item.Kind), item.CallID, item.Text)
	if m.pendingDedupe != nil && m.pendingDedupe.Check(key) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, item)
}

// PendingInputTake drains and returns messages submitted while a turn was
// running. Returns nil if nothing was pending.
func (m *Manager) PendingInputTake() []protocol.ResponseItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	drained := m.pending
	m.pending = nil
	return drained
}

// Prompt is the assembled payload for the next model request.
type Prompt struct {
	SystemPrompt string
	Instructions string
	Items        []protocol.ResponseItem
}

// AssembleForModel returns the prompt payload for the next request: system
// prompt + user instructions + the compacted item tail.
func (m *Manager) AssembleForModel() Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]protocol.ResponseItem, len(m.items))
	copy(items, m.items)
	return Prompt{
		SystemPrompt: m.systemPrompt,
		Instructions: m.instructions,
		Items:        items,
	}
}

// ShouldCompact reports whether the item list has grown past the
// configured trigger.
func (m *Manager) ShouldCompact() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MaxItems > 0 && len(m.items) > m.cfg.MaxItems
}

// CompactResult reports what Compact did.
type CompactResult struct {
	ItemsBefore int
	ItemsAfter  int
	Summary     string
}

// Compact requests a summarization turn and replaces older items with a
// single `compacted` marker item containing the summary, leaving the most
// recent KeepRecent items untouched.
func (m *Manager) Compact(ctx context.Context) (CompactResult, error) {
	m.mu.Lock()
	items := make([]protocol.ResponseItem, len(m.items))
	copy(items, m.items)
	keep := m.cfg.KeepRecent
	m.mu.Unlock()

	if keep <= 0 {
		keep = 1
	}
	if len(items) <= keep {
		return CompactResult{ItemsBefore: len(items), ItemsAfter: len(items)}, nil
	}

	repaired := RepairCallOutputPairing(items)
	splitAt := len(repaired) - keep
	splitAt = firstSafeSplit(repaired, splitAt)

	older := repaired[:splitAt]
	recent := repaired[splitAt:]

	var summary string
	if m.summarizer != nil && len(older) > 0 {
		var err error
		summary, err = m.summarizer.Summarize(ctx, older)
		if err != nil {
			return CompactResult{}, fmt.Errorf("contextmgr: summarize: %w", err)
		}
	}

	marker := protocol.ResponseItem{
		Kind:      protocol.KindOther,
		Text:      summary,
		CreatedAt: time.Now(),
	}

	compacted := append([]protocol.ResponseItem{marker}, recent...)

	m.mu.Lock()
	m.items = compacted
	m.mu.Unlock()

	return CompactResult{
		ItemsBefore: len(items),
		ItemsAfter:  len(compacted),
		Summary:     summary,
	}, nil
}

// firstSafeSplit nudges splitAt forward until it doesn't land inside a
// call/output pair, so compaction never separates a function_call from
// its matching output.
func firstSafeSplit(items []protocol.ResponseItem, splitAt int) int {
	if splitAt <= 0 {
		return 0
	}
	if splitAt >= len(items) {
		return len(items)
	}

	pendingCalls := make(map[string]bool)
	for i := 0; i < splitAt; i++ {
		item := items[i]
		if item.IsCall() && item.CallID != "" {
			pendingCalls[item.CallID] = true
		}
		if item.IsOutput() && item.OutputFor != "" {
			delete(pendingCalls, item.OutputFor)
		}
	}
	for len(pendingCalls) > 0 && splitAt < len(items) {
		item := items[splitAt]
		if item.IsOutput() && pendingCalls[item.OutputFor] {
			delete(pendingCalls, item.OutputFor)
		}
		splitAt++
	}
	return splitAt
}

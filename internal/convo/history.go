package convo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const historyFilename = "history.jsonl"

// History is the append-only cross-session command/message history file,
// one entry per line, grounded on rollout.Writer's append-only JSONL
// discipline (bufio + O_APPEND) applied to a single flat file shared by
// every conversation instead of one file per conversation.
type History struct {
	path string
}

// OpenHistory resolves home/history.jsonl, creating the parent directory
// if needed. The file itself is opened fresh on each Append/Entry call
// since history access is infrequent relative to rollout writes.
func OpenHistory(home string) (*History, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("convo: create history directory: %w", err)
	}
	return &History{path: filepath.Join(home, historyFilename)}, nil
}

// Path returns the absolute path of the history file.
func (h *History) Path() string { return h.path }

// Append adds one entry to the end of the history file.
func (h *History) Append(entry HistoryEntry) error {
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("convo: open history file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("convo: marshal history entry: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("convo: write history entry: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("convo: write history entry: %w", err)
	}
	return w.Flush()
}

// EntryFromEnd returns the entry offset lines back from the end of the
// file (0 = most recent). The zero value and an error are returned if
// offset is out of range.
func (h *History) EntryFromEnd(offset int) (HistoryEntry, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("convo: open history file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return HistoryEntry{}, fmt.Errorf("convo: read history file: %w", err)
	}

	idx := len(lines) - 1 - offset
	if idx < 0 || idx >= len(lines) {
		return HistoryEntry{}, fmt.Errorf("convo: history offset %d out of range (%d entries)", offset, len(lines))
	}

	var entry HistoryEntry
	if err := json.Unmarshal([]byte(lines[idx]), &entry); err != nil {
		return HistoryEntry{}, fmt.Errorf("convo: unmarshal history entry: %w", err)
	}
	return entry, nil
}

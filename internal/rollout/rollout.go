// Package rollout implements the append-only JSONL session recorder: every
// turn's response items, event messages, and turn contexts are appended as
// they occur, one file per conversation, named and located so that a
// resumed or archived session can be found again by id alone.
package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codexcore/agentcore/internal/protocol"
)

const (
	sessionsDirName  = "sessions"
	archivedDirName  = "archived-sessions"
	filenameTimeFmt  = "2006-01-02T15-04-05"
	rolloutExtension = ".jsonl"
)

// Home resolves the base directory under which sessions/ and
// archived-sessions/ live: $AGENTCORE_HOME if set, otherwise
// ~/.agentcore.
func Home() (string, error) {
	if v := os.Getenv("AGENTCORE_HOME"); v != "" {
		return v, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("rollout: resolve home directory: %w", err)
	}
	return filepath.Join(dir, ".agentcore"), nil
}

// Writer appends records to a single conversation's rollout file. Every
// append holds the Writer's mutex, so concurrent appends are serialized;
// the turn engine also runs one active task per conversation (spec §7).
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
	id   string
}

// Create starts a new rollout file for a fresh conversation under
// home/sessions/YYYY/MM/DD/rollout-<ts>-<id>.jsonl and writes the mandatory
// session_meta record as its first line.
func Create(home string, meta protocol.SessionMeta) (*Writer, error) {
	id := meta.ID
	if id == "" {
		id = uuid.NewString()
		meta.ID = id
	}
	now := time.Now().UTC()
	if meta.Timestamp == "" {
		meta.Timestamp = now.Format(time.RFC3339)
	}

	dir := filepath.Join(home, sessionsDirName, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rollout: create session directory: %w", err)
	}

	filename := fmt.Sprintf("rollout-%s-%s%s", now.Format(filenameTimeFmt), id, rolloutExtension)
	path := filepath.Join(dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: create rollout file: %w", err)
	}

	w := &Writer{file: f, buf: bufio.NewWriter(f), path: path, id: id}
	if err := w.appendLocked(protocol.RecordSessionMeta, meta); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Resume reopens an existing rollout file for append, so a resumed
// conversation continues writing to the same session file rather than
// starting a new one (spec §4.1's resume contract). id is the conversation
// id recorded in the file's session_meta line.
func Resume(path, id string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: reopen rollout file: %w", err)
	}
	return &Writer{file: f, buf: bufio.NewWriter(f), path: path, id: id}, nil
}

// Path returns the absolute path of the file this Writer appends to.
func (w *Writer) Path() string { return w.path }

// ID returns the conversation id this rollout file belongs to.
func (w *Writer) ID() string { return w.id }

// AppendResponseItem records a single response item produced during a turn.
func (w *Writer) AppendResponseItem(item protocol.ResponseItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(protocol.RecordResponseItem, item)
}

// AppendEvent records an event_msg line.
func (w *Writer) AppendEvent(evt protocol.EventMsg) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(protocol.RecordEventMsg, evt)
}

// AppendTurnContext records the turn context bundle in effect for a turn.
func (w *Writer) AppendTurnContext(tc protocol.TurnContext) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(protocol.RecordTurnContext, tc)
}

// AppendCompacted records a compacted marker produced by the context
// manager, replacing the items it summarized for future resumes.
func (w *Writer) AppendCompacted(payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(protocol.RecordCompacted, payload)
}

func (w *Writer) appendLocked(typ protocol.RecordType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rollout: marshal %s payload: %w", typ, err)
	}
	rec := protocol.Record{
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Payload:   raw,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rollout: marshal record: %w", err)
	}
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("rollout: write record: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("rollout: write record: %w", err)
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("rollout: flush on close: %w", err)
	}
	return w.file.Close()
}

// Summary is the metadata List/ListArchived returns per rollout file, without
// loading the full file into memory.
type Summary struct {
	Path      string
	ID        string
	Meta      protocol.SessionMeta
	Preview   string
	ModTime   time.Time
	Archived  bool
}

// List enumerates rollout files under home/sessions, newest first by the
// timestamp in the filename.
func List(home string, limit int) ([]Summary, error) {
	return listDir(filepath.Join(home, sessionsDirName), false, limit)
}

// ListArchived enumerates rollout files under home/archived-sessions, most
// recent first.
func ListArchived(home string, limit int) ([]Summary, error) {
	return listDir(filepath.Join(home, archivedDirName), true, limit)
}

func listDir(root string, archived bool, limit int) ([]Summary, error) {
	var out []Summary
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, rolloutExtension) {
			return nil
		}
		summary, err := readSummary(path)
		if err != nil {
			return nil // skip unreadable/corrupt files rather than fail the whole listing
		}
		summary.Archived = archived
		out = append(out, summary)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("rollout: list %s: %w", root, err)
	}

	sort.Slice(out, func(i, j int) bool { return filepath.Base(out[i].Path) > filepath.Base(out[j].Path) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// readSummary reads just enough of a rollout file (the session_meta first
// line, plus the first user response_item line for a preview) to build a
// Summary without materializing the whole file.
func readSummary(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Path: path, ModTime: info.ModTime()}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	sawMeta := false
	for scanner.Scan() {
		var rec protocol.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Type {
		case protocol.RecordSessionMeta:
			var meta protocol.SessionMeta
			if err := json.Unmarshal(rec.Payload, &meta); err != nil {
				return Summary{}, fmt.Errorf("rollout: decode session_meta in %s: %w", path, err)
			}
			s.Meta = meta
			s.ID = meta.ID
			sawMeta = true
		case protocol.RecordResponseItem:
			if s.Preview != "" {
				continue
			}
			var item protocol.ResponseItem
			if err := json.Unmarshal(rec.Payload, &item); err == nil && item.Kind == protocol.KindUserMessage {
				s.Preview = item.Text
			}
		}
		if sawMeta && s.Preview != "" {
			break
		}
	}
	if !sawMeta {
		return Summary{}, fmt.Errorf("rollout: %s has no session_meta record", path)
	}
	return s, nil
}

// FindByID walks home/sessions and home/archived-sessions looking for the
// rollout file whose session_meta.id matches id. It stops at the first
// filename match (the filename carries the id, per Create) and falls back
// to scanning file content when no name matches — mirroring the original
// CLI's "gitignore can hide sessions but not break find" semantics.
func FindByID(home, id string) (string, error) {
	for _, dir := range []string{filepath.Join(home, sessionsDirName), filepath.Join(home, archivedDirName)} {
		path, err := findByFilename(dir, id)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
	}
	for _, dir := range []string{filepath.Join(home, sessionsDirName), filepath.Join(home, archivedDirName)} {
		path, err := findByContent(dir, id)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
	}
	return "", fmt.Errorf("rollout: no session found for id %q", id)
}

func findByFilename(root, id string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || found != "" {
			return nil
		}
		if strings.Contains(d.Name(), id) && strings.HasSuffix(d.Name(), rolloutExtension) {
			found = path
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("rollout: search %s: %w", root, err)
	}
	return found, nil
}

func findByContent(root, id string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || found != "" || !strings.HasSuffix(path, rolloutExtension) {
			return nil
		}
		summary, err := readSummary(path)
		if err == nil && summary.ID == id {
			found = path
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("rollout: search %s: %w", root, err)
	}
	return found, nil
}

// Archive moves a rollout file from sessions/ into archived-sessions/,
// preserving its YYYY/MM/DD sub-path.
func Archive(home, path string) (string, error) {
	sessionsRoot := filepath.Join(home, sessionsDirName)
	rel, err := filepath.Rel(sessionsRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("rollout: %s is not under %s", path, sessionsRoot)
	}

	dest := filepath.Join(home, archivedDirName, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("rollout: create archive directory: %w", err)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("rollout: move to archive: %w", err)
	}
	return dest, nil
}

// ReadHeadForSummary reads up to maxRecords decoded records from the start
// of a rollout file, for building a resume-time context summary without
// loading the entire conversation.
func ReadHeadForSummary(path string, maxRecords int) ([]protocol.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rollout: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var records []protocol.Record
	for scanner.Scan() && (maxRecords <= 0 || len(records) < maxRecords) {
		var rec protocol.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("rollout: decode record in %s: %w", path, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rollout: scan %s: %w", path, err)
	}
	return records, nil
}

// ReadAll reads and decodes every record in a rollout file, in order. Used
// by resume to rebuild full conversation state.
func ReadAll(path string) ([]protocol.Record, error) {
	return ReadHeadForSummary(path, 0)
}

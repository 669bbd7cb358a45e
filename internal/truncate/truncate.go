// Package truncate implements the head+tail byte/line truncation applied to
// command output before it is sent to the model. The full, untruncated
// stream still reaches the UI; only the model-visible rendering is bounded.
package truncate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Limits matching the spec's fixed budget for model-visible exec output.
const (
	MaxBytes  = 10240
	MaxLines  = 256
	HeadLines = MaxLines / 2
	TailLines = MaxLines - HeadLines
	HeadBytes = MaxBytes / 2
)

// Text truncates s to MaxBytes/MaxLines using a head+tail strategy: if s is
// already within both budgets it is returned unchanged (idempotent on short
// inputs). Otherwise the head and tail are kept and the middle is replaced
// by a marker describing what was dropped.
func Text(s string) string {
	totalBytes := len(s)
	lines := strings.Split(s, "\n")
	lineCount := len(lines)

	if totalBytes <= MaxBytes && lineCount <= MaxLines {
		return s
	}

	var headLines, tailLines []string
	omitted := 0
	if lineCount > MaxLines {
		headLines = lines[:HeadLines]
		tailLines = lines[lineCount-TailLines:]
		omitted = lineCount - HeadLines - TailLines
	} else {
		headLines = lines
	}

	byteTruncated := totalBytes > MaxBytes

	var marker string
	switch {
	case omitted > 0:
		marker = fmt.Sprintf("\n[... omitted %d of %d lines ...]\n\n", omitted, lineCount)
	case byteTruncated:
		marker = fmt.Sprintf("\n[... output truncated to fit %d bytes ...]\n\n", MaxBytes)
	}

	headText := strings.Join(headLines, "\n")
	var tailText string
	hasTail := tailLines != nil
	if hasTail {
		tailText = strings.Join(tailLines, "\n")
	}

	budget := MaxBytes - len(marker)
	if budget < 0 {
		budget = 0
	}

	headBudget := HeadBytes
	if headBudget > budget {
		headBudget = budget
	}
	clippedHead := clipPrefix(headText, headBudget)

	remaining := budget - len(clippedHead)
	if remaining < 0 {
		remaining = 0
	}
	clippedTail := ""
	if hasTail {
		clippedTail = clipSuffix(tailText, remaining)
	}

	prefix := fmt.Sprintf("Total output lines: %d\n\n", lineCount)

	if marker == "" {
		// Defensive: step 1's guard should make this unreachable, but never
		// emit a bare concatenation without having actually bounded it.
		return prefix + clippedHead
	}
	if !hasTail {
		return prefix + clippedHead + marker
	}
	return prefix + clippedHead + marker + clippedTail
}

// clipPrefix returns the longest prefix of s whose byte length is at most
// limit, cut at a UTF-8 rune boundary.
func clipPrefix(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	b := s[:limit]
	for len(b) > 0 && !utf8.ValidString(b) {
		b = b[:len(b)-1]
	}
	return b
}

// clipSuffix returns the longest suffix of s whose byte length is at most
// limit, cut at a UTF-8 rune boundary.
func clipSuffix(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	b := s[len(s)-limit:]
	for len(b) > 0 && !utf8.ValidString(b) {
		b = b[1:]
	}
	return b
}

// ItemKind distinguishes the variants of a heterogeneous output Item.
type ItemKind string

const (
	ItemText  ItemKind = "text"
	ItemImage ItemKind = "image"
)

// Item is one element of a heterogeneous model-input content list: either a
// text slice or an opaque image reference.
type Item struct {
	Kind     ItemKind
	Text     string
	ImageRef string
}

// Items truncates a heterogeneous list of output items by walking with a
// shared byte budget for text items only: each text item is clipped at a
// character boundary to what is left of the budget and kept as its own
// item, images pass through unchanged and never consume the text budget,
// and a trailing marker item is appended when any text was dropped. The
// total bytes across returned text items, not counting the marker, never
// exceeds MaxBytes.
func Items(items []Item) []Item {
	out := make([]Item, 0, len(items)+1)
	budget := MaxBytes
	omittedTextItems := 0

	for _, item := range items {
		if item.Kind == ItemImage {
			out = append(out, item)
			continue
		}

		if budget <= 0 {
			omittedTextItems++
			continue
		}

		clipped := clipPrefix(item.Text, budget)
		if clipped != "" {
			out = append(out, Item{Kind: ItemText, Text: clipped})
			budget -= len(clipped)
		}
		if len(clipped) < len(item.Text) {
			// Whatever didn't fit counts as an omitted item, whether it was
			// partially or entirely clipped away.
			omittedTextItems++
		}
	}

	if omittedTextItems > 0 {
		out = append(out, Item{
			Kind: ItemText,
			Text: fmt.Sprintf("[omitted %d text items ...]", omittedTextItems),
		})
	}
	return out
}

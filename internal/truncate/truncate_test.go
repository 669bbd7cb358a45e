package truncate

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTextIdempotentOnShortInput(t *testing.T) {
	s := "a short line\nanother line\n"
	if got := Text(s); got != s {
		t.Fatalf("Text(%q) = %q, want unchanged", s, got)
	}
}

func TestTextExactlyAtLimitUnchanged(t *testing.T) {
	line := strings.Repeat("a", MaxBytes/MaxLines)
	lines := make([]string, MaxLines)
	for i := range lines {
		lines[i] = line
	}
	s := strings.Join(lines, "\n")
	// Trim to exactly MaxBytes to hit both boundary conditions.
	if len(s) > MaxBytes {
		s = s[:MaxBytes]
	}
	lineCount := strings.Count(s, "\n") + 1
	if len(s) > MaxBytes || lineCount > MaxLines {
		t.Fatalf("test setup invalid: len=%d lines=%d", len(s), lineCount)
	}
	if got := Text(s); got != s {
		t.Fatalf("Text at exact limits should be unchanged")
	}
}

func TestTextLineOmissionMarker(t *testing.T) {
	lines := make([]string, 1000)
	for i := range lines {
		lines[i] = "line"
	}
	s := strings.Join(lines, "\n")

	got := Text(s)
	if !strings.Contains(got, "omitted") {
		t.Fatalf("expected omission marker, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("result is not valid UTF-8")
	}

	gotLines := strings.Split(got, "\n")
	// head lines + marker lines (2 blank+content) + tail lines, roughly bounded.
	if len(gotLines) > HeadLines+TailLines+5 {
		t.Fatalf("result has too many lines: %d", len(gotLines))
	}
}

func TestTextByteTruncationMarker(t *testing.T) {
	s := strings.Repeat("x", MaxBytes*2)
	got := Text(s)
	if !strings.Contains(got, "truncated to fit") {
		t.Fatalf("expected byte truncation marker, got first 100 chars: %q", got[:100])
	}
	if len(got) > MaxBytes+200 {
		t.Fatalf("result too large: %d bytes", len(got))
	}
}

func TestTextMultibyteBoundarySafe(t *testing.T) {
	// Build input heavy with multi-byte emoji so naive byte slicing would
	// split a rune in half.
	emoji := "😀😁😂🤣😃😄😅😆😉😊"
	s := strings.Repeat(emoji+"\n", 2000)

	got := Text(s)
	if !utf8.ValidString(got) {
		t.Fatalf("result split a multi-byte rune: %q", got[:50])
	}
}

func TestTextHeadTailLineSplit(t *testing.T) {
	if HeadLines+TailLines != MaxLines {
		t.Fatalf("HeadLines+TailLines = %d, want %d", HeadLines+TailLines, MaxLines)
	}
}

func TestItemsPassesImagesThrough(t *testing.T) {
	items := []Item{
		{Kind: ItemImage, ImageRef: "ref-1"},
		{Kind: ItemText, Text: "hello"},
	}
	got := Items(items)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].Kind != ItemImage || got[0].ImageRef != "ref-1" {
		t.Fatalf("image item was not passed through unchanged: %+v", got[0])
	}
}

func TestItemsBudgetEnforced(t *testing.T) {
	big := strings.Repeat("a", MaxBytes)
	items := []Item{
		{Kind: ItemText, Text: big},
		{Kind: ItemText, Text: "overflow text"},
	}
	got := Items(items)

	var totalText int
	sawMarker := false
	for _, it := range got {
		if it.Kind != ItemText {
			continue
		}
		if strings.HasPrefix(it.Text, "[omitted") {
			sawMarker = true
			continue
		}
		totalText += len(it.Text)
	}
	if totalText > MaxBytes {
		t.Fatalf("total text bytes %d exceeds MaxBytes %d", totalText, MaxBytes)
	}
	if !sawMarker {
		t.Fatalf("expected an omitted-items marker")
	}
}

func TestItemsNoOmissionWhenWithinBudget(t *testing.T) {
	items := []Item{
		{Kind: ItemText, Text: "small"},
		{Kind: ItemImage, ImageRef: "x"},
	}
	got := Items(items)
	for _, it := range got {
		if strings.HasPrefix(it.Text, "[omitted") {
			t.Fatalf("unexpected omission marker when everything fits")
		}
	}
}

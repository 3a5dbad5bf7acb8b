package logbook

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journey.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestStepEntriesAreTagged(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "logs", FileName))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Step(LevelWarn, 3, "save declined")
	lines, total := book.Tail(10)
	if total != 1 || len(lines) != 1 {
		t.Fatalf("tail = %v, %d", lines, total)
	}
	if !strings.Contains(lines[0], "WARN") || !strings.Contains(lines[0], "[step 3] save declined") {
		t.Fatalf("line = %q", lines[0])
	}
}

func TestTailOnMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	if lines, total := book.Tail(5); lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", lines, total)
	}
}

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleLog = `{"time":"2026-01-02T10:00:02Z","level":"INFO","msg":"plan extracted","run_id":"r1","issue":4,"stage":"parse","instructions":2}
not json
{"time":"2026-01-02T10:00:01Z","level":"DEBUG","msg":"worktree ready","run_id":"r1","issue":4,"stage":"prepare"}
{"time":"2026-01-02T10:00:03Z","level":"ERROR","msg":"agent failed","run_id":"r2","issue":9,"stage":"patch"}
`

func TestParseLogs(t *testing.T) {
	entries, err := ParseLogs(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("ParseLogs() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	if entries[0].Message != "worktree ready" {
		t.Errorf("entries not sorted by time, first = %q", entries[0].Message)
	}
	if entries[1].Issue != 4 || entries[1].Stage != "parse" || entries[1].RunID != "r1" {
		t.Errorf("context fields not parsed: %+v", entries[1])
	}
	if entries[1].Attrs["instructions"] != float64(2) {
		t.Errorf("Attrs[instructions] = %v, want 2", entries[1].Attrs["instructions"])
	}
}

func TestFilterLogs(t *testing.T) {
	entries, err := ParseLogs(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("ParseLogs() error = %v", err)
	}

	tests := []struct {
		name   string
		filter LogFilter
		want   int
	}{
		{"empty filter", LogFilter{}, 3},
		{"level", LogFilter{Level: "info"}, 2},
		{"run", LogFilter{RunID: "r1"}, 2},
		{"issue", LogFilter{Issue: 9}, 1},
		{"stage", LogFilter{Stage: "parse"}, 1},
		{"since", LogFilter{Since: time.Date(2026, 1, 2, 10, 0, 2, 0, time.UTC)}, 2},
		{"message", LogFilter{MessageContains: "failed"}, 1},
		{"combined", LogFilter{RunID: "r1", Level: LevelError}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(FilterLogs(entries, tt.filter)); got != tt.want {
				t.Errorf("FilterLogs() returned %d entries, want %d", got, tt.want)
			}
		})
	}
}

func TestReadLogs(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadLogs(filepath.Join(t.TempDir(), "nope.log")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fixit.log")
		if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
			t.Fatal(err)
		}
		entries, err := ReadLogs(path)
		if err != nil {
			t.Fatalf("ReadLogs() error = %v", err)
		}
		if len(entries) != 3 {
			t.Errorf("len(entries) = %d, want 3", len(entries))
		}
	})
}

func TestWriteText(t *testing.T) {
	entries := []LogEntry{{
		Timestamp: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		Level:     LevelWarn,
		Message:   "budget warning",
		RunID:     "r1",
		Issue:     3,
		Stage:     "patch",
		Attrs:     map[string]any{"cost": 1.5},
	}}

	var buf bytes.Buffer
	if err := WriteText(&buf, entries); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}

	want := `[2026-01-02 10:00:00.000] WARN - budget warning (run=r1, issue=3, stage=patch) {"cost":1.5}` + "\n"
	if buf.String() != want {
		t.Errorf("WriteText() = %q, want %q", buf.String(), want)
	}
}

package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kestrelhq/kestrel/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), ".kestrel", "main.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)

	body := "multi\nline\ncontent with unicode: héllo ✓"
	if err := s.Record(NewEvent(protocol.EventUser, protocol.RoleUser, protocol.SourceController, body, nil)); err != nil {
		t.Fatal(err)
	}

	// Transcript stays one JSON object per line despite embedded newlines.
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(strings.TrimSpace(string(raw)), "\n"); lines != 0 {
		t.Errorf("expected a single line, got %d extra", lines)
	}

	events, err := s.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Content() != body {
		t.Errorf("content = %q", events[0].Content())
	}
	if events[0].TS == "" {
		t.Error("timestamp missing")
	}
}

func TestReadFileSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(NewEvent(protocol.EventUser, protocol.RoleUser, protocol.SourceController, "first", nil)); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json at all\n")
	f.Close()

	if err := s.Record(NewEvent(protocol.EventUser, protocol.RoleUser, protocol.SourceController, "second", nil)); err != nil {
		t.Fatal(err)
	}

	events, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want malformed line skipped", len(events))
	}
}

func TestReadFileMissing(t *testing.T) {
	events, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if events != nil {
		t.Errorf("events = %v", events)
	}
}

func TestTypedHelpers(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordToolCall("shell", `{"command":"ls"}`, "1_call_1", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordToolResult("shell", `{"exit_code":0}`, "1_call_1", "1", true, 42); err != nil {
		t.Fatal(err)
	}

	events, err := s.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}

	call := events[0]
	if call.Type != protocol.EventToolCall {
		t.Errorf("type = %q", call.Type)
	}
	if call.Metadata["tool_name"] != "shell" || call.Metadata["call_id"] != "1_call_1" || call.Metadata["task_id"] != "1" {
		t.Errorf("call metadata = %v", call.Metadata)
	}

	result := events[1]
	if result.Metadata["call_id"] != "1_call_1" {
		t.Errorf("result call_id = %v", result.Metadata["call_id"])
	}
	if result.Metadata["task_id"] != "1" {
		t.Errorf("result task_id = %v", result.Metadata["task_id"])
	}
	if result.Metadata["success"] != true {
		t.Errorf("success = %v", result.Metadata["success"])
	}
	if result.Metadata["duration_ms"].(float64) != 42 {
		t.Errorf("duration_ms = %v", result.Metadata["duration_ms"])
	}
}

func TestAggregate(t *testing.T) {
	events := []Event{
		NewEvent(protocol.EventAssistant, protocol.RoleCoder, protocol.SourceCoder, "First part.", nil),
		NewEvent(protocol.EventAssistant, protocol.RoleCoder, protocol.SourceCoder, "Second part.", nil),
		NewEvent(protocol.EventToolCall, protocol.RoleAssistant, protocol.SourceToolRunner, "{}", map[string]interface{}{"call_id": "1_call_1"}),
		NewEvent(protocol.EventAssistant, protocol.RoleCoder, protocol.SourceCoder, "After the call.", nil),
	}

	out := Aggregate(events)
	if len(out) != 3 {
		t.Fatalf("aggregated = %d, want 3", len(out))
	}
	if out[0].Content != "First part. Second part." {
		t.Errorf("joined = %q", out[0].Content)
	}
	if out[1].Type != protocol.EventToolCall {
		t.Errorf("middle type = %q", out[1].Type)
	}
	if out[2].Content != "After the call." {
		t.Errorf("tail = %q", out[2].Content)
	}
}

func TestAggregateKeepsWhitespaceBoundaries(t *testing.T) {
	events := []Event{
		NewEvent(protocol.EventDetail, protocol.RoleAssistant, protocol.SourceController, "chunk one\n", nil),
		NewEvent(protocol.EventDetail, protocol.RoleAssistant, protocol.SourceController, "chunk two", nil),
	}
	out := Aggregate(events)
	if len(out) != 1 {
		t.Fatalf("aggregated = %d", len(out))
	}
	if out[0].Content != "chunk one\nchunk two" {
		t.Errorf("joined = %q", out[0].Content)
	}
}

func TestRehydrate(t *testing.T) {
	s := newTestStore(t)

	s.Record(NewEvent(protocol.EventUser, protocol.RoleUser, protocol.SourceController, "build me a server", nil))
	s.Record(NewEvent(protocol.EventPlan, protocol.RoleManager, protocol.SourceManager, "Plan (confidence: 85%):\n  1. do it", nil))
	s.Record(NewEvent(protocol.EventAssistant, protocol.RoleCoder, protocol.SourceCoder, "working on it", nil))
	s.Record(NewEvent(protocol.EventUser, protocol.RoleUser, protocol.SourceController, "add tests too", nil))
	s.Record(NewEvent(protocol.EventAssistant, protocol.RoleCoder, protocol.SourceCoder, "tests added", nil))

	seed, err := Rehydrate(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !seed.WelcomeSent {
		t.Error("expected welcome_sent for non-empty transcript")
	}
	if seed.LastUser != "add tests too" {
		t.Errorf("last user = %q", seed.LastUser)
	}
	if !strings.Contains(seed.LastPlan, "Plan (confidence") {
		t.Errorf("last plan = %q", seed.LastPlan)
	}
	if len(seed.History) != 4 {
		t.Fatalf("history = %d", len(seed.History))
	}
	if seed.History[0].Role != "user" || seed.History[len(seed.History)-1].Content != "tests added" {
		t.Errorf("history = %+v", seed.History)
	}
}

func TestRehydrateBoundsHistory(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		s.Record(NewEvent(protocol.EventUser, protocol.RoleUser, protocol.SourceController, "turn", nil))
	}
	seed, err := Rehydrate(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(seed.History) != 6 {
		t.Errorf("history = %d, want 6", len(seed.History))
	}
}

func TestRehydrateMissingFile(t *testing.T) {
	seed, err := Rehydrate(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if seed.WelcomeSent {
		t.Error("empty transcript must not mark welcome sent")
	}
}

func TestRecordSummaryWritesDailyNote(t *testing.T) {
	s := newTestStore(t)
	notesDir := filepath.Join(t.TempDir(), "notes", "main")
	s.SetNotesDir(notesDir)

	s.Record(NewEvent(protocol.EventUser, protocol.RoleUser, protocol.SourceController, "add a health endpoint", nil))
	s.Record(NewEvent(protocol.EventPlanning, protocol.RoleCoder, protocol.SourceCoder, "1. [tool: write_file] create handler", nil))
	s.RecordToolCall("write_file", `{"path":"health.go"}`, "1_call_1", "1")
	s.RecordToolResult("write_file", `{"bytes_written":10}`, "1_call_1", "1", true, 7)
	s.Record(Event{
		Type: protocol.EventTaskComplete, Role: protocol.RoleManager, Source: protocol.SourceManager,
		Metadata: map[string]interface{}{"files_changed": []string{"health.go", "notes.txt"}},
	})

	if err := s.RecordSummary("I did add the endpoint. I learned it was simple. Next, shall I test it?", nil); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(notesDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("notes dir: %v, entries=%v", err, entries)
	}
	data, err := os.ReadFile(filepath.Join(notesDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	note := string(data)

	for _, want := range []string{
		"# Notes ",
		"**Request:** add a health endpoint",
		"write_file",
		"- [x] write_file (7ms)",
		"I did add the endpoint.",
		"[[health.go]]",
	} {
		if !strings.Contains(note, want) {
			t.Errorf("note missing %q:\n%s", want, note)
		}
	}
	// .txt is not a known code extension, so it gets no link.
	if strings.Contains(note, "[[notes.txt]]") {
		t.Errorf("unexpected link for notes.txt:\n%s", note)
	}
}

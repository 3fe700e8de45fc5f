package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// ringCapacity bounds the in-memory mirror used for fast read-back and
// notes assembly.
const ringCapacity = 512

// Store is the append-only event log for one session. All writes are
// serialized through a single mutex so transcript lines are totally
// ordered per session.
type Store struct {
	mu   sync.Mutex
	path string
	ring []Event

	// notesDir, when set, receives daily markdown notes on every
	// recorded summary.
	notesDir string
}

// NewStore opens (or prepares) the transcript at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{path: path}, nil
}

// SetNotesDir enables daily markdown notes under dir.
func (s *Store) SetNotesDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notesDir = dir
}

// Path returns the transcript file path.
func (s *Store) Path() string { return s.path }

// Record appends one event as a single JSON line and mirrors it into the
// in-memory ring. Timestamps are filled in when missing.
func (s *Store) Record(ev Event) error {
	if ev.TS == "" {
		ev.TS = protocol.Now()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}

	s.ring = append(s.ring, ev)
	if len(s.ring) > ringCapacity {
		s.ring = s.ring[len(s.ring)-ringCapacity:]
	}
	return nil
}

// Recent returns a copy of the in-memory event mirror.
func (s *Store) Recent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.ring))
	copy(out, s.ring)
	return out
}

// ReadAll parses the whole transcript file. Malformed lines are skipped;
// readers tolerate missing optional fields.
func (s *Store) ReadAll() ([]Event, error) {
	return ReadFile(s.path)
}

// ReadFile parses a transcript file without a Store.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan transcript: %w", err)
	}
	return events, nil
}

// Typed helpers populate the correct type, source, and metadata for the
// recording paths the orchestrator and agents use.

// RecordSTTRaw records a raw speech-to-text transcript.
func (s *Store) RecordSTTRaw(text, source string, meta map[string]interface{}) error {
	if source == "" {
		source = protocol.SourceWhisper
	}
	return s.Record(NewEvent(protocol.EventSTTRaw, protocol.RoleUser, source, text, meta))
}

// RecordUserIntent records the resolved user intent.
func (s *Store) RecordUserIntent(text string, meta map[string]interface{}) error {
	return s.Record(NewEvent(protocol.EventUserIntent, protocol.RoleUser, protocol.SourceController, text, meta))
}

// RecordAgentStream records a chunk of streaming agent output.
func (s *Store) RecordAgentStream(text, source string, meta map[string]interface{}) error {
	return s.Record(NewEvent(protocol.EventAgentStream, protocol.RoleAssistant, source, text, meta))
}

// RecordToolCall records a tool invocation request.
func (s *Store) RecordToolCall(toolName, arguments, callID, taskID string) error {
	return s.Record(NewEvent(protocol.EventToolCall, protocol.RoleAssistant, protocol.SourceToolRunner, arguments, map[string]interface{}{
		"tool_name": toolName,
		"call_id":   callID,
		"task_id":   taskID,
	}))
}

// RecordToolResult records the outcome of a prior tool call.
func (s *Store) RecordToolResult(toolName, result, callID, taskID string, success bool, durationMs int64) error {
	return s.Record(NewEvent(protocol.EventToolResult, protocol.RoleSystem, protocol.SourceToolRunner, result, map[string]interface{}{
		"tool_name":   toolName,
		"call_id":     callID,
		"task_id":     taskID,
		"success":     success,
		"duration_ms": durationMs,
	}))
}

// RecordSummary records an end-of-turn summary and appends the daily
// markdown note when notes are enabled.
func (s *Store) RecordSummary(text string, meta map[string]interface{}) error {
	if err := s.Record(NewEvent(protocol.EventSummary, protocol.RoleSystem, protocol.SourceSummarizer, text, meta)); err != nil {
		return err
	}
	s.mu.Lock()
	notesDir := s.notesDir
	ring := make([]Event, len(s.ring))
	copy(ring, s.ring)
	s.mu.Unlock()

	if notesDir != "" {
		if err := appendDailyNote(notesDir, ring, text); err != nil {
			return fmt.Errorf("append daily note: %w", err)
		}
	}
	return nil
}

// RecordSystem records a controller/system event.
func (s *Store) RecordSystem(text string, meta map[string]interface{}) error {
	return s.Record(NewEvent(protocol.EventSystem, protocol.RoleSystem, protocol.SourceSystem, text, meta))
}

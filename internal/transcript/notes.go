package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// codeExtensions are the file types that get Obsidian-style [[links]]
// in the changed-files list.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".rb": true, ".sh": true, ".sql": true, ".html": true,
	".css": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".md": true,
}

// appendDailyNote assembles a per-interaction markdown section from the
// recent event ring and appends it to the daily notes file. The section
// contains the triggering user request, the last planning block, a
// checklist of tool calls with success marks and durations, the summary
// prose, and links to changed code files.
func appendDailyNote(notesDir string, ring []Event, summary string) error {
	day := time.Now().UTC().Format("2006-01-02")
	notePath := filepath.Join(notesDir, day+".md")

	if err := os.MkdirAll(notesDir, 0755); err != nil {
		return err
	}

	var sb strings.Builder

	if _, err := os.Stat(notePath); os.IsNotExist(err) {
		sb.WriteString(fmt.Sprintf("# Notes %s\n\n", day))
	}

	sb.WriteString(fmt.Sprintf("## %s\n\n", time.Now().UTC().Format("15:04:05")))

	if req := lastUserRequest(ring); req != "" {
		sb.WriteString(fmt.Sprintf("**Request:** %s\n\n", firstLine(req)))
	}
	if planning := lastPlanning(ring); planning != "" {
		sb.WriteString("**Plan:**\n\n```\n" + planning + "\n```\n\n")
	}

	if checklist := toolChecklist(ring); checklist != "" {
		sb.WriteString("**Tools:**\n\n" + checklist + "\n")
	}

	sb.WriteString(summary + "\n\n")

	if links := fileLinks(ring); links != "" {
		sb.WriteString("**Files:** " + links + "\n\n")
	}

	f, err := os.OpenFile(notePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(sb.String())
	return err
}

// lastUserRequest returns the most recent user event body, scanning back
// from the end of the ring.
func lastUserRequest(ring []Event) string {
	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].Type == protocol.EventUser || ring[i].Type == protocol.EventUserIntent {
			return ring[i].Content()
		}
	}
	return ""
}

func lastPlanning(ring []Event) string {
	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].Type == protocol.EventPlanning {
			return ring[i].Content()
		}
	}
	return ""
}

// toolChecklist renders the tool calls since the last user request as a
// markdown checklist with success marks and durations.
func toolChecklist(ring []Event) string {
	start := 0
	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].Type == protocol.EventUser || ring[i].Type == protocol.EventUserIntent {
			start = i
			break
		}
	}

	results := make(map[string]Event)
	for _, ev := range ring[start:] {
		if ev.Type == protocol.EventToolResult {
			if id, ok := ev.Metadata["call_id"].(string); ok {
				results[id] = ev
			}
		}
	}

	var sb strings.Builder
	for _, ev := range ring[start:] {
		if ev.Type != protocol.EventToolCall {
			continue
		}
		name, _ := ev.Metadata["tool_name"].(string)
		callID, _ := ev.Metadata["call_id"].(string)

		mark := " "
		duration := ""
		if res, ok := results[callID]; ok {
			if success, _ := res.Metadata["success"].(bool); success {
				mark = "x"
			}
			switch d := res.Metadata["duration_ms"].(type) {
			case int64:
				duration = fmt.Sprintf(" (%dms)", d)
			case float64:
				duration = fmt.Sprintf(" (%dms)", int64(d))
			}
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s%s\n", mark, name, duration))
	}
	return sb.String()
}

// fileLinks renders [[links]] for changed files with known code
// extensions, taken from the most recent summary-adjacent metadata.
func fileLinks(ring []Event) string {
	seen := map[string]bool{}
	var links []string
	for _, ev := range ring {
		files, ok := ev.Metadata["files_changed"]
		if !ok {
			continue
		}
		for _, f := range toStringSlice(files) {
			if seen[f] || !codeExtensions[strings.ToLower(filepath.Ext(f))] {
				continue
			}
			seen[f] = true
			links = append(links, "[["+f+"]]")
		}
	}
	return strings.Join(links, ", ")
}

func toStringSlice(v interface{}) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

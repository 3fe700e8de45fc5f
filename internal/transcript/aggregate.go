package transcript

import "strings"

// DecodedEvent is an Event with its body decoded, as served over HTTP.
type DecodedEvent struct {
	TS       string                 `json:"ts"`
	Type     string                 `json:"type"`
	Role     string                 `json:"role"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Content  string                 `json:"content"`
}

// aggregatable types merge when consecutive events share (type, role,
// source). Everything else is preserved as-is so call correlation and
// task boundaries survive replay.
var aggregatable = map[string]bool{
	"assistant": true,
	"detail":    true,
	"system":    true,
}

// Aggregate decodes events and concatenates runs of consecutive
// aggregatable events with the same (type, role, source) key.
func Aggregate(events []Event) []DecodedEvent {
	var out []DecodedEvent
	for _, ev := range events {
		content := ev.Content()
		if n := len(out); n > 0 && aggregatable[ev.Type] {
			prev := &out[n-1]
			if prev.Type == ev.Type && prev.Role == ev.Role && prev.Source == ev.Source {
				prev.Content = joinContent(prev.Content, content)
				continue
			}
		}
		out = append(out, DecodedEvent{
			TS:       ev.TS,
			Type:     ev.Type,
			Role:     ev.Role,
			Source:   ev.Source,
			Metadata: ev.Metadata,
			Content:  content,
		})
	}
	return out
}

// joinContent concatenates two chunks without introducing double spaces
// across sentence punctuation or existing whitespace boundaries.
func joinContent(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if strings.HasSuffix(a, "\n") || strings.HasSuffix(a, " ") ||
		strings.HasPrefix(b, "\n") || strings.HasPrefix(b, " ") {
		return a + b
	}
	return a + " " + b
}

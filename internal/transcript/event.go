package transcript

import (
	"encoding/base64"

	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// Event is one line of a session transcript. The body is base64-encoded
// so the JSONL stays single-line safe for any UTF-8 content, newlines
// included.
type Event struct {
	TS       string                 `json:"ts"`
	Type     string                 `json:"type"`
	Role     string                 `json:"role"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	BodyB64  string                 `json:"body_b64"`
}

// NewEvent builds an Event stamped with the current UTC time.
func NewEvent(typ, role, source, content string, metadata map[string]interface{}) Event {
	return Event{
		TS:       protocol.Now(),
		Type:     typ,
		Role:     role,
		Source:   source,
		Metadata: metadata,
		BodyB64:  base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

// Content decodes the base64 body. Readers tolerate malformed bodies by
// returning the raw field.
func (e Event) Content() string {
	data, err := base64.StdEncoding.DecodeString(e.BodyB64)
	if err != nil {
		return e.BodyB64
	}
	return string(data)
}

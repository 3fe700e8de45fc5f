package protocol

import "time"

// Event types streamed to clients and persisted in session transcripts.
const (
	EventSTTRaw       = "stt_raw"
	EventUserIntent   = "user_intent"
	EventUser         = "user"
	EventPlanning     = "planning"
	EventPlan         = "plan"
	EventManager      = "manager"
	EventClarify      = "clarify"
	EventTaskStart    = "task_start"
	EventTaskComplete = "task_complete"
	EventTaskFailed   = "task_failed"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventAgentStream  = "agent_stream"
	EventAssistant    = "assistant"
	EventResult       = "result"
	EventDetail       = "detail"
	EventSummary      = "summary"
	EventRecap        = "recap"
	EventSystem       = "system"
	EventError        = "error"
)

// Roles attached to events.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleSystem     = "system"
	RoleController = "controller"
	RoleCoder      = "coder"
	RoleManager    = "manager"
)

// Sources identify the component that produced an event.
const (
	SourceWhisper    = "whisper"
	SourceBrowserSTT = "browser_stt"
	SourceController = "controller"
	SourceCoder      = "coder"
	SourceManager    = "manager"
	SourceSummarizer = "summarizer"
	SourceToolRunner = "tool_runner"
	SourceSystem     = "system"
)

// TimestampFormat is ISO-8601 UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Now returns the current time formatted for the wire and the transcript.
func Now() string {
	return time.Now().UTC().Format(TimestampFormat)
}

// Frame is one outbound WebSocket message. Inbound frames are plain
// UTF-8 user text; outbound frames are JSON.
type Frame struct {
	Type      string                 `json:"type"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp string                 `json:"timestamp"`
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewFrame builds a Frame stamped with the current UTC time.
func NewFrame(typ, role, content, source string, metadata map[string]interface{}) Frame {
	return Frame{
		Type:      typ,
		Role:      role,
		Content:   content,
		Timestamp: Now(),
		Source:    source,
		Metadata:  metadata,
	}
}

package llm

import "context"

// Provider is the interface the agents program against.
// The client is stateless and retry-free: failures surface to callers,
// which own the retry policy (the Manager retries whole tasks, not calls).
type Provider interface {
	// Chat sends messages and returns the assistant text.
	// Used by the Manager planner and the Summarizer.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatWithTools sends messages plus tool schemas and returns text and
	// structured tool calls. Used by the Coder.
	ChatWithTools(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// SupportsToolCallMessages reports whether tool-role messages can be
	// appended to history. When false, callers serialize tool results into
	// system-role messages instead.
	SupportsToolCallMessages() bool

	// DefaultModel returns the provider's default model name.
	DefaultModel() string
}

// ChatRequest contains the input for a Chat/ChatWithTools call.
type ChatRequest struct {
	Messages       []Message        `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Model          string           `json:"model,omitempty"`
	ResponseFormat string           `json:"response_format,omitempty"` // e.g. "json_object"
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    float64          `json:"temperature,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        *Usage     `json:"usage,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the schema for a function tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

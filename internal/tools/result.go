package tools

import "encoding/json"

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM   string `json:"for_llm"`             // content sent back to the LLM
	IsError  bool   `json:"is_error"`            // marks hard failure (bad path, bad args)
	ExitCode *int   `json:"exit_code,omitempty"` // set by subprocess tools
	Err      error  `json:"-"`                   // internal error (not serialized)
}

// Success reports whether the result counts as a successful tool_result.
// Subprocess tools succeed when the exit code is zero; everything else
// succeeds unless IsError is set.
func (r *Result) Success() bool {
	if r.IsError {
		return false
	}
	if r.ExitCode != nil {
		return *r.ExitCode == 0
	}
	return true
}

// NewResult wraps a payload map as a JSON result.
func NewResult(payload map[string]interface{}) *Result {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ErrorResult("failed to encode tool result: " + err.Error())
	}
	r := &Result{ForLLM: string(data)}
	if ec, ok := payload["exit_code"].(int); ok {
		r.ExitCode = &ec
	}
	return r
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kestrelhq/kestrel/internal/llm"
)

// Some models emit tool calls inline in the assistant text instead of
// the structured tool_calls field. Two encodings are recognized:
//
//	<tool_call>{"name": "shell", "arguments": {"command": "ls"}}</tool_call>
//	<function=shell><parameter=command>ls</parameter></function>
//
// Bare text inside <tool_call> tags is treated as a shell command.
var (
	reToolCallTag   = regexp.MustCompile(`<tool_call>([\s\S]*?)</tool_call>`)
	reFunctionBlock = regexp.MustCompile(`<function=[^>]+>[\s\S]*?</function>`)
	reFunctionName  = regexp.MustCompile(`<function=([^>]+)>`)
	reParameter     = regexp.MustCompile(`<parameter=([^>]+)>([\s\S]*?)</parameter>`)
	reFunctionTags  = regexp.MustCompile(`</?function[^>]*>`)
	reParameterTags = regexp.MustCompile(`</?parameter[^>]*>`)
)

// hasInlineToolCalls reports whether content carries either fallback
// encoding.
func hasInlineToolCalls(content string) bool {
	return strings.Contains(content, "<tool_call>") || strings.Contains(content, "<function=")
}

// parseToolTags extracts inline tool calls from assistant text.
// <tool_call> blocks take precedence over bare <function=> blocks.
func parseToolTags(content string) []llm.ToolCall {
	var calls []llm.ToolCall

	toolBlocks := reToolCallTag.FindAllStringSubmatch(content, -1)
	if len(toolBlocks) > 0 {
		for _, m := range toolBlocks {
			text := strings.TrimSpace(m[1])
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
				var payload map[string]interface{}
				if err := json.Unmarshal([]byte(text), &payload); err == nil {
					if call, ok := toolCallFromPayload(payload, len(calls)); ok {
						calls = append(calls, call)
						continue
					}
				}
			}
			if strings.Contains(text, "<function=") {
				if call, ok := parseFunctionBlock(text, len(calls)); ok {
					calls = append(calls, call)
				}
				continue
			}
			calls = append(calls, llm.ToolCall{
				ID:        fmt.Sprintf("tag_%d", len(calls)),
				Name:      "shell",
				Arguments: map[string]interface{}{"command": text},
			})
		}
		return calls
	}

	for _, block := range reFunctionBlock.FindAllString(content, -1) {
		if call, ok := parseFunctionBlock(block, len(calls)); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// stripToolTags removes both tool call encodings from assistant text.
func stripToolTags(content string) string {
	cleaned := reToolCallTag.ReplaceAllString(content, "")
	cleaned = reFunctionTags.ReplaceAllString(cleaned, "")
	cleaned = reParameterTags.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// toolCallFromPayload converts a decoded JSON payload into a tool call.
// Accepts both {"function": {"name": ..., "arguments": ...}} and the
// flat {"name": ..., "arguments": ...} shape.
func toolCallFromPayload(payload map[string]interface{}, index int) (llm.ToolCall, bool) {
	var name string
	var rawArgs interface{}

	if fn, ok := payload["function"].(map[string]interface{}); ok {
		name, _ = fn["name"].(string)
		rawArgs = fn["arguments"]
	} else {
		name, _ = payload["name"].(string)
		rawArgs = payload["arguments"]
	}
	if name == "" {
		return llm.ToolCall{}, false
	}

	args := map[string]interface{}{}
	switch a := rawArgs.(type) {
	case map[string]interface{}:
		args = a
	case string:
		if err := json.Unmarshal([]byte(a), &args); err != nil {
			if name == "shell" {
				args = map[string]interface{}{"command": a}
			} else {
				args = map[string]interface{}{"value": a}
			}
		}
	}

	return llm.ToolCall{
		ID:        fmt.Sprintf("tag_%d", index),
		Name:      name,
		Arguments: args,
	}, true
}

// parseFunctionBlock parses one <function=NAME>...</function> block.
// When the block carries no <parameter> pairs, its bare text becomes the
// shell command or list_dir path.
func parseFunctionBlock(text string, index int) (llm.ToolCall, bool) {
	m := reFunctionName.FindStringSubmatch(text)
	if m == nil {
		return llm.ToolCall{}, false
	}
	name := strings.TrimSpace(m[1])

	args := map[string]interface{}{}
	for _, pm := range reParameter.FindAllStringSubmatch(text, -1) {
		args[strings.TrimSpace(pm[1])] = strings.TrimSpace(pm[2])
	}

	if len(args) == 0 {
		body := reFunctionTags.ReplaceAllString(text, "")
		body = strings.TrimSpace(reParameterTags.ReplaceAllString(body, ""))
		switch {
		case name == "shell" && body != "":
			args["command"] = body
		case name == "list_dir":
			if body == "" {
				body = "."
			}
			args["path"] = body
		}
	}

	return llm.ToolCall{
		ID:        fmt.Sprintf("tag_%d", index),
		Name:      name,
		Arguments: args,
	}, true
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/internal/task"
	"github.com/kestrelhq/kestrel/internal/tools"
	"github.com/kestrelhq/kestrel/pkg/protocol"
)

var reThink = regexp.MustCompile(`<think>([\s\S]*?)</think>`)

// Coder executes one task with a bounded tool-use loop and streams
// typed events as it goes.
type Coder struct {
	client   llm.Provider
	maxSteps int
	tracer   trace.Tracer
}

// NewCoder builds a coder. maxSteps <= 0 selects the default of 30.
func NewCoder(client llm.Provider, maxSteps int) *Coder {
	if maxSteps <= 0 {
		maxSteps = 30
	}
	return &Coder{
		client:   client,
		maxSteps: maxSteps,
		tracer:   otel.Tracer("kestrel/agent"),
	}
}

// Run executes the task prompt against the session and returns a lazy
// event stream. The channel closes when the loop finishes or ctx is
// cancelled. taskID is threaded into every event's metadata and into
// tool call ids.
func (c *Coder) Run(ctx context.Context, sess *sessions.Session, reg *tools.Registry, taskPrompt, taskID string) <-chan Event {
	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		c.run(ctx, sess, reg, taskPrompt, taskID, ch)
	}()
	return ch
}

func (c *Coder) run(ctx context.Context, sess *sessions.Session, reg *tools.Registry, taskPrompt, taskID string, ch chan<- Event) {
	ctx, span := c.tracer.Start(ctx, "coder.run",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	done := ctx.Done()
	send := func(ev Event) bool {
		if taskID != "" {
			ev = withMeta(ev, map[string]interface{}{"task_id": taskID})
		}
		return emit(ch, done, ev)
	}

	sess.AppendHistory(llm.Message{Role: "user", Content: taskPrompt})
	messages := append(
		[]llm.Message{{Role: "system", Content: coderSystemPrompt}},
		sess.History()...,
	)

	callSeq := 0
	for step := 0; step < c.maxSteps; step++ {
		resp, err := c.client.ChatWithTools(ctx, llm.ChatRequest{
			Messages: messages,
			Tools:    reg.Defs(),
		})
		if err != nil {
			send(Event{
				Type:    protocol.EventError,
				Role:    protocol.RoleSystem,
				Content: fmt.Sprintf("LLM call failed: %v", err),
				Source:  protocol.SourceSystem,
			})
			return
		}

		content := strings.TrimSpace(resp.Content)
		toolCalls := resp.ToolCalls

		if len(toolCalls) == 0 && hasInlineToolCalls(content) {
			toolCalls = parseToolTags(content)
			content = stripToolTags(content)
		}

		// Surface the model's planning block, then drop it from the
		// conversation so it does not echo through later turns.
		if m := reThink.FindStringSubmatch(content); m != nil {
			if !send(Event{
				Type:    protocol.EventPlanning,
				Role:    protocol.RoleCoder,
				Content: strings.TrimSpace(m[1]),
				Source:  protocol.SourceCoder,
			}) {
				return
			}
			content = strings.TrimSpace(reThink.ReplaceAllString(content, ""))
		}

		if content != "" || len(toolCalls) > 0 {
			msg := llm.Message{Role: "assistant", Content: content}
			if len(toolCalls) > 0 && c.client.SupportsToolCallMessages() {
				msg.ToolCalls = toolCalls
			}
			messages = append(messages, msg)
		}

		if content != "" {
			sess.AppendHistory(llm.Message{Role: "assistant", Content: content})
			if !send(Event{
				Type:    protocol.EventAssistant,
				Role:    protocol.RoleCoder,
				Content: content,
				Source:  protocol.SourceCoder,
			}) {
				return
			}
			if len(toolCalls) == 0 {
				if res := task.ParseResult(content); res != nil {
					send(Event{
						Type:    protocol.EventResult,
						Role:    protocol.RoleCoder,
						Content: res.Summary,
						Source:  protocol.SourceCoder,
						Metadata: map[string]interface{}{
							"status":        string(res.Status),
							"files_changed": res.FilesChanged,
							"tested":        res.Tested,
							"errors":        res.Errors,
						},
					})
				}
				return
			}
		}

		if len(toolCalls) == 0 {
			send(Event{
				Type:    protocol.EventSystem,
				Role:    protocol.RoleSystem,
				Content: "Coder returned no tool calls or final response. Stopping.",
				Source:  protocol.SourceSystem,
			})
			return
		}

		for _, call := range toolCalls {
			callSeq++
			callID := fmt.Sprintf("%s_call_%d", taskID, callSeq)

			requestJSON, _ := json.MarshalIndent(map[string]interface{}{
				"name":      call.Name,
				"arguments": call.Arguments,
			}, "", "  ")
			if !send(Event{
				Type: protocol.EventToolCall,
				Role: protocol.RoleSystem,
				Content: fmt.Sprintf("Tool request: %s\nWorking directory: %s\n```json\n%s\n```",
					call.Name, sess.Cwd, requestJSON),
				Source: protocol.SourceToolRunner,
				Metadata: map[string]interface{}{
					"tool_name": call.Name,
					"call_id":   callID,
					"cwd":       sess.Cwd,
					"arguments": call.Arguments,
				},
			}) {
				return
			}

			start := time.Now()
			tctx, tspan := c.tracer.Start(ctx, "tool.exec",
				trace.WithAttributes(attribute.String("tool.name", call.Name)))
			result := reg.Execute(tctx, call.Name, call.Arguments)
			tspan.End()
			durationMs := time.Since(start).Milliseconds()
			success := result.Success()

			if !send(Event{
				Type: protocol.EventToolResult,
				Role: protocol.RoleSystem,
				Content: fmt.Sprintf("Tool response: %s\nWorking directory: %s\n```json\n%s\n```",
					call.Name, sess.Cwd, result.ForLLM),
				Source: protocol.SourceToolRunner,
				Metadata: map[string]interface{}{
					"tool_name":   call.Name,
					"call_id":     callID,
					"success":     success,
					"duration_ms": durationMs,
					"has_error":   !success,
				},
			}) {
				return
			}

			if c.client.SupportsToolCallMessages() {
				messages = append(messages, llm.Message{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    result.ForLLM,
				})
			} else {
				messages = append(messages, llm.Message{
					Role:    "system",
					Content: fmt.Sprintf("Tool result (%s): %s", call.Name, result.ForLLM),
				})
			}
			sess.AppendHistory(llm.Message{
				Role:    "system",
				Content: fmt.Sprintf("Tool result (%s): %s", call.Name, result.ForLLM),
			})
		}
	}

	send(Event{
		Type:    protocol.EventError,
		Role:    protocol.RoleSystem,
		Content: "Coder stopped after too many steps without completing the task.",
		Source:  protocol.SourceSystem,
	})
}

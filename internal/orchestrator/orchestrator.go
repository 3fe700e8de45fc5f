// Package orchestrator routes inbound user messages to the right
// handler: detail-on-demand file reads, clarification resume, replace
// phrases, or the Manager lifecycle. Every event that flows through a
// connection is also persisted to the session transcript.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kestrelhq/kestrel/internal/agent"
	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/internal/summarizer"
	"github.com/kestrelhq/kestrel/internal/tools"
	"github.com/kestrelhq/kestrel/internal/transcript"
	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// detailChunkSize bounds each detail event so speech and UI rendering
// stay responsive on large files.
const detailChunkSize = 1200

var reReadFile = regexp.MustCompile(`(?i)^read\s+(?:file\s+|script\s+)?(\S+)$`)

// replacePhrases reset pending state and start a fresh request.
var replacePhrases = []string{
	"stop and", "cancel this", "start over", "new plan", "ignore previous",
}

// Sink receives outbound frames for one connection.
type Sink interface {
	Send(protocol.Frame) error
}

// Orchestrator is the per-connection router in front of the Manager.
type Orchestrator struct {
	manager *agent.Manager
	summ    *summarizer.Summarizer

	mu         sync.Mutex
	registries map[string]*tools.Registry // keyed by session id
}

// New builds an orchestrator over the given manager and summarizer.
func New(manager *agent.Manager, summ *summarizer.Summarizer) *Orchestrator {
	return &Orchestrator{
		manager:    manager,
		summ:       summ,
		registries: make(map[string]*tools.Registry),
	}
}

// registry returns the session's tool registry, building it on first use.
func (o *Orchestrator) registry(sess *sessions.Session) *tools.Registry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if reg, ok := o.registries[sess.ID]; ok {
		return reg
	}
	reg := tools.NewRegistry(sess.Cwd)
	o.registries[sess.ID] = reg
	return reg
}

// Forget drops the cached registry for a killed session.
func (o *Orchestrator) Forget(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.registries, sessionID)
}

// HandleConnect emits the one-time welcome and working-directory pair,
// recording both. Reconnects to a session that already saw its welcome
// get nothing.
func (o *Orchestrator) HandleConnect(sess *sessions.Session, sink Sink) {
	if sess.WelcomeSent() {
		return
	}
	sess.MarkWelcomeSent()

	welcome := fmt.Sprintf("Session %s is ready. Tell me what to build.", sess.Name)
	cwdLine := "Working directory: " + sess.Cwd

	o.deliver(sess, sink, agent.Event{
		Type:    protocol.EventSystem,
		Role:    protocol.RoleSystem,
		Content: welcome,
		Source:  protocol.SourceSystem,
	})
	o.deliver(sess, sink, agent.Event{
		Type:    protocol.EventSystem,
		Role:    protocol.RoleSystem,
		Content: cwdLine,
		Source:  protocol.SourceSystem,
	})
}

// HandleMessage routes one inbound user message through the state
// machine: record, detail-on-demand, clarification resume, replace
// phrase, Manager lifecycle.
func (o *Orchestrator) HandleMessage(ctx context.Context, sess *sessions.Session, sink Sink, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if err := sess.Transcript.Record(transcript.NewEvent(
		protocol.EventUser, protocol.RoleUser, protocol.SourceController, text, nil,
	)); err != nil {
		slog.Warn("record user event failed", "session", sess.ID, "error", err)
	}
	sess.SetLastUser(text)

	if m := reReadFile.FindStringSubmatch(text); m != nil {
		o.streamDetail(ctx, sess, sink, m[1])
		return
	}

	// A replace phrase abandons any pending clarification and starts
	// fresh; otherwise a pending request consumes this message as its
	// clarification answer.
	request := text
	switch {
	case isReplacePhrase(text):
		sess.SetPendingClarify("")
	case sess.PendingClarify() != "":
		pending := sess.PendingClarify()
		sess.SetPendingClarify("")
		request = pending + "\n\nClarification: " + text
	}

	o.runManager(ctx, sess, sink, request)
}

// streamDetail confines the path to the session cwd and streams the
// file back as detail events in fixed-size chunks, without an LLM call.
func (o *Orchestrator) streamDetail(ctx context.Context, sess *sessions.Session, sink Sink, path string) {
	reg := o.registry(sess)
	res := reg.Execute(ctx, "read_file", map[string]interface{}{"path": path})
	if res.IsError {
		o.deliver(sess, sink, agent.Event{
			Type:    protocol.EventError,
			Role:    protocol.RoleSystem,
			Content: fmt.Sprintf("Could not read %s: %s", path, res.ForLLM),
			Source:  protocol.SourceSystem,
		})
		return
	}

	var payload struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(res.ForLLM), &payload); err != nil {
		slog.Warn("detail read payload malformed", "session", sess.ID, "error", err)
		return
	}

	o.deliver(sess, sink, agent.Event{
		Type:    protocol.EventDetail,
		Role:    protocol.RoleAssistant,
		Content: fmt.Sprintf("Reading %s.", path),
		Source:  protocol.SourceController,
	})
	for _, chunk := range chunkString(payload.Content, detailChunkSize) {
		o.deliver(sess, sink, agent.Event{
			Type:     protocol.EventDetail,
			Role:     protocol.RoleAssistant,
			Content:  chunk,
			Source:   protocol.SourceController,
			Metadata: map[string]interface{}{"path": payload.Path},
		})
	}
}

// runManager drives one Manager lifecycle, forwarding its events to the
// sink with type-aware transcript recording, then emits the recap.
func (o *Orchestrator) runManager(ctx context.Context, sess *sessions.Session, sink Sink, request string) {
	reg := o.registry(sess)

	var turnOutput []string
	clarified := false

	for ev := range o.manager.ProcessRequest(ctx, sess, reg, request, sess.ContextSeed()) {
		switch ev.Type {
		case protocol.EventClarify:
			sess.SetPendingClarify(request)
			clarified = true
		case protocol.EventPlan:
			sess.SetLastPlan(ev.Content)
		case protocol.EventAssistant, protocol.EventSummary, protocol.EventTaskComplete:
			turnOutput = append(turnOutput, ev.Content)
		}
		o.deliver(sess, sink, ev)
	}

	// Clarification pauses the turn; the recap waits for the real work.
	if clarified || len(turnOutput) == 0 {
		return
	}

	recap := o.summ.Summarize(ctx, strings.Join(turnOutput, "\n"))
	if err := sess.Transcript.RecordSummary(recap, nil); err != nil {
		slog.Warn("record summary failed", "session", sess.ID, "error", err)
	}
	if err := sink.Send(protocol.NewFrame(
		protocol.EventRecap, protocol.RoleAssistant, recap, protocol.SourceSummarizer, nil,
	)); err != nil {
		slog.Debug("recap send failed", "session", sess.ID, "error", err)
	}
}

// deliver sends one event to the connection and records it with the
// typed helper matching its type, so structured metadata survives
// replay.
func (o *Orchestrator) deliver(sess *sessions.Session, sink Sink, ev agent.Event) {
	if err := sink.Send(protocol.NewFrame(ev.Type, ev.Role, ev.Content, ev.Source, ev.Metadata)); err != nil {
		slog.Debug("frame send failed", "session", sess.ID, "type", ev.Type, "error", err)
	}

	var err error
	switch ev.Type {
	case protocol.EventToolCall:
		toolName, _ := ev.Metadata["tool_name"].(string)
		callID, _ := ev.Metadata["call_id"].(string)
		taskID, _ := ev.Metadata["task_id"].(string)
		arguments := "{}"
		if raw, ok := ev.Metadata["arguments"]; ok {
			if b, merr := json.Marshal(raw); merr == nil {
				arguments = string(b)
			}
		}
		err = sess.Transcript.RecordToolCall(toolName, arguments, callID, taskID)
	case protocol.EventToolResult:
		toolName, _ := ev.Metadata["tool_name"].(string)
		callID, _ := ev.Metadata["call_id"].(string)
		taskID, _ := ev.Metadata["task_id"].(string)
		success, _ := ev.Metadata["success"].(bool)
		var durationMs int64
		switch d := ev.Metadata["duration_ms"].(type) {
		case int64:
			durationMs = d
		case float64:
			durationMs = int64(d)
		}
		err = sess.Transcript.RecordToolResult(toolName, ev.Content, callID, taskID, success, durationMs)
	case protocol.EventAgentStream:
		err = sess.Transcript.RecordAgentStream(ev.Content, ev.Source, ev.Metadata)
	default:
		err = sess.Transcript.Record(transcript.NewEvent(ev.Type, ev.Role, ev.Source, ev.Content, ev.Metadata))
	}
	if err != nil {
		slog.Warn("record event failed", "session", sess.ID, "type", ev.Type, "error", err)
	}
}

func isReplacePhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range replacePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// chunkString splits s into pieces of at most size bytes, backing off
// to a rune boundary so no chunk carries a torn multi-byte sequence.
func chunkString(s string, size int) []string {
	if s == "" {
		return nil
	}
	var out []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/internal/task"
	"github.com/kestrelhq/kestrel/internal/tools"
	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// Manager decomposes user intent into a task plan and dispatches each
// task to the Coder, retrying failures and summarizing the outcome.
type Manager struct {
	client     llm.Provider
	coder      *Coder
	model      string
	maxRetries int
	controller bool
	tracer     trace.Tracer
}

// NewManager builds a manager. model selects the planning model (empty
// uses the provider default); maxRetries < 0 selects the default of 2.
func NewManager(client llm.Provider, coder *Coder, model string, maxRetries int) *Manager {
	if maxRetries < 0 {
		maxRetries = 2
	}
	return &Manager{
		client:     client,
		coder:      coder,
		model:      model,
		maxRetries: maxRetries,
		controller: true,
		tracer:     otel.Tracer("kestrel/agent"),
	}
}

// WithController toggles plan decomposition. When disabled, every
// request becomes a single fallback task with no planning call.
func (m *Manager) WithController(v bool) *Manager {
	m.controller = v
	return m
}

// Decompose converts user text into a structured plan. An unparseable
// planner response yields the single-task fallback plan.
func (m *Manager) Decompose(ctx context.Context, userText, contextSeed string) (*task.Plan, error) {
	messages := []llm.Message{{Role: "system", Content: managerSystemPrompt}}
	if contextSeed != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: "Context from prior conversation:\n" + contextSeed,
		})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	resp, err := m.client.Chat(ctx, llm.ChatRequest{Messages: messages, Model: m.model})
	if err != nil {
		return nil, fmt.Errorf("decompose intent: %w", err)
	}

	plan := task.ParsePlan(resp.Content)
	if plan == nil {
		plan = task.FallbackPlan(userText)
	}
	return plan, nil
}

// ProcessRequest runs the full lifecycle for one user request and
// returns a lazy event stream. The channel closes when the request is
// done, clarification is needed, or ctx is cancelled.
func (m *Manager) ProcessRequest(ctx context.Context, sess *sessions.Session, reg *tools.Registry, userText, contextSeed string) <-chan Event {
	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		m.process(ctx, sess, reg, userText, contextSeed, ch)
	}()
	return ch
}

func (m *Manager) process(ctx context.Context, sess *sessions.Session, reg *tools.Registry, userText, contextSeed string, ch chan<- Event) {
	ctx, span := m.tracer.Start(ctx, "manager.request",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	done := ctx.Done()
	send := func(ev Event) bool { return emit(ch, done, ev) }

	if !send(Event{
		Type:    protocol.EventManager,
		Role:    protocol.RoleManager,
		Content: "Analyzing request...",
		Source:  protocol.SourceManager,
	}) {
		return
	}

	var plan *task.Plan
	if m.controller {
		var err error
		plan, err = m.Decompose(ctx, userText, contextSeed)
		if err != nil {
			send(Event{
				Type:    protocol.EventError,
				Role:    protocol.RoleManager,
				Content: fmt.Sprintf("Planning failed: %v", err),
				Source:  protocol.SourceManager,
			})
			return
		}
	} else {
		plan = task.FallbackPlan(userText)
	}

	if plan.NeedsClarification != "" {
		send(Event{
			Type:    protocol.EventClarify,
			Role:    protocol.RoleManager,
			Content: plan.NeedsClarification,
			Source:  protocol.SourceManager,
		})
		return
	}

	var taskLines []string
	for _, t := range plan.Tasks {
		taskLines = append(taskLines, fmt.Sprintf("  %s. %s", t.ID, t.Description))
	}
	if !send(Event{
		Type:    protocol.EventPlan,
		Role:    protocol.RoleManager,
		Content: fmt.Sprintf("Plan (confidence: %.0f%%):\n%s", plan.Confidence*100, strings.Join(taskLines, "\n")),
		Source:  protocol.SourceManager,
		Metadata: map[string]interface{}{
			"intent":     plan.Intent,
			"confidence": plan.Confidence,
			"task_count": len(plan.Tasks),
		},
	}) {
		return
	}

	var completed []string
	results := make(map[string]*task.Result)

	for _, t := range plan.Tasks {
		var missing []string
		for _, dep := range t.Dependencies {
			if !contains(completed, dep) {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			if !send(Event{
				Type:    protocol.EventSystem,
				Role:    protocol.RoleManager,
				Content: fmt.Sprintf("Skipping task %s: waiting for dependencies %v", t.ID, missing),
				Source:  protocol.SourceManager,
			}) {
				return
			}
			continue
		}

		if !send(Event{
			Type:     protocol.EventTaskStart,
			Role:     protocol.RoleManager,
			Content:  fmt.Sprintf("Starting task %s: %s", t.ID, t.Description),
			Source:   protocol.SourceManager,
			Metadata: map[string]interface{}{"task_id": t.ID},
		}) {
			return
		}

		result := m.executeWithRetry(ctx, sess, reg, t, plan, ch)
		if result == nil {
			result = &task.Result{
				Status:  task.StatusFailed,
				Summary: "No result returned from task execution",
				Errors:  []string{"Internal error"},
			}
		}
		results[t.ID] = result

		if result.Status == task.StatusCompleted {
			completed = append(completed, t.ID)
			if !send(Event{
				Type:    protocol.EventTaskComplete,
				Role:    protocol.RoleManager,
				Content: fmt.Sprintf("Task %s completed: %s", t.ID, result.Summary),
				Source:  protocol.SourceManager,
				Metadata: map[string]interface{}{
					"task_id":       t.ID,
					"files_changed": result.FilesChanged,
					"tested":        result.Tested,
				},
			}) {
				return
			}
		} else {
			errText := strings.Join(result.Errors, "; ")
			if errText == "" {
				errText = "Unknown error"
			}
			// A failed task does not abort the remaining non-dependent
			// tasks.
			if !send(Event{
				Type:    protocol.EventTaskFailed,
				Role:    protocol.RoleManager,
				Content: fmt.Sprintf("Task %s failed: %s", t.ID, errText),
				Source:  protocol.SourceManager,
				Metadata: map[string]interface{}{
					"task_id": t.ID,
					"errors":  result.Errors,
				},
			}) {
				return
			}
		}
	}

	var allFiles []string
	seen := map[string]bool{}
	for _, r := range results {
		for _, f := range r.FilesChanged {
			if !seen[f] {
				seen[f] = true
				allFiles = append(allFiles, f)
			}
		}
	}

	total := len(plan.Tasks)
	var summary string
	if len(completed) == total {
		summary = fmt.Sprintf("Completed all %d tasks for: %s", total, plan.Intent)
	} else {
		summary = fmt.Sprintf("Completed %d/%d tasks for: %s", len(completed), total, plan.Intent)
	}
	if len(allFiles) > 0 {
		summary += "\nFiles changed: " + strings.Join(allFiles, ", ")
	}

	send(Event{
		Type:    protocol.EventSummary,
		Role:    protocol.RoleManager,
		Content: summary,
		Source:  protocol.SourceManager,
		Metadata: map[string]interface{}{
			"completed":     len(completed),
			"total":         total,
			"files_changed": allFiles,
		},
	})
}

// executeWithRetry dispatches one task to the Coder, forwarding its
// events annotated with task id and attempt number. On failure the next
// attempt's prompt carries the previous errors. At most maxRetries+1
// coder invocations happen per task.
func (m *Manager) executeWithRetry(ctx context.Context, sess *sessions.Session, reg *tools.Registry, t task.Task, plan *task.Plan, ch chan<- Event) *task.Result {
	done := ctx.Done()
	var last *task.Result

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		prompt := buildCoderPrompt(t, plan, last)

		var parts []string
		consumerGone := false
		for ev := range m.coder.Run(ctx, sess, reg, prompt, t.ID) {
			if ev.Type == protocol.EventAssistant {
				parts = append(parts, ev.Content)
			}
			if consumerGone {
				continue
			}
			ev = withMeta(ev, map[string]interface{}{
				"task_id": t.ID,
				"attempt": attempt + 1,
			})
			if !emit(ch, done, ev) {
				consumerGone = true
			}
		}
		if consumerGone {
			return last
		}

		full := strings.Join(parts, "\n")
		result := task.ParseResult(full)
		if result == nil {
			result = inferResult(full)
		}

		if result.Status == task.StatusCompleted {
			return result
		}
		last = result
	}

	if last == nil {
		last = &task.Result{
			Status:  task.StatusFailed,
			Summary: "Task failed after all retries",
			Errors:  []string{"Max retries exceeded"},
		}
	}
	return last
}

// inferResult derives a status from unstructured coder output when no
// <result> block was emitted.
func inferResult(output string) *task.Result {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		return &task.Result{
			Status:  task.StatusFailed,
			Summary: "Task execution encountered errors",
			Errors:  []string{truncate(output, 500)},
		}
	}
	summary := truncate(output, 200)
	if summary == "" {
		summary = "Task completed"
	}
	return &task.Result{Status: task.StatusCompleted, Summary: summary}
}

func buildCoderPrompt(t task.Task, plan *task.Plan, last *task.Result) string {
	prompt := fmt.Sprintf(
		"Execute this task:\n\nTask: %s\nSuccess Criteria: %s\nOverall Goal: %s\n",
		t.Description, t.SuccessCriteria, plan.Intent,
	)
	if last != nil && len(last.Errors) > 0 {
		prompt += fmt.Sprintf(
			"\nPrevious Attempt Failed:\n%s\n\nPlease try a different approach.\n",
			strings.Join(last.Errors, "; "),
		)
	}
	return prompt
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package task

// Status of a task in the execution pipeline.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

// Task is a single unit of work assigned by the Manager to the Coder.
type Task struct {
	ID              string
	Description     string
	SuccessCriteria string
	Dependencies    []string
	Status          Status
	Result          string
	Errors          []string
	Retries         int
}

// Plan is produced by the Manager from user intent.
// The task dependency graph is a DAG over ids present in the plan.
type Plan struct {
	Intent             string
	Confidence         float64
	Tasks              []Task
	NeedsClarification string
}

// Result is reported by the Coder after task execution.
type Result struct {
	Status       Status
	Summary      string
	FilesChanged []string
	Tested       bool
	Errors       []string
}

// FallbackPlan wraps the raw user text in a single-task plan. Used when
// the planner output has no parseable <plan> block.
func FallbackPlan(userText string) *Plan {
	return &Plan{
		Intent:     userText,
		Confidence: 0.5,
		Tasks: []Task{{
			ID:              "1",
			Description:     userText,
			SuccessCriteria: "Task completed without errors",
			Status:          StatusPending,
		}},
	}
}

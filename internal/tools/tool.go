package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kestrelhq/kestrel/internal/llm"
)

// Tool is one capability exposed to the Coder.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the closed tool set for one session working directory.
// Arguments are validated against each tool's JSON schema before dispatch.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

// NewRegistry builds the standard registry bound to a session cwd.
func NewRegistry(cwd string) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
	r.Register(NewShellTool(cwd))
	r.Register(NewListDirTool(cwd))
	r.Register(NewReadFileTool(cwd))
	r.Register(NewWriteFileTool(cwd))
	r.Register(NewAppendFileTool(cwd))
	r.Register(NewValidateSyntaxTool())
	r.Register(NewRunTestsTool(cwd))
	r.Register(NewGitStatusTool(cwd))
	r.Register(NewGitDiffTool(cwd))
	return r
}

// Register adds a tool and compiles its argument schema.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	r.tools[name] = t
	r.order = append(r.order, name)

	url := "tool:///" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, t.Parameters()); err != nil {
		slog.Warn("tool schema rejected, validation disabled", "tool", name, "error", err)
		return
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		slog.Warn("tool schema compile failed, validation disabled", "tool", name, "error", err)
		return
	}
	r.schemas[name] = sch
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Defs returns provider-facing tool definitions, sorted by name for a
// stable prompt across runs.
func (r *Registry) Defs() []llm.ToolDefinition {
	names := r.Names()
	sort.Strings(names)
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Type: "function",
			Function: llm.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute validates args against the tool's schema and dispatches.
// Unknown tools and schema violations return error results, never panics.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.tools[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if sch, ok := r.schemas[name]; ok {
		if err := sch.Validate(toJSONValue(args)); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
	}

	start := time.Now()
	result := t.Execute(ctx, args)
	slog.Debug("tool executed",
		"tool", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"is_error", result.IsError,
	)
	return result
}

// toJSONValue normalizes argument values to the shapes the schema
// validator expects (e.g. int → float64, matching encoding/json decoding).
func toJSONValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = toJSONValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = toJSONValue(val)
		}
		return out
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

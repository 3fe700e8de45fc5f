package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellTool executes shell commands in the session working directory.
// It inherits the session cwd but performs no further confinement;
// operators are expected to run the gateway inside a container.
type ShellTool struct {
	cwd     string
	timeout time.Duration
}

func NewShellTool(cwd string) *ShellTool {
	return &ShellTool{cwd: cwd, timeout: 60 * time.Second}
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "Execute a shell command and return its merged output" }
func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []interface{}{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Timeouts preserve the retry contract: a structured result with
	// exit_code -1, never a raised failure.
	if ctx.Err() == context.DeadlineExceeded {
		return NewResult(map[string]interface{}{
			"command":   command,
			"exit_code": -1,
			"output":    fmt.Sprintf("command timed out after %s", t.timeout),
		})
	}

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}

	output := strings.TrimSpace(stdout.String() + stderr.String())
	if output == "" && err != nil && exitCode == -1 {
		output = err.Error()
	}

	return NewResult(map[string]interface{}{
		"command":   command,
		"exit_code": exitCode,
		"output":    output,
	})
}

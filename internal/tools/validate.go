package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ValidateSyntaxTool checks code syntax before the Coder writes it to disk.
// Supported languages: go, json. Unknown languages are reported valid with
// a warning so the loop keeps moving.
type ValidateSyntaxTool struct{}

func NewValidateSyntaxTool() *ValidateSyntaxTool { return &ValidateSyntaxTool{} }

func (t *ValidateSyntaxTool) Name() string { return "validate_syntax" }
func (t *ValidateSyntaxTool) Description() string {
	return "Validate code syntax before writing. Returns errors if invalid."
}
func (t *ValidateSyntaxTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"language": map[string]interface{}{
				"type":        "string",
				"description": "Programming language (go, json)",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Code content to validate",
			},
		},
		"required": []interface{}{"language", "content"},
	}
}

func (t *ValidateSyntaxTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	language, _ := args["language"].(string)
	content, _ := args["content"].(string)
	language = strings.ToLower(strings.TrimSpace(language))

	var errs []map[string]interface{}

	switch language {
	case "go", "golang":
		fset := token.NewFileSet()
		_, err := parser.ParseFile(fset, "input.go", content, parser.AllErrors)
		if err != nil {
			if list, ok := err.(scanner.ErrorList); ok {
				for _, e := range list {
					errs = append(errs, map[string]interface{}{
						"line":    e.Pos.Line,
						"column":  e.Pos.Column,
						"message": e.Msg,
					})
				}
			} else {
				errs = append(errs, map[string]interface{}{
					"line":    1,
					"column":  1,
					"message": err.Error(),
				})
			}
		}
	case "json":
		var v interface{}
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			line, col := 1, 1
			if se, ok := err.(*json.SyntaxError); ok {
				line, col = offsetToLineCol(content, int(se.Offset))
			}
			errs = append(errs, map[string]interface{}{
				"line":    line,
				"column":  col,
				"message": err.Error(),
			})
		}
	default:
		return NewResult(map[string]interface{}{
			"valid":    true,
			"language": language,
			"errors":   []interface{}{},
			"warnings": []string{fmt.Sprintf("Syntax validation not implemented for %s", language)},
		})
	}

	if errs == nil {
		errs = []map[string]interface{}{}
	}
	return NewResult(map[string]interface{}{
		"valid":    len(errs) == 0,
		"language": language,
		"errors":   errs,
	})
}

func offsetToLineCol(content string, offset int) (int, int) {
	if offset > len(content) {
		offset = len(content)
	}
	line, col := 1, 1
	for _, r := range content[:offset] {
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// RunTestsTool runs the project test suite and parses a structured summary.
// The framework is auto-detected from the working tree when not given.
type RunTestsTool struct {
	cwd     string
	timeout time.Duration
}

func NewRunTestsTool(cwd string) *RunTestsTool {
	return &RunTestsTool{cwd: cwd, timeout: 120 * time.Second}
}

func (t *RunTestsTool) Name() string { return "run_tests" }
func (t *RunTestsTool) Description() string {
	return "Run tests and return structured results. Auto-detects test framework."
}
func (t *RunTestsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Test file or directory (optional)",
			},
			"filter": map[string]interface{}{
				"type":        "string",
				"description": "Test name pattern filter (optional)",
			},
			"framework": map[string]interface{}{
				"type":        "string",
				"description": "Test framework: gotest, pytest, jest (optional, auto-detected)",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default: 120)",
			},
		},
	}
}

var (
	reGoFail       = regexp.MustCompile(`(?m)^--- FAIL: (\S+)`)
	reGoPass       = regexp.MustCompile(`(?m)^--- PASS: \S+`)
	reGoSkip       = regexp.MustCompile(`(?m)^--- SKIP: \S+`)
	rePytestTriple = regexp.MustCompile(`(?i)(\d+)\s+passed.*?(\d+)\s+failed.*?(\d+)\s+skipped`)
	rePytestPassed = regexp.MustCompile(`(?i)(\d+)\s+passed`)
	rePytestFailed = regexp.MustCompile(`(?i)(\d+)\s+failed`)
	rePytestFails  = regexp.MustCompile(`(?m)^FAILED\s+(\S+)`)
)

func (t *RunTestsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	framework, _ := args["framework"].(string)
	path, _ := args["path"].(string)
	filter, _ := args["filter"].(string)

	timeout := t.timeout
	if v, ok := args["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	testCmd := t.buildCommand(framework, path, filter)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", testCmd)
	cmd.Dir = t.cwd

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return NewResult(map[string]interface{}{
			"command":   testCmd,
			"exit_code": -1,
			"error":     fmt.Sprintf("test execution timed out after %s", timeout),
			"passed":    0,
			"failed":    0,
			"skipped":   0,
			"failures":  []interface{}{},
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

	output := buf.String()
	passed, failed, skipped, failures := parseTestOutput(output)

	if len(output) > 2000 {
		output = output[:2000]
	}

	return NewResult(map[string]interface{}{
		"command":   testCmd,
		"exit_code": exitCode,
		"passed":    passed,
		"failed":    failed,
		"skipped":   skipped,
		"failures":  failures,
		"output":    output,
	})
}

func (t *RunTestsTool) buildCommand(framework, path, filter string) string {
	var cmd string

	switch strings.ToLower(framework) {
	case "gotest", "go":
		cmd = "go test"
	case "pytest":
		cmd = "pytest"
	case "jest":
		cmd = "npm test"
	case "unittest":
		cmd = "python -m unittest"
	default:
		// Auto-detect from the working tree.
		if fileExists(filepath.Join(t.cwd, "go.mod")) {
			cmd = "go test"
		} else if fileExists(filepath.Join(t.cwd, "pytest.ini")) || fileExists(filepath.Join(t.cwd, "pyproject.toml")) {
			cmd = "pytest"
		} else if fileExists(filepath.Join(t.cwd, "package.json")) {
			cmd = "npm test"
		} else if matches, _ := filepath.Glob(filepath.Join(t.cwd, "test_*.py")); len(matches) > 0 {
			cmd = "pytest"
		} else {
			cmd = "go test"
		}
	}

	if strings.HasPrefix(cmd, "go test") {
		if path != "" {
			cmd = fmt.Sprintf("%s %s", cmd, path)
		} else {
			cmd += " ./..."
		}
		if filter != "" {
			cmd = fmt.Sprintf("%s -run '%s'", cmd, filter)
		}
		cmd += " -v"
		return cmd
	}

	if path != "" {
		cmd = fmt.Sprintf("%s %s", cmd, path)
	}
	if filter != "" {
		if strings.Contains(cmd, "pytest") {
			cmd = fmt.Sprintf("%s -k '%s'", cmd, filter)
		} else if strings.Contains(cmd, "npm test") {
			cmd = fmt.Sprintf("%s -- --testNamePattern='%s'", cmd, filter)
		}
	}
	if strings.Contains(cmd, "pytest") {
		cmd += " --tb=short -q"
	}
	return cmd
}

func parseTestOutput(output string) (passed, failed, skipped int, failures []map[string]interface{}) {
	failures = []map[string]interface{}{}

	// go test -v format
	if goFails := reGoFail.FindAllStringSubmatch(output, -1); len(goFails) > 0 || reGoPass.MatchString(output) {
		passed = len(reGoPass.FindAllString(output, -1))
		skipped = len(reGoSkip.FindAllString(output, -1))
		failed = len(goFails)
		for i, m := range goFails {
			if i >= 5 {
				break
			}
			failures = append(failures, map[string]interface{}{"name": m[1]})
		}
		return
	}

	// pytest format: "X passed, Y failed, Z skipped"
	if m := rePytestTriple.FindStringSubmatch(output); m != nil {
		passed, _ = atoiSafe(m[1])
		failed, _ = atoiSafe(m[2])
		skipped, _ = atoiSafe(m[3])
	} else {
		if m := rePytestPassed.FindStringSubmatch(output); m != nil {
			passed, _ = atoiSafe(m[1])
		}
		if m := rePytestFailed.FindStringSubmatch(output); m != nil {
			failed, _ = atoiSafe(m[1])
		}
	}
	for i, m := range rePytestFails.FindAllStringSubmatch(output, -1) {
		if i >= 5 {
			break
		}
		name := m[1]
		if len(name) > 100 {
			name = name[:100]
		}
		failures = append(failures, map[string]interface{}{"name": name})
	}
	return
}

func atoiSafe(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

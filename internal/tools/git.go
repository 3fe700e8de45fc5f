package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// GitStatusTool reports a structured git status for the working tree.
// Git failures are non-fatal: the result carries an error field instead.
type GitStatusTool struct {
	cwd string
}

func NewGitStatusTool(cwd string) *GitStatusTool { return &GitStatusTool{cwd: cwd} }

func (t *GitStatusTool) Name() string { return "git_status" }
func (t *GitStatusTool) Description() string {
	return "Get git status: branch, staged/modified/untracked files, ahead/behind count."
}
func (t *GitStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to check (default: current)",
			},
			"include_diff": map[string]interface{}{
				"type":        "boolean",
				"description": "Include diff content (default: false)",
			},
		},
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	includeDiff, _ := args["include_diff"].(bool)

	resolved, err := resolvePath(path, t.cwd, true)
	if err != nil {
		return ErrorResult(err.Error())
	}

	branch := "unknown"
	if out, err := runGit(ctx, resolved, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		branch = strings.TrimSpace(out)
	}

	var staged, modified, untracked []string
	statusOut, statusErr := runGit(ctx, resolved, "status", "--porcelain")
	if statusErr != nil {
		return NewResult(map[string]interface{}{
			"error":     statusErr.Error(),
			"branch":    branch,
			"clean":     false,
			"staged":    []string{},
			"modified":  []string{},
			"untracked": []string{},
		})
	}
	for _, line := range strings.Split(strings.TrimRight(statusOut, "\n"), "\n") {
		if len(line) < 4 {
			continue
		}
		code, file := line[:2], line[3:]
		if strings.ContainsRune("MADRC", rune(code[0])) {
			staged = append(staged, file)
		}
		if strings.ContainsRune("MD", rune(code[1])) {
			modified = append(modified, file)
		}
		if code == "??" {
			untracked = append(untracked, file)
		}
	}
	if staged == nil {
		staged = []string{}
	}
	if modified == nil {
		modified = []string{}
	}
	if untracked == nil {
		untracked = []string{}
	}

	ahead, behind := 0, 0
	if out, err := runGit(ctx, resolved, "rev-list", "--left-right", "--count", branch+"...origin/"+branch); err == nil {
		parts := strings.Fields(out)
		if len(parts) == 2 {
			ahead, _ = atoiSafe(parts[0])
			behind, _ = atoiSafe(parts[1])
		}
	}

	payload := map[string]interface{}{
		"branch":    branch,
		"clean":     len(staged) == 0 && len(modified) == 0,
		"staged":    staged,
		"modified":  modified,
		"untracked": untracked,
		"ahead":     ahead,
		"behind":    behind,
	}

	if includeDiff {
		if out, err := runGit(ctx, resolved, "diff"); err == nil {
			if len(out) > 3000 {
				out = out[:3000]
			}
			payload["diff"] = out
		}
	}

	return NewResult(payload)
}

// GitDiffTool shows a truncated git diff for the working tree.
type GitDiffTool struct {
	cwd string
}

func NewGitDiffTool(cwd string) *GitDiffTool { return &GitDiffTool{cwd: cwd} }

func (t *GitDiffTool) Name() string        { return "git_diff" }
func (t *GitDiffTool) Description() string { return "Show git diff for working directory or specific files." }
func (t *GitDiffTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File or directory to diff (optional)",
			},
			"staged": map[string]interface{}{
				"type":        "boolean",
				"description": "Show staged changes only (default: false)",
			},
			"commit": map[string]interface{}{
				"type":        "string",
				"description": "Compare against specific commit (optional)",
			},
		},
	}
}

func (t *GitDiffTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	gitArgs := []string{"diff"}
	if staged, _ := args["staged"].(bool); staged {
		gitArgs = append(gitArgs, "--staged")
	}
	if commit, _ := args["commit"].(string); commit != "" {
		gitArgs = append(gitArgs, commit)
	}
	if path, _ := args["path"].(string); path != "" {
		resolved, err := resolvePath(path, t.cwd, true)
		if err != nil {
			return ErrorResult(err.Error())
		}
		gitArgs = append(gitArgs, resolved)
	}

	out, err := runGit(ctx, t.cwd, gitArgs...)
	if err != nil {
		return NewResult(map[string]interface{}{
			"command": "git " + strings.Join(gitArgs, " "),
			"error":   err.Error(),
		})
	}

	if len(out) > 5000 {
		out = out[:5000]
	}
	return NewResult(map[string]interface{}{
		"command":   "git " + strings.Join(gitArgs, " "),
		"exit_code": 0,
		"diff":      out,
	})
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", &gitError{msg: msg}
	}
	return stdout.String(), nil
}

type gitError struct{ msg string }

func (e *gitError) Error() string { return e.msg }

package sessions

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Typed lifecycle errors surfaced to the HTTP layer.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrMissingMain     = errors.New("project has no main branch")
	ErrBranchExists    = errors.New("branch already exists")
	ErrMergeMain       = errors.New("cannot merge main into itself")
)

// InitProject creates workspace/<name>/main, runs git init and makes an
// initial commit so branches have a merge base. Returns the project name.
func InitProject(root, name string) (string, error) {
	// Regenerate on collision rather than failing.
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(root, name)); os.IsNotExist(err) {
			break
		}
		name = GenerateName()
	}

	mainDir := filepath.Join(root, name, "main")
	if err := os.MkdirAll(mainDir, 0755); err != nil {
		return "", fmt.Errorf("init project: %w", err)
	}

	steps := [][]string{
		{"init"},
		{"checkout", "-b", "main"},
		{"commit", "--allow-empty", "-m", "initial commit"},
	}
	for _, args := range steps {
		if _, err := git(mainDir, args...); err != nil {
			return "", fmt.Errorf("init project %s: %w", name, err)
		}
	}
	slog.Info("project created", "project", name)
	return name, nil
}

// CreateBranch clones source into workspace/<project>/<name> and checks
// out a branch of that name. Source defaults to main.
func CreateBranch(root, project, name, source string) (string, error) {
	if source == "" {
		source = "main"
	}
	if name == "" {
		name = GenerateName()
	}

	projectDir := filepath.Join(root, project)
	if _, err := os.Stat(projectDir); err != nil {
		return "", ErrProjectNotFound
	}
	sourceDir := filepath.Join(projectDir, source)
	if _, err := os.Stat(sourceDir); err != nil {
		if source == "main" {
			return "", ErrMissingMain
		}
		return "", ErrBranchNotFound
	}
	branchDir := filepath.Join(projectDir, name)
	if _, err := os.Stat(branchDir); err == nil {
		return "", ErrBranchExists
	}

	if _, err := git(projectDir, "clone", sourceDir, branchDir); err != nil {
		return "", fmt.Errorf("create branch %s/%s: %w", project, name, err)
	}
	if _, err := git(branchDir, "checkout", "-b", name); err != nil {
		os.RemoveAll(branchDir)
		return "", fmt.Errorf("create branch %s/%s: %w", project, name, err)
	}
	slog.Info("branch created", "project", project, "branch", name, "source", source)
	return name, nil
}

// DeleteBranch removes a branch working tree and its transcript.
func DeleteBranch(root, project, name string) error {
	branchDir := filepath.Join(root, project, name)
	if _, err := os.Stat(branchDir); err != nil {
		return ErrBranchNotFound
	}
	if err := os.RemoveAll(branchDir); err != nil {
		return fmt.Errorf("delete branch %s/%s: %w", project, name, err)
	}
	os.Remove(filepath.Join(root, project, ".kestrel", name+".jsonl"))
	os.RemoveAll(filepath.Join(root, project, ".kestrel", "notes", name))
	slog.Info("branch deleted", "project", project, "branch", name)
	return nil
}

// DeleteProject removes the entire project directory.
func DeleteProject(root, project string) error {
	projectDir := filepath.Join(root, project)
	if _, err := os.Stat(projectDir); err != nil {
		return ErrProjectNotFound
	}
	if err := os.RemoveAll(projectDir); err != nil {
		return fmt.Errorf("delete project %s: %w", project, err)
	}
	slog.Info("project deleted", "project", project)
	return nil
}

// MergeBranchIntoMain lands a branch's commits on main via a transient
// remote: add the branch tree as a remote of main, fetch, merge, then
// remove the remote so the trees stay decoupled.
func MergeBranchIntoMain(root, project, branch string) error {
	if branch == "main" {
		return ErrMergeMain
	}
	projectDir := filepath.Join(root, project)
	mainDir := filepath.Join(projectDir, "main")
	branchDir := filepath.Join(projectDir, branch)
	if _, err := os.Stat(mainDir); err != nil {
		return ErrMissingMain
	}
	if _, err := os.Stat(branchDir); err != nil {
		return ErrBranchNotFound
	}

	remote := "merge-" + branch
	if _, err := git(mainDir, "remote", "add", remote, branchDir); err != nil {
		return fmt.Errorf("merge %s/%s: %w", project, branch, err)
	}
	defer git(mainDir, "remote", "remove", remote)

	if _, err := git(mainDir, "fetch", remote, branch); err != nil {
		return fmt.Errorf("merge %s/%s: %w", project, branch, err)
	}
	if _, err := git(mainDir, "merge", remote+"/"+branch, "-m",
		fmt.Sprintf("merge branch %s", branch)); err != nil {
		git(mainDir, "merge", "--abort")
		return fmt.Errorf("merge %s/%s: %w", project, branch, err)
	}
	slog.Info("branch merged into main", "project", project, "branch", branch)
	return nil
}

// SyncBranchFromMain pulls main's commits into a branch, the reverse of
// MergeBranchIntoMain.
func SyncBranchFromMain(root, project, branch string) error {
	if branch == "main" {
		return ErrMergeMain
	}
	projectDir := filepath.Join(root, project)
	mainDir := filepath.Join(projectDir, "main")
	branchDir := filepath.Join(projectDir, branch)
	if _, err := os.Stat(mainDir); err != nil {
		return ErrMissingMain
	}
	if _, err := os.Stat(branchDir); err != nil {
		return ErrBranchNotFound
	}

	remote := "sync-main"
	if _, err := git(branchDir, "remote", "add", remote, mainDir); err != nil {
		return fmt.Errorf("sync %s/%s: %w", project, branch, err)
	}
	defer git(branchDir, "remote", "remove", remote)

	if _, err := git(branchDir, "fetch", remote, "main"); err != nil {
		return fmt.Errorf("sync %s/%s: %w", project, branch, err)
	}
	if _, err := git(branchDir, "merge", remote+"/main", "-m",
		"sync from main"); err != nil {
		git(branchDir, "merge", "--abort")
		return fmt.Errorf("sync %s/%s: %w", project, branch, err)
	}
	slog.Info("branch synced from main", "project", project, "branch", branch)
	return nil
}

// ListProjects returns the project names under the workspace root.
func ListProjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListBranches returns the branch working trees of a project.
func ListBranches(root, project string) ([]string, error) {
	projectDir := filepath.Join(root, project)
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return nil, ErrProjectNotFound
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// git runs one git command in dir and returns trimmed stdout. Errors
// carry stderr so callers log something actionable.
func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

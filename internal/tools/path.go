package tools

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath resolves a tool-supplied path against the session working
// directory and validates confinement. Symlinks are resolved to canonical
// form before the prefix check so a link cannot smuggle a path outside.
//
// Absolute inputs are rejected unless allowAbs is set (validation tools
// accept absolute paths that still resolve inside the cwd).
func resolvePath(path, cwd string, allowAbs bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	var resolved string
	if filepath.IsAbs(path) {
		if !allowAbs {
			return "", fmt.Errorf("absolute paths are not allowed, use a path relative to the working directory")
		}
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(cwd, path))
	}

	// Canonicalize the cwd (follow symlinks in the cwd itself).
	absCwd, _ := filepath.Abs(cwd)
	cwdReal, err := filepath.EvalSymlinks(absCwd)
	if err != nil {
		cwdReal = absCwd // cwd doesn't exist yet, use as-is
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			// Non-existent target: resolve the deepest existing ancestor and
			// re-append the remaining components, so chained symlinks in the
			// parent chain still get caught.
			real, err = resolveThroughExistingAncestors(absResolved)
			if err != nil {
				return "", fmt.Errorf("access denied: cannot resolve path")
			}
		} else {
			slog.Warn("security.path_resolve_failed", "path", path, "error", err)
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
	}

	if !isPathInside(real, cwdReal) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "cwd", cwdReal)
		return "", fmt.Errorf("path escapes the working directory")
	}

	return real, nil
}

// isPathInside checks whether child is inside or equal to parent directory.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// resolveThroughExistingAncestors finds the deepest existing ancestor of
// target, canonicalizes it with EvalSymlinks, then appends the remaining
// non-existent components.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

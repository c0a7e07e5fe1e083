package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveDir expands a leading ~ and returns the canonical absolute fixture
// root.
func resolveDir(dir string) (string, error) {
	expanded, err := expandHome(strings.TrimSpace(dir))
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve replay directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(absPath))
	if err != nil {
		return "", fmt.Errorf("open replay directory: %w", err)
	}

	return filepath.Clean(resolved), nil
}

// containedPath resolves symlinks in path and rejects targets outside root.
func containedPath(root string, path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}

	resolved = filepath.Clean(resolved)
	if !isWithin(root, resolved) {
		return "", fmt.Errorf("%s resolves outside the replay directory", filepath.Base(path))
	}

	return resolved, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}

package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// deniedPrefixes are absolute path prefixes no project is ever allowed to
// point at (spec.md §6 Path safety).
var deniedPrefixes = []string{
	"/etc", "/usr", "/bin", "/sbin", "/sys", "/proc", "/var/lib", "/root",
	"/System", "/Library/System",
	`C:\Windows`, `C:\Program Files`,
}

// ValidateLocalPath resolves localPath to an absolute canonical path and
// rejects it if it falls under a denied system prefix, doesn't exist, isn't
// a directory, or isn't readable. Returns the canonical path on success.
func ValidateLocalPath(localPath string) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", abs)
		}
		return "", fmt.Errorf("resolve path: %w", err)
	}

	for _, prefix := range deniedPrefixes {
		if canonical == prefix || strings.HasPrefix(canonical, prefix+string(filepath.Separator)) {
			return "", fmt.Errorf("path %s is not allowed", canonical)
		}
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path %s is not a directory", canonical)
	}

	f, err := os.Open(canonical)
	if err != nil {
		return "", fmt.Errorf("path %s is not readable: %w", canonical, err)
	}
	_ = f.Close()

	return canonical, nil
}

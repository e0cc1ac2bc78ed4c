package platform

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const appName = "binsight"

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// DataDir returns the directory holding persistent data
// ($XDG_DATA_HOME/binsight or ~/.local/share/binsight)
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &PathError{Path: "~", Message: "cannot resolve home directory: " + err.Error()}
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

// DefaultHistoryPath returns the default SQLite history location
func DefaultHistoryPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// HistoryPath resolves a configured history path, falling back to the
// default location when empty
func HistoryPath(configured string) (string, error) {
	if configured == "" {
		return DefaultHistoryPath()
	}
	if configured == ":memory:" {
		return configured, nil
	}
	return filepath.Clean(ExpandHome(configured)), nil
}

// ValidateArtifact checks that path names an existing regular file
func ValidateArtifact(path string) error {
	if path == "" {
		return &PathError{Path: path, Message: "path is empty"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PathError{Path: path, Message: "file does not exist"}
		}
		return &PathError{Path: path, Message: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return &PathError{Path: path, Message: "not a regular file"}
	}
	return nil
}

// ToolStatus reports where an external program was found
type ToolStatus struct {
	Name     string
	Resolved string
	Err      error
}

// LookupTool resolves an external program on PATH. Paths containing a
// separator are checked as is.
func LookupTool(name string) (string, error) {
	if name == "" {
		return "", &PathError{Path: name, Message: "tool path is empty"}
	}
	resolved, err := exec.LookPath(ExpandHome(name))
	if err != nil {
		return "", &PathError{Path: name, Message: "tool not found"}
	}
	return resolved, nil
}

// CheckTools resolves every named program, in order
func CheckTools(names ...string) []ToolStatus {
	statuses := make([]ToolStatus, 0, len(names))
	for _, name := range names {
		resolved, err := LookupTool(name)
		statuses = append(statuses, ToolStatus{Name: name, Resolved: resolved, Err: err})
	}
	return statuses
}

// PathError represents a path validation error
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return "invalid path '" + e.Path + "': " + e.Message
}

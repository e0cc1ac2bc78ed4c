package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFile renders a report into path. Format "json" writes v as JSON;
// anything else uses the human renderer.
func WriteFile(path, format string, v any, human func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	switch format {
	case "json":
		err = WriteJSON(file, v)
	default: // "human"
		err = human(file)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

package toolchain

import (
	"strings"
)

// ExtractCCode joins every fenced ```c block of a markdown answer with a
// blank line between blocks. Fences for other languages (```cpp, ```json)
// are ignored. Returns ErrNoCode when nothing was found.
func ExtractCCode(markdown string) (string, error) {
	var blocks []string
	var current []string
	inBlock := false

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inBlock {
			if isCFence(trimmed) {
				inBlock = true
				current = current[:0]
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inBlock = false
			if len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
			}
			continue
		}
		current = append(current, strings.TrimRight(line, "\r"))
	}

	code := strings.TrimSpace(strings.Join(blocks, "\n\n"))
	if code == "" {
		return "", ErrNoCode
	}
	return code, nil
}

// HasCCode reports whether markdown contains a C fence
func HasCCode(markdown string) bool {
	for _, line := range strings.Split(markdown, "\n") {
		if isCFence(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

func isCFence(line string) bool {
	if !strings.HasPrefix(line, "```") {
		return false
	}
	info := strings.Fields(strings.TrimPrefix(line, "```"))
	return len(info) > 0 && strings.EqualFold(info[0], "c")
}

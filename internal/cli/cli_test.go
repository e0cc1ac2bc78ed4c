package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sdejongh/binsight/pkg/history"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every default location at a temp dir and clears the
// environment overrides
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, key := range []string{
		"OLLAMA_MODEL", "OLLAMA_BASE_URL", "OPENAI_REV_ENG_API_KEY",
		"DEFAULT_ANALYSIS_MODE", "LOG_FILE", "LOG_LEVEL", "BINSIGHT_HISTORY_DB",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionCommand(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "", "version", "-s")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, _, err = execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "binsight "+Version)
	assert.Contains(t, out, "Go version:")
}

func TestExtractCommand(t *testing.T) {
	dir := isolate(t)
	answer := writeFile(t, filepath.Join(dir, "answer.md"),
		"Here is the code:\n\n```c\nint main(void) { return 0; }\n```\n\nIt returns zero.")

	out, _, err := execute(t, "", "extract", answer)
	require.NoError(t, err)
	assert.Equal(t, "int main(void) { return 0; }\n", out)

	out, _, err = execute(t, "```c\nvoid f(void) {}\n```", "extract", "-")
	require.NoError(t, err)
	assert.Equal(t, "void f(void) {}\n", out)

	_, _, err = execute(t, "no code here", "extract", "-")
	assert.Error(t, err)
}

func TestCompareCommand(t *testing.T) {
	dir := isolate(t)
	original := writeFile(t, filepath.Join(dir, "original"), "hello world\x00binary payload\x00")
	same := writeFile(t, filepath.Join(dir, "same"), "hello world\x00binary payload\x00")
	other := writeFile(t, filepath.Join(dir, "other"), "hello there\x00another payload\x00extra")

	t.Run("identical json", func(t *testing.T) {
		out, _, err := execute(t, "", "compare", original, same, "-o", "json", "--strings", "builtin")
		require.NoError(t, err)

		var report models.ComparisonReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.True(t, report.Hash.HashMatch)
		assert.True(t, report.Overall.HashMatch)
		assert.Equal(t, int64(0), report.Size.SizeDiff)
		assert.Equal(t, 1.0, report.ByteSimilarity.Ratio)
	})

	t.Run("different human", func(t *testing.T) {
		out, _, err := execute(t, "", "compare", original, other, "--strings", "builtin", "--algorithm", "sha256")
		require.NoError(t, err)
		assert.Contains(t, out, "Difference:")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := execute(t, "", "compare", original, filepath.Join(dir, "missing"), "--strings", "builtin")
		var cerr *models.ComparisonError
		require.True(t, errors.As(err, &cerr), "got %v", err)
		assert.Equal(t, filepath.Join(dir, "missing"), cerr.Path)
	})

	t.Run("invalid flags", func(t *testing.T) {
		_, _, err := execute(t, "", "compare", original, same, "-o", "xml")
		assert.Error(t, err)

		_, _, err = execute(t, "", "compare", original, same, "--algorithm", "crc32")
		assert.Error(t, err)
	})
}

func TestCompareSaveAndHistory(t *testing.T) {
	dir := isolate(t)
	t.Setenv("BINSIGHT_HISTORY_DB", filepath.Join(dir, "history.db"))
	a := writeFile(t, filepath.Join(dir, "a"), "same bytes")
	b := writeFile(t, filepath.Join(dir, "b"), "same bytes")

	_, _, err := execute(t, "", "-q", "compare", a, b, "--strings", "builtin", "--save")
	require.NoError(t, err)

	out, _, err := execute(t, "", "history", "reports", "-o", "json")
	require.NoError(t, err)

	var reports []history.StoredReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, a, reports[0].Report.Original)
	assert.True(t, reports[0].Report.Hash.HashMatch)

	out, _, err = execute(t, "", "history", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded")

	_, _, err = execute(t, "", "history", "turns", "unknown-session")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "conf", "binsight.yaml")

	out, _, err := execute(t, "", "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, _, err = execute(t, "", "--config", path, "config", "init")
	assert.Error(t, err, "existing file must not be overwritten")

	_, _, err = execute(t, "", "--config", path, "config", "init", "--force")
	assert.NoError(t, err)

	out, _, err = execute(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "LLM Backend: local")
	assert.Contains(t, out, "Analysis Mode: standard")
}

func TestAnalysisFlags(t *testing.T) {
	isolate(t)

	tests := []struct {
		name    string
		flags   analysisFlags
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, mode models.AnalysisMode, backend models.LLMBackend, model string)
	}{
		{
			name:  "defaults",
			flags: analysisFlags{},
			check: func(t *testing.T, mode models.AnalysisMode, backend models.LLMBackend, model string) {
				assert.Equal(t, models.ModeStandard, mode)
				assert.Equal(t, models.BackendLocal, backend)
			},
		},
		{
			name:  "deep local with env model",
			flags: analysisFlags{Mode: "DEEP"},
			env:   map[string]string{"OLLAMA_MODEL": "codellama"},
			check: func(t *testing.T, mode models.AnalysisMode, backend models.LLMBackend, model string) {
				assert.Equal(t, models.ModeDeep, mode)
				assert.Equal(t, "codellama", model)
			},
		},
		{
			name:  "openai with key",
			flags: analysisFlags{Backend: "openai"},
			env:   map[string]string{"OPENAI_REV_ENG_API_KEY": "sk-test"},
			check: func(t *testing.T, mode models.AnalysisMode, backend models.LLMBackend, model string) {
				assert.Equal(t, models.BackendOpenAI, backend)
				assert.NotEqual(t, "codellama", model)
			},
		},
		{name: "openai without key", flags: analysisFlags{Backend: "openai"}, wantErr: true},
		{name: "bad mode", flags: analysisFlags{Mode: "thorough"}, wantErr: true},
		{name: "bad backend", flags: analysisFlags{Backend: "anthropic"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := loadConfig()
			require.NoError(t, err)

			err = applyAnalysisFlags(cfg, tt.flags)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg.Analysis.Mode, cfg.LLM.Backend, cfg.LLM.ResolvedModel())
		})
	}
}

func TestCompileCommandValidation(t *testing.T) {
	dir := isolate(t)
	src := writeFile(t, filepath.Join(dir, "prog.c"), "int main(void) { return 0; }\n")

	_, _, err := execute(t, "", "compile", src, "-O3")
	assert.ErrorContains(t, err, "optimization level")

	_, _, err = execute(t, "", "compile", filepath.Join(dir, "missing.c"))
	assert.ErrorContains(t, err, "does not exist")

	_, _, err = execute(t, "", "compile", src, "--out", src)
	assert.ErrorContains(t, err, "overwrite")
}

func TestExitError(t *testing.T) {
	err := error(&ExitError{Code: 2})
	assert.Equal(t, "exit status 2", err.Error())

	wrapped := &ExitError{Code: 3, Err: context.Canceled}
	assert.ErrorIs(t, wrapped, context.Canceled)

	var exitErr *ExitError
	require.True(t, errors.As(wrapped, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
}

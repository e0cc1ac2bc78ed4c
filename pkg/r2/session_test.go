package r2

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sdejongh/binsight/pkg/agent"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePipe answers from a command table
type fakePipe struct {
	outputs  map[string]string
	errs     map[string]error
	commands []string
	closes   int
}

func newFakePipe() *fakePipe {
	return &fakePipe{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakePipe) Cmd(ctx context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	if err := f.errs[command]; err != nil {
		return "", err
	}
	return f.outputs[command], nil
}

func (f *fakePipe) Close() error {
	f.closes++
	return nil
}

// main calls helper; helper calls itself; orphan is referenced by nothing;
// recurse only calls itself; table is only referenced by data
const afljFixture = `[
 {"name":"entry0","offset":4096,"size":32,"callrefs":[{"addr":4352,"type":"CALL","at":4100}],"codexrefs":[],"indegree":0},
 {"name":"main","offset":4352,"size":64,"type":"fcn","callrefs":[{"addr":4608,"type":"CALL","at":4360}],"codexrefs":[{"addr":4100,"type":"CALL","at":4352}],"indegree":1},
 {"name":"sym.helper","offset":4608,"size":48,"type":"fcn","callrefs":[],"codexrefs":[{"addr":4360,"type":"CALL","at":4608}],"indegree":1},
 {"name":"sym.orphan","offset":4864,"size":16,"callrefs":[],"codexrefs":[],"indegree":0},
 {"name":"sym.recurse","offset":5120,"size":40,"callrefs":[{"addr":5120,"type":"CALL","at":5130}],"codexrefs":[{"addr":5130,"type":"CALL","at":5120}],"indegree":1},
 {"name":"sym.table","offset":5376,"size":8,"callrefs":[],"dataxrefs":[8192],"indegree":0},
 {"name":"sym.legacy","addr":5632,"size":8,"indegree":2}
]`

func names(fns []Function) []string {
	out := make([]string, len(fns))
	for i, fn := range fns {
		out[i] = fn.Name
	}
	return out
}

func TestListFunctions(t *testing.T) {
	pipe := newFakePipe()
	pipe.outputs["aflj"] = afljFixture
	s := NewSession(pipe, "/bin/test")
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"entry0", "main", "sym.helper", "sym.orphan", "sym.recurse", "sym.table", "sym.legacy"}},
		{"used only", Filter{UsedOnly: true}, []string{"entry0", "main", "sym.helper", "sym.table", "sym.legacy"}},
		{"prefix", Filter{NamePrefix: "sym."}, []string{"sym.helper", "sym.orphan", "sym.recurse", "sym.table", "sym.legacy"}},
		{"min size", Filter{MinSize: 40}, []string{"main", "sym.helper", "sym.recurse"}},
		{"combined", Filter{UsedOnly: true, NamePrefix: "sym.", MinSize: 10}, []string{"sym.helper"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fns, err := s.ListFunctions(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(fns))
		})
	}

	fns, err := s.ListFunctions(ctx, Filter{NamePrefix: "main"})
	require.NoError(t, err)
	require.Len(t, fns, 1)
	assert.Equal(t, "fcn", fns[0].Type)
}

func TestFunctionAddress(t *testing.T) {
	assert.Equal(t, uint64(16), Function{Offset: 16}.Address())
	assert.Equal(t, uint64(32), Function{Addr: 32}.Address())
}

func TestMalformedJSONYieldsEmpty(t *testing.T) {
	pipe := newFakePipe()
	pipe.outputs["aflj"] = "Cannot find function"
	pipe.outputs["izj"] = ""
	pipe.outputs["iij"] = "{broken"
	pipe.outputs["iEj"] = `[{"name":"main","vaddr":4352,"type":"FUNC"}]`
	s := NewSession(pipe, "x")
	ctx := context.Background()

	fns, err := s.ListFunctions(ctx, Filter{})
	require.NoError(t, err)
	assert.NotNil(t, fns)
	assert.Empty(t, fns)

	strs, err := s.SearchStrings(ctx)
	require.NoError(t, err)
	assert.NotNil(t, strs)
	assert.Empty(t, strs)

	imps, err := s.Imports(ctx)
	require.NoError(t, err)
	assert.Empty(t, imps)

	exps, err := s.Exports(ctx)
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "main", exps[0].Name)
}

func TestAnalyzeModes(t *testing.T) {
	for mode, want := range map[models.AnalysisMode]string{
		models.ModeQuick:    "aaa",
		models.ModeStandard: "aaaa",
		models.ModeDeep:     "aaaaa",
	} {
		pipe := newFakePipe()
		require.NoError(t, NewSession(pipe, "x").Analyze(context.Background(), mode))
		assert.Equal(t, []string{want}, pipe.commands)
	}

	assert.Error(t, NewSession(newFakePipe(), "x").Analyze(context.Background(), "turbo"))
}

func TestCommandInjectionRejected(t *testing.T) {
	pipe := newFakePipe()
	s := NewSession(pipe, "x")
	ctx := context.Background()

	for _, bad := range []string{"main; rm -rf /", "main|cat", "main > /tmp/out", "0x1000>>log", "!ls", "`id`", "main\npx", ""} {
		_, err := s.Decompile(ctx, bad)
		assert.Error(t, err, "argument %q", bad)
		_, err = s.ReadMemory(ctx, bad, 16)
		assert.Error(t, err, "argument %q", bad)
	}
	assert.Empty(t, pipe.commands)

	_, err := s.Decompile(ctx, "sym.helper")
	require.NoError(t, err)
	_, err = s.ReadMemory(ctx, "0x1000", 32)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdc @ sym.helper", "px 32 @ 0x1000"}, pipe.commands)

	_, err = s.ReadMemory(ctx, "0x1000", 0)
	assert.Error(t, err)
	_, err = s.ReadMemory(ctx, "0x1000", MaxReadSize+1)
	assert.Error(t, err)
}

func TestCloseIdempotent(t *testing.T) {
	pipe := newFakePipe()
	s := NewSession(pipe, "x")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, pipe.closes)

	_, err := s.Decompile(context.Background(), "main")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestTools(t *testing.T) {
	pipe := newFakePipe()
	pipe.outputs["aflj"] = afljFixture
	pipe.outputs["pdc @ main"] = "int main() { return helper(); }"
	pipe.outputs["izj"] = `[{"vaddr":8192,"string":"hello","section":".rodata","type":"ascii"}]`
	pipe.errs["iij"] = errors.New("pipe broken")
	s := NewSession(pipe, "x")

	reg := agent.NewRegistry(Tools(s, models.ModeQuick)...)
	assert.Equal(t, []string{"analyze", "list_functions", "decompile", "search_strings", "get_imports", "get_exports", "read_memory"}, reg.Names())
	ctx := context.Background()

	res := reg.Execute(ctx, "analyze", nil)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"status":"success","message":"Analysis completed in quick mode"}`, res.ForLLM)

	res = reg.Execute(ctx, "list_functions", map[string]interface{}{"used_only": true, "name_prefix": "sym."})
	require.False(t, res.IsError)
	var fns []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.ForLLM), &fns))
	require.Len(t, fns, 3)
	assert.Equal(t, "0x1200", fns[0]["address"])
	assert.Equal(t, "sym.helper", fns[0]["name"])
	assert.Equal(t, "fcn", fns[0]["type"])
	assert.Equal(t, float64(48), fns[0]["size"])

	res = reg.Execute(ctx, "list_functions", nil)
	require.False(t, res.IsError)
	var all []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.ForLLM), &all))
	for _, fn := range all {
		if fn["name"] == "main" {
			assert.Equal(t, "fcn", fn["type"])
		}
	}

	res = reg.Execute(ctx, "decompile", map[string]interface{}{"function_name": "main"})
	assert.JSONEq(t, `{"function":"main","decompiled_code":"int main() { return helper(); }"}`, res.ForLLM)

	res = reg.Execute(ctx, "decompile", map[string]interface{}{"function_name": "main;q"})
	assert.True(t, res.IsError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.ForLLM), &payload))
	assert.Equal(t, "error", payload["status"])
	assert.Contains(t, payload["message"], "forbidden character")

	res = reg.Execute(ctx, "search_strings", nil)
	assert.Contains(t, res.ForLLM, `"string":"hello"`)

	res = reg.Execute(ctx, "get_imports", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "pipe broken")

	res = reg.Execute(ctx, "get_exports", nil)
	assert.False(t, res.IsError)
	assert.Equal(t, "[]", res.ForLLM)

	res = reg.Execute(ctx, "read_memory", map[string]interface{}{"address": "0x1000", "size": float64(16)})
	assert.False(t, res.IsError)
	assert.Contains(t, res.ForLLM, `"size":16`)
}

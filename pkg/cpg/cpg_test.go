package cpg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const joernDOT = `digraph "main" {
// exported by joern
"1000100" [label = <(METHOD,main)<SUB>1</SUB>> ]
"1000101" [label = <(BLOCK,{ return 0; })<SUB>2</SUB>> ]
"1000102" [label = "RETURN" CODE="return 0;" LINE_NUMBER=3]
"1000100" -> "1000101"  [ label = "AST: "]
"1000101" -> "1000102"  [ label = "AST: "]
"1000100" -> "1000102"  [ label = "CFG: "]
"1000100" -> "1000102"  [ label = "CDG: "]
}
`

func chain(labels ...string) *Graph {
	g := NewGraph()
	for i, l := range labels {
		g.AddNode(l, l)
		if i > 0 {
			g.AddEdge(labels[i-1], l, "AST")
		}
	}
	return g
}

func TestGraphDensity(t *testing.T) {
	g := NewGraph()
	assert.Zero(t, g.Density())
	g.AddNode("a", "")
	assert.Zero(t, g.Density())

	g.AddEdge("a", "b", "")
	g.AddEdge("b", "a", "")
	assert.InDelta(t, 1.0, g.Density(), 1e-9)

	g.AddNode("c", "")
	assert.InDelta(t, 2.0/6.0, g.Density(), 1e-9)
}

func TestParseDOT(t *testing.T) {
	g, err := ParseDOTString(joernDOT)
	require.NoError(t, err)

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 4, g.EdgeCount(), "parallel edges are kept")
	assert.Equal(t, "(METHOD,main)<SUB>1</SUB>", g.Nodes()[0].Label)
	assert.Equal(t, "RETURN", g.Nodes()[2].Label)
	assert.Equal(t, "CFG: ", g.Edges()[2].Label)
}

func TestParseDOTStatements(t *testing.T) {
	src := `strict digraph G {
	graph [rankdir=LR];
	node [shape="box", style=filled]
	label = "title"
	a -> b -> c [label=x];
	subgraph cluster_0 { d; e -> a }
	/* block comment */
	"with \"quotes\"" -> -1.5
}
graph other { f -- g }`

	g, err := ParseDOTString(src)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c", "d", "e", `with "quotes"`, "-1.5", "f", "g"} {
		assert.True(t, g.HasNode(id), "node %s", id)
	}
	assert.False(t, g.HasNode("label"))
	assert.Equal(t, 9, g.NodeCount())
	assert.Equal(t, 5, g.EdgeCount())
	assert.Equal(t, "x", g.Edges()[1].Label)
}

func TestParseDOTError(t *testing.T) {
	_, err := ParseDOTString(`digraph { a -> }`)
	assert.Error(t, err)
}

func TestEditDistance(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		g1   *Graph
		g2   *Graph
		want float64
	}{
		{"empty", NewGraph(), NewGraph(), 0},
		{"identical", chain("A", "B", "C"), chain("A", "B", "C"), 0},
		{"extra vertex", chain("A", "B", "C"), chain("A", "B", "C", "D"), 2},
		{"against empty", chain("A", "B"), NewGraph(), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ged := EditDistance(ctx, tt.g1, tt.g2)
			require.NotNil(t, ged)
			assert.InDelta(t, tt.want, *ged, 1e-9)
		})
	}
}

func TestEditDistanceUpperBound(t *testing.T) {
	g1 := NewGraph()
	g2 := NewGraph()
	for i := 0; i < 30; i++ {
		g1.AddEdge(string(rune('a'+i%26))+"1", string(rune('a'+(i*7)%26))+"1", "")
		g2.AddEdge(string(rune('a'+i%26))+"2", string(rune('a'+(i*11)%26))+"2", "")
	}

	ged := EditDistance(context.Background(), g1, g2)
	require.NotNil(t, ged)

	lower := float64(absInt(g1.NodeCount()-g2.NodeCount()) + absInt(g1.EdgeCount()-g2.EdgeCount()))
	upper := float64(g1.NodeCount() + g2.NodeCount() + g1.EdgeCount() + g2.EdgeCount())
	assert.GreaterOrEqual(t, *ged, lower)
	assert.LessOrEqual(t, *ged, upper)
}

func TestEditDistanceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, EditDistance(ctx, chain("A", "B"), chain("A")))
}

func TestAverageSimRank(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b", "")
	g.AddEdge("a", "c", "")

	// s(b,c) = 0.9, diagonal = 1, everything else 0
	sr := AverageSimRank(context.Background(), g)
	require.NotNil(t, sr)
	assert.InDelta(t, 4.8/9, *sr, 1e-9)

	assert.Nil(t, AverageSimRank(context.Background(), NewGraph()))
}

func TestCompare(t *testing.T) {
	ctx := context.Background()

	t.Run("identical", func(t *testing.T) {
		g := NewGraph()
		g.AddEdge("a", "b", "")
		g.AddEdge("a", "c", "")

		cmp := Compare(ctx, g, g, Options{})
		require.NotNil(t, cmp.GraphEditDistance)
		assert.Zero(t, *cmp.GraphEditDistance)
		require.NotNil(t, cmp.AvgSimRankSimilarity)
		assert.InDelta(t, (3+4.8/9)/4, cmp.SimilarityScore, 1e-9)
		assert.Zero(t, cmp.NodeDifference)
		assert.Zero(t, cmp.DensityDifference)
	})

	t.Run("both empty", func(t *testing.T) {
		cmp := Compare(ctx, NewGraph(), NewGraph(), Options{})
		assert.Zero(t, cmp.SimilarityScore)
		assert.Nil(t, cmp.AvgSimRankSimilarity)
	})

	t.Run("simrank skipped on large graphs", func(t *testing.T) {
		cmp := Compare(ctx, chain("A", "B", "C"), chain("A", "B"), Options{MaxSimRankNodes: 2})
		assert.Nil(t, cmp.AvgSimRankSimilarity)
		assert.Equal(t, 1, cmp.NodeDifference)
		assert.Equal(t, 1, cmp.EdgeDifference)
		assert.Equal(t, 3, cmp.OriginalNodes)
		assert.Equal(t, 2, cmp.CandidateNodes)
	})
}

// joernRunner fakes joern-parse (touches the .cpg.bin) and joern-export
// (writes the given DOT files into the -o directory)
type joernRunner struct {
	exports   map[string]string
	exportErr error

	mu    sync.Mutex
	calls [][]string
}

func (r *joernRunner) Run(ctx context.Context, name string, args ...string) (*toolchain.RunResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()
	switch name {
	case "joern-parse":
		if err := os.WriteFile(args[1], []byte("cpg"), 0644); err != nil {
			return nil, err
		}
	case "joern-export":
		if r.exportErr != nil {
			return nil, r.exportErr
		}
		out := args[len(args)-1]
		if err := os.MkdirAll(out, 0755); err != nil {
			return nil, err
		}
		for file, content := range r.exports {
			if err := os.WriteFile(filepath.Join(out, file), []byte(content), 0644); err != nil {
				return nil, err
			}
		}
	}
	return &toolchain.RunResult{}, nil
}

func TestGenerator(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "test_0.c")
	require.NoError(t, os.WriteFile(src, []byte("int main(void) { return 0; }"), 0644))
	ctx := context.Background()

	t.Run("export.dot", func(t *testing.T) {
		runner := &joernRunner{exports: map[string]string{"export.dot": joernDOT}}
		gen := NewGenerator(runner, storage.NewUnrooted(), "", "", nil)
		gen.SetTempDir(dir)

		g := gen.Generate(ctx, src)
		assert.Equal(t, 3, g.NodeCount())

		require.Len(t, runner.calls, 2)
		cpgBin := filepath.Join(dir, "test_0.cpg.bin")
		assert.Equal(t, []string{"joern-parse", "--output", cpgBin, "--language", "c", src}, runner.calls[0])
		assert.Equal(t, []string{"joern-export", "--repr", "all", "--format", "dot", cpgBin}, runner.calls[1][:6])
		assert.NoFileExists(t, cpgBin)
	})

	t.Run("per-method files", func(t *testing.T) {
		runner := &joernRunner{exports: map[string]string{
			"0-ast.dot": `digraph main { "1" -> "2" }`,
			"1-ast.dot": `digraph foo { "3" -> "4" }`,
		}}
		gen := NewGenerator(runner, storage.NewUnrooted(), "", "", nil)
		gen.SetTempDir(dir)

		g := gen.Generate(ctx, src)
		assert.Equal(t, 4, g.NodeCount())
		assert.Equal(t, 2, g.EdgeCount())
	})

	t.Run("failure yields empty graph", func(t *testing.T) {
		runner := &joernRunner{exportErr: errors.New("joern not installed")}
		gen := NewGenerator(runner, storage.NewUnrooted(), "", "", nil)
		gen.SetTempDir(dir)

		g := gen.Generate(ctx, src)
		assert.Zero(t, g.NodeCount())
		assert.NoFileExists(t, filepath.Join(dir, "test_0.cpg.bin"))
	})
}

func TestGeneratePair(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "test_0.c")
	b := filepath.Join(dir, "test_0_decompiled.c")
	for _, f := range []string{a, b} {
		require.NoError(t, os.WriteFile(f, []byte("int main(void) { return 0; }"), 0644))
	}

	runner := &joernRunner{exports: map[string]string{"export.dot": joernDOT}}
	gen := NewGenerator(runner, storage.NewUnrooted(), "", "", nil)
	gen.SetTempDir(dir)

	g1, g2 := gen.GeneratePair(context.Background(), a, b)
	assert.Equal(t, 3, g1.NodeCount())
	assert.Equal(t, 3, g2.NodeCount())
	assert.Len(t, runner.calls, 4)

	// same intermediate file: built one after the other
	g1, g2 = gen.GeneratePair(context.Background(), a, a)
	assert.Equal(t, g1.NodeCount(), g2.NodeCount())
	assert.Len(t, runner.calls, 8)
}

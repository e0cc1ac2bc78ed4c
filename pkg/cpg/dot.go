package cpg

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// dotFile is one or more graphs in the DOT language. The grammar covers
// what joern-export emits: node, edge and attribute statements, graph
// level assignments and nested subgraphs. Ports and edges to subgraphs
// are not supported.
type dotFile struct {
	Graphs []*dotGraph `@@*`
}

type dotGraph struct {
	Strict bool       `@"strict"?`
	Kind   string     `@("digraph" | "graph")`
	ID     *dotID     `@@?`
	Stmts  []*dotStmt `"{" ( @@ ";"? )* "}"`
}

type dotStmt struct {
	Attr     *dotAttrStmt `  @@`
	Subgraph *dotSubgraph `| @@`
	Item     *dotItem     `| @@`
}

// dotAttrStmt sets defaults: graph|node|edge [ ... ]
type dotAttrStmt struct {
	Target string     `@("graph" | "node" | "edge")`
	Attrs  []*dotAttr `( "[" ( @@ ( "," | ";" )? )* "]" )+`
}

type dotSubgraph struct {
	ID    *dotID     `( "subgraph" @@? )?`
	Stmts []*dotStmt `"{" ( @@ ";"? )* "}"`
}

// dotItem is a node statement, an edge chain or an ID=ID assignment
type dotItem struct {
	First  *dotID     `@@`
	Chain  []*dotID   `( Arrow @@ )*`
	Assign *dotID     `( "=" @@ )?`
	Attrs  []*dotAttr `( "[" ( @@ ( "," | ";" )? )* "]" )*`
}

type dotAttr struct {
	Key   *dotID `@@`
	Value *dotID `( "=" @@ )?`
}

type dotID struct {
	Ident  string `  @Ident`
	Number string `| @Number`
	String string `| @String`
	HTML   string `| @HTML`
}

func (id *dotID) value() string {
	switch {
	case id == nil:
		return ""
	case id.String != "":
		return unquote(id.String)
	case id.HTML != "":
		return id.HTML[1 : len(id.HTML)-1]
	case id.Number != "":
		return id.Number
	default:
		return id.Ident
	}
}

// unquote strips the quotes of a DOT string. Only \" and line
// continuations are escapes in DOT; other backslashes are kept.
func unquote(s string) string {
	s = s[1 : len(s)-1]
	s = strings.ReplaceAll(s, "\\\r\n", "")
	s = strings.ReplaceAll(s, "\\\n", "")
	return strings.ReplaceAll(s, `\"`, `"`)
}

var dotLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*|/\*[\s\S]*?\*/|#[^\n]*`},
	{Name: "String", Pattern: `"(?:\\[\s\S]|[^"\\])*"`},
	// one level of nested tags covers joern's <(KIND,code)<SUB>n</SUB>>
	{Name: "HTML", Pattern: `<[^<>]*(?:<[^<>]*>[^<>]*)*>`},
	{Name: "Arrow", Pattern: `->|--`},
	{Name: "Number", Pattern: `-?(?:\.[0-9]+|[0-9]+(?:\.[0-9]*)?)`},
	{Name: "Ident", Pattern: `[a-zA-Z_\x{80}-\x{10FFFF}][a-zA-Z_0-9\x{80}-\x{10FFFF}]*`},
	{Name: "Punct", Pattern: `[{}\[\]=;,:]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var dotParser = participle.MustBuild[dotFile](
	participle.Lexer(dotLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.UseLookahead(2),
)

// ParseDOT reads DOT text into a graph. Several graphs in one input are
// merged. Node labels come from the "label" attribute, edge labels too.
func ParseDOT(r io.Reader) (*Graph, error) {
	file, err := dotParser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}
	g := NewGraph()
	for _, dg := range file.Graphs {
		addStmts(g, dg.Stmts)
	}
	return g, nil
}

// ParseDOTString is ParseDOT over a string
func ParseDOTString(s string) (*Graph, error) {
	return ParseDOT(strings.NewReader(s))
}

func addStmts(g *Graph, stmts []*dotStmt) {
	for _, stmt := range stmts {
		switch {
		case stmt.Subgraph != nil:
			addStmts(g, stmt.Subgraph.Stmts)
		case stmt.Item != nil:
			addItem(g, stmt.Item)
		}
	}
}

func addItem(g *Graph, item *dotItem) {
	if item.Assign != nil {
		return
	}
	label := labelOf(item.Attrs)
	first := item.First.value()
	if len(item.Chain) == 0 {
		g.AddNode(first, label)
		return
	}
	from := first
	for _, id := range item.Chain {
		to := id.value()
		g.AddEdge(from, to, label)
		from = to
	}
}

func labelOf(attrs []*dotAttr) string {
	for _, a := range attrs {
		if a.Key.value() == "label" {
			return a.Value.value()
		}
	}
	return ""
}

// Package cpg builds code property graphs of C sources with joern and
// compares them structurally.
package cpg

import "sort"

// Node is a graph vertex; Label carries the joern node kind
type Node struct {
	ID    string
	Label string
}

// Edge is a directed, labelled edge. Parallel edges are allowed (a CPG
// links the same pair through AST, CFG and other layers).
type Edge struct {
	From  string
	To    string
	Label string
}

// Graph is a directed multigraph in insertion order
type Graph struct {
	nodes []Node
	index map[string]int
	edges []Edge
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddNode adds id, or updates its label when already present and label
// is non-empty
func (g *Graph) AddNode(id, label string) {
	if i, ok := g.index[id]; ok {
		if label != "" {
			g.nodes[i].Label = label
		}
		return
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, Node{ID: id, Label: label})
}

// AddEdge adds an edge, creating missing endpoints
func (g *Graph) AddEdge(from, to, label string) {
	g.AddNode(from, "")
	g.AddNode(to, "")
	g.edges = append(g.edges, Edge{From: from, To: to, Label: label})
}

// HasNode reports whether id is a vertex
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns the vertices in insertion order
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// Edges returns the edges in insertion order
func (g *Graph) Edges() []Edge {
	return g.edges
}

// NodeCount returns the number of vertices
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges, parallel edges included
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Density is E / (N(N-1)); 0 for fewer than two nodes
func (g *Graph) Density() float64 {
	n := float64(len(g.nodes))
	if n < 2 {
		return 0
	}
	return float64(len(g.edges)) / (n * (n - 1))
}

// Merge adds every node and edge of other
func (g *Graph) Merge(other *Graph) {
	for _, n := range other.nodes {
		g.AddNode(n.ID, n.Label)
	}
	for _, e := range other.edges {
		g.AddEdge(e.From, e.To, e.Label)
	}
}

// indexed is the integer form used by the metrics: node i of g, distinct
// successor and predecessor lists, and edge multiplicities per ordered pair
type indexed struct {
	n      int
	labels []string
	succ   [][]int
	pred   [][]int
	mult   map[[2]int]int
}

func (g *Graph) indexed() *indexed {
	ix := &indexed{
		n:      len(g.nodes),
		labels: make([]string, len(g.nodes)),
		succ:   make([][]int, len(g.nodes)),
		pred:   make([][]int, len(g.nodes)),
		mult:   make(map[[2]int]int, len(g.edges)),
	}
	for i, node := range g.nodes {
		ix.labels[i] = node.Label
	}
	for _, e := range g.edges {
		from, to := g.index[e.From], g.index[e.To]
		key := [2]int{from, to}
		if ix.mult[key] == 0 {
			ix.succ[from] = append(ix.succ[from], to)
			ix.pred[to] = append(ix.pred[to], from)
		}
		ix.mult[key]++
	}
	return ix
}

func (ix *indexed) degree(i int) int {
	return len(ix.succ[i]) + len(ix.pred[i])
}

// ranked lists the vertices by label, then by descending degree
func (ix *indexed) ranked() []int {
	idx := make([]int, ix.n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		li, lj := ix.labels[idx[i]], ix.labels[idx[j]]
		if li != lj {
			return li < lj
		}
		return ix.degree(idx[i]) > ix.degree(idx[j])
	})
	return idx
}

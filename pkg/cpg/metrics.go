package cpg

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sdejongh/binsight/pkg/models"
)

const (
	// DefaultGEDTimeout bounds the graph edit distance search
	DefaultGEDTimeout = 10 * time.Second
	// DefaultMaxSimRankNodes skips SimRank on larger graphs (quadratic memory)
	DefaultMaxSimRankNodes = 2000

	simRankDecay      = 0.9
	simRankIterations = 100
	simRankTolerance  = 1e-4
)

// Options tunes Compare
type Options struct {
	GEDTimeout      time.Duration
	MaxSimRankNodes int
}

func (o Options) withDefaults() Options {
	if o.GEDTimeout <= 0 {
		o.GEDTimeout = DefaultGEDTimeout
	}
	if o.MaxSimRankNodes <= 0 {
		o.MaxSimRankNodes = DefaultMaxSimRankNodes
	}
	return o
}

// Compare measures how close g2 is to g1. The similarity score is the mean
// of the components that could be computed: normalised edit distance,
// mean SimRank of g1, and node and edge count ratios.
func Compare(ctx context.Context, g1, g2 *Graph, opts Options) *models.CPGComparison {
	opts = opts.withDefaults()
	n1, e1 := g1.NodeCount(), g1.EdgeCount()
	n2, e2 := g2.NodeCount(), g2.EdgeCount()

	result := &models.CPGComparison{
		NodeDifference:    absInt(n1 - n2),
		EdgeDifference:    absInt(e1 - e2),
		DensityDifference: math.Abs(g1.Density() - g2.Density()),
		OriginalNodes:     n1,
		OriginalEdges:     e1,
		CandidateNodes:    n2,
		CandidateEdges:    e2,
	}

	gedCtx, cancel := context.WithTimeout(ctx, opts.GEDTimeout)
	result.GraphEditDistance = EditDistance(gedCtx, g1, g2)
	cancel()

	if n1 <= opts.MaxSimRankNodes {
		result.AvgSimRankSimilarity = AverageSimRank(ctx, g1)
	}

	var score float64
	var components int
	if ged := result.GraphEditDistance; ged != nil {
		if maxGED := max(n1+e1, n2+e2); maxGED > 0 {
			score += 1 - *ged/float64(maxGED)
			components++
		}
	}
	if sr := result.AvgSimRankSimilarity; sr != nil {
		score += *sr
		components++
	}
	if maxNodes := max(n1, n2); maxNodes > 0 {
		score += 1 - float64(result.NodeDifference)/float64(maxNodes)
		components++
	}
	if maxEdges := max(e1, e2); maxEdges > 0 {
		score += 1 - float64(result.EdgeDifference)/float64(maxEdges)
		components++
	}
	if components > 0 {
		result.SimilarityScore = score / float64(components)
	}
	return result
}

// EditDistance returns an upper bound on the graph edit distance with unit
// costs for node and edge insertion and deletion and free substitution. The
// bound is exact when it reaches |N1-N2| + |E1-E2|. The search stops at the
// context deadline and returns the best bound found, or nil when the
// deadline passed before any bound was computed.
//
// With both vertex sets padded to the same size, every bijection p is an
// edit path of cost |N1-N2| + E1 + E2 - 2*overlap(p), where overlap sums
// min(mult1(i,j), mult2(p(i),p(j))) over the edge pairs of g1. The search
// maximises the overlap: a degree-ordered initial assignment, then
// improving pairwise swaps.
func EditDistance(ctx context.Context, g1, g2 *Graph) *float64 {
	if ctx.Err() != nil {
		return nil
	}
	a, b := g1.indexed(), g2.indexed()
	e1, e2 := g1.EdgeCount(), g2.EdgeCount()
	nodeCost := absInt(a.n - b.n)

	cost := func(overlap int) *float64 {
		v := float64(nodeCost + e1 + e2 - 2*overlap)
		return &v
	}

	n := max(a.n, b.n)
	if n == 0 {
		return cost(0)
	}

	m := &matching{a: a, b: b, p: initialAssignment(a, b, n)}
	overlap := m.total()
	best := min(e1, e2)
	if overlap == best || n < 2 {
		return cost(overlap)
	}

	rng := rand.New(rand.NewPCG(uint64(n), uint64(e1+e2)))
	stall := 0
	stallLimit := 50 * n
	for i := 0; stall < stallLimit; i++ {
		if i&1023 == 0 && ctx.Err() != nil {
			break
		}
		x := rng.IntN(n)
		y := rng.IntN(n)
		if x == y || (x >= a.n && y >= a.n) {
			continue
		}
		before := m.local(x, y)
		m.p[x], m.p[y] = m.p[y], m.p[x]
		if gain := m.local(x, y) - before; gain > 0 {
			overlap += gain
			stall = 0
			if overlap == best {
				break
			}
			continue
		}
		m.p[x], m.p[y] = m.p[y], m.p[x]
		stall++
	}
	return cost(overlap)
}

// matching maps the (padded) vertices of a onto those of b. Indices at or
// beyond a.n are padding; images at or beyond b.n are deletions.
type matching struct {
	a, b *indexed
	p    []int
}

func (m *matching) pair(i, j int) int {
	pi, pj := m.p[i], m.p[j]
	if pi >= m.b.n || pj >= m.b.n {
		return 0
	}
	return min(m.a.mult[[2]int{i, j}], m.b.mult[[2]int{pi, pj}])
}

func (m *matching) total() int {
	sum := 0
	for i := 0; i < m.a.n; i++ {
		for _, j := range m.a.succ[i] {
			sum += m.pair(i, j)
		}
	}
	return sum
}

// local sums the overlap of every g1 edge pair touching x or y, each pair
// once
func (m *matching) local(x, y int) int {
	sum := 0
	seen := func(i, j int) bool {
		// pairs incident to x were counted in the first pass
		return i == x || j == x
	}
	for _, v := range []int{x, y} {
		if v >= m.a.n {
			continue
		}
		for _, j := range m.a.succ[v] {
			if v == y && seen(v, j) {
				continue
			}
			sum += m.pair(v, j)
		}
		for _, i := range m.a.pred[v] {
			if i == v || (v == y && seen(i, v)) {
				continue
			}
			sum += m.pair(i, v)
		}
	}
	return sum
}

// initialAssignment pairs vertices of equal rank when both sides are
// sorted by label then descending degree, so same-kind hubs meet first.
// Leftover vertices on either side are matched with padding.
func initialAssignment(a, b *indexed, n int) []int {
	sources := append(a.ranked(), padding(a.n, n)...)
	targets := append(b.ranked(), padding(b.n, n)...)
	p := make([]int, n)
	for k, src := range sources {
		p[src] = targets[k]
	}
	return p
}

func padding(from, to int) []int {
	idx := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		idx = append(idx, i)
	}
	return idx
}

// AverageSimRank computes SimRank over the in-neighbours of g (decay 0.9,
// at most 100 iterations, stopping once no score moves by more than 1e-4)
// and returns the mean over all ordered node pairs. Nil for an empty graph
// or when ctx ends first.
func AverageSimRank(ctx context.Context, g *Graph) *float64 {
	ix := g.indexed()
	n := ix.n
	if n == 0 {
		return nil
	}

	prev := make([]float64, n*n)
	next := make([]float64, n*n)
	for i := 0; i < n; i++ {
		prev[i*n+i] = 1
	}

	for iter := 0; iter < simRankIterations; iter++ {
		if ctx.Err() != nil {
			return nil
		}
		delta := 0.0
		for u := 0; u < n; u++ {
			for v := 0; v < n; v++ {
				var s float64
				switch {
				case u == v:
					s = 1
				case len(ix.pred[u]) == 0 || len(ix.pred[v]) == 0:
					s = 0
				default:
					var sum float64
					for _, i := range ix.pred[u] {
						row := prev[i*n:]
						for _, j := range ix.pred[v] {
							sum += row[j]
						}
					}
					s = simRankDecay * sum / float64(len(ix.pred[u])*len(ix.pred[v]))
				}
				delta = math.Max(delta, math.Abs(s-prev[u*n+v]))
				next[u*n+v] = s
			}
		}
		prev, next = next, prev
		if delta < simRankTolerance {
			break
		}
	}

	var total float64
	for _, s := range prev {
		total += s
	}
	avg := total / float64(n*n)
	return &avg
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

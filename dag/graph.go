package dag

import (
	"fmt"
	"sort"

	"github.com/kbukum/stagepipe/errors"
)

// Edge represents a dependency: To depends on From.
type Edge struct {
	From int
	To   int
}

// Graph is an immutable adjacency view over n stages.
// Parallel edges between the same pair of stages are collapsed.
type Graph struct {
	n    int
	succ [][]int
	pred [][]int
}

// New builds a graph over stages 0..n-1.
func New(n int, edges []Edge) (*Graph, error) {
	if n < 0 {
		return nil, fmt.Errorf("dag: negative stage count %d", n)
	}
	g := &Graph{
		n:    n,
		succ: make([][]int, n),
		pred: make([][]int, n),
	}

	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if e.From < 0 || e.From >= n {
			return nil, fmt.Errorf("dag: edge references unknown stage %d", e.From)
		}
		if e.To < 0 || e.To >= n {
			return nil, fmt.Errorf("dag: edge references unknown stage %d", e.To)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		g.succ[e.From] = append(g.succ[e.From], e.To)
		g.pred[e.To] = append(g.pred[e.To], e.From)
	}
	for i := 0; i < n; i++ {
		sort.Ints(g.succ[i])
		sort.Ints(g.pred[i])
	}
	return g, nil
}

// Len returns the number of stages.
func (g *Graph) Len() int { return g.n }

// Successors returns the stages that directly consume outputs of stage i.
func (g *Graph) Successors(i int) []int { return g.succ[i] }

// Predecessors returns the stages whose outputs stage i directly consumes.
func (g *Graph) Predecessors(i int) []int { return g.pred[i] }

// Sources returns the stages with no predecessors, in index order.
func (g *Graph) Sources() []int {
	var out []int
	for i := 0; i < g.n; i++ {
		if len(g.pred[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Sinks returns the stages with no successors, in index order.
func (g *Graph) Sinks() []int {
	var out []int
	for i := 0; i < g.n; i++ {
		if len(g.succ[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Downstream returns every stage reachable from stage i, excluding i,
// in index order.
func (g *Graph) Downstream(i int) []int {
	visited := make([]bool, g.n)
	stack := append([]int(nil), g.succ[i]...)
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[s] {
			continue
		}
		visited[s] = true
		stack = append(stack, g.succ[s]...)
	}

	var out []int
	for s, ok := range visited {
		if ok && s != i {
			out = append(out, s)
		}
	}
	return out
}

// BuildLevels uses Kahn's algorithm to group stages by dependency level.
// Stages within the same level have no dependency on each other. Levels are
// sorted by stage index. A cycle fails with a CYCLIC_PIPELINE error naming
// the stages that could not be ordered.
func BuildLevels(g *Graph) ([][]int, error) {
	inDegree := make([]int, g.n)
	for i := 0; i < g.n; i++ {
		inDegree[i] = len(g.pred[i])
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	var levels [][]int
	visited := 0

	for len(queue) > 0 {
		levels = append(levels, queue)
		visited += len(queue)

		var next []int
		for _, s := range queue {
			for _, dep := range g.succ[s] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Ints(next)
		queue = next
	}

	if visited != g.n {
		var cyclic []int
		for i, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, i)
			}
		}
		return nil, errors.CyclicPipeline(cyclic)
	}

	return levels, nil
}

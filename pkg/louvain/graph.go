package louvain

import (
	"fmt"
	"math"

	"github.com/gilchrisn/scib-benchmark/pkg/neighbors"
)

// Edge is one endpoint's view of an undirected weighted edge
type Edge struct {
	To     int
	Weight float64
}

// Graph is a weighted undirected graph stored as per-node edge lists.
// A self-loop is stored once and counts twice toward the node strength.
type Graph struct {
	Edges    [][]Edge
	Strength []float64 // weighted degree
	Total    float64   // sum of edge weights (m)
}

// NewGraph creates a graph with n nodes and no edges
func NewGraph(n int) *Graph {
	return &Graph{
		Edges:    make([][]Edge, n),
		Strength: make([]float64, n),
	}
}

// FromNeighbors converts a neighbour graph, one edge per connected cell pair
func FromNeighbors(ng *neighbors.Graph) (*Graph, error) {
	g := NewGraph(ng.NumCells)
	if err := ng.ForEachEdge(g.AddEdge); err != nil {
		return nil, fmt.Errorf("failed to convert neighbour graph: %w", err)
	}
	return g, nil
}

// Len returns the number of nodes
func (g *Graph) Len() int { return len(g.Edges) }

// AddEdge adds an undirected edge of positive weight
func (g *Graph) AddEdge(u, v int, w float64) error {
	n := g.Len()
	if u < 0 || u >= n || v < 0 || v >= n {
		return fmt.Errorf("edge %d-%d out of range for %d nodes", u, v, n)
	}
	if !(w > 0) || math.IsInf(w, 1) {
		return fmt.Errorf("edge %d-%d: weight must be positive and finite, got %g", u, v, w)
	}

	g.Edges[u] = append(g.Edges[u], Edge{To: v, Weight: w})
	g.Strength[u] += w
	if u == v {
		g.Strength[u] += w
	} else {
		g.Edges[v] = append(g.Edges[v], Edge{To: u, Weight: w})
		g.Strength[v] += w
	}
	g.Total += w
	return nil
}

// Validate checks that the graph has nodes and that every edge is in range
func (g *Graph) Validate() error {
	n := g.Len()
	if n == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	if len(g.Strength) != n {
		return fmt.Errorf("%d strengths for %d nodes", len(g.Strength), n)
	}
	for u, edges := range g.Edges {
		for _, e := range edges {
			if e.To < 0 || e.To >= n {
				return fmt.Errorf("node %d links to missing node %d", u, e.To)
			}
			if !(e.Weight > 0) {
				return fmt.Errorf("edge %d-%d has non-positive weight %g", u, e.To, e.Weight)
			}
		}
	}
	return nil
}

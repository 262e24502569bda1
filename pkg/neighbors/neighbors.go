// Package neighbors builds k-nearest-neighbour graphs with fuzzy
// connectivities over cell embeddings.
package neighbors

import (
	"fmt"
	"math"
	"sort"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/pca"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultK is the neighbourhood size used when the caller passes 0
const DefaultK = 15

const (
	sigmaIterations = 64
	sigmaTolerance  = 1e-5
	minDistScale    = 1e-3
)

// Graph is a symmetric weighted cell-cell graph
type Graph struct {
	NumCells  int         `json:"num_cells"`
	K         int         `json:"k"`
	Indices   [][]int     `json:"-"` // Indices[i] = k nearest cells of i, nearest first
	Distances [][]float64 `json:"-"` // Distances[i][j] = distance to Indices[i][j]
	Adjacency [][]int     `json:"-"` // symmetric connectivity neighbours
	Weights   [][]float64 `json:"-"` // Weights[i][j] = connectivity of i and Adjacency[i][j], in (0,1]
}

// NumEdges returns the number of undirected edges
func (g *Graph) NumEdges() int {
	n := 0
	for _, adj := range g.Adjacency {
		n += len(adj)
	}
	return n / 2
}

// Weight returns the connectivity between two cells, 0 if unconnected
func (g *Graph) Weight(i, j int) float64 {
	for idx, nb := range g.Adjacency[i] {
		if nb == j {
			return g.Weights[i][idx]
		}
	}
	return 0
}

// ForEachEdge calls fn once per undirected edge with i < j, in ascending order.
func (g *Graph) ForEachEdge(fn func(i, j int, w float64) error) error {
	for i, adj := range g.Adjacency {
		for idx, j := range adj {
			if j <= i {
				continue
			}
			if err := fn(i, j, g.Weights[i][idx]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compute builds the exact euclidean kNN graph of the rows of emb and its fuzzy
// connectivities. k is capped at n-1; k <= 0 means DefaultK.
func Compute(emb mat.Matrix, k int) (*Graph, error) {
	if emb == nil {
		return nil, fmt.Errorf("neighbors: nil embedding: %w", models.ErrMissingField)
	}
	n, d := emb.Dims()
	if n < 2 || d < 1 {
		return nil, fmt.Errorf("neighbors: need at least 2 cells, got %dx%d: %w", n, d, models.ErrPrecondition)
	}
	if k <= 0 {
		k = DefaultK
	}
	if k > n-1 {
		k = n - 1
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, emb)
	}

	g := &Graph{
		NumCells:  n,
		K:         k,
		Indices:   make([][]int, n),
		Distances: make([][]float64, n),
	}

	order := make([]int, 0, n-1)
	dist := make([]float64, n)
	for i := 0; i < n; i++ {
		order = order[:0]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			dist[j] = floats.Distance(rows[i], rows[j], 2)
			order = append(order, j)
		}
		sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })

		g.Indices[i] = append([]int(nil), order[:k]...)
		g.Distances[i] = make([]float64, k)
		for j, nb := range g.Indices[i] {
			g.Distances[i][j] = dist[nb]
		}
	}

	g.connect()
	return g, nil
}

// connect turns the directed kNN distances into a symmetric fuzzy graph:
// w(i->j) = exp(-(d_ij - rho_i)/sigma_i), combined as a + b - ab.
func (g *Graph) connect() {
	directed := make([]map[int]float64, g.NumCells)
	target := math.Log2(float64(g.K))
	if g.K == 1 {
		target = 1
	}

	meanAll := 0.0
	count := 0
	for _, ds := range g.Distances {
		for _, d := range ds {
			meanAll += d
			count++
		}
	}
	if count > 0 {
		meanAll /= float64(count)
	}

	for i := 0; i < g.NumCells; i++ {
		ds := g.Distances[i]
		rho := 0.0
		for _, d := range ds {
			if d > 0 {
				rho = d
				break
			}
		}
		sigma := smoothDistance(ds, rho, target)

		meanI := floats.Sum(ds) / float64(len(ds))
		if rho > 0 {
			sigma = math.Max(sigma, minDistScale*meanI)
		} else {
			sigma = math.Max(sigma, minDistScale*meanAll)
		}

		directed[i] = make(map[int]float64, len(ds))
		for j, nb := range g.Indices[i] {
			w := 1.0
			if delta := ds[j] - rho; delta > 0 && sigma > 0 {
				w = math.Exp(-delta / sigma)
			}
			directed[i][nb] = w
		}
	}

	merged := make([]map[int]float64, g.NumCells)
	for i := range merged {
		merged[i] = make(map[int]float64)
	}
	for i, row := range directed {
		for j, a := range row {
			if _, done := merged[i][j]; done {
				continue
			}
			b := directed[j][i]
			w := a + b - a*b
			merged[i][j] = w
			merged[j][i] = w
		}
	}

	g.Adjacency = make([][]int, g.NumCells)
	g.Weights = make([][]float64, g.NumCells)
	for i, row := range merged {
		nbs := make([]int, 0, len(row))
		for j, w := range row {
			if w > 0 {
				nbs = append(nbs, j)
			}
		}
		sort.Ints(nbs)
		g.Adjacency[i] = nbs
		g.Weights[i] = make([]float64, len(nbs))
		for idx, j := range nbs {
			g.Weights[i][idx] = row[j]
		}
	}
}

// smoothDistance binary-searches sigma so that
// sum_j exp(-max(d_j - rho, 0)/sigma) = target.
func smoothDistance(ds []float64, rho, target float64) float64 {
	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for it := 0; it < sigmaIterations; it++ {
		psum := 0.0
		for _, d := range ds {
			if delta := d - rho; delta > 0 {
				psum += math.Exp(-delta / mid)
			} else {
				psum += 1.0
			}
		}
		if math.Abs(psum-target) < sigmaTolerance {
			break
		}
		if psum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}
	return mid
}

// ForDataset returns the neighbour graph of a dataset embedding, reusing the
// graph memoised on the dataset while the embedding is unchanged. An empty
// embed name means X_pca, computed from X when it is not precomputed.
func ForDataset(ds *models.Dataset, embed string, k int) (*Graph, error) {
	if k <= 0 {
		k = DefaultK
	}

	var emb *mat.Dense
	var err error
	if embed == "" {
		embed = models.PCAKey
		emb, err = pca.Embedding(ds, 0)
	} else {
		emb, err = ds.Embedding(embed)
	}
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}

	key := fmt.Sprintf("neighbors/%s/%d", embed, k)
	v, err := ds.Memo(key, models.Fingerprint(emb), func() (interface{}, error) {
		return Compute(emb, k)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

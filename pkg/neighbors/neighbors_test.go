package neighbors

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// blobs places n cells per centre around well-separated 2-D centres.
func blobs(perCluster int, centres [][2]float64, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, 7))
	m := mat.NewDense(perCluster*len(centres), 2, nil)
	for c, centre := range centres {
		for i := 0; i < perCluster; i++ {
			row := c*perCluster + i
			m.Set(row, 0, centre[0]+0.3*rng.NormFloat64())
			m.Set(row, 1, centre[1]+0.3*rng.NormFloat64())
		}
	}
	return m
}

func TestComputeSymmetricWeights(t *testing.T) {
	emb := blobs(20, [][2]float64{{0, 0}, {10, 0}, {0, 10}}, 1)
	g, err := Compute(emb, 10)
	require.NoError(t, err)

	assert.Equal(t, 60, g.NumCells)
	assert.Equal(t, 10, g.K)
	assert.Greater(t, g.NumEdges(), 0)

	for i := 0; i < g.NumCells; i++ {
		require.Len(t, g.Indices[i], 10)
		for j := 1; j < len(g.Distances[i]); j++ {
			assert.LessOrEqual(t, g.Distances[i][j-1], g.Distances[i][j])
		}
		for idx, j := range g.Adjacency[i] {
			w := g.Weights[i][idx]
			assert.NotEqual(t, i, j)
			assert.True(t, w > 0 && w <= 1, "weight %f out of (0,1]", w)
			assert.Equal(t, w, g.Weight(j, i), "asymmetric edge %d-%d", i, j)
		}
	}

	// the nearest neighbour of every cell is fully connected
	for i := 0; i < g.NumCells; i++ {
		assert.InDelta(t, 1.0, g.Weight(i, g.Indices[i][0]), 1e-12)
	}
}

func TestComputeNeighboursStayInBlob(t *testing.T) {
	emb := blobs(15, [][2]float64{{0, 0}, {50, 50}}, 2)
	g, err := Compute(emb, 5)
	require.NoError(t, err)

	err = g.ForEachEdge(func(i, j int, w float64) error {
		if i/15 != j/15 {
			return fmt.Errorf("edge %d-%d crosses blobs", i, j)
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestComputeCapsK(t *testing.T) {
	emb := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	g, err := Compute(emb, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, g.K)
}

func TestComputeErrors(t *testing.T) {
	_, err := Compute(nil, 5)
	assert.ErrorIs(t, err, models.ErrMissingField)

	_, err = Compute(mat.NewDense(1, 2, []float64{1, 2}), 5)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func newDataset(t *testing.T, emb *mat.Dense) *models.Dataset {
	t.Helper()
	n, _ := emb.Dims()
	cells := make([]string, n)
	for i := range cells {
		cells[i] = fmt.Sprintf("cell%d", i)
	}
	ds, err := models.NewDataset(cells, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ds.SetEmbedding(models.EmbeddingKey, emb))
	return ds
}

func TestForDatasetCache(t *testing.T) {
	emb := blobs(10, [][2]float64{{0, 0}, {5, 5}}, 3)
	ds := newDataset(t, emb)

	first, err := ForDataset(ds, models.EmbeddingKey, 5)
	require.NoError(t, err)
	second, err := ForDataset(ds, models.EmbeddingKey, 5)
	require.NoError(t, err)
	assert.Same(t, first, second)

	t.Run("different k is a different entry", func(t *testing.T) {
		other, err := ForDataset(ds, models.EmbeddingKey, 3)
		require.NoError(t, err)
		assert.NotSame(t, first, other)
		assert.Equal(t, 3, other.K)
	})

	t.Run("in-place edit invalidates", func(t *testing.T) {
		emb.Set(0, 0, 100)
		rebuilt, err := ForDataset(ds, models.EmbeddingKey, 5)
		require.NoError(t, err)
		assert.NotSame(t, first, rebuilt)
	})

	t.Run("replaced embedding invalidates", func(t *testing.T) {
		before, err := ForDataset(ds, models.EmbeddingKey, 5)
		require.NoError(t, err)
		require.NoError(t, ds.SetEmbedding(models.EmbeddingKey, blobs(10, [][2]float64{{1, 1}, {9, 9}}, 4)))
		after, err := ForDataset(ds, models.EmbeddingKey, 5)
		require.NoError(t, err)
		assert.NotSame(t, before, after)
	})
}

func TestForDatasetMissing(t *testing.T) {
	ds := newDataset(t, blobs(5, [][2]float64{{0, 0}}, 5))

	_, err := ForDataset(ds, "X_unknown", 3)
	assert.ErrorIs(t, err, models.ErrMissingField)

	// no X_pca and no expression to compute it from
	_, err = ForDataset(ds, "", 3)
	assert.ErrorIs(t, err, models.ErrMissingField)
}

func TestForDatasetPCAFallback(t *testing.T) {
	rng := rand.New(rand.NewPCG(6, 6))
	x := mat.NewDense(30, 8, nil)
	for i := 0; i < 30; i++ {
		for j := 0; j < 8; j++ {
			x.Set(i, j, float64(i/10)*5+rng.Float64())
		}
	}
	cells := make([]string, 30)
	for i := range cells {
		cells[i] = fmt.Sprintf("c%d", i)
	}
	genes := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	ds, err := models.NewDataset(cells, genes, x)
	require.NoError(t, err)

	g, err := ForDataset(ds, "", 5)
	require.NoError(t, err)
	assert.Equal(t, 30, g.NumCells)
	assert.False(t, ds.HasEmbedding(models.PCAKey))
}

package metrics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/pca"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const (
	fixtureCells = 200
	fixtureTypes = 3
)

// syntheticDataset returns 200 cells in 2 batches of 100 with 3 cell types
// balanced across batches. Expression depends on cell type only, so both
// batches share one distribution. Genes include mouse cell cycle markers.
// X_pca is precomputed when withPCA is set.
func syntheticDataset(t *testing.T, withPCA bool) *models.Dataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(2024, 1))

	sGenes, g2mGenes, err := CellCycleGenes("mouse")
	require.NoError(t, err)
	genes := append([]string(nil), sGenes[:10]...)
	genes = append(genes, g2mGenes[:10]...)
	for j := 0; j < 60; j++ {
		genes = append(genes, fmt.Sprintf("Gene%02d", j))
	}
	d := len(genes)

	// per-type mean expression; gene j is a marker of type j%3 with some spread
	base := make([][]float64, fixtureTypes)
	for c := range base {
		base[c] = make([]float64, d)
		for j := range base[c] {
			base[c][j] = 0.5 + rng.Float64()
			if j%fixtureTypes == c {
				base[c][j] += 3
			}
		}
	}

	cells := make([]string, fixtureCells)
	batches := make([]string, fixtureCells)
	types := make([]string, fixtureCells)
	x := mat.NewDense(fixtureCells, d, nil)
	for i := 0; i < fixtureCells; i++ {
		c := i % fixtureTypes
		cells[i] = fmt.Sprintf("cell%03d", i)
		types[i] = []string{"alpha", "beta", "gamma"}[c]
		batches[i] = "batch1"
		if i >= fixtureCells/2 {
			batches[i] = "batch2"
		}
		for j := 0; j < d; j++ {
			v := base[c][j] + 0.5*rng.NormFloat64()
			x.Set(i, j, math.Max(v, 0))
		}
	}

	ds, err := models.NewDataset(cells, genes, x)
	require.NoError(t, err)
	require.NoError(t, ds.SetObs("batch", models.NewCategorical(batches)))
	require.NoError(t, ds.SetObs("celltype", models.NewCategorical(types)))

	if withPCA {
		res, err := pca.Compute(x, 20)
		require.NoError(t, err)
		require.NoError(t, ds.SetEmbedding(models.PCAKey, res.Scores))
	}
	return ds
}

func pointsDataset(t *testing.T, points [][]float64, groups map[string][]string) *models.Dataset {
	t.Helper()
	cells := make([]string, len(points))
	for i := range cells {
		cells[i] = fmt.Sprintf("p%d", i)
	}
	ds, err := models.NewDataset(cells, nil, nil)
	require.NoError(t, err)

	emb := mat.NewDense(len(points), len(points[0]), nil)
	for i, p := range points {
		emb.SetRow(i, p)
	}
	require.NoError(t, ds.SetEmbedding(models.EmbeddingKey, emb))
	for key, values := range groups {
		require.NoError(t, ds.SetObs(key, models.NewCategorical(values)))
	}
	return ds
}

package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/neighbors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func sampleDataset(t *testing.T) *models.Dataset {
	t.Helper()
	x := mat.NewDense(3, 2, []float64{1, 0.5, 0, 2, 3.25, 1})
	ds, err := models.NewDataset([]string{"c1", "c2", "c3"}, []string{"Actb", "Gapdh"}, x)
	require.NoError(t, err)
	require.NoError(t, ds.SetObs("batch", models.NewCategorical([]string{"b1", "b2", "b1"})))
	require.NoError(t, ds.SetObs("depth", models.NewNumeric([]float64{100, 250, 75})))
	require.NoError(t, ds.SetEmbedding("X_emb", mat.NewDense(3, 2, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})))
	return ds
}

func assertSameDataset(t *testing.T, want, got *models.Dataset) {
	t.Helper()
	assert.Equal(t, want.Cells, got.Cells)
	assert.Equal(t, want.Genes, got.Genes)
	assert.True(t, mat.Equal(want.X, got.X))
	require.Len(t, got.Obs, len(want.Obs))
	for k, col := range want.Obs {
		assert.Equal(t, col.Kind(), got.Obs[k].Kind(), k)
		assert.Equal(t, col.Values, got.Obs[k].Values, k)
		assert.Equal(t, col.Numbers, got.Obs[k].Numbers, k)
	}
	for name, m := range want.Obsm {
		emb, err := got.Embedding(name)
		require.NoError(t, err)
		assert.True(t, mat.Equal(m, emb), name)
	}
}

func TestSaveLoadDataset(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "json file", path: "dataset.json"},
		{name: "csv directory", path: "dataset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := sampleDataset(t)
			path := filepath.Join(t.TempDir(), "out", tt.path)

			require.NoError(t, SaveDataset(ds, path))
			loaded, err := LoadDataset(path)
			require.NoError(t, err)
			assertSameDataset(t, ds, loaded)
		})
	}
}

func TestLoadDirEmbeddingOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ObsFile), []byte("cell,batch,n:numeric\nc1,b1,1\nc2,b2,2\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ObsmDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ObsmDir, "X_scanorama.csv"), []byte("cell,c0\nc1,0.5\nc2,1.5\n"), 0644))

	ds, err := LoadDataset(dir)
	require.NoError(t, err)
	assert.Nil(t, ds.X)
	assert.Equal(t, models.Numeric, ds.Obs["n"].Kind())
	emb, err := ds.Embedding("X_scanorama")
	require.NoError(t, err)
	assert.Equal(t, 1.5, emb.At(1, 0))
}

func TestLoadDatasetErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := LoadDataset(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.h5ad")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		_, err := LoadDataset(path)
		assert.Error(t, err)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := LoadDataset(t.TempDir())
		assert.ErrorIs(t, err, models.ErrMissingField)
	})

	t.Run("obs out of order", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ExpressionFile), []byte("cell,g1\nc1,1\nc2,2\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ObsFile), []byte("cell,batch\nc2,b1\nc1,b2\n"), 0644))
		_, err := LoadDataset(dir)
		assert.ErrorIs(t, err, models.ErrShapeMismatch)
	})

	t.Run("bad number", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ExpressionFile), []byte("cell,g1\nc1,abc\n"), 0644))
		_, err := LoadDataset(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid number")
	})

	t.Run("ragged json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "d.json")
		body := `{"cells":["c1","c2"],"genes":["g1","g2"],"x":[[1,2],[3]]}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		_, err := LoadDataset(path)
		assert.ErrorIs(t, err, models.ErrShapeMismatch)
	})

	t.Run("duplicate cells", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "d.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"cells":["c1","c1"]}`), 0644))
		_, err := LoadDataset(path)
		var verrs models.ValidationErrors
		assert.ErrorAs(t, err, &verrs)
	})
}

func TestLabelsRoundTrip(t *testing.T) {
	labels := models.Labels{"c2": "1", "c1": "0", "c3": "0"}
	path := filepath.Join(t.TempDir(), "labels", "louvain.csv")

	require.NoError(t, SaveLabels(labels, "louvain", path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "cell,louvain\nc1,0\n"))

	loaded, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, labels, loaded)
}

func TestSaveNeighborGraph(t *testing.T) {
	emb := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	g, err := neighbors.Compute(emb, 1)
	require.NoError(t, err)
	cells := []string{"a", "b", "c", "d"}
	dir := t.TempDir()

	edgePath := filepath.Join(dir, "graph.edgelist")
	require.NoError(t, SaveNeighborGraph(g, cells, edgePath))
	data, err := os.ReadFile(edgePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "4 2", lines[0])
	assert.Len(t, lines, 3)

	csvPath := filepath.Join(dir, "graph.csv")
	require.NoError(t, SaveNeighborGraph(g, cells, csvPath))
	data, err = os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "from,to,weight\n"))

	assert.Error(t, SaveNeighborGraph(g, cells[:2], edgePath))
}

func TestValidateOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, ValidateOutputDirectory(dir))
	require.NoError(t, ValidateOutputDirectory(dir))

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, ValidateOutputDirectory(file))
}

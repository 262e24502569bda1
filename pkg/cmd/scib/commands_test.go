package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gilchrisn/scib-benchmark/pkg/benchmark"
	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/parser"
	"github.com/gilchrisn/scib-benchmark/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const testConfig = `
neighbors:
  k: 5
pca:
  n_comps: 4
hvg:
  n_top: 4
cellcycle:
  organism: ""
clustering:
  resolution_min: 0.2
  resolution_max: 1.0
  resolution_step: 0.4
logging:
  level: error
`

// writeFixture saves 24 cells of 2 types in 2 batches and a config file
func writeFixture(t *testing.T) (dir, dataset, cfgPath string) {
	t.Helper()
	dir = t.TempDir()

	const n, d = 24, 8
	cells := make([]string, n)
	batches := make([]string, n)
	types := make([]string, n)
	x := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		cells[i] = fmt.Sprintf("c%02d", i)
		types[i] = []string{"T", "B"}[i%2]
		batches[i] = []string{"b1", "b2"}[i/12]
		for j := 0; j < d; j++ {
			v := 1 + 0.05*float64((i*7+j*3)%11) + float64(i/12)
			if j%2 == i%2 {
				v += 3
			}
			x.Set(i, j, v)
		}
	}
	genes := make([]string, d)
	for j := range genes {
		genes[j] = fmt.Sprintf("G%d", j)
	}
	ds, err := models.NewDataset(cells, genes, x)
	require.NoError(t, err)
	require.NoError(t, ds.SetObs("batch", models.NewCategorical(batches)))
	require.NoError(t, ds.SetObs("cell_type", models.NewCategorical(types)))

	dataset = filepath.Join(dir, "pbmc.json")
	require.NoError(t, parser.SaveDataset(ds, dataset))
	cfgPath = filepath.Join(dir, "scib.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0644))
	return dir, dataset, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir, dataset, cfgPath := writeFixture(t)
	integrated := filepath.Join(dir, "centered.json")

	t.Run("methods", func(t *testing.T) {
		out, err := execute(t, "--config", cfgPath, "methods")
		require.NoError(t, err)
		assert.Equal(t, "centered\nunintegrated\n", out)
	})

	t.Run("integrate", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "integrate", "--method", "centered", dataset, integrated)
		require.NoError(t, err)

		ds, err := parser.LoadDataset(integrated)
		require.NoError(t, err)
		assert.Equal(t, 24, ds.NumCells())
		assert.Equal(t, 8, ds.NumGenes())
	})

	t.Run("metrics", func(t *testing.T) {
		reportPath := filepath.Join(dir, "report.json")
		_, err := execute(t, "--config", cfgPath, "metrics", "--format", "json", "-o", reportPath, dataset, integrated)
		require.NoError(t, err)

		data, err := os.ReadFile(reportPath)
		require.NoError(t, err)
		var report benchmark.Report
		require.NoError(t, json.Unmarshal(data, &report))
		require.Len(t, report.Results, 1)
		require.NotNil(t, report.Results[0].Scores)
		assert.Contains(t, report.Results[0].Scores.Metrics, benchmark.MetricPCR)
		assert.Contains(t, report.Results[0].Scores.Metrics, benchmark.MetricNMI)
	})

	t.Run("cluster", func(t *testing.T) {
		labelsPath := filepath.Join(dir, "louvain.csv")
		tracePath := filepath.Join(dir, "trace.jsonl")
		graphPath := filepath.Join(dir, "graph.csv")
		out, err := execute(t, "--config", cfgPath, "cluster",
			"--labels-out", labelsPath, "--trace", tracePath, "--graph-out", graphPath, dataset)
		require.NoError(t, err)
		assert.Contains(t, out, "best: resolution")

		labels, err := parser.LoadLabels(labelsPath)
		require.NoError(t, err)
		assert.Len(t, labels, 24)

		f, err := os.Open(tracePath)
		require.NoError(t, err)
		defer f.Close()
		events, err := utils.ReadTrace(f)
		require.NoError(t, err)
		assert.Len(t, events, 3)

		assert.FileExists(t, graphPath)
	})

	t.Run("benchmark", func(t *testing.T) {
		out, err := execute(t, "--config", cfgPath, "benchmark", "--format", "table", "-o", "", "--methods", "unintegrated,centered", dataset)
		require.NoError(t, err)
		assert.Contains(t, out, "PCR_batch")
		assert.Contains(t, out, "centered")
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "integrate", "--method", "harmony", dataset, integrated)
		assert.ErrorContains(t, err, "unknown integration method")
	})

	t.Run("bad external", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "--external", "scvi", "methods")
		assert.ErrorContains(t, err, "invalid --external")
	})
}

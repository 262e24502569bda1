package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// shifted has two batches of 3 cells; batch b2 is b1 plus 5 on every gene.
func shifted(t *testing.T) *models.Dataset {
	t.Helper()
	x := mat.NewDense(6, 3, []float64{
		1, 2, 3,
		2, 1, 0,
		0, 3, 3,
		6, 7, 8,
		7, 6, 5,
		5, 8, 8,
	})
	ds, err := models.NewDataset(
		[]string{"c1", "c2", "c3", "c4", "c5", "c6"},
		[]string{"g1", "g2", "g3"}, x)
	require.NoError(t, err)
	require.NoError(t, ds.SetObs("batch", models.NewCategorical([]string{"b1", "b1", "b1", "b2", "b2", "b2"})))
	return ds
}

type failing struct{ err error }

func (f *failing) Name() string { return "failing" }

func (f *failing) Integrate(ctx context.Context, ds *models.Dataset, batchKey string, hvg []string) (*Output, error) {
	ds.X.Set(0, 0, -1)
	ds.Obs["batch"].Values[0] = "corrupted"
	return nil, f.err
}

type panicking struct{}

func (p *panicking) Name() string { return "panicking" }

func (p *panicking) Integrate(ctx context.Context, ds *models.Dataset, batchKey string, hvg []string) (*Output, error) {
	panic("boom")
}

type embedder struct{ rows int }

func (e *embedder) Name() string { return "embedder" }

func (e *embedder) Integrate(ctx context.Context, ds *models.Dataset, batchKey string, hvg []string) (*Output, error) {
	return &Output{Embedding: mat.NewDense(e.rows, 2, nil)}, nil
}

func TestCheckSanity(t *testing.T) {
	ds := shifted(t)
	assert.NoError(t, CheckSanity(ds, "batch", nil))
	assert.NoError(t, CheckSanity(ds, "batch", []string{"g1", "g3"}))
	assert.ErrorIs(t, CheckSanity(ds, "donor", nil), models.ErrMissingField)
	assert.ErrorIs(t, CheckSanity(ds, "batch", []string{"g1", "Xist"}), models.ErrMissingField)

	noX, err := models.NewDataset(ds.Cells, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, CheckSanity(noX, "batch", nil), models.ErrMissingField)
}

func TestSplitBatches(t *testing.T) {
	ds := shifted(t)

	parts, err := SplitBatches(ds, "batch", nil)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, []string{"c4", "c5", "c6"}, parts[1].Cells)
	assert.Equal(t, 3, parts[1].NumGenes())

	parts, err = SplitBatches(ds, "batch", []string{"g2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, parts[0].Genes)
	assert.Equal(t, 7.0, parts[1].X.At(0, 0))
}

func TestRunNeverMutatesInput(t *testing.T) {
	tests := []struct {
		name    string
		adapter Adapter
	}{
		{name: "error", adapter: &failing{err: errors.New("library missing")}},
		{name: "panic", adapter: &panicking{}},
		{name: "wrong embedding size", adapter: &embedder{rows: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := shifted(t)
			before := mat.DenseCopyOf(ds.X)

			_, err := Run(context.Background(), tt.adapter, ds, "batch", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrAdapter)
			var ae *AdapterError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.adapter.Name(), ae.Adapter)

			assert.True(t, mat.Equal(before, ds.X))
			assert.Equal(t, "b1", ds.Obs["batch"].Values[0])
			assert.NoError(t, ds.Validate())
		})
	}
}

func TestRunUnintegrated(t *testing.T) {
	ds := shifted(t)
	out, err := Run(context.Background(), &Unintegrated{NComps: 2}, ds, "batch", nil)
	require.NoError(t, err)

	assert.True(t, mat.Equal(ds.X, out.X))
	assert.True(t, out.HasEmbedding(models.PCAKey))
	assert.False(t, ds.HasEmbedding(models.PCAKey))
	emb, err := out.Embedding(models.PCAKey)
	require.NoError(t, err)
	_, c := emb.Dims()
	assert.Equal(t, 2, c)
}

func TestRunCentered(t *testing.T) {
	ds := shifted(t)
	out, err := Run(context.Background(), &Centered{}, ds, "batch", []string{"g1", "g2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"g1", "g2"}, out.Genes)
	assert.Equal(t, ds.Cells, out.Cells)
	// c1 and c4 differ only by the batch shift
	assert.InDelta(t, out.X.At(0, 0), out.X.At(3, 0), 1e-12)
	assert.InDelta(t, out.X.At(0, 1), out.X.At(3, 1), 1e-12)
	assert.Equal(t, 1.0, ds.X.At(0, 0))
}

func TestOutputApply(t *testing.T) {
	ds := shifted(t)

	t.Run("reordered corrected cells", func(t *testing.T) {
		rev, err := models.NewDataset(
			[]string{"c6", "c5", "c4", "c3", "c2", "c1"}, []string{"g1"},
			mat.NewDense(6, 1, []float64{6, 5, 4, 3, 2, 1}))
		require.NoError(t, err)
		out, err := (&Output{Corrected: rev}).Apply(ds)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, mat.Col(nil, 0, out.X))
		assert.Equal(t, ds.Obs["batch"].Values, out.Obs["batch"].Values)
	})

	t.Run("different cells", func(t *testing.T) {
		other, err := models.NewDataset([]string{"c1", "c2", "c3", "c4", "c5", "x"}, nil, nil)
		require.NoError(t, err)
		_, err = (&Output{Corrected: other}).Apply(ds)
		assert.ErrorIs(t, err, models.ErrShapeMismatch)
	})

	t.Run("named embedding", func(t *testing.T) {
		out, err := (&Output{Embedding: mat.NewDense(6, 3, nil), EmbeddingName: "X_harmony"}).Apply(ds)
		require.NoError(t, err)
		assert.True(t, out.HasEmbedding("X_harmony"))
		assert.True(t, mat.Equal(ds.X, out.X))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := (&Output{}).Apply(ds)
		assert.ErrorIs(t, err, models.ErrMissingField)
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"centered", "unintegrated"}, r.List())

	r.Register(&Command{Method: "scanorama", Path: "scanorama"})
	a, ok := r.Get("scanorama")
	require.True(t, ok)
	assert.Equal(t, "scanorama", a.Name())

	_, ok = r.Get("seurat")
	assert.False(t, ok)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available")
	}
	path := filepath.Join(t.TempDir(), "method.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestCommand(t *testing.T) {
	copyScript := writeScript(t, `
while [ $# -gt 0 ]; do
  case "$1" in
    --input) in="$2"; shift ;;
    --output) out="$2"; shift ;;
  esac
  shift
done
cp "$in" "$out"
`)

	ds := shifted(t)
	cmd := &Command{Method: "copy", Path: "/bin/sh", Args: []string{copyScript}}
	out, err := Run(context.Background(), cmd, ds, "batch", []string{"g1"})
	require.NoError(t, err)
	assert.True(t, mat.Equal(ds.X, out.X))
	assert.Equal(t, ds.Cells, out.Cells)
}

func TestCommandFailure(t *testing.T) {
	script := writeScript(t, "echo 'package not installed' >&2\nexit 3\n")

	ds := shifted(t)
	cmd := &Command{Method: "broken", Path: "/bin/sh", Args: []string{script}}
	_, err := Run(context.Background(), cmd, ds, "batch", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAdapter)
	assert.Contains(t, err.Error(), "package not installed")
	assert.NoError(t, ds.Validate())
}

func TestCommandCancelled(t *testing.T) {
	script := writeScript(t, "sleep 5\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd := &Command{Method: "slow", Path: "/bin/sh", Args: []string{script}}
	_, err := Run(ctx, cmd, shifted(t), "batch", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, models.ErrAdapter)
}

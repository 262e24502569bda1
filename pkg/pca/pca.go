// Package pca computes principal component embeddings of expression matrices.
package pca

import (
	"fmt"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultComps is the number of components used when the caller passes 0
const DefaultComps = 50

// Result holds a PCA projection
type Result struct {
	Scores        *mat.Dense // cells x comps, centred data projected on the loadings
	Loadings      *mat.Dense // genes x comps
	Variances     []float64  // variance explained by each component
	VarianceRatio []float64  // Variances / total variance
}

// NumComps returns the number of retained components
func (r *Result) NumComps() int { return len(r.Variances) }

// Compute runs PCA on a cells x features matrix. nComps is capped at
// min(cells, features) - 1 (at least 1); nComps <= 0 means DefaultComps.
func Compute(x mat.Matrix, nComps int) (*Result, error) {
	if x == nil {
		return nil, fmt.Errorf("pca: nil matrix: %w", models.ErrMissingField)
	}
	n, d := x.Dims()
	if n < 2 || d < 1 {
		return nil, fmt.Errorf("pca: need at least 2 cells and 1 feature, got %dx%d: %w", n, d, models.ErrPrecondition)
	}

	if nComps <= 0 {
		nComps = DefaultComps
	}
	limit := n
	if d < limit {
		limit = d
	}
	if limit > 1 {
		limit--
	}
	if nComps > limit {
		nComps = limit
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("pca: decomposition failed: %w", models.ErrNumericDegeneracy)
	}
	vars := pc.VarsTo(nil)
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	total := 0.0
	for _, v := range vars {
		total += v
	}

	loadings := mat.DenseCopyOf(vecs.Slice(0, d, 0, nComps))

	centred := mat.DenseCopyOf(x)
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, centred)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			centred.Set(i, j, col[i]-mean)
		}
	}

	scores := mat.NewDense(n, nComps, nil)
	scores.Mul(centred, loadings)

	res := &Result{
		Scores:        scores,
		Loadings:      loadings,
		Variances:     append([]float64(nil), vars[:nComps]...),
		VarianceRatio: make([]float64, nComps),
	}
	for i := range res.Variances {
		if total > 0 {
			res.VarianceRatio[i] = res.Variances[i] / total
		}
	}
	return res, nil
}

// ForDataset returns the PCA of ds.X, memoised on the dataset against a
// fingerprint of the expression matrix.
func ForDataset(ds *models.Dataset, nComps int) (*Result, error) {
	x, err := ds.Expression()
	if err != nil {
		return nil, fmt.Errorf("pca: %w", err)
	}
	key := fmt.Sprintf("pca/%d", nComps)
	v, err := ds.Memo(key, models.Fingerprint(x), func() (interface{}, error) {
		return Compute(x, nComps)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// Embedding returns the precomputed X_pca embedding when present, otherwise a
// fresh PCA of X. The dataset is not modified.
func Embedding(ds *models.Dataset, nComps int) (*mat.Dense, error) {
	if ds.HasEmbedding(models.PCAKey) {
		return ds.Embedding(models.PCAKey)
	}
	res, err := ForDataset(ds, nComps)
	if err != nil {
		return nil, err
	}
	return res.Scores, nil
}

// Variances returns per-component variances of an existing embedding, for
// callers reusing a precomputed projection.
func Variances(emb mat.Matrix) []float64 {
	_, c := emb.Dims()
	out := make([]float64, c)
	for j := 0; j < c; j++ {
		_, out[j] = stat.MeanVariance(mat.Col(nil, j, emb), nil)
	}
	return out
}

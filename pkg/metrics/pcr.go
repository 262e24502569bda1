package metrics

import (
	"fmt"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/pca"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCROptions configures PCRComparison
type PCROptions struct {
	Embed  string // embedding of the integrated dataset; empty = X_pca or PCA of X
	NComps int    // 0 = 50
	Scale  bool
	Logger zerolog.Logger
}

// PCRegression returns the share of variance of a PCA projection explained by
// a covariate: the per-component R^2 weighted by each component's share of
// the retained variance. Categorical covariates are one-hot encoded.
func PCRegression(scores mat.Matrix, covariate *models.Column, variances []float64) (float64, error) {
	n, k := scores.Dims()
	if covariate.Len() != n {
		return 0, fmt.Errorf("covariate has %d rows, projection has %d: %w", covariate.Len(), n, models.ErrShapeMismatch)
	}
	if len(variances) != k {
		return 0, fmt.Errorf("%d variances for %d components: %w", len(variances), k, models.ErrShapeMismatch)
	}
	if n < 2 || k == 0 {
		return 0, fmt.Errorf("pc regression needs 2+ cells and 1+ component: %w", models.ErrPrecondition)
	}

	total := 0.0
	for _, v := range variances {
		total += v
	}
	if total <= 0 {
		return 0, nil
	}

	design, err := designMatrix(covariate)
	if err != nil {
		return 0, err
	}

	explained := 0.0
	for c := 0; c < k; c++ {
		y := mat.Col(nil, c, scores)
		var r2 float64
		if covariate.Kind() == models.Numeric {
			r2 = simpleRSquared(covariate.Numbers, y)
		} else {
			r2, err = leastSquaresRSquared(design, y)
			if err != nil {
				return 0, fmt.Errorf("component %d: %w", c, err)
			}
		}
		explained += r2 * variances[c] / total
	}
	return explained, nil
}

// designMatrix one-hot encodes a categorical covariate with an intercept,
// dropping the first category so the columns stay independent. Nil means the
// covariate has a single level (or is numeric) and explains nothing.
func designMatrix(covariate *models.Column) (*mat.Dense, error) {
	if covariate.Kind() == models.Numeric {
		return nil, nil
	}
	codes, cats := covariate.Codes()
	if len(cats) < 2 {
		return nil, nil
	}
	if len(cats) > len(codes) {
		return nil, fmt.Errorf("%d categories for %d cells: %w", len(cats), len(codes), models.ErrNumericDegeneracy)
	}
	design := mat.NewDense(len(codes), len(cats), nil)
	for i, c := range codes {
		design.Set(i, 0, 1)
		if c > 0 {
			design.Set(i, c, 1)
		}
	}
	return design, nil
}

func leastSquaresRSquared(design *mat.Dense, y []float64) (float64, error) {
	if design == nil {
		return 0, nil
	}
	n := len(y)
	_, variance := stat.MeanVariance(y, nil)
	ssTot := variance * float64(n-1)
	if ssTot <= 0 {
		return 0, nil
	}

	var beta mat.Dense
	if err := beta.Solve(design, mat.NewVecDense(n, y)); err != nil {
		return 0, fmt.Errorf("least squares: %v: %w", err, models.ErrNumericDegeneracy)
	}
	var fitted mat.Dense
	fitted.Mul(design, &beta)

	ssRes := 0.0
	for i := 0; i < n; i++ {
		d := y[i] - fitted.At(i, 0)
		ssRes += d * d
	}
	return clamp01(1 - ssRes/ssTot), nil
}

func simpleRSquared(x, y []float64) float64 {
	_, vx := stat.MeanVariance(x, nil)
	_, vy := stat.MeanVariance(y, nil)
	if vx <= 0 || vy <= 0 {
		return 0
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return clamp01(stat.RSquared(x, y, nil, alpha, beta))
}

// PCRComparison compares the variance explained by covariate before and after
// integration. Unscaled it returns after-before; scaled it returns the relative
// reduction (before-after)/before clamped to [0,1], or 0 when before is 0.
func PCRComparison(before, after *models.Dataset, covariate string, opts PCROptions) (float64, error) {
	if opts.NComps <= 0 {
		opts.NComps = pca.DefaultComps
	}
	if opts.Embed == models.PCAKey {
		opts.Embed = ""
	}

	pcrBefore, err := pcr(before, covariate, "", opts.NComps)
	if err != nil {
		return 0, fmt.Errorf("before integration: %w", err)
	}
	pcrAfter, err := pcr(after, covariate, opts.Embed, opts.NComps)
	if err != nil {
		return 0, fmt.Errorf("after integration: %w", err)
	}

	opts.Logger.Debug().
		Float64("before", pcrBefore).
		Float64("after", pcrAfter).
		Str("covariate", covariate).
		Msg("PC regression")

	if !opts.Scale {
		return pcrAfter - pcrBefore, nil
	}
	if pcrBefore == 0 {
		return 0, nil
	}
	score := (pcrBefore - pcrAfter) / pcrBefore
	if score < 0 {
		opts.Logger.Warn().Float64("score", score).Msg("Variance contribution increased after integration, clamping to 0")
	}
	return clamp01(score), nil
}

// pcr picks the projection of one dataset: PCA of a named embedding, the
// precomputed X_pca, or a fresh PCA of X.
func pcr(ds *models.Dataset, covariate, embed string, nComps int) (float64, error) {
	col, err := ds.Column(covariate)
	if err != nil {
		return 0, err
	}

	if embed != "" {
		emb, err := ds.Embedding(embed)
		if err != nil {
			return 0, err
		}
		res, err := pca.Compute(emb, nComps)
		if err != nil {
			return 0, err
		}
		return PCRegression(res.Scores, col, res.Variances)
	}

	if ds.HasEmbedding(models.PCAKey) {
		emb, _ := ds.Embedding(models.PCAKey)
		return PCRegression(emb, col, pca.Variances(emb))
	}

	res, err := pca.ForDataset(ds, nComps)
	if err != nil {
		return 0, err
	}
	return PCRegression(res.Scores, col, res.Variances)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

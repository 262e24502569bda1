package metrics

import (
	"context"
	"fmt"

	"github.com/gilchrisn/scib-benchmark/pkg/agreement"
	"github.com/gilchrisn/scib-benchmark/pkg/clustering"
	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// DefaultIsolatedN is the batch count at or below which a label is isolated
const DefaultIsolatedN = 4

// IsolatedOptions configures isolated-label scoring
type IsolatedOptions struct {
	Cluster bool   // true: best cluster F1 over a resolution scan; false: silhouette
	N       int    // labels in at most N batches are isolated; 0 = DefaultIsolatedN, < 0 = fewest batches of any label
	Embed   string // empty = X_pca
	Verbose bool

	K           int
	Seed        int64
	Partitioner clustering.Partitioner
	Logger      zerolog.Logger
}

// LabelScore is the score of one isolated label
type LabelScore struct {
	Label   string  `json:"label" yaml:"label"`
	Batches int     `json:"batches" yaml:"batches"`
	Score   float64 `json:"score" yaml:"score"`
}

// IsolatedLabelNames returns the labels present in at most n batches, sorted,
// with their batch counts. n == 0 means DefaultIsolatedN; n < 0 uses the
// smallest batch count of any label.
func IsolatedLabelNames(ds *models.Dataset, labelKey, batchKey string, n int) ([]string, map[string]int, error) {
	labels, err := ds.Categorical(labelKey)
	if err != nil {
		return nil, nil, err
	}
	batches, err := ds.Categorical(batchKey)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]map[string]struct{})
	for i, l := range labels.Values {
		if seen[l] == nil {
			seen[l] = make(map[string]struct{})
		}
		seen[l][batches.Values[i]] = struct{}{}
	}
	counts := make(map[string]int, len(seen))
	for l, bs := range seen {
		counts[l] = len(bs)
	}

	if n == 0 {
		n = DefaultIsolatedN
	}
	if n < 0 {
		n = -1
		for _, c := range counts {
			if n < 0 || c < n {
				n = c
			}
		}
	}

	var isolated []string
	for _, l := range labels.Categories() {
		if counts[l] <= n {
			isolated = append(isolated, l)
		}
	}
	return isolated, counts, nil
}

// IsolatedLabelScores scores every isolated label. Cluster mode returns the
// best F1 of any cluster against the label over a resolution scan; silhouette
// mode returns the scaled silhouette of the label's cells against all other
// cells. Labels covering every cell cannot be separated and are skipped.
func IsolatedLabelScores(ctx context.Context, ds *models.Dataset, labelKey, batchKey string, opts IsolatedOptions) ([]LabelScore, error) {
	isolated, counts, err := IsolatedLabelNames(ds, labelKey, batchKey, opts.N)
	if err != nil {
		return nil, err
	}
	col, _ := ds.Categorical(labelKey)

	var rows [][]float64
	if !opts.Cluster {
		if rows, err = embeddingRows(ds, opts.Embed); err != nil {
			return nil, err
		}
	}

	var out []LabelScore
	for _, label := range isolated {
		var score float64
		if opts.Cluster {
			score, err = isolatedF1(ctx, ds, labelKey, label, opts)
		} else {
			var ok bool
			score, ok = isolatedSilhouette(rows, col.Values, label)
			if !ok {
				continue
			}
		}
		if err != nil {
			return nil, fmt.Errorf("isolated label %q: %w", label, err)
		}

		if opts.Verbose {
			opts.Logger.Info().
				Str("label", label).
				Int("batches", counts[label]).
				Float64("score", score).
				Msg("Isolated label scored")
		}
		out = append(out, LabelScore{Label: label, Batches: counts[label], Score: score})
	}
	return out, nil
}

// IsolatedLabels returns the mean isolated-label score, or 0 when no label is
// isolated.
func IsolatedLabels(ctx context.Context, ds *models.Dataset, labelKey, batchKey string, opts IsolatedOptions) (float64, error) {
	scores, err := IsolatedLabelScores(ctx, ds, labelKey, batchKey, opts)
	if err != nil {
		return 0, err
	}
	if len(scores) == 0 {
		opts.Logger.Debug().Str("label_key", labelKey).Msg("No isolated labels")
		return 0, nil
	}
	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = s.Score
	}
	return stat.Mean(values, nil), nil
}

func isolatedF1(ctx context.Context, ds *models.Dataset, labelKey, label string, opts IsolatedOptions) (float64, error) {
	scan := clustering.DefaultOptimizeOptions()
	scan.Embed = opts.Embed
	scan.K = opts.K
	scan.Seed = opts.Seed
	scan.Partitioner = opts.Partitioner
	scan.Logger = opts.Logger
	scan.ClusterKey = ""
	scan.Objective = func(clusters, reference models.Labels) (float64, error) {
		return agreement.MaxF1(clusters, reference, label)
	}

	best, _, err := clustering.OptimizeResolution(ctx, ds, labelKey, scan)
	if err != nil {
		return 0, err
	}
	return best.Score, nil
}

// isolatedSilhouette averages the label-vs-rest silhouette over the label's
// cells and maps it to [0,1].
func isolatedSilhouette(rows [][]float64, values []string, label string) (float64, bool) {
	codes := make([]int, len(values))
	inside := 0
	for i, v := range values {
		if v == label {
			codes[i] = 1
			inside++
		}
	}
	if inside == 0 || inside == len(values) {
		return 0, false
	}

	samples := silhouetteSamples(rows, codes, 2)
	sum := 0.0
	for i, c := range codes {
		if c == 1 {
			sum += samples[i]
		}
	}
	return (sum/float64(inside) + 1) / 2, true
}

package metrics

import (
	"fmt"
	"math"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GroupScore is the silhouette_batch breakdown for one cell-type group
type GroupScore struct {
	Group string  `json:"group" yaml:"group"`
	Score float64 `json:"score" yaml:"score"`
	Count int     `json:"count" yaml:"count"`
}

// Silhouette returns the mean silhouette width of all cells in the named
// embedding grouped by groupKey. Singleton groups contribute 0. With scale the
// result is mapped from [-1,1] to [0,1]. An empty embed name means X_pca.
func Silhouette(ds *models.Dataset, groupKey, embed string, scale bool) (float64, error) {
	rows, err := embeddingRows(ds, embed)
	if err != nil {
		return 0, err
	}
	col, err := ds.Categorical(groupKey)
	if err != nil {
		return 0, err
	}
	codes, cats := col.Codes()
	if len(cats) < 2 || len(cats) >= len(rows) {
		return 0, fmt.Errorf("silhouette needs 2 <= groups < cells, got %d groups for %d cells: %w",
			len(cats), len(rows), models.ErrPrecondition)
	}

	s := stat.Mean(silhouetteSamples(rows, codes, len(cats)), nil)
	if scale {
		s = (s + 1) / 2
	}
	return s, nil
}

// SilhouetteBatch scores batch mixing within each cell-type group. A group is
// scored when it spans at least 2 batches with at least 2 cells in each; the
// per-cell batch silhouette s becomes 1-|s| with scale (|s| without), the group
// score is the mean over its cells and the aggregate is the mean over groups.
func SilhouetteBatch(ds *models.Dataset, batchKey, groupKey, embed string, scale bool) (float64, []GroupScore, error) {
	rows, err := embeddingRows(ds, embed)
	if err != nil {
		return 0, nil, err
	}
	batches, err := ds.Categorical(batchKey)
	if err != nil {
		return 0, nil, err
	}
	names, groups, err := ds.Groups(groupKey)
	if err != nil {
		return 0, nil, err
	}

	var table []GroupScore
	for _, name := range names {
		idx := groups[name]

		perBatch := make(map[string]int)
		for _, i := range idx {
			perBatch[batches.Values[i]]++
		}
		if len(perBatch) < 2 {
			continue
		}
		tooSmall := false
		for _, count := range perBatch {
			if count < 2 {
				tooSmall = true
				break
			}
		}
		if tooSmall {
			continue
		}

		sub := make([][]float64, len(idx))
		values := make([]string, len(idx))
		for j, i := range idx {
			sub[j] = rows[i]
			values[j] = batches.Values[i]
		}
		codes, cats := models.NewCategorical(values).Codes()

		samples := silhouetteSamples(sub, codes, len(cats))
		for j, s := range samples {
			s = math.Abs(s)
			if scale {
				s = 1 - s
			}
			samples[j] = s
		}
		table = append(table, GroupScore{Group: name, Score: stat.Mean(samples, nil), Count: len(idx)})
	}

	if len(table) == 0 {
		return 0, nil, fmt.Errorf("no %q group spans 2 batches of %q with 2+ cells each: %w",
			groupKey, batchKey, models.ErrPrecondition)
	}

	means := make([]float64, len(table))
	for i, g := range table {
		means[i] = g.Score
	}
	return stat.Mean(means, nil), table, nil
}

func embeddingRows(ds *models.Dataset, embed string) ([][]float64, error) {
	if embed == "" {
		embed = models.PCAKey
	}
	emb, err := ds.Embedding(embed)
	if err != nil {
		return nil, err
	}
	n, _ := emb.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, emb)
	}
	return rows, nil
}

// silhouetteSamples computes the euclidean silhouette width of every point.
// labels are codes in [0, numLabels).
func silhouetteSamples(x [][]float64, labels []int, numLabels int) []float64 {
	n := len(x)
	sizes := make([]int, numLabels)
	for _, l := range labels {
		sizes[l]++
	}

	out := make([]float64, n)
	sums := make([]float64, numLabels)
	for i := 0; i < n; i++ {
		own := labels[i]
		if sizes[own] <= 1 {
			continue
		}
		for c := range sums {
			sums[c] = 0
		}
		for j := 0; j < n; j++ {
			if j != i {
				sums[labels[j]] += floats.Distance(x[i], x[j], 2)
			}
		}

		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c := 0; c < numLabels; c++ {
			if c == own || sizes[c] == 0 {
				continue
			}
			if m := sums[c] / float64(sizes[c]); m < b {
				b = m
			}
		}
		if math.IsInf(b, 1) {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			out[i] = (b - a) / m
		}
	}
	return out
}

// Package agreement compares two labelings of the same cells.
package agreement

import (
	"fmt"
	"math"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
)

// Contingency is the overlap table of two aligned labelings
type Contingency struct {
	N      int
	Counts map[[2]int]int // (row code, column code) -> cells
	Rows   []int          // cells per code of the first labeling
	Cols   []int          // cells per code of the second labeling
}

// NewContingency aligns two label assignments (which must cover exactly the
// same cells) and tabulates their overlap.
func NewContingency(a, b models.Labels) (*Contingency, error) {
	va, vb, err := models.Align(a, b)
	if err != nil {
		return nil, err
	}
	if len(va) == 0 {
		return nil, fmt.Errorf("agreement: empty labelings: %w", models.ErrPrecondition)
	}
	return tabulate(codes(va), codes(vb)), nil
}

func codes(values []string) []int {
	index := make(map[string]int)
	out := make([]int, len(values))
	for i, v := range values {
		c, ok := index[v]
		if !ok {
			c = len(index)
			index[v] = c
		}
		out[i] = c
	}
	return out
}

func tabulate(c1, c2 []int) *Contingency {
	t := &Contingency{N: len(c1), Counts: make(map[[2]int]int)}
	for i := range c1 {
		t.Counts[[2]int{c1[i], c2[i]}]++
		for len(t.Rows) <= c1[i] {
			t.Rows = append(t.Rows, 0)
		}
		for len(t.Cols) <= c2[i] {
			t.Cols = append(t.Cols, 0)
		}
		t.Rows[c1[i]]++
		t.Cols[c2[i]]++
	}
	return t
}

// MutualInformation returns I(A;B) in nats
func (t *Contingency) MutualInformation() float64 {
	n := float64(t.N)
	mi := 0.0
	for key, nij := range t.Counts {
		if nij == 0 {
			continue
		}
		ni := float64(t.Rows[key[0]])
		nj := float64(t.Cols[key[1]])
		mi += float64(nij) / n * math.Log(float64(nij)*n/(ni*nj))
	}
	return math.Max(mi, 0)
}

func entropy(counts []int, n int) float64 {
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		h -= p * math.Log(p)
	}
	return h
}

// NMI returns the normalised mutual information of two labelings using the
// arithmetic mean of their entropies. Two single-cluster labelings score 1.
func NMI(a, b models.Labels) (float64, error) {
	t, err := NewContingency(a, b)
	if err != nil {
		return 0, err
	}
	if len(t.Rows) == 1 && len(t.Cols) == 1 {
		return 1.0, nil
	}

	h1 := entropy(t.Rows, t.N)
	h2 := entropy(t.Cols, t.N)
	avgEntropy := (h1 + h2) / 2
	if avgEntropy <= 0 {
		return 1.0, nil
	}

	nmi := t.MutualInformation() / avgEntropy
	return math.Min(math.Max(nmi, 0), 1), nil
}

func comb2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}

// ARI returns the adjusted Rand index. Identical partitions score 1, as do the
// degenerate cases where both labelings are a single cluster or all singletons.
func ARI(a, b models.Labels) (float64, error) {
	t, err := NewContingency(a, b)
	if err != nil {
		return 0, err
	}
	nr, nc := len(t.Rows), len(t.Cols)
	if (nr == 1 && nc == 1) || (nr == t.N && nc == t.N) {
		return 1.0, nil
	}

	sumCells := 0.0
	for _, nij := range t.Counts {
		sumCells += comb2(nij)
	}
	sumRows := 0.0
	for _, c := range t.Rows {
		sumRows += comb2(c)
	}
	sumCols := 0.0
	for _, c := range t.Cols {
		sumCols += comb2(c)
	}

	expected := sumRows * sumCols / comb2(t.N)
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		return 1.0, nil
	}
	return (sumCells - expected) / (maxIndex - expected), nil
}

// MaxF1 treats cells carrying label in reference as positives and returns the
// best F1 over every cluster of clusters taken as a predicted positive set.
func MaxF1(clusters, reference models.Labels, label string) (float64, error) {
	vc, vr, err := models.Align(clusters, reference)
	if err != nil {
		return 0, err
	}

	positives := 0
	predicted := make(map[string]int)
	hits := make(map[string]int)
	for i := range vc {
		predicted[vc[i]]++
		if vr[i] == label {
			positives++
			hits[vc[i]]++
		}
	}
	if positives == 0 {
		return 0, fmt.Errorf("agreement: label %q not present: %w", label, models.ErrPrecondition)
	}

	best := 0.0
	for cluster, tp := range hits {
		precision := float64(tp) / float64(predicted[cluster])
		recall := float64(tp) / float64(positives)
		if f1 := 2 * precision * recall / (precision + recall); f1 > best {
			best = f1
		}
	}
	return best, nil
}

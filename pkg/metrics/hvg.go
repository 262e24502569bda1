package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultHVG is the number of highly variable genes compared per batch
const DefaultHVG = 500

// madScale makes the median absolute deviation consistent with the standard
// deviation of a normal distribution.
const madScale = 0.6744897501960817

// HighlyVariableGenes ranks the genes (columns of x) by dispersion normalised
// within 20 mean-expression bins and returns the nTop best, in rank order.
func HighlyVariableGenes(x mat.Matrix, genes []string, nTop int) ([]string, error) {
	n, d := x.Dims()
	if d != len(genes) {
		return nil, fmt.Errorf("%d gene names for %d columns: %w", len(genes), d, models.ErrShapeMismatch)
	}
	if n < 2 {
		return nil, fmt.Errorf("need 2+ cells for gene variances: %w", models.ErrPrecondition)
	}
	if nTop > d {
		nTop = d
	}

	means := make([]float64, d)
	disp := make([]float64, d)
	for j := 0; j < d; j++ {
		m, v := stat.MeanVariance(mat.Col(nil, j, x), nil)
		if m == 0 {
			m = 1e-12
		}
		means[j] = m
		disp[j] = v / m
	}

	sortedMeans := append([]float64(nil), means...)
	sort.Float64s(sortedMeans)
	var edges []float64
	for p := 10; p <= 100; p += 5 {
		edges = append(edges, stat.Quantile(float64(p)/100, stat.LinearInterp, sortedMeans, nil))
	}
	bin := make([]int, d)
	members := make(map[int][]int)
	for j, m := range means {
		b := sort.Search(len(edges), func(k int) bool { return edges[k] >= m })
		bin[j] = b
		members[b] = append(members[b], j)
	}

	norm := make([]float64, d)
	for _, idx := range members {
		values := make([]float64, len(idx))
		for k, j := range idx {
			values[k] = disp[j]
		}
		sort.Float64s(values)
		median := stat.Quantile(0.5, stat.LinearInterp, values, nil)
		dev := make([]float64, len(values))
		for k, v := range values {
			dev[k] = math.Abs(v - median)
		}
		sort.Float64s(dev)
		mad := stat.Quantile(0.5, stat.LinearInterp, dev, nil) / madScale
		for _, j := range idx {
			if mad > 0 {
				norm[j] = (disp[j] - median) / mad
			}
		}
	}

	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return norm[order[a]] > norm[order[b]] })

	out := make([]string, nTop)
	for i := 0; i < nTop; i++ {
		out[i] = genes[order[i]]
	}
	return out, nil
}

// HVGOverlap compares highly variable gene selection before and after
// integration. For each batch it keeps the genes of the integrated dataset
// expressed in at least one cell on both sides, selects n = min(nHVG, genes/2)
// genes on each side and scores the overlap fraction; the result is the mean
// over batches.
func HVGOverlap(before, after *models.Dataset, batchKey string, nHVG int) (float64, error) {
	if nHVG <= 0 {
		nHVG = DefaultHVG
	}
	preX, err := before.Expression()
	if err != nil {
		return 0, err
	}
	postX, err := after.Expression()
	if err != nil {
		return 0, err
	}

	preIndex := before.GeneIndex()
	var shared []string
	for _, g := range after.Genes {
		if _, ok := preIndex[g]; ok {
			shared = append(shared, g)
		}
	}
	postIndex := after.GeneIndex()

	names, preGroups, err := before.Groups(batchKey)
	if err != nil {
		return 0, err
	}
	_, postGroups, err := after.Groups(batchKey)
	if err != nil {
		return 0, err
	}

	var overlaps []float64
	for _, batch := range names {
		preRows := preGroups[batch]
		postRows, ok := postGroups[batch]
		if !ok {
			return 0, fmt.Errorf("batch %q missing from integrated dataset: %w", batch, models.ErrShapeMismatch)
		}

		var genes []string
		for _, g := range shared {
			if expressed(preX, preRows, preIndex[g]) && expressed(postX, postRows, postIndex[g]) {
				genes = append(genes, g)
			}
		}
		nTmp := nHVG
		if half := len(genes) / 2; half < nTmp {
			nTmp = half
		}
		if nTmp < 1 || len(preRows) < 2 || len(postRows) < 2 {
			continue
		}

		preHVG, err := HighlyVariableGenes(columnsOf(preX, preRows, preIndex, genes), genes, nTmp)
		if err != nil {
			return 0, fmt.Errorf("batch %q before: %w", batch, err)
		}
		postHVG, err := HighlyVariableGenes(columnsOf(postX, postRows, postIndex, genes), genes, nTmp)
		if err != nil {
			return 0, fmt.Errorf("batch %q after: %w", batch, err)
		}

		inPre := make(map[string]bool, len(preHVG))
		for _, g := range preHVG {
			inPre[g] = true
		}
		common := 0
		for _, g := range postHVG {
			if inPre[g] {
				common++
			}
		}
		overlaps = append(overlaps, float64(common)/float64(nTmp))
	}

	if len(overlaps) == 0 {
		return 0, fmt.Errorf("no batch has 2+ cells and 2+ expressed shared genes: %w", models.ErrPrecondition)
	}
	return stat.Mean(overlaps, nil), nil
}

func expressed(x *mat.Dense, rows []int, col int) bool {
	for _, r := range rows {
		if x.At(r, col) > 0 {
			return true
		}
	}
	return false
}

func columnsOf(x *mat.Dense, rows []int, index map[string]int, genes []string) *mat.Dense {
	out := mat.NewDense(len(rows), len(genes), nil)
	for i, r := range rows {
		for j, g := range genes {
			out.Set(i, j, x.At(r, index[g]))
		}
	}
	return out
}

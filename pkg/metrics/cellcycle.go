package metrics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/pca"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	scoreBins = 25
	scoreSeed = 0
)

// Cell-cycle score names
const (
	PhaseS   = "S_score"
	PhaseG2M = "G2M_score"
)

// CellCycle holds per-cell phase scores
type CellCycle struct {
	S     []float64
	G2M   []float64
	Phase []string // G1, S or G2M
}

// Score returns the scores of the named phase
func (c *CellCycle) Score(phase string) []float64 {
	if phase == PhaseS {
		return c.S
	}
	return c.G2M
}

// CellCycleRow is one line of the cell-cycle conservation table
type CellCycleRow struct {
	Batch  string  `json:"batch" yaml:"batch"`
	Phase  string  `json:"phase" yaml:"phase"`
	Before float64 `json:"before" yaml:"before"`
	After  float64 `json:"after" yaml:"after"`
	Score  float64 `json:"score" yaml:"score"`
}

// CellCycleOptions configures CellCycleScores
type CellCycleOptions struct {
	Organism string // human or mouse
	Embed    string // embedding of the integrated dataset; empty = its expression matrix
	NComps   int    // 0 = 50
	Logger   zerolog.Logger
}

// ScoreGenes scores every cell by the mean expression of genes minus the mean
// of control genes drawn from the same expression bins (25 bins by average
// expression, ctrlSize random genes per bin, fixed seed).
func ScoreGenes(ds *models.Dataset, genes []string, ctrlSize int) ([]float64, error) {
	x, err := ds.Expression()
	if err != nil {
		return nil, err
	}
	n, d := x.Dims()

	index := ds.GeneIndex()
	inList := make(map[int]bool)
	var listCols []int
	for _, g := range genes {
		if c, ok := index[g]; ok && !inList[c] {
			inList[c] = true
			listCols = append(listCols, c)
		}
	}
	if len(listCols) == 0 {
		return nil, fmt.Errorf("none of %d genes present: %w", len(genes), models.ErrMissingField)
	}

	avg := make([]float64, d)
	for j := 0; j < d; j++ {
		avg[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}

	// rank with ties at their minimum position, as bins of nItems genes
	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return avg[order[a]] < avg[order[b]] })
	rank := make([]int, d)
	for pos, j := range order {
		if pos > 0 && avg[j] == avg[order[pos-1]] {
			rank[j] = rank[order[pos-1]]
		} else {
			rank[j] = pos + 1
		}
	}
	nItems := int(math.Round(float64(d) / float64(scoreBins-1)))
	if nItems < 1 {
		nItems = 1
	}
	cut := make([]int, d)
	binGenes := make(map[int][]int)
	for j := 0; j < d; j++ {
		cut[j] = rank[j] / nItems
		binGenes[cut[j]] = append(binGenes[cut[j]], j)
	}

	listBins := make(map[int]bool)
	for _, c := range listCols {
		listBins[cut[c]] = true
	}
	bins := make([]int, 0, len(listBins))
	for b := range listBins {
		bins = append(bins, b)
	}
	sort.Ints(bins)

	rng := rand.New(rand.NewPCG(scoreSeed, scoreSeed))
	control := make(map[int]bool)
	for _, b := range bins {
		members := append([]int(nil), binGenes[b]...)
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		if len(members) > ctrlSize {
			members = members[:ctrlSize]
		}
		for _, j := range members {
			if !inList[j] {
				control[j] = true
			}
		}
	}
	controlCols := make([]int, 0, len(control))
	for j := range control {
		controlCols = append(controlCols, j)
	}
	sort.Ints(controlCols)

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		listMean := 0.0
		for _, c := range listCols {
			listMean += x.At(i, c)
		}
		listMean /= float64(len(listCols))

		ctrlMean := 0.0
		if len(controlCols) > 0 {
			for _, c := range controlCols {
				ctrlMean += x.At(i, c)
			}
			ctrlMean /= float64(len(controlCols))
		}
		scores[i] = listMean - ctrlMean
	}
	return scores, nil
}

// ScoreCellCycle computes S and G2M phase scores from organism marker genes
// and assigns each cell a phase (G1 when both scores are negative).
func ScoreCellCycle(ds *models.Dataset, organism string) (*CellCycle, error) {
	sGenes, g2mGenes, err := CellCycleGenes(organism)
	if err != nil {
		return nil, err
	}
	ctrlSize := len(sGenes)
	if len(g2mGenes) < ctrlSize {
		ctrlSize = len(g2mGenes)
	}

	s, err := ScoreGenes(ds, sGenes, ctrlSize)
	if err != nil {
		return nil, fmt.Errorf("S phase: %w", err)
	}
	g2m, err := ScoreGenes(ds, g2mGenes, ctrlSize)
	if err != nil {
		return nil, fmt.Errorf("G2M phase: %w", err)
	}

	phase := make([]string, len(s))
	for i := range phase {
		switch {
		case s[i] < 0 && g2m[i] < 0:
			phase[i] = "G1"
		case s[i] > g2m[i]:
			phase[i] = "S"
		default:
			phase[i] = "G2M"
		}
	}
	return &CellCycle{S: s, G2M: g2m, Phase: phase}, nil
}

// CellCycleScores measures, per batch and phase, how much of the variance
// explained by the phase score survives integration:
// 1 - |after-before|/before, clamped to [0,1] (1 when both are 0).
// Phase scores are always computed on the unintegrated dataset.
func CellCycleScores(before, after *models.Dataset, batchKey string, opts CellCycleOptions) ([]CellCycleRow, error) {
	if opts.NComps <= 0 {
		opts.NComps = pca.DefaultComps
	}
	cc, err := ScoreCellCycle(before, opts.Organism)
	if err != nil {
		return nil, err
	}

	afterRep := after.X
	if opts.Embed != "" {
		if afterRep, err = after.Embedding(opts.Embed); err != nil {
			return nil, err
		}
	} else if _, err := after.Expression(); err != nil {
		return nil, err
	}

	names, groups, err := before.Groups(batchKey)
	if err != nil {
		return nil, err
	}
	afterRow := make(map[string]int, after.NumCells())
	for i, c := range after.Cells {
		afterRow[c] = i
	}

	var rows []CellCycleRow
	for _, batch := range names {
		idx := groups[batch]
		if len(idx) < 2 {
			opts.Logger.Warn().Str("batch", batch).Msg("Skipping batch with fewer than 2 cells")
			continue
		}
		mapped := make([]int, len(idx))
		for j, i := range idx {
			r, ok := afterRow[before.Cells[i]]
			if !ok {
				return nil, fmt.Errorf("cell %q missing from integrated dataset: %w", before.Cells[i], models.ErrShapeMismatch)
			}
			mapped[j] = r
		}

		pre, err := pca.Compute(rowsOf(before.X, idx), opts.NComps)
		if err != nil {
			return nil, fmt.Errorf("batch %q before: %w", batch, err)
		}
		post, err := pca.Compute(rowsOf(afterRep, mapped), opts.NComps)
		if err != nil {
			return nil, fmt.Errorf("batch %q after: %w", batch, err)
		}

		for _, phase := range []string{PhaseS, PhaseG2M} {
			values := cc.Score(phase)
			sub := make([]float64, len(idx))
			for j, i := range idx {
				sub[j] = values[i]
			}
			covariate := models.NewNumeric(sub)

			b, err := PCRegression(pre.Scores, covariate, pre.Variances)
			if err != nil {
				return nil, err
			}
			a, err := PCRegression(post.Scores, covariate, post.Variances)
			if err != nil {
				return nil, err
			}

			rows = append(rows, CellCycleRow{
				Batch:  batch,
				Phase:  phase,
				Before: b,
				After:  a,
				Score:  conservation(b, a),
			})
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no batch of %q has 2+ cells: %w", batchKey, models.ErrPrecondition)
	}
	return rows, nil
}

// CellCycleScore reduces CellCycleScores with agg (nil = mean)
func CellCycleScore(before, after *models.Dataset, batchKey string, opts CellCycleOptions, agg func([]float64) float64) (float64, error) {
	rows, err := CellCycleScores(before, after, batchKey, opts)
	if err != nil {
		return 0, err
	}
	scores := make([]float64, len(rows))
	for i, r := range rows {
		scores[i] = r.Score
	}
	if agg == nil {
		return stat.Mean(scores, nil), nil
	}
	return agg(scores), nil
}

func conservation(before, after float64) float64 {
	if before == 0 {
		if after == 0 {
			return 1
		}
		return 0
	}
	return clamp01(1 - math.Abs(after-before)/before)
}

func rowsOf(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}

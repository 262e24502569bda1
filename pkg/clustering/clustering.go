// Package clustering partitions cells on their neighbour graph and searches
// the resolution that best reproduces a reference labeling.
package clustering

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/gilchrisn/scib-benchmark/pkg/agreement"
	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/neighbors"
	"github.com/gilchrisn/scib-benchmark/pkg/utils"
	"github.com/rs/zerolog"
)

// ===== CONFIGURATION STRUCTS =====

// Options configures a single clustering run
type Options struct {
	Embed       string      // embedding name; empty means X_pca
	K           int         // neighbours, 0 = neighbors.DefaultK
	Resolution  float64     // used by Cluster; 0 = 1.0
	Seed        int64       // randomness of the partitioner
	Partitioner Partitioner // nil = LouvainPartitioner
	Logger      zerolog.Logger
}

// Objective scores a clustering against a reference labeling; higher is better
type Objective func(clusters, reference models.Labels) (float64, error)

// OptimizeOptions configures a resolution scan
type OptimizeOptions struct {
	Options

	Min, Max, Step float64 // scan range, defaults 0.1, 2.0, 0.1
	Refine         bool    // rescan [best-0.1, best+0.1] with step 0.01
	Objective      Objective
	ClusterKey     string             // column receiving the best clustering on the returned copy
	Force          bool               // overwrite ClusterKey if it exists
	Trace          *utils.TraceWriter // optional JSONL trace
}

// DefaultOptimizeOptions returns the standard 0.1..2.0 scan scored by NMI
func DefaultOptimizeOptions() OptimizeOptions {
	return OptimizeOptions{
		Options:    Options{Logger: zerolog.Nop()},
		Min:        0.1,
		Max:        2.0,
		Step:       0.1,
		ClusterKey: "louvain",
		Objective:  agreement.NMI,
	}
}

// ===== RESULT STRUCTS =====

// Result is the best clustering found by a resolution scan
type Result struct {
	Labels      models.Labels   `json:"-"`
	Resolution  float64         `json:"resolution"`
	Score       float64         `json:"score"`
	NumClusters int             `json:"num_clusters"`
	Dataset     *models.Dataset `json:"-"` // working copy carrying ClusterKey, nil when ClusterKey is empty
}

// TracePoint is one evaluated resolution
type TracePoint struct {
	Resolution  float64 `json:"resolution"`
	Score       float64 `json:"score"`
	NumClusters int     `json:"num_clusters"`
}

// Trace lists every evaluated resolution in scan order
type Trace []TracePoint

// Best returns the point of maximum score, the smallest resolution on ties
func (t Trace) Best() (TracePoint, bool) {
	if len(t) == 0 {
		return TracePoint{}, false
	}
	best := t[0]
	for _, p := range t[1:] {
		if better(p.Score, p.Resolution, best.Score, best.Resolution) {
			best = p
		}
	}
	return best, true
}

func better(score, res, bestScore, bestRes float64) bool {
	return score > bestScore || (score == bestScore && res < bestRes)
}

// ===== MAIN CLUSTERING FUNCTIONS =====

// Cluster partitions the cells of ds at opts.Resolution and returns one label
// per cell ("0" = largest cluster).
func Cluster(ctx context.Context, ds *models.Dataset, opts Options) (models.Labels, error) {
	g, err := neighbors.ForDataset(ds, opts.Embed, opts.K)
	if err != nil {
		return nil, err
	}
	resolution := opts.Resolution
	if resolution == 0 {
		resolution = 1.0
	}
	labels, _, err := partition(ctx, ds, g, resolution, opts)
	return labels, err
}

func partition(ctx context.Context, ds *models.Dataset, g *neighbors.Graph, resolution float64, opts Options) (models.Labels, int, error) {
	p := opts.Partitioner
	if p == nil {
		p = &LouvainPartitioner{Logger: opts.Logger}
	}
	membership, err := p.Partition(ctx, g, resolution, opts.Seed)
	if err != nil {
		return nil, 0, fmt.Errorf("%s partition at resolution %.2f: %w", p.Name(), resolution, err)
	}

	labels := make(models.Labels, len(membership))
	numClusters := 0
	for i, c := range membership {
		labels[ds.Cells[i]] = strconv.Itoa(c)
		if c+1 > numClusters {
			numClusters = c + 1
		}
	}
	return labels, numClusters, nil
}

// OptimizeResolution clusters ds over a resolution grid and keeps the
// clustering that maximises the objective against the labels in labelKey.
// Equal scores go to the smallest resolution, including refinement points
// below the coarse best.
func OptimizeResolution(ctx context.Context, ds *models.Dataset, labelKey string, opts OptimizeOptions) (*Result, Trace, error) {
	reference, err := ds.Labels(labelKey)
	if err != nil {
		return nil, nil, err
	}
	if opts.ClusterKey != "" && !opts.Force {
		if _, exists := ds.Obs[opts.ClusterKey]; exists {
			return nil, nil, fmt.Errorf("column %q already exists, set Force to overwrite: %w", opts.ClusterKey, models.ErrPrecondition)
		}
	}
	if opts.Objective == nil {
		opts.Objective = agreement.NMI
	}
	if opts.Min <= 0 {
		opts.Min = 0.1
	}
	if opts.Max <= 0 {
		opts.Max = 2.0
	}
	if opts.Step <= 0 {
		opts.Step = 0.1
	}
	if opts.Max < opts.Min {
		return nil, nil, fmt.Errorf("resolution range [%g, %g] is empty: %w", opts.Min, opts.Max, models.ErrPrecondition)
	}

	g, err := neighbors.ForDataset(ds, opts.Embed, opts.K)
	if err != nil {
		return nil, nil, err
	}

	logger := opts.Logger
	var best *Result
	var trace Trace

	scan := func(resolutions []float64) error {
		for _, res := range resolutions {
			if err := ctx.Err(); err != nil {
				return err
			}
			labels, numClusters, err := partition(ctx, ds, g, res, opts.Options)
			if err != nil {
				return err
			}
			score, err := opts.Objective(labels, reference)
			if err != nil {
				return fmt.Errorf("objective at resolution %.2f: %w", res, err)
			}

			trace = append(trace, TracePoint{Resolution: res, Score: score, NumClusters: numClusters})
			if err := opts.Trace.LogResolution(res, score, numClusters); err != nil {
				logger.Warn().Err(err).Msg("Failed to write resolution trace")
			}
			logger.Debug().
				Float64("resolution", res).
				Float64("score", score).
				Int("clusters", numClusters).
				Msg("Resolution evaluated")

			if best == nil || better(score, res, best.Score, best.Resolution) {
				best = &Result{Labels: labels, Resolution: res, Score: score, NumClusters: numClusters}
			}
		}
		return nil
	}

	if err := scan(Grid(opts.Min, opts.Max, opts.Step)); err != nil {
		return nil, trace, err
	}
	if opts.Refine {
		lo := math.Max(best.Resolution-0.1, 0.01)
		hi := math.Min(best.Resolution+0.1, opts.Max)
		var fine []float64
		for _, r := range Grid(lo, hi, 0.01) {
			if !containsResolution(trace, r) {
				fine = append(fine, r)
			}
		}
		if err := scan(fine); err != nil {
			return nil, trace, err
		}
	}

	logger.Info().
		Float64("resolution", best.Resolution).
		Float64("score", best.Score).
		Int("clusters", best.NumClusters).
		Msg("Best resolution selected")

	if opts.ClusterKey != "" {
		best.Dataset = ds.Copy()
		if err := best.Dataset.SetLabels(opts.ClusterKey, best.Labels); err != nil {
			return nil, trace, err
		}
	}
	return best, trace, nil
}

// Grid returns lo, lo+step, ... up to hi inclusive, rounded to 1e-6 so
// accumulated float error does not drop the last point.
func Grid(lo, hi, step float64) []float64 {
	if step <= 0 || hi < lo {
		return nil
	}
	n := int(math.Floor((hi-lo)/step + 1e-9))
	out := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, math.Round((lo+float64(i)*step)*1e6)/1e6)
	}
	return out
}

func containsResolution(trace Trace, r float64) bool {
	for _, p := range trace {
		if math.Abs(p.Resolution-r) < 1e-9 {
			return true
		}
	}
	return false
}

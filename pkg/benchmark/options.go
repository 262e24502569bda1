// Package benchmark runs integration methods over a dataset and scores every
// result with the metrics panel.
package benchmark

import (
	"fmt"

	"github.com/gilchrisn/scib-benchmark/pkg/clustering"
	"github.com/gilchrisn/scib-benchmark/pkg/config"
	"github.com/rs/zerolog"
)

// Options configures the metrics panel and the runner
type Options struct {
	BatchKey string
	LabelKey string
	Embed    string // embedding of the integrated dataset; empty = X_emb if present, else X_pca

	Organism string // cell-cycle marker set; empty skips cell-cycle conservation
	NComps   int
	HVG      int

	K              int
	Seed           int64
	Min, Max, Step float64
	Refine         bool
	Partitioner    clustering.Partitioner

	IsolatedN int

	Workers int
	Logger  zerolog.Logger
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions(batchKey, labelKey string) Options {
	return Options{
		BatchKey:  batchKey,
		LabelKey:  labelKey,
		Organism:  "mouse",
		NComps:    50,
		HVG:       500,
		K:         15,
		Min:       0.1,
		Max:       2.0,
		Step:      0.1,
		IsolatedN: 4,
		Workers:   2,
		Logger:    zerolog.Nop(),
	}
}

// OptionsFromConfig reads the panel settings from cfg
func OptionsFromConfig(cfg *config.Config, batchKey, labelKey string, logger zerolog.Logger) (Options, error) {
	partitioner, err := clustering.NewPartitioner(cfg.ClusteringMethod(), logger)
	if err != nil {
		return Options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if lp, ok := partitioner.(*clustering.LouvainPartitioner); ok {
		lp.MaxLevels = cfg.LouvainMaxLevels()
		lp.MaxIterations = cfg.LouvainMaxIterations()
		lp.MinGain = cfg.LouvainMinGain()
	}
	return Options{
		BatchKey:    batchKey,
		LabelKey:    labelKey,
		Organism:    cfg.Organism(),
		NComps:      cfg.PCAComps(),
		HVG:         cfg.HVGTop(),
		K:           cfg.NeighborsK(),
		Seed:        cfg.ClusteringSeed(),
		Min:         cfg.ResolutionMin(),
		Max:         cfg.ResolutionMax(),
		Step:        cfg.ResolutionStep(),
		Refine:      cfg.Refine(),
		Partitioner: partitioner,
		IsolatedN:   cfg.IsolatedN(),
		Workers:     cfg.Workers(),
		Logger:      logger,
	}, nil
}

func (o Options) optimize() clustering.OptimizeOptions {
	opts := clustering.DefaultOptimizeOptions()
	opts.K = o.K
	opts.Seed = o.Seed
	opts.Partitioner = o.Partitioner
	opts.Logger = o.Logger
	if o.Step > 0 {
		opts.Min, opts.Max, opts.Step = o.Min, o.Max, o.Step
	}
	opts.Refine = o.Refine
	return opts
}

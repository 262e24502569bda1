package benchmark

import (
	"context"
	"fmt"
	"time"

	"github.com/gilchrisn/scib-benchmark/pkg/integration"
	"github.com/gilchrisn/scib-benchmark/pkg/metrics"
	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Runner integrates a dataset with several methods and scores each result
type Runner struct {
	Registry *integration.Registry
	Options  Options
}

func NewRunner(registry *integration.Registry, opts Options) *Runner {
	return &Runner{Registry: registry, Options: opts}
}

// Run integrates ds with every named method, at most Options.Workers at a
// time. Adapter and metric failures are recorded per method.
func (r *Runner) Run(ctx context.Context, ds *models.Dataset, methods []string) (*Report, error) {
	adapters := make([]integration.Adapter, len(methods))
	for i, name := range methods {
		a, ok := r.Registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown integration method: %s (available: %v)", name, r.Registry.List())
		}
		adapters[i] = a
	}

	hvg, err := r.selectGenes(ds)
	if err != nil {
		return nil, err
	}

	report := NewReport(r.Options)
	report.Results = make([]MethodResult, len(adapters))

	workers := r.Options.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, a := range adapters {
		g.Go(func() error {
			res, err := r.runOne(gctx, a, ds, hvg)
			if err != nil {
				return err
			}
			report.Results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Finished = time.Now()
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, a integration.Adapter, ds *models.Dataset, hvg []string) (*MethodResult, error) {
	log := r.Options.Logger.With().Str("method", a.Name()).Logger()
	res := &MethodResult{Method: a.Name()}
	start := time.Now()

	log.Info().Int("cells", ds.NumCells()).Int("genes", len(hvg)).Msg("Integrating")
	integrated, err := integration.Run(ctx, a, ds, r.Options.BatchKey, hvg)
	res.IntegrationTime = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().Err(err).Msg("Integration failed")
		res.Error = err.Error()
		return res, nil
	}

	opts := r.Options
	opts.Logger = log
	scores, err := Evaluate(ctx, ds, integrated, opts)
	res.TotalTime = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().Err(err).Msg("Scoring failed")
		res.Error = err.Error()
		return res, nil
	}
	res.Scores = scores

	log.Info().
		Dur("elapsed", res.TotalTime).
		Int("metrics", len(scores.Metrics)).
		Int("failed", len(scores.Errors)).
		Msg("Method scored")
	return res, nil
}

func (r *Runner) selectGenes(ds *models.Dataset) ([]string, error) {
	if err := integration.CheckSanity(ds, r.Options.BatchKey, nil); err != nil {
		return nil, err
	}
	if r.Options.HVG <= 0 || r.Options.HVG >= ds.NumGenes() {
		return nil, nil
	}
	return metrics.HighlyVariableGenes(ds.X, ds.Genes, r.Options.HVG)
}

func NewRunID() string {
	return uuid.New().String()
}

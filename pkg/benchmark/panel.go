package benchmark

import (
	"context"
	"fmt"

	"github.com/gilchrisn/scib-benchmark/pkg/clustering"
	"github.com/gilchrisn/scib-benchmark/pkg/metrics"
	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/pca"
	"gonum.org/v1/gonum/mat"
)

// Metric names used in reports
const (
	MetricNMI                = "NMI_cluster/label"
	MetricARI                = "ARI_cluster/label"
	MetricASWLabel           = "ASW_label"
	MetricASWBatch           = "ASW_label/batch"
	MetricPCR                = "PCR_batch"
	MetricCellCycle          = "cell_cycle_conservation"
	MetricHVG                = "hvg_overlap"
	MetricIsolatedF1         = "isolated_label_F1"
	MetricIsolatedSilhouette = "isolated_label_silhouette"
)

// Scores holds the panel of one integrated dataset. A metric that failed is
// absent from Metrics and present in Errors.
type Scores struct {
	Embed      string             `json:"embed" yaml:"embed"`
	Resolution float64            `json:"resolution" yaml:"resolution"`
	Metrics    map[string]float64 `json:"metrics" yaml:"metrics"`
	Errors     map[string]string  `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func (s *Scores) record(name string, value float64, err error) {
	if err != nil {
		if s.Errors == nil {
			s.Errors = make(map[string]string)
		}
		s.Errors[name] = err.Error()
		return
	}
	s.Metrics[name] = value
}

// Evaluate scores an integrated dataset against the unintegrated one.
// Neither input is modified; PCA is computed on working copies when X_pca is
// absent. Individual metric failures are collected in Scores.Errors; only a
// cancelled context or unusable input aborts the panel.
func Evaluate(ctx context.Context, before, after *models.Dataset, opts Options) (*Scores, error) {
	if opts.NComps <= 0 {
		opts.NComps = pca.DefaultComps
	}
	before, err := withPCA(before, opts.NComps)
	if err != nil {
		return nil, fmt.Errorf("unintegrated dataset: %w", err)
	}
	after, err = withPCA(after, opts.NComps)
	if err != nil {
		return nil, fmt.Errorf("integrated dataset: %w", err)
	}

	embed := opts.Embed
	if embed == "" {
		embed = models.PCAKey
		if after.HasEmbedding(models.EmbeddingKey) {
			embed = models.EmbeddingKey
		}
	}
	if !after.HasEmbedding(embed) {
		return nil, fmt.Errorf("integrated dataset has no %q embedding: %w", embed, models.ErrMissingField)
	}
	// embeddings other than X_pca are fed to the expression-based metrics
	featureEmbed := ""
	if embed != models.PCAKey {
		featureEmbed = embed
	}

	log := opts.Logger.With().Str("embed", embed).Logger()
	scores := &Scores{Embed: embed, Metrics: make(map[string]float64)}

	// clustering-based agreement
	scan := opts.optimize()
	scan.Embed = embed
	scan.ClusterKey = "scib_cluster"
	scan.Force = true
	best, _, err := clustering.OptimizeResolution(ctx, after, opts.LabelKey, scan)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		scores.record(MetricNMI, 0, err)
		scores.record(MetricARI, 0, err)
	} else {
		scores.Resolution = best.Resolution
		scores.record(MetricNMI, best.Score, nil)
		a, err := metrics.ARIKeys(best.Dataset, scan.ClusterKey, opts.LabelKey)
		scores.record(MetricARI, a, err)
	}

	asw, err := metrics.Silhouette(after, opts.LabelKey, embed, true)
	scores.record(MetricASWLabel, asw, err)

	aswBatch, _, err := metrics.SilhouetteBatch(after, opts.BatchKey, opts.LabelKey, embed, true)
	scores.record(MetricASWBatch, aswBatch, err)

	pcr, err := metrics.PCRComparison(before, after, opts.BatchKey, metrics.PCROptions{
		Embed:  featureEmbed,
		NComps: opts.NComps,
		Scale:  true,
		Logger: log,
	})
	scores.record(MetricPCR, pcr, err)

	if opts.Organism != "" {
		cc, err := metrics.CellCycleScore(before, after, opts.BatchKey, metrics.CellCycleOptions{
			Organism: opts.Organism,
			Embed:    featureEmbed,
			NComps:   opts.NComps,
			Logger:   log,
		}, nil)
		scores.record(MetricCellCycle, cc, err)
	}

	if featureEmbed == "" {
		hvg, err := metrics.HVGOverlap(before, after, opts.BatchKey, opts.HVG)
		scores.record(MetricHVG, hvg, err)
	}

	isolated := metrics.IsolatedOptions{
		N:           opts.IsolatedN,
		Embed:       embed,
		K:           opts.K,
		Seed:        opts.Seed,
		Partitioner: opts.Partitioner,
		Logger:      log,
	}
	isolated.Cluster = true
	f1, err := metrics.IsolatedLabels(ctx, after, opts.LabelKey, opts.BatchKey, isolated)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores.record(MetricIsolatedF1, f1, err)

	isolated.Cluster = false
	sil, err := metrics.IsolatedLabels(ctx, after, opts.LabelKey, opts.BatchKey, isolated)
	scores.record(MetricIsolatedSilhouette, sil, err)

	for name, msg := range scores.Errors {
		log.Warn().Str("metric", name).Str("error", msg).Msg("Metric not computed")
	}
	return scores, nil
}

// withPCA returns ds, or a copy carrying X_pca when it is missing and X is
// available.
func withPCA(ds *models.Dataset, nComps int) (*models.Dataset, error) {
	if ds == nil {
		return nil, fmt.Errorf("dataset is nil: %w", models.ErrMissingField)
	}
	if ds.HasEmbedding(models.PCAKey) || ds.X == nil {
		return ds, nil
	}
	emb, err := pca.Embedding(ds, nComps)
	if err != nil {
		return nil, err
	}
	out := ds.Copy()
	if err := out.SetEmbedding(models.PCAKey, mat.DenseCopyOf(emb)); err != nil {
		return nil, err
	}
	return out, nil
}

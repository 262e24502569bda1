package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gilchrisn/scib-benchmark/pkg/benchmark"
	"github.com/gilchrisn/scib-benchmark/pkg/clustering"
	"github.com/gilchrisn/scib-benchmark/pkg/config"
	"github.com/gilchrisn/scib-benchmark/pkg/integration"
	"github.com/gilchrisn/scib-benchmark/pkg/metrics"
	"github.com/gilchrisn/scib-benchmark/pkg/neighbors"
	"github.com/gilchrisn/scib-benchmark/pkg/parser"
	"github.com/gilchrisn/scib-benchmark/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configFile string
	logLevel   string
	batchKey   string
	labelKey   string
	embedKey   string
	format     string
	outputPath string

	cfg    *config.Config
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:           "scib",
		Short:         "Benchmark single-cell batch integration methods",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.NewConfig()
			if configFile != "" {
				if err := cfg.LoadFromFile(configFile); err != nil {
					return fmt.Errorf("error reading %s: %w", configFile, err)
				}
			}
			if logLevel != "" {
				cfg.Set("logging.level", logLevel)
			}
			logger = cfg.CreateLogger()
			return nil
		},
	}

	metricsCmd = &cobra.Command{
		Use:   "metrics [unintegrated] [integrated]",
		Short: "Score an integrated dataset against the unintegrated one",
		Args:  cobra.ExactArgs(2),
		RunE:  runMetrics,
	}

	clusterCmd = &cobra.Command{
		Use:   "cluster [dataset]",
		Short: "Find the clustering resolution that best matches a label column",
		Args:  cobra.ExactArgs(1),
		RunE:  runCluster,
	}

	integrateCmd = &cobra.Command{
		Use:   "integrate [dataset] [output]",
		Short: "Run one integration method and save the integrated dataset",
		Args:  cobra.ExactArgs(2),
		RunE:  runIntegrate,
	}

	benchmarkCmd = &cobra.Command{
		Use:   "benchmark [dataset]",
		Short: "Integrate a dataset with several methods and score every result",
		Args:  cobra.ExactArgs(1),
		RunE:  runBenchmark,
	}

	methodsCmd = &cobra.Command{
		Use:   "methods",
		Short: "List the available integration methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			for _, name := range registry.List() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
)

// cluster / integrate / benchmark flags
var (
	clusterKey    string
	tracePath     string
	labelsPath    string
	graphPath     string
	force         bool
	method        string
	hvgGenes      int
	methodList    []string
	externalTools []string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&externalTools, "external", nil, "register an external method as name=/path/to/executable")

	for _, c := range []*cobra.Command{metricsCmd, clusterCmd, benchmarkCmd} {
		c.Flags().StringVar(&labelKey, "label", "cell_type", "cell-type column")
		c.Flags().StringVar(&embedKey, "embed", "", "embedding to score (default X_emb if present, else X_pca)")
	}
	for _, c := range []*cobra.Command{metricsCmd, integrateCmd, benchmarkCmd} {
		c.Flags().StringVar(&batchKey, "batch", "batch", "batch column")
	}
	for _, c := range []*cobra.Command{metricsCmd, benchmarkCmd} {
		c.Flags().StringVar(&format, "format", "table", "report format: table, json or yaml")
		c.Flags().StringVarP(&outputPath, "output", "o", "", "write the report to a file instead of stdout")
	}

	clusterCmd.Flags().StringVar(&clusterKey, "key", "louvain", "column receiving the best clustering")
	clusterCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing cluster column")
	clusterCmd.Flags().StringVar(&tracePath, "trace", "", "write the resolution scan as JSON lines")
	clusterCmd.Flags().StringVar(&labelsPath, "labels-out", "", "write the best clustering as cell,label CSV")
	clusterCmd.Flags().StringVar(&graphPath, "graph-out", "", "write the neighbour graph (.csv or edge list)")

	integrateCmd.Flags().StringVar(&method, "method", "unintegrated", "integration method")
	integrateCmd.Flags().IntVar(&hvgGenes, "hvg", 0, "restrict integration to this many highly variable genes (0 = all)")

	benchmarkCmd.Flags().StringSliceVar(&methodList, "methods", []string{"unintegrated", "centered"}, "methods to run")

	rootCmd.AddCommand(metricsCmd, clusterCmd, integrateCmd, benchmarkCmd, methodsCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func panelOptions() (benchmark.Options, error) {
	opts, err := benchmark.OptionsFromConfig(cfg, batchKey, labelKey, logger)
	if err != nil {
		return opts, err
	}
	opts.Embed = embedKey
	return opts, nil
}

func newRegistry() (*integration.Registry, error) {
	registry := integration.NewRegistry()
	for _, entry := range externalTools {
		name, path, ok := strings.Cut(entry, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --external %q, want name=/path/to/executable", entry)
		}
		registry.Register(&integration.Command{Method: name, Path: path, Logger: logger})
	}
	return registry, nil
}

func writeReport(cmd *cobra.Command, report *benchmark.Report) error {
	if outputPath == "" {
		return report.Write(cmd.OutOrStdout(), format)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := report.Write(file, format); err != nil {
		file.Close()
		return err
	}
	logger.Info().Str("path", outputPath).Msg("Report written")
	return file.Close()
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	before, err := parser.LoadDataset(args[0])
	if err != nil {
		return err
	}
	after, err := parser.LoadDataset(args[1])
	if err != nil {
		return err
	}
	opts, err := panelOptions()
	if err != nil {
		return err
	}

	report := benchmark.NewReport(opts)
	scores, err := benchmark.Evaluate(ctx, before, after, opts)
	if err != nil {
		return err
	}
	report.Results = []benchmark.MethodResult{{Method: args[1], Scores: scores}}
	report.Finished = time.Now()
	return writeReport(cmd, report)
}

func runCluster(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ds, err := parser.LoadDataset(args[0])
	if err != nil {
		return err
	}
	panel, err := panelOptions()
	if err != nil {
		return err
	}

	opts := clustering.DefaultOptimizeOptions()
	opts.Embed = embedKey
	opts.K = panel.K
	opts.Seed = panel.Seed
	opts.Partitioner = panel.Partitioner
	opts.Logger = logger
	opts.Min, opts.Max, opts.Step = panel.Min, panel.Max, panel.Step
	opts.Refine = panel.Refine
	opts.ClusterKey = clusterKey
	opts.Force = force

	if tracePath != "" {
		tw, err := utils.NewTraceWriter(tracePath, panel.Partitioner.Name())
		if err != nil {
			return fmt.Errorf("failed to create trace: %w", err)
		}
		defer tw.Close()
		opts.Trace = tw
	}

	best, trace, err := clustering.OptimizeResolution(ctx, ds, labelKey, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "resolution  NMI      clusters\n")
	for _, p := range trace {
		fmt.Fprintf(out, "%-10.2f  %.4f   %d\n", p.Resolution, p.Score, p.NumClusters)
	}
	fmt.Fprintf(out, "best: resolution %.2f, NMI %.4f, %d clusters\n", best.Resolution, best.Score, best.NumClusters)

	if labelsPath != "" {
		if err := parser.SaveLabels(best.Labels, clusterKey, labelsPath); err != nil {
			return err
		}
	}
	if graphPath != "" {
		g, err := neighbors.ForDataset(ds, embedKey, opts.K)
		if err != nil {
			return err
		}
		if err := parser.SaveNeighborGraph(g, ds.Cells, graphPath); err != nil {
			return err
		}
	}
	return nil
}

func runIntegrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ds, err := parser.LoadDataset(args[0])
	if err != nil {
		return err
	}
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	adapter, ok := registry.Get(method)
	if !ok {
		return fmt.Errorf("unknown integration method: %s (available: %v)", method, registry.List())
	}

	var hvg []string
	if hvgGenes > 0 && hvgGenes < ds.NumGenes() {
		if hvg, err = metrics.HighlyVariableGenes(ds.X, ds.Genes, hvgGenes); err != nil {
			return err
		}
	}

	integrated, err := integration.Run(ctx, adapter, ds, batchKey, hvg)
	if err != nil {
		return err
	}
	if err := parser.SaveDataset(integrated, args[1]); err != nil {
		return err
	}
	logger.Info().
		Str("method", adapter.Name()).
		Int("cells", integrated.NumCells()).
		Int("genes", integrated.NumGenes()).
		Str("output", args[1]).
		Msg("Integrated dataset saved")
	return nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ds, err := parser.LoadDataset(args[0])
	if err != nil {
		return err
	}
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	opts, err := panelOptions()
	if err != nil {
		return err
	}

	report, err := benchmark.NewRunner(registry, opts).Run(ctx, ds, methodList)
	if err != nil {
		return err
	}
	return writeReport(cmd, report)
}

// Command embedcluster reduces, clusters, filters and searches precomputed
// image and text embeddings.
//
//	embedcluster -images images.csv.zst -texts texts.csv.zst -labels labels.csv -out out/ -plots
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/YuminosukeSato/embedcluster/pipeline"
	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "embedcluster: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := pipeline.DefaultConfig()
	var logLevel, logFormat string

	fs := flag.NewFlagSet("embedcluster", flag.ContinueOnError)
	fs.StringVar(&cfg.ImagesPath, "images", "", "image embeddings (.csv or .json, optionally .zst/.lz4)")
	fs.StringVar(&cfg.TextsPath, "texts", "", "text embeddings paired row by row with the images (optional)")
	fs.StringVar(&cfg.LabelsPath, "labels", "", "pipe-delimited label file with image_name|label|comment columns (optional)")
	fs.StringVar(&cfg.OutDir, "out", "", "directory for the JSON report, plots and models")
	fs.IntVar(&cfg.NComponents, "n-components", cfg.NComponents, "dimensions kept by PCA for clustering")
	fs.IntVar(&cfg.NClusters, "n-clusters", cfg.NClusters, "number of K-Means clusters")
	fs.IntVar(&cfg.MaxIter, "max-iter", cfg.MaxIter, "maximum K-Means iterations")
	fs.StringVar(&cfg.Linkage, "linkage", cfg.Linkage, "agglomerative clustering linkage: ward, average, complete or single")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for K-Means and the train/test split")
	fs.Float64Var(&cfg.Eps, "eps", cfg.Eps, "DBSCAN neighbourhood radius")
	fs.IntVar(&cfg.MinSamples, "min-samples", cfg.MinSamples, "DBSCAN core point size, including the point itself")
	fs.Float64Var(&cfg.TestSize, "test-size", cfg.TestSize, "fraction held out before outlier filtering")
	fs.IntVar(&cfg.TopK, "top-k", cfg.TopK, "images returned per text query")
	fs.IntVar(&cfg.KMin, "k-min", cfg.KMin, "smallest k of the silhouette sweep")
	fs.IntVar(&cfg.KMax, "k-max", cfg.KMax, "exclusive upper bound of the silhouette sweep")
	fs.BoolVar(&cfg.NormalizeRetrieval, "normalize", cfg.NormalizeRetrieval, "L2-normalize embeddings before retrieval")
	fs.BoolVar(&cfg.Plots, "plots", false, "render PNG plots into -out")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", "", "write prometheus metrics in textfile format to this path")
	fs.BoolVar(&cfg.SaveModels, "save-models", false, "save fitted PCA and K-Means models into -out")
	fs.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&logFormat, "log-format", log.FormatConsole, "console, json or slog")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := log.SetupLogger(logLevel, logFormat); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("main")

	if (cfg.Plots || cfg.SaveModels) && cfg.OutDir == "" {
		return errors.NewValidationError("out", "required with -plots or -save-models", cfg.OutDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := pipeline.NewRunner(cfg)
	if err != nil {
		return err
	}
	in, err := pipeline.Load(cfg)
	if err != nil {
		return err
	}
	res, err := runner.Run(ctx, in)
	if err != nil {
		return err
	}
	printSummary(res, in)

	if cfg.MetricsFile != "" {
		if err := runner.WriteMetrics(cfg.MetricsFile); err != nil {
			return err
		}
		logger.Info("metrics written", log.PathKey, cfg.MetricsFile)
	}
	if cfg.OutDir == "" {
		return nil
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", cfg.OutDir)
	}
	report := filepath.Join(cfg.OutDir, "result.json")
	if err := res.WriteJSON(report); err != nil {
		return err
	}
	logger.Info("report written", log.PathKey, report)

	if cfg.Plots {
		paths, err := pipeline.Render(res, in, filepath.Join(cfg.OutDir, "plots"))
		if err != nil {
			return err
		}
		logger.Info("plots written", "count", len(paths))
	}
	if cfg.SaveModels {
		paths, err := res.SaveModels(cfg.OutDir)
		if err != nil {
			return err
		}
		logger.Info("models saved", "count", len(paths))
	}
	return nil
}

// printSummary は結果の要約を標準出力に書く
func printSummary(res *pipeline.Result, in *pipeline.Inputs) {
	fmt.Printf("run %s\n", res.RunID)
	fmt.Printf("explained variance ratio: %.4f\n", res.ExplainedVarianceRatio)
	for _, p := range res.Silhouette {
		fmt.Printf("silhouette k=%d: %.4f\n", p.K, p.Score)
	}
	if out := res.Outliers; out != nil {
		fmt.Printf("samples before cleaning: %d, after cleaning: %d\n",
			len(out.TrainIndices), len(out.KeptIndices))
	}

	ret := res.Retrieval
	if ret == nil || in.Records == nil {
		return
	}
	for q, idx := range ret.Indices {
		if q < len(in.Records.Comments) {
			fmt.Printf("query: %s\n", in.Records.Comments[q])
		}
		for rank, i := range idx {
			fmt.Printf("  %d. %s %s\n", rank+1, in.Records.ImageNames[i], in.Records.Comments[i])
		}
	}
	if ret.RecallAtK != nil {
		fmt.Printf("recall@%d: %.4f, mrr: %.4f\n", ret.TopK, *ret.RecallAtK, *ret.MRR)
	}
}

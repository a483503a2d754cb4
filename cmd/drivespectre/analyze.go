package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/drivespectre/internal/app"
	"github.com/ppiankov/drivespectre/internal/baseline"
	"github.com/ppiankov/drivespectre/internal/collector"
	"github.com/ppiankov/drivespectre/internal/metrics"
	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/internal/pipeline"
	"github.com/ppiankov/drivespectre/internal/reporter"
	"github.com/ppiankov/drivespectre/internal/storage"
	"github.com/ppiankov/drivespectre/pkg/config"
	"github.com/spf13/cobra"
)

// NewAnalyzeCmd creates the analyze command
func NewAnalyzeCmd() *cobra.Command {
	cfg := config.DefaultConfig()

	var configPath string
	var queryTimeoutStr string

	cmd := &cobra.Command{
		Use:     "analyze",
		Aliases: []string{"afr"},
		Short:   "Compute quarterly cumulative AFR per drive model",
		Long: `Read daily drive telemetry, merge raw model strings into canonical models,
drop models below the deploy threshold and report the cumulative annualized
failure rate of every remaining model at quarterly sample points.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			fileCfg, path, err := loadFileConfig(configPath)
			if err != nil {
				return err
			}
			if fileCfg != nil {
				slog.Debug("config file loaded", slog.String("path", path))
				if err := fileCfg.ApplyTo(cfg, cmd.Flags().Changed); err != nil {
					return err
				}
			}

			if cmd.Flags().Changed("query-timeout") {
				cfg.QueryTimeout, err = config.ParseDuration(queryTimeoutStr)
				if err != nil {
					return fmt.Errorf("invalid --query-timeout duration: %w", err)
				}
			}

			cfg.ApplyEnv()
			cfg.Normalize()
			if err := cfg.ResolvePatterns(); err != nil {
				return err
			}

			if cfg.BaselinePath == "" {
				if path, err := app.DefaultBaselinePath(); err == nil {
					cfg.BaselinePath = path
				} else {
					slog.Debug("default baseline path unavailable", slog.String("error", err.Error()))
				}
			}

			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Verbose = verbose
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runAnalyze(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default: ./.drivespectre.yaml, then ~/.drivespectre.yaml)")

	// Source flags
	cmd.Flags().StringVar(&cfg.Source, "source", cfg.Source, "Upstream source (clickhouse, postgres, csv)")
	cmd.Flags().StringVar(&cfg.DSN, "dsn", "", "Source DSN for clickhouse or postgres (env: "+config.EnvDSN+")")
	cmd.Flags().StringVar(&cfg.Table, "table", cfg.Table, "Table holding daily drive rows")
	cmd.Flags().StringVar(&cfg.InputPath, "input", "", "CSV file or directory for source csv")
	cmd.Flags().StringVar(&queryTimeoutStr, "query-timeout", "30m", "Timeout for each source operation (e.g., 30m, 2h, 1d)")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per page read from the source")
	cmd.Flags().Float64Var(&cfg.QueryRate, "query-rate", 0, "Max source queries per second (0 = unlimited)")

	// Concurrency flags
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Worker pool size")

	// Model selection flags
	cmd.Flags().StringArrayVar(&cfg.Patterns, "pattern", nil, "Interest pattern (regular expression), repeatable")
	cmd.Flags().StringVar(&cfg.PatternsFile, "patterns-file", "", "JSON or YAML file of interest patterns")
	cmd.Flags().StringSliceVar(&cfg.ExcludeModels, "exclude", nil, "Raw model names to ignore (glob, case-insensitive)")
	cmd.Flags().Uint64Var(&cfg.MinDrives, "min-drives", cfg.MinDrives, "Minimum distinct drives for a model to be reported")

	// Output flags
	cmd.Flags().StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "Output directory")
	cmd.Flags().StringVar(&cfg.Format, "format", cfg.Format, "Output formats, comma separated (csv, json, text, html)")
	cmd.Flags().StringVar(&cfg.MetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")

	// Baseline flags
	cmd.Flags().StringVar(&cfg.BaselinePath, "baseline", "", "Baseline file for restatement detection (default: user config dir)")
	cmd.Flags().BoolVar(&cfg.UpdateBaseline, "update-baseline", false, "Save this run's quarterly rows as the new baseline")
	cmd.Flags().BoolVar(&cfg.FailOnDrift, "fail-on-drift", false, "Exit 6 when published quarterly rows changed upstream")

	// Upload flags
	cmd.Flags().StringVar(&cfg.Upload.URL, "upload", "", "Copy the report to s3://bucket/prefix (env: "+config.EnvUpload+")")
	cmd.Flags().StringVar(&cfg.Upload.Endpoint, "upload-endpoint", cfg.Upload.Endpoint, "S3-compatible endpoint")
	cmd.Flags().StringVar(&cfg.Upload.Region, "upload-region", cfg.Upload.Region, "S3 region")
	cmd.Flags().BoolVar(&cfg.Upload.PathStyle, "upload-path-style", cfg.Upload.PathStyle, "Use path-style S3 addressing")

	// Operational flags
	cmd.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "Dry run mode (don't write output)")

	return cmd
}

func loadFileConfig(path string) (*config.FileConfig, string, error) {
	if path != "" {
		fileCfg, err := config.LoadFile(path)
		if err != nil {
			return nil, "", err
		}
		return fileCfg, path, nil
	}
	return config.AutoLoadFile()
}

// runAnalyze executes the analysis workflow
func runAnalyze(ctx context.Context, cfg *config.Config, out io.Writer) error {
	startTime := time.Now()

	slog.Debug("starting analysis",
		slog.String("source", cfg.Source),
		slog.String("dsn", maskDSN(cfg.DSN)),
		slog.String("table", cfg.Table),
		slog.String("input", cfg.InputPath),
		slog.Int("patterns", len(cfg.Patterns)),
		slog.Uint64("min_drives", cfg.MinDrives),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Int("batch_size", cfg.BatchSize),
	)

	// 1. Connect to the source
	fmt.Fprintf(out, "🔌 Connecting to %s...\n", cfg.Source)
	col, err := collector.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	defer col.Close()

	// 2. Run the pipeline
	recorder := metrics.NewRecorder()
	p, err := pipeline.New(pipeline.Options{
		Patterns:    cfg.Patterns,
		Exclude:     cfg.IsModelExcluded,
		Rules:       cfg.Normalization,
		MinDrives:   cfg.MinDrives,
		Concurrency: cfg.Concurrency,
		Metrics:     recorder,
		Progress:    progressPrinter(out),
	})
	if err != nil {
		return err
	}

	outcome, err := p.Run(ctx, col)
	if err != nil {
		return err
	}

	report := buildReport(cfg, col.Host(), outcome, startTime, time.Now())
	if len(report.Quarterly) == 0 {
		fmt.Fprintln(out, "ℹ️  No model matched the patterns and deploy threshold")
	}

	// 3. Compare with the baseline
	if err := compareBaseline(cfg, report); err != nil {
		return err
	}
	if report.Drift != nil {
		fmt.Fprintf(out, "🔁 Baseline: %d restated, %d missing, %d new quarterly rows\n",
			len(report.Drift.Changed), len(report.Drift.Missing), report.Drift.Added)
	}

	// 4. Write output
	if !cfg.DryRun {
		fmt.Fprintln(out, "📝 Writing report...")
		if err := reporter.New(cfg).Generate(report); err != nil {
			return fmt.Errorf("failed to generate report: %w", err)
		}
		fmt.Fprintf(out, "✓ Report written to: %s\n", cfg.OutputDir)

		if cfg.UpdateBaseline {
			if err := baseline.Save(cfg.BaselinePath, baseline.Take(report.Quarterly)); err != nil {
				return fmt.Errorf("failed to save baseline: %w", err)
			}
			fmt.Fprintf(out, "✓ Baseline saved to: %s\n", cfg.BaselinePath)
		}

		recorder.ObserveRun(time.Since(startTime), time.Now())
		if cfg.MetricsFile != "" {
			if err := recorder.WriteTextfile(cfg.MetricsFile); err != nil {
				return fmt.Errorf("failed to write metrics: %w", err)
			}
		}

		if cfg.Upload.URL != "" {
			fmt.Fprintf(out, "📤 Uploading report to %s...\n", cfg.Upload.URL)
			uploader, err := storage.NewS3Uploader(ctx, cfg.Upload)
			if err != nil {
				return err
			}
			keys, err := uploader.UploadDir(ctx, cfg.OutputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Uploaded %d files\n", len(keys))
		}
	} else {
		fmt.Fprintln(out, "🏃 Dry run mode - skipping output")
	}

	// 5. Success
	duration := time.Since(startTime)
	fmt.Fprintf(out, "\n✅ Analysis complete in %s!\n", duration.Round(time.Millisecond))
	if !cfg.DryRun {
		fmt.Fprintf(out, "\n📊 View report:\n")
		fmt.Fprintf(out, "   drivespectre serve %s\n", cfg.OutputDir)
	}
	if state, err := app.NewState(); err == nil && state.MarkFirstRun() {
		fmt.Fprintf(out, "\n💡 Save your flags in %s to reuse them on the next run\n", config.DefaultConfigFileYAML)
	}

	if cfg.FailOnDrift && report.Drift.HasFindings() {
		return &FindingsError{Count: len(report.Drift.Changed) + len(report.Drift.Missing)}
	}
	return nil
}

func progressPrinter(out io.Writer) func(stage string, count int) {
	return func(stage string, count int) {
		switch stage {
		case pipeline.StageListModels:
			fmt.Fprintf(out, "📋 Found %d raw model names\n", count)
		case pipeline.StageClassify:
			fmt.Fprintf(out, "🔍 %d names matched the interest patterns\n", count)
		case pipeline.StageNormalize:
			fmt.Fprintf(out, "🏷️  Merged into %d canonical models\n", count)
		case pipeline.StageDeploy:
			fmt.Fprintf(out, "📦 %d models reached the deploy threshold\n", count)
		case pipeline.StageAggregate:
			fmt.Fprintf(out, "📊 Aggregated daily counts for %d models\n", count)
		case pipeline.StageCompute:
			fmt.Fprintf(out, "🎯 Computed %d quarterly rows\n", count)
		}
	}
}

// compareBaseline attaches drift against the saved baseline, if one exists.
func compareBaseline(cfg *config.Config, report *models.Report) error {
	if cfg.BaselinePath == "" {
		return nil
	}
	known, err := baseline.Load(cfg.BaselinePath)
	if err != nil {
		return fmt.Errorf("failed to load baseline: %w", err)
	}
	if len(known) == 0 {
		return nil
	}
	drift := baseline.Compare(known, report.Quarterly)
	drift.Baseline = cfg.BaselinePath
	report.Drift = drift
	return nil
}

// buildReport constructs the final report
func buildReport(cfg *config.Config, host string, outcome *pipeline.Outcome, startTime, now time.Time) *models.Report {
	quarterly := outcome.Result.Quarterly
	if quarterly == nil {
		quarterly = []models.QuarterlyResult{}
	}

	table := cfg.Table
	if cfg.Source == config.SourceCSV {
		table = ""
	}

	return &models.Report{
		Tool:      "drivespectre",
		Version:   version,
		Timestamp: now.UTC().Format(time.RFC3339),
		Metadata: models.Metadata{
			GeneratedAt:      now,
			Source:           cfg.Source,
			SourceHost:       host,
			Table:            table,
			Patterns:         cfg.Patterns,
			MinDrives:        cfg.MinDrives,
			AnalysisDuration: now.Sub(startTime).Round(time.Millisecond).String(),
			Version:          version,
		},
		Models:      outcome.Models,
		Quarterly:   quarterly,
		Daily:       outcome.Result.Daily(),
		DataQuality: outcome.DataQuality,
	}
}

var passwordParam = regexp.MustCompile(`(?i)(password=)[^\s&]+`)

// maskDSN hides credentials in URL and key=value DSNs
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		u.RawQuery = passwordParam.ReplaceAllString(u.RawQuery, "${1}***")
		if u.User == nil {
			return u.String()
		}
		if _, ok := u.User.Password(); !ok {
			return u.String()
		}
		// url.UserPassword would escape the mask to %2A%2A%2A.
		user := url.User(u.User.Username()).String()
		u.User = nil
		return strings.Replace(u.String(), "://", "://"+user+":***@", 1)
	}
	return passwordParam.ReplaceAllString(dsn, "${1}***")
}

// Package pipeline wires the naming, deploy-count and AFR stages over a source.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/drivespectre/internal/analyzer"
	"github.com/ppiankov/drivespectre/internal/metrics"
	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/internal/naming"
)

// Source is the upstream of drive telemetry. Implementations live in internal/collector.
type Source interface {
	ModelNames(ctx context.Context) ([]string, error)
	StreamSerials(ctx context.Context, rawNames []string, fn func(rawModel, serial string) error) error
	StreamDaily(ctx context.Context, rawNames []string, fn func([]models.DailyRawRecord) error) error
}

// Stage names passed to Options.Progress.
const (
	StageListModels = "list_models"
	StageClassify   = "classify"
	StageNormalize  = "normalize"
	StageDeploy     = "deploy_count"
	StageAggregate  = "aggregate"
	StageCompute    = "compute"
)

// Options configures a pipeline run.
type Options struct {
	Patterns    []string
	Exclude     func(rawModel string) bool
	Rules       naming.Rules
	MinDrives   uint64
	Concurrency int
	Metrics     *metrics.Recorder
	// Progress is called when a stage completes.
	Progress func(stage string, count int)
}

// Outcome is everything a run produced.
type Outcome struct {
	Models      []models.CanonicalModel
	Result      *analyzer.Result
	DataQuality models.DataQuality
}

// Pipeline runs the stages in order. It holds compiled rules and can be reused.
type Pipeline struct {
	opts       Options
	classifier *naming.Classifier
	normalizer *naming.Normalizer
}

// New compiles the classifier patterns and normalization rules.
func New(opts Options) (*Pipeline, error) {
	classifier, err := naming.NewClassifier(opts.Patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	normalizer, err := naming.NewNormalizer(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build normalizer: %w", err)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{opts: opts, classifier: classifier, normalizer: normalizer}, nil
}

// Run executes the pipeline against src. When no name matches or no model
// clears the deploy threshold it returns an empty outcome without reading
// daily rows.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Outcome, error) {
	names, err := src.ModelNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	p.progress(StageListModels, len(names))

	candidates := p.classifier.Candidates(p.excludeNames(names))
	p.progress(StageClassify, len(candidates))
	p.opts.Metrics.SetModels(metrics.StageCandidate, len(candidates))

	out := &Outcome{
		Models: []models.CanonicalModel{},
		DataQuality: models.DataQuality{
			CandidateNames:    len(candidates),
			DroppedModels:     []string{},
			UnnormalizedNames: []string{},
		},
	}
	if len(candidates) == 0 {
		slog.Warn("no raw model names matched the configured patterns", slog.Int("names", len(names)))
		return p.finish(ctx, out, naming.EmptyLookup())
	}

	lookup := p.normalizer.Build(candidates)
	p.progress(StageNormalize, lookup.Len())
	p.opts.Metrics.SetModels(metrics.StageCanonical, lookup.Len())
	out.DataQuality.CanonicalModels = lookup.Len()
	out.DataQuality.UnnormalizedNames = lookup.Unnormalized()
	for _, raw := range out.DataQuality.UnnormalizedNames {
		slog.Debug("model name matched no normalization rule", slog.String("raw_model", raw))
	}

	deploy, err := analyzer.FilterByDeployCount(ctx, src, lookup, p.opts.MinDrives)
	if err != nil {
		return nil, err
	}
	p.progress(StageDeploy, len(deploy.Retained))
	p.opts.Metrics.SetModels(metrics.StageRetained, len(deploy.Retained))
	out.DataQuality.RetainedModels = len(deploy.Retained)
	out.DataQuality.DroppedModels = deploy.Dropped

	retained := make(map[string]bool, len(deploy.Retained))
	for _, model := range deploy.Retained {
		retained[model] = true
	}
	for _, model := range lookup.Models() {
		out.Models = append(out.Models, models.CanonicalModel{
			Name:        model,
			Aliases:     lookup.Aliases(model),
			DeployCount: deploy.Counts[model],
			Retained:    retained[model],
		})
	}

	kept := lookup.Restrict(deploy.Retained)
	if kept.Len() == 0 {
		slog.Warn("no model reached the deploy threshold", slog.Uint64("min_drives", p.opts.MinDrives))
		return p.finish(ctx, out, kept)
	}

	a := analyzer.New(kept, p.opts.Concurrency)
	if err := src.StreamDaily(ctx, kept.RawNames(), a.Ingest); err != nil {
		return nil, fmt.Errorf("failed to aggregate daily counts: %w", err)
	}
	p.progress(StageAggregate, kept.Len())

	out.Result, err = a.Finalize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute AFR: %w", err)
	}
	p.progress(StageCompute, len(out.Result.Quarterly))
	p.record(out)
	return out, nil
}

func (p *Pipeline) finish(ctx context.Context, out *Outcome, lookup *naming.Lookup) (*Outcome, error) {
	result, err := analyzer.New(lookup, 1).Finalize(ctx)
	if err != nil {
		return nil, err
	}
	out.Result = result
	p.record(out)
	return out, nil
}

// record copies ingestion counters into DataQuality and metrics.
func (p *Pipeline) record(out *Outcome) {
	stats := out.Result.Ingest
	dq := &out.DataQuality
	dq.RowsIngested = stats.Accepted
	dq.MalformedRecords = stats.Malformed
	dq.UnmappedRecords = stats.Unmapped
	dq.DegenerateDays = out.Result.DegenerateDays
	dq.Warnings = dq.MalformedRecords + dq.UnmappedRecords + dq.DegenerateDays + int64(len(dq.UnnormalizedNames))

	p.opts.Metrics.AddRows(stats.Accepted, stats.Malformed, stats.Unmapped)
	p.opts.Metrics.AddDegenerateDays(out.Result.DegenerateDays)
	p.opts.Metrics.SetQuarterlyRows(len(out.Result.Quarterly))
}

func (p *Pipeline) excludeNames(names []string) []string {
	if p.opts.Exclude == nil {
		return names
	}
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if p.opts.Exclude(name) {
			slog.Debug("model name excluded", slog.String("raw_model", name))
			continue
		}
		kept = append(kept, name)
	}
	return kept
}

func (p *Pipeline) progress(stage string, count int) {
	if p.opts.Progress != nil {
		p.opts.Progress(stage, count)
	}
}

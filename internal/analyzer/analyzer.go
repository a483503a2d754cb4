package analyzer

import (
	"context"
	"errors"
	"sort"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/internal/naming"
	"golang.org/x/sync/errgroup"
)

// ErrFinalized is returned by Ingest once Finalize has run.
var ErrFinalized = errors.New("analyzer already finalized")

// ModelSeries holds one model's cumulative history and its quarterly samples
type ModelSeries struct {
	Model          string
	History        []models.CumulativeState
	Quarterly      []models.QuarterlyResult
	DegenerateDays int
}

// Result is the finalized output of an analysis run
type Result struct {
	Series         []ModelSeries
	Quarterly      []models.QuarterlyResult
	Ingest         IngestStats
	DegenerateDays int64
}

// Daily flattens every model's history, ordered by model then day.
func (r *Result) Daily() []models.CumulativeState {
	var daily []models.CumulativeState
	for _, series := range r.Series {
		daily = append(daily, series.History...)
	}
	return daily
}

// Analyzer accepts batches of daily rows and turns them into quarterly AFR results
type Analyzer struct {
	aggregator  *Aggregator
	concurrency int
}

// New creates an analyzer. concurrency bounds the per-model workers used by Finalize.
func New(lookup *naming.Lookup, concurrency int) *Analyzer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Analyzer{
		aggregator:  NewAggregator(lookup),
		concurrency: concurrency,
	}
}

// Ingest folds one batch of rows. It may be called concurrently.
func (a *Analyzer) Ingest(batch []models.DailyRawRecord) error {
	return a.aggregator.Ingest(batch)
}

// Finalize computes cumulative and quarterly series for every model.
// Models are processed in parallel; output is ordered by model.
func (a *Analyzer) Finalize(ctx context.Context) (*Result, error) {
	byModel, stats := a.aggregator.Seal()
	names := make([]string, 0, len(byModel))
	for name := range byModel {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make([]ModelSeries, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			history, degenerate := Cumulate(byModel[name])
			series[i] = ModelSeries{
				Model:          name,
				History:        history,
				Quarterly:      ReduceQuarterly(history),
				DegenerateDays: degenerate,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Series:    series,
		Quarterly: make([]models.QuarterlyResult, 0),
		Ingest:    stats,
	}
	for _, s := range series {
		result.Quarterly = append(result.Quarterly, s.Quarterly...)
		result.DegenerateDays += int64(s.DegenerateDays)
	}

	return result, nil
}

package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/internal/naming"
)

// maxLoggedWarnings caps per-record warnings at Warn level; the rest go to Debug.
const maxLoggedWarnings = 10

// IngestStats counts what happened to ingested records
type IngestStats struct {
	Accepted  int64 `json:"accepted"`
	Malformed int64 `json:"malformed"`
	Unmapped  int64 `json:"unmapped"`
}

type cellKey struct {
	model string
	day   int64
}

// Aggregator folds raw daily rows into one record per (canonical model, date).
// Ingest is safe for concurrent use.
type Aggregator struct {
	lookup *naming.Lookup

	mu     sync.Mutex
	cells  map[cellKey]*models.DailyAggregatedRecord
	stats  IngestStats
	warned int
	sealed bool
}

// NewAggregator creates an aggregator resolving raw names through lookup.
func NewAggregator(lookup *naming.Lookup) *Aggregator {
	return &Aggregator{
		lookup: lookup,
		cells:  make(map[cellKey]*models.DailyAggregatedRecord),
	}
}

// Ingest sums one batch into the aggregation map.
func (a *Aggregator) Ingest(batch []models.DailyRawRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return ErrFinalized
	}

	for _, rec := range batch {
		if err := validateRecord(rec); err != nil {
			a.stats.Malformed++
			a.warn("rejected malformed record", rec, err)
			continue
		}

		canonical, ok := a.lookup.Canonical(rec.RawModel)
		if !ok {
			a.stats.Unmapped++
			a.warn("skipped record for unknown model", rec, nil)
			continue
		}

		day := models.Day(rec.Date)
		key := cellKey{model: canonical, day: day.Unix()}
		cell, ok := a.cells[key]
		if !ok {
			cell = &models.DailyAggregatedRecord{Model: canonical, Date: day}
			a.cells[key] = cell
		}
		cell.DriveCount += rec.DriveCount
		cell.FailureCount += rec.FailureCount
		a.stats.Accepted++
	}
	return nil
}

// ByModel returns each model's aggregated records sorted by ascending date.
func (a *Aggregator) ByModel() map[string][]models.DailyAggregatedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groupLocked()
}

// Seal stops further ingestion and returns the final grouping and counters.
// Every Ingest either completes before Seal or returns ErrFinalized.
func (a *Aggregator) Seal() (map[string][]models.DailyAggregatedRecord, IngestStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	return a.groupLocked(), a.stats
}

func (a *Aggregator) groupLocked() map[string][]models.DailyAggregatedRecord {
	grouped := make(map[string][]models.DailyAggregatedRecord)
	for _, cell := range a.cells {
		grouped[cell.Model] = append(grouped[cell.Model], *cell)
	}
	for _, records := range grouped {
		sort.Slice(records, func(i, j int) bool {
			return records[i].Date.Before(records[j].Date)
		})
	}
	return grouped
}

// Stats returns a snapshot of ingestion counters.
func (a *Aggregator) Stats() IngestStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Aggregator) warn(msg string, rec models.DailyRawRecord, err error) {
	a.warned++
	level := slog.LevelWarn
	if a.warned > maxLoggedWarnings {
		level = slog.LevelDebug
	}
	attrs := []any{
		slog.String("model", rec.RawModel),
		slog.String("date", rec.Date.Format("2006-01-02")),
		slog.Int64("drive_count", rec.DriveCount),
		slog.Int64("failure_count", rec.FailureCount),
	}
	if err != nil {
		attrs = append(attrs, slog.String("reason", err.Error()))
	}
	slog.Log(context.Background(), level, msg, attrs...)
}

func validateRecord(rec models.DailyRawRecord) error {
	switch {
	case rec.DriveCount < 0:
		return fmt.Errorf("negative drive count %d", rec.DriveCount)
	case rec.FailureCount < 0:
		return fmt.Errorf("negative failure count %d", rec.FailureCount)
	case rec.FailureCount > rec.DriveCount:
		return fmt.Errorf("failure count %d exceeds drive count %d", rec.FailureCount, rec.DriveCount)
	}
	return nil
}

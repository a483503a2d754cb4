package collector

import (
	"context"
	"fmt"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/pkg/config"
)

// Collector reads drive telemetry from an upstream store.
type Collector interface {
	// ModelNames lists every distinct raw model string.
	ModelNames(ctx context.Context) ([]string, error)
	// StreamSerials calls fn once per distinct (raw model, serial) pair.
	StreamSerials(ctx context.Context, rawNames []string, fn func(rawModel, serial string) error) error
	// StreamDaily calls fn with batches of per-day drive and failure counts.
	StreamDaily(ctx context.Context, rawNames []string, fn func([]models.DailyRawRecord) error) error
	// Host identifies the upstream in report metadata.
	Host() string
	Close() error
}

// New opens the source selected by cfg.Source.
func New(ctx context.Context, cfg *config.Config) (Collector, error) {
	switch cfg.Source {
	case config.SourceClickHouse:
		return NewClickHouseSource(ctx, cfg)
	case config.SourcePostgres:
		return NewPostgresSource(ctx, cfg)
	case config.SourceCSV:
		return NewCSVSource(cfg.InputPath, cfg.BatchSize)
	default:
		return nil, fmt.Errorf("unsupported source %q", cfg.Source)
	}
}

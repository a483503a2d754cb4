package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ppiankov/drivespectre/pkg/config"
)

// NewClickHouseSource connects to ClickHouse and verifies the connection.
func NewClickHouseSource(ctx context.Context, cfg *config.Config) (Collector, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ClickHouse DSN: %w", err)
	}

	// Set connection pooling
	opts.MaxOpenConns = cfg.Concurrency + 1
	opts.MaxIdleConns = cfg.Concurrency
	opts.ConnMaxLifetime = time.Hour

	// Aggregation pages over years of rows can take minutes
	opts.ReadTimeout = 10 * time.Minute
	opts.DialTimeout = 30 * time.Second

	// Readonly users reject session settings such as max_execution_time
	opts.Settings = nil

	host := "clickhouse"
	if len(opts.Addr) > 0 {
		host = opts.Addr[0]
	}

	src := newSQLSource(clickhouse.OpenDB(opts), clickhouseDialect, host, cfg)
	if err := src.ping(ctx); err != nil {
		_ = src.Close()
		return nil, sourceError(config.SourceClickHouse, "ping", err)
	}

	slog.Debug("connected to ClickHouse",
		slog.String("host", host),
		slog.String("table", cfg.Table),
	)
	return src, nil
}

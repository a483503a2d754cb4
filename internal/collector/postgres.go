package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/drivespectre/pkg/config"

	_ "github.com/lib/pq"
)

// NewPostgresSource connects to PostgreSQL through lib/pq.
func NewPostgresSource(ctx context.Context, cfg *config.Config) (Collector, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.Concurrency + 1)
	db.SetMaxIdleConns(cfg.Concurrency)
	db.SetConnMaxLifetime(time.Hour)

	host := postgresHost(cfg.DSN)
	src := newSQLSource(db, postgresDialect, host, cfg)
	if err := src.ping(ctx); err != nil {
		_ = src.Close()
		return nil, sourceError(config.SourcePostgres, "ping", err)
	}

	slog.Debug("connected to PostgreSQL",
		slog.String("host", host),
		slog.String("table", cfg.Table),
	)
	return src, nil
}

// postgresHost extracts host[:port] from a URL or key=value DSN.
func postgresHost(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if u, err := url.Parse(dsn); err == nil && u.Host != "" {
			return u.Host
		}
		return "postgres"
	}

	var host, port string
	for _, field := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "host":
			host = strings.Trim(value, "'")
		case "port":
			port = strings.Trim(value, "'")
		}
	}
	switch {
	case host == "":
		return "postgres"
	case port == "":
		return host
	default:
		return host + ":" + port
	}
}

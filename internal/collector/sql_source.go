package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/pkg/config"
)

// dialect renders bind parameters for one SQL flavor.
type dialect struct {
	name string
	bind func(n int) string
}

var (
	clickhouseDialect = dialect{name: config.SourceClickHouse, bind: func(int) string { return "?" }}
	postgresDialect   = dialect{name: config.SourcePostgres, bind: func(n int) string { return fmt.Sprintf("$%d", n) }}
)

// binds returns count placeholders starting at position start.
func (d dialect) binds(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.bind(start + i)
	}
	return strings.Join(parts, ", ")
}

func (d dialect) modelNamesQuery(table string) string {
	return fmt.Sprintf(`SELECT DISTINCT model
FROM %s
WHERE model IS NOT NULL AND model <> ''
ORDER BY model
LIMIT %s OFFSET %s`, table, d.bind(1), d.bind(2))
}

func (d dialect) serialsQuery(table string, names int) string {
	return fmt.Sprintf(`SELECT DISTINCT model, serial_number
FROM %s
WHERE model IN (%s)
ORDER BY model, serial_number
LIMIT %s OFFSET %s`, table, d.binds(1, names), d.bind(names+1), d.bind(names+2))
}

func (d dialect) dailyQuery(table string, names int) string {
	return fmt.Sprintf(`SELECT model, date, COUNT(*) AS drive_count, SUM(failure) AS failure_count
FROM %s
WHERE model IN (%s)
GROUP BY model, date
ORDER BY model, date
LIMIT %s OFFSET %s`, table, d.binds(1, names), d.bind(names+1), d.bind(names+2))
}

// sqlSource pages through a drive stats table over database/sql.
type sqlSource struct {
	db          *sql.DB
	dialect     dialect
	table       string
	host        string
	batchSize   int
	concurrency int
	timeout     time.Duration
	limiter     *RateLimiter
	retry       retryPolicy
}

func newSQLSource(db *sql.DB, d dialect, host string, cfg *config.Config) *sqlSource {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = config.DefaultConfig().BatchSize
	}
	return &sqlSource{
		db:          db,
		dialect:     d,
		table:       cfg.Table,
		host:        host,
		batchSize:   batch,
		concurrency: cfg.Concurrency,
		timeout:     cfg.QueryTimeout,
		limiter:     NewRateLimiter(cfg.QueryRate),
		retry:       defaultRetryPolicy(),
	}
}

func (s *sqlSource) Host() string {
	return s.host
}

func (s *sqlSource) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlSource) ping(ctx context.Context) error {
	return s.retry.do(ctx, "ping", func() error {
		return s.db.PingContext(ctx)
	})
}

func (s *sqlSource) ModelNames(ctx context.Context) ([]string, error) {
	ctx, cancel := withTotalTimeoutContext(ctx, s.timeout)
	defer cancel()

	var names []string
	err := fetchPages(ctx, s, s.dialect.modelNamesQuery(s.table), nil,
		func(rows *sql.Rows) (string, error) {
			var name string
			err := rows.Scan(&name)
			return name, err
		},
		func(page []string) error {
			names = append(names, page...)
			return nil
		})
	if err != nil {
		return nil, sourceError(s.dialect.name, "list models", err)
	}

	slog.Debug("listed raw model names", slog.Int("count", len(names)))
	return names, nil
}

type serialRow struct {
	model  string
	serial string
}

func (s *sqlSource) StreamSerials(ctx context.Context, rawNames []string, fn func(rawModel, serial string) error) error {
	ctx, cancel := withTotalTimeoutContext(ctx, s.timeout)
	defer cancel()

	query := s.dialect.serialsQuery(s.table, 1)
	err := forEach(ctx, s.concurrency, rawNames, func(ctx context.Context, name string) error {
		return fetchPages(ctx, s, query, []any{name},
			func(rows *sql.Rows) (serialRow, error) {
				var r serialRow
				err := rows.Scan(&r.model, &r.serial)
				return r, err
			},
			func(page []serialRow) error {
				for _, r := range page {
					if err := fn(r.model, r.serial); err != nil {
						return err
					}
				}
				return nil
			})
	})
	return sourceError(s.dialect.name, "stream serials", err)
}

func (s *sqlSource) StreamDaily(ctx context.Context, rawNames []string, fn func([]models.DailyRawRecord) error) error {
	ctx, cancel := withTotalTimeoutContext(ctx, s.timeout)
	defer cancel()

	query := s.dialect.dailyQuery(s.table, 1)
	err := forEach(ctx, s.concurrency, rawNames, func(ctx context.Context, name string) error {
		return fetchPages(ctx, s, query, []any{name},
			func(rows *sql.Rows) (models.DailyRawRecord, error) {
				var r models.DailyRawRecord
				err := rows.Scan(&r.RawModel, &r.Date, &r.DriveCount, &r.FailureCount)
				r.Date = models.Day(r.Date)
				return r, err
			},
			fn)
	})
	return sourceError(s.dialect.name, "stream daily counts", err)
}

// fetchPages runs query with LIMIT/OFFSET appended to args until a page comes
// back short. Each page is fully scanned before emit sees it, so a retried
// page is never delivered twice.
func fetchPages[T any](ctx context.Context, s *sqlSource, query string, args []any,
	scan func(*sql.Rows) (T, error), emit func([]T) error) error {
	offset := 0
	var page []T

	for {
		pageArgs := append(append(make([]any, 0, len(args)+2), args...), s.batchSize, offset)

		err := s.retry.do(ctx, "query page", func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			rows, err := s.db.QueryContext(ctx, query, pageArgs...)
			if err != nil {
				return err
			}
			defer rows.Close()

			page = make([]T, 0, min(s.batchSize, 4096))
			for rows.Next() {
				item, err := scan(rows)
				if err != nil {
					return fmt.Errorf("failed to scan row %d at offset %d: %w", len(page)+1, offset, err)
				}
				page = append(page, item)
			}
			return rows.Err()
		})
		if err != nil {
			return err
		}

		if len(page) == 0 {
			return nil
		}
		if err := emit(page); err != nil {
			return err
		}
		if len(page) < s.batchSize {
			return nil
		}
		offset += s.batchSize
	}
}

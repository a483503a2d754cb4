package collector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/pkg/config"
)

const csvDateLayout = "2006-01-02"

var requiredCSVColumns = []string{"date", "serial_number", "model", "failure"}

// csvSource reads Backblaze-style daily snapshot CSVs from a file or a directory.
// Each call re-scans the files.
type csvSource struct {
	root      string
	files     []string
	batchSize int
}

type csvRow struct {
	date    time.Time
	serial  string
	model   string
	failure int64
}

// NewCSVSource resolves path to a sorted list of CSV files.
func NewCSVSource(path string, batchSize int) (Collector, error) {
	files, err := csvFiles(path)
	if err != nil {
		return nil, sourceError(config.SourceCSV, "open", err)
	}
	if batchSize <= 0 {
		batchSize = config.DefaultConfig().BatchSize
	}

	slog.Debug("opened CSV source", slog.String("path", path), slog.Int("files", len(files)))
	return &csvSource{root: path, files: files, batchSize: batchSize}, nil
}

func csvFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".csv") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .csv files found in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

func (s *csvSource) Host() string {
	return s.root
}

func (s *csvSource) Close() error {
	return nil
}

func (s *csvSource) ModelNames(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.scan(ctx, func(r csvRow) error {
		if strings.TrimSpace(r.model) != "" {
			seen[r.model] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, sourceError(config.SourceCSV, "list models", err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *csvSource) StreamSerials(ctx context.Context, rawNames []string, fn func(rawModel, serial string) error) error {
	want := nameSet(rawNames)
	seen := make(map[serialRow]struct{})
	err := s.scan(ctx, func(r csvRow) error {
		if _, ok := want[r.model]; !ok {
			return nil
		}
		key := serialRow{model: r.model, serial: r.serial}
		if _, dup := seen[key]; dup {
			return nil
		}
		seen[key] = struct{}{}
		return fn(r.model, r.serial)
	})
	return sourceError(config.SourceCSV, "stream serials", err)
}

type csvCell struct {
	model string
	day   int64
}

func (s *csvSource) StreamDaily(ctx context.Context, rawNames []string, fn func([]models.DailyRawRecord) error) error {
	want := nameSet(rawNames)
	cells := make(map[csvCell]*models.DailyRawRecord)
	err := s.scan(ctx, func(r csvRow) error {
		if _, ok := want[r.model]; !ok {
			return nil
		}
		key := csvCell{model: r.model, day: r.date.Unix()}
		rec, ok := cells[key]
		if !ok {
			rec = &models.DailyRawRecord{RawModel: r.model, Date: r.date}
			cells[key] = rec
		}
		rec.DriveCount++
		rec.FailureCount += r.failure
		return nil
	})
	if err != nil {
		return sourceError(config.SourceCSV, "stream daily counts", err)
	}

	records := make([]models.DailyRawRecord, 0, len(cells))
	for _, rec := range cells {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].RawModel != records[j].RawModel {
			return records[i].RawModel < records[j].RawModel
		}
		return records[i].Date.Before(records[j].Date)
	})

	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		if err := fn(records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// scan feeds every row of every file to fn. Parse errors abort the scan.
func (s *csvSource) scan(ctx context.Context, fn func(csvRow) error) error {
	for _, file := range s.files {
		if err := scanCSVFile(ctx, file, fn); err != nil {
			return err
		}
	}
	return nil
}

func scanCSVFile(ctx context.Context, path string, fn func(csvRow) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s: failed to read header: %w", path, err)
	}
	cols, err := csvColumns(header)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := contextError(ctx); err != nil {
				return err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		row, err := parseCSVRow(record, cols)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// csvColumns maps each required column to its index in header.
func csvColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(requiredCSVColumns))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	var missing []string
	for _, name := range requiredCSVColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseCSVRow(record []string, cols map[string]int) (csvRow, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(record) {
			return "", fmt.Errorf("missing %s field", name)
		}
		return record[i], nil
	}

	var row csvRow
	dateText, err := field("date")
	if err != nil {
		return row, err
	}
	row.date, err = time.Parse(csvDateLayout, strings.TrimSpace(dateText))
	if err != nil {
		return row, fmt.Errorf("invalid date %q: %w", dateText, err)
	}

	if row.serial, err = field("serial_number"); err != nil {
		return row, err
	}
	if row.model, err = field("model"); err != nil {
		return row, err
	}

	failureText, err := field("failure")
	if err != nil {
		return row, err
	}
	row.failure, err = strconv.ParseInt(strings.TrimSpace(failureText), 10, 64)
	if err != nil {
		return row, fmt.Errorf("invalid failure value %q: %w", failureText, err)
	}

	return row, nil
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

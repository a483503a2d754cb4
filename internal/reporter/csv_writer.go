package reporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/pkg/config"
)

const asOfLayout = "2006-01-02"

// WriteCSV writes the long and spreadsheet-friendly CSV tables.
func WriteCSV(report *models.Report, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tables := []struct {
		name string
		rows [][]string
	}{
		{name: QuarterlyCSVFile, rows: quarterlyRows(report.Quarterly)},
		{name: QuarterlyGridCSVFile, rows: gridRows(report)},
		{name: DailyCSVFile, rows: dailyRows(report.Daily)},
		{name: DailyPivotCSVFile, rows: dailyPivotRows(report.Daily)},
	}

	for _, table := range tables {
		path := filepath.Join(cfg.OutputDir, table.name)
		if err := writeCSVFile(path, table.rows); err != nil {
			return fmt.Errorf("failed to write %s: %w", table.name, err)
		}
		slog.Debug("report written", slog.String("path", path), slog.Int("rows", len(table.rows)-1))
	}

	return nil
}

func writeCSVFile(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func formatAFR(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func quarterlyRows(results []models.QuarterlyResult) [][]string {
	rows := make([][]string, 0, len(results)+1)
	rows = append(rows, []string{
		"model", "year", "quarter", "as_of", "day_index",
		"cumulative_drive_days", "cumulative_failures", "annualized_failure_rate_percent",
	})
	for _, r := range results {
		rows = append(rows, []string{
			r.Model,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Quarter),
			r.AsOf.Format(asOfLayout),
			strconv.Itoa(r.DayIndex),
			strconv.FormatInt(r.CumulativeDriveDays, 10),
			strconv.FormatInt(r.CumulativeFailures, 10),
			formatAFR(r.AFRPercent),
		})
	}
	return rows
}

func dailyRows(daily []models.CumulativeState) [][]string {
	rows := make([][]string, 0, len(daily)+1)
	rows = append(rows, []string{"drive_model_family", "day_index", "date", "annualized_failure_rate_percent"})
	for _, s := range daily {
		rows = append(rows, []string{
			s.Model,
			strconv.Itoa(s.DayIndex),
			s.Date.Format(asOfLayout),
			formatAFR(s.AFRPercent),
		})
	}
	return rows
}

// dailyPivotRows lays the daily series out as one row per day_index and one
// column per model. Cells past a model's last day are empty.
func dailyPivotRows(daily []models.CumulativeState) [][]string {
	modelSet := make(map[string]struct{})
	byDay := make(map[int]map[string]float64)
	for _, s := range daily {
		modelSet[s.Model] = struct{}{}
		day, ok := byDay[s.DayIndex]
		if !ok {
			day = make(map[string]float64)
			byDay[s.DayIndex] = day
		}
		day[s.Model] = s.AFRPercent
	}

	modelNames := sortedKeys(modelSet)
	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)

	rows := make([][]string, 0, len(days)+1)
	rows = append(rows, append([]string{"day_index"}, modelNames...))
	for _, d := range days {
		row := make([]string, 0, len(modelNames)+1)
		row = append(row, strconv.Itoa(d))
		for _, m := range modelNames {
			if v, ok := byDay[d][m]; ok {
				row = append(row, formatAFR(v))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// grid is the quarterly AFR laid out by quarter relative to each model's
// first reported quarter.
type grid struct {
	Header []string
	Rows   [][]string
}

func buildGrid(report *models.Report) grid {
	deployed := make(map[string]uint64, len(report.Models))
	for _, m := range report.Models {
		deployed[m.Name] = m.DeployCount
	}

	series := make(map[string][]models.QuarterlyResult)
	for _, q := range report.Quarterly {
		series[q.Model] = append(series[q.Model], q)
	}
	modelSet := make(map[string]struct{}, len(series))
	longest := 0
	for name, qs := range series {
		modelSet[name] = struct{}{}
		longest = max(longest, len(qs))
	}
	modelNames := sortedKeys(modelSet)

	g := grid{Header: []string{"year", "quarter"}}
	for _, name := range modelNames {
		g.Header = append(g.Header, fmt.Sprintf("%s (%d)", name, deployed[name]))
	}

	for i := 0; i < longest; i++ {
		row := []string{
			fmt.Sprintf("Year %d", i/4+1),
			fmt.Sprintf("Quarter %d", i%4+1),
		}
		for _, name := range modelNames {
			if qs := series[name]; i < len(qs) {
				row = append(row, fmt.Sprintf("%.2f", qs[i].AFRPercent))
			} else {
				row = append(row, "")
			}
		}
		g.Rows = append(g.Rows, row)
	}
	return g
}

func gridRows(report *models.Report) [][]string {
	g := buildGrid(report)
	return append([][]string{g.Header}, g.Rows...)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package reporter

import (
	"fmt"
	"io"
	"os"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/pkg/config"
)

// Output file names inside the report directory.
const (
	QuarterlyCSVFile     = "afr_quarterly.csv"
	DailyCSVFile         = "afr_daily.csv"
	DailyPivotCSVFile    = "afr_daily_pivot.csv"
	QuarterlyGridCSVFile = "afr_quarterly_grid.csv"
	JSONFile             = "report.json"
	TextFile             = "report.txt"
	IndexFile            = "index.html"
)

// Reporter interface for generating reports
type Reporter interface {
	Generate(report *models.Report) error
}

// reporter implements the Reporter interface
type reporter struct {
	config *config.Config
	out    io.Writer
}

// New creates a new reporter instance. The text format also prints to stdout.
func New(cfg *config.Config) Reporter {
	return &reporter{
		config: cfg,
		out:    os.Stdout,
	}
}

// Generate writes every requested format into the output directory.
func (r *reporter) Generate(report *models.Report) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	if err := os.MkdirAll(r.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if r.config.HasFormat(config.FormatCSV) {
		if err := WriteCSV(report, r.config); err != nil {
			return err
		}
	}
	if r.config.HasFormat(config.FormatJSON) {
		if err := WriteJSON(report, r.config); err != nil {
			return err
		}
	}
	if r.config.HasFormat(config.FormatHTML) {
		if err := WriteIndex(report, r.config); err != nil {
			return err
		}
	}
	if r.config.HasFormat(config.FormatText) {
		if err := writeText(report, r.config, r.out); err != nil {
			return err
		}
	}

	return nil
}

// OutputFiles lists the files Generate writes for the configured formats.
func OutputFiles(cfg *config.Config) []string {
	var files []string
	if cfg.HasFormat(config.FormatCSV) {
		files = append(files, QuarterlyCSVFile, QuarterlyGridCSVFile, DailyCSVFile, DailyPivotCSVFile)
	}
	if cfg.HasFormat(config.FormatJSON) {
		files = append(files, JSONFile)
	}
	if cfg.HasFormat(config.FormatHTML) {
		files = append(files, IndexFile)
	}
	if cfg.HasFormat(config.FormatText) {
		files = append(files, TextFile)
	}
	return files
}

package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/pkg/config"
)

const (
	textANSIReset = "\x1b[0m"
	textANSIBold  = "\x1b[1m"

	textModelWidth = 40
	maxListedNames = 20
)

// WriteText writes a human-readable text report to report.txt and stdout.
func WriteText(report *models.Report, cfg *config.Config) error {
	return writeText(report, cfg, os.Stdout)
}

func writeText(report *models.Report, cfg *config.Config, out io.Writer) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if out == nil {
		return fmt.Errorf("writer is nil")
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(cfg.OutputDir, TextFile)
	if err := os.WriteFile(outputPath, []byte(renderTextReport(report, false)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", TextFile, err)
	}

	if _, err := io.WriteString(out, renderTextReport(report, supportsANSI(out))); err != nil {
		return fmt.Errorf("failed to write text report to output: %w", err)
	}

	return nil
}

func renderTextReport(report *models.Report, useANSI bool) string {
	var b strings.Builder
	meta := report.Metadata

	generatedAt := strings.TrimSpace(report.Timestamp)
	if generatedAt == "" {
		if !meta.GeneratedAt.IsZero() {
			generatedAt = meta.GeneratedAt.UTC().Format(time.RFC3339)
		} else {
			generatedAt = "unknown"
		}
	}

	writeTextSectionHeader(&b, "Drive AFR Report", useANSI)
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt)
	fmt.Fprintf(&b, "Source: %s (%s)\n", valueOr(meta.Source, "unknown"), valueOr(meta.SourceHost, "unknown"))
	if meta.Table != "" {
		fmt.Fprintf(&b, "Table: %s\n", meta.Table)
	}
	fmt.Fprintf(&b, "Min drives: %d\n", meta.MinDrives)
	if meta.AnalysisDuration != "" {
		fmt.Fprintf(&b, "Analysis duration: %s\n", meta.AnalysisDuration)
	}
	b.WriteString("\n")

	dq := report.DataQuality
	writeTextSectionHeader(&b, "Summary", useANSI)
	fmt.Fprintf(&b, "Candidate model names: %d\n", dq.CandidateNames)
	fmt.Fprintf(&b, "Canonical models: %d\n", dq.CanonicalModels)
	fmt.Fprintf(&b, "Retained models: %d\n", dq.RetainedModels)
	fmt.Fprintf(&b, "Quarterly rows: %d\n", len(report.Quarterly))
	b.WriteString("\n")

	writeTextSectionHeader(&b, "Latest Quarter By Model", useANSI)
	latest := latestByModel(report.Quarterly)
	if len(latest) == 0 {
		b.WriteString("No models with AFR results.\n")
	} else {
		deployed := deployCounts(report.Models)
		fmt.Fprintf(&b, "%-*s %9s %-8s %-10s %14s %9s %8s\n",
			textModelWidth, "MODEL", "DRIVES", "QUARTER", "AS OF", "DRIVE DAYS", "FAILURES", "AFR %")
		b.WriteString(strings.Repeat("-", textModelWidth+65) + "\n")
		for _, q := range latest {
			fmt.Fprintf(&b, "%-*s %9d %-8s %-10s %14d %9d %8s\n",
				textModelWidth, truncateTextValue(q.Model, textModelWidth),
				deployed[q.Model],
				fmt.Sprintf("%dQ%d", q.Year, q.Quarter),
				q.AsOf.Format(asOfLayout),
				q.CumulativeDriveDays,
				q.CumulativeFailures,
				formatAFR(q.AFRPercent),
			)
		}
	}
	b.WriteString("\n")

	if len(dq.DroppedModels) > 0 {
		writeTextSectionHeader(&b, "Below Deploy Threshold", useANSI)
		deployed := deployCounts(report.Models)
		for _, name := range limitNames(dq.DroppedModels) {
			fmt.Fprintf(&b, "- %s (%d drives)\n", name, deployed[name])
		}
		writeOverflow(&b, len(dq.DroppedModels))
		b.WriteString("\n")
	}

	writeTextSectionHeader(&b, "Data Quality", useANSI)
	fmt.Fprintf(&b, "Rows ingested: %d\n", dq.RowsIngested)
	fmt.Fprintf(&b, "Malformed records: %d\n", dq.MalformedRecords)
	fmt.Fprintf(&b, "Unmapped records: %d\n", dq.UnmappedRecords)
	fmt.Fprintf(&b, "Degenerate days: %d\n", dq.DegenerateDays)
	fmt.Fprintf(&b, "Unnormalized names: %d\n", len(dq.UnnormalizedNames))
	for _, name := range limitNames(dq.UnnormalizedNames) {
		fmt.Fprintf(&b, "  - %s\n", name)
	}
	writeOverflow(&b, len(dq.UnnormalizedNames))

	if report.Drift != nil {
		b.WriteString("\n")
		writeTextSectionHeader(&b, "Baseline Drift", useANSI)
		fmt.Fprintf(&b, "Baseline: %s\n", report.Drift.Baseline)
		fmt.Fprintf(&b, "New rows: %d\n", report.Drift.Added)
		fmt.Fprintf(&b, "Restated rows: %d\n", len(report.Drift.Changed))
		for _, key := range limitNames(report.Drift.Changed) {
			fmt.Fprintf(&b, "  ~ %s\n", key)
		}
		writeOverflow(&b, len(report.Drift.Changed))
		fmt.Fprintf(&b, "Missing rows: %d\n", len(report.Drift.Missing))
		for _, key := range limitNames(report.Drift.Missing) {
			fmt.Fprintf(&b, "  - %s\n", key)
		}
		writeOverflow(&b, len(report.Drift.Missing))
	}

	return b.String()
}

func writeTextSectionHeader(b *strings.Builder, title string, useANSI bool) {
	header := title
	if useANSI {
		header = textANSIBold + title + textANSIReset
	}
	fmt.Fprintf(b, "%s\n", header)
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", len(title)))
}

func supportsANSI(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}

	info, err := file.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

// latestByModel keeps the last quarterly row of each model. Input is ordered
// by model then quarter.
func latestByModel(results []models.QuarterlyResult) []models.QuarterlyResult {
	var latest []models.QuarterlyResult
	for i, q := range results {
		if i+1 < len(results) && results[i+1].Model == q.Model {
			continue
		}
		latest = append(latest, q)
	}
	return latest
}

func deployCounts(list []models.CanonicalModel) map[string]uint64 {
	counts := make(map[string]uint64, len(list))
	for _, m := range list {
		counts[m.Name] = m.DeployCount
	}
	return counts
}

func limitNames(names []string) []string {
	if len(names) > maxListedNames {
		return names[:maxListedNames]
	}
	return names
}

func writeOverflow(b *strings.Builder, total int) {
	if total > maxListedNames {
		fmt.Fprintf(b, "  ... and %d more\n", total-maxListedNames)
	}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func truncateTextValue(value string, width int) string {
	if width <= 0 || len(value) <= width {
		return value
	}
	if width <= 3 {
		return value[:width]
	}
	return value[:width-3] + "..."
}

package reporter

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/pkg/config"
)

//go:embed templates/index.html.tmpl
var indexTemplateText string

var indexTemplate = template.Must(template.New(IndexFile).
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(indexTemplateText))

type indexData struct {
	GeneratedAt string
	Source      string
	Table       string
	MinDrives   uint64
	Grid        grid
	Models      []models.CanonicalModel
	DataQuality models.DataQuality
	Files       []string
}

// WriteIndex renders index.html, the landing page for serve and deploy.
func WriteIndex(report *models.Report, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var files []string
	for _, name := range OutputFiles(cfg) {
		if name != IndexFile {
			files = append(files, name)
		}
	}

	data := indexData{
		GeneratedAt: report.Metadata.GeneratedAt.UTC().Format(time.RFC3339),
		Source:      valueOr(report.Metadata.SourceHost, report.Metadata.Source),
		Table:       report.Metadata.Table,
		MinDrives:   report.Metadata.MinDrives,
		Grid:        buildGrid(report),
		Models:      report.Models,
		DataQuality: report.DataQuality,
		Files:       files,
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", IndexFile, err)
	}

	outputPath := filepath.Join(cfg.OutputDir, IndexFile)
	if err := os.WriteFile(outputPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", IndexFile, err)
	}

	slog.Debug("report written", slog.String("path", outputPath))
	return nil
}

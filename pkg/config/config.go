package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/drivespectre/internal/naming"
)

// Supported upstream sources.
const (
	SourceClickHouse = "clickhouse"
	SourcePostgres   = "postgres"
	SourceCSV        = "csv"
)

// Supported output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatText = "text"
	FormatHTML = "html"
)

// UploadConfig describes where finished reports are copied
type UploadConfig struct {
	URL       string
	Endpoint  string
	Region    string
	PathStyle bool
}

// Config holds all runtime configuration
type Config struct {
	// Source settings
	Source       string
	DSN          string
	Table        string
	InputPath    string
	QueryTimeout time.Duration
	BatchSize    int
	QueryRate    float64

	// Concurrency settings
	Concurrency int

	// Model selection
	Patterns      []string
	PatternsFile  string
	ExcludeModels []string
	MinDrives     uint64
	Normalization naming.Rules

	// Output settings
	OutputDir   string
	Format      string
	MetricsFile string
	Upload      UploadConfig

	// Baseline settings
	BaselinePath   string
	UpdateBaseline bool
	FailOnDrift    bool

	// Operational flags
	Verbose bool
	DryRun  bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source:        SourceClickHouse,
		Table:         "drivestats",
		QueryTimeout:  30 * time.Minute,
		BatchSize:     16384,
		Concurrency:   4,
		Patterns:      []string{},
		ExcludeModels: []string{},
		MinDrives:     2000,
		Normalization: naming.DefaultRules(),
		OutputDir:     "./report",
		Format:        "csv,json",
		Upload: UploadConfig{
			Endpoint:  "https://s3.us-west-004.backblazeb2.com",
			Region:    "us-west-004",
			PathStyle: true,
		},
	}
}

// Formats returns the requested output formats, lowercased and de-duplicated.
func (c *Config) Formats() []string {
	seen := make(map[string]struct{})
	formats := make([]string, 0)
	for _, part := range strings.Split(c.Format, ",") {
		f := strings.ToLower(strings.TrimSpace(part))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		formats = append(formats, f)
	}
	return formats
}

// HasFormat reports whether format was requested.
func (c *Config) HasFormat(format string) bool {
	for _, f := range c.Formats() {
		if f == format {
			return true
		}
	}
	return false
}

// Validate checks the configuration before a run.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceClickHouse, SourcePostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("--dsn is required for source %q", c.Source)
		}
		if !ValidTableName(c.Table) {
			return fmt.Errorf("invalid --table value %q", c.Table)
		}
	case SourceCSV:
		if strings.TrimSpace(c.InputPath) == "" {
			return fmt.Errorf("--input is required for source %q", c.Source)
		}
	default:
		return fmt.Errorf("invalid --source value %q (expected clickhouse, postgres or csv)", c.Source)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive, got %d", c.BatchSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive, got %d", c.Concurrency)
	}
	if c.QueryRate < 0 {
		return fmt.Errorf("--query-rate must not be negative, got %g", c.QueryRate)
	}
	if len(c.Patterns) == 0 {
		return fmt.Errorf("at least one --pattern or --patterns-file entry is required")
	}

	formats := c.Formats()
	if len(formats) == 0 {
		return fmt.Errorf("invalid --format value %q", c.Format)
	}
	for _, f := range formats {
		switch f {
		case FormatCSV, FormatJSON, FormatText, FormatHTML:
		default:
			return fmt.Errorf("invalid --format value %q (expected csv, json, text or html)", f)
		}
	}

	if c.Upload.URL != "" && !strings.HasPrefix(c.Upload.URL, "s3://") {
		return fmt.Errorf("invalid --upload value %q: must be an s3:// URL", c.Upload.URL)
	}
	if c.FailOnDrift && c.BaselinePath == "" {
		return fmt.Errorf("--fail-on-drift requires --baseline")
	}

	return nil
}

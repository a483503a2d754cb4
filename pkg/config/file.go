package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/drivespectre/internal/naming"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFileYAML is the canonical config filename.
	DefaultConfigFileYAML = ".drivespectre.yaml"
	// DefaultConfigFileYML is a compatible alternate config filename.
	DefaultConfigFileYML = ".drivespectre.yml"
)

// FileUpload is the upload section of the config file.
type FileUpload struct {
	URL       string `yaml:"url"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	PathStyle *bool  `yaml:"path_style"`
}

// FileConfig represents values loaded from a .drivespectre.yaml file.
type FileConfig struct {
	Source        string        `yaml:"source"`
	DSN           string        `yaml:"dsn"`
	ClickHouseDSN string        `yaml:"clickhouse_dsn"`
	Table         string        `yaml:"table"`
	Input         string        `yaml:"input"`
	Patterns      []string      `yaml:"patterns"`
	PatternsFile  string        `yaml:"patterns_file"`
	ExcludeModels []string      `yaml:"exclude_models"`
	MinDrives     *uint64       `yaml:"min_drives"`
	BatchSize     *int          `yaml:"batch_size"`
	Concurrency   *int          `yaml:"concurrency"`
	QueryRate     *float64      `yaml:"query_rate"`
	Timeout       string        `yaml:"timeout"`
	QueryTimeout  string        `yaml:"query_timeout"`
	Format        string        `yaml:"format"`
	Output        string        `yaml:"output"`
	MetricsFile   string        `yaml:"metrics_file"`
	Baseline      string        `yaml:"baseline"`
	Normalization *naming.Rules `yaml:"normalization"`
	Upload        FileUpload    `yaml:"upload"`
}

// Endpoint returns the configured source DSN.
func (fc *FileConfig) Endpoint() string {
	if fc == nil {
		return ""
	}
	if dsn := strings.TrimSpace(fc.DSN); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(fc.ClickHouseDSN)
}

// QueryTimeoutValue returns timeout from timeout/query_timeout fields.
func (fc *FileConfig) QueryTimeoutValue() string {
	if fc == nil {
		return ""
	}
	if timeout := strings.TrimSpace(fc.Timeout); timeout != "" {
		return timeout
	}
	return strings.TrimSpace(fc.QueryTimeout)
}

// Normalize trims and removes empty items from list fields.
func (fc *FileConfig) Normalize() {
	if fc == nil {
		return
	}
	fc.Patterns = normalizeList(fc.Patterns)
	fc.ExcludeModels = normalizeList(fc.ExcludeModels)
	fc.Source = strings.ToLower(strings.TrimSpace(fc.Source))
	fc.DSN = strings.TrimSpace(fc.DSN)
	fc.ClickHouseDSN = strings.TrimSpace(fc.ClickHouseDSN)
	fc.Table = strings.TrimSpace(fc.Table)
	fc.Input = strings.TrimSpace(fc.Input)
	fc.PatternsFile = strings.TrimSpace(fc.PatternsFile)
	fc.Format = strings.TrimSpace(fc.Format)
	fc.Output = strings.TrimSpace(fc.Output)
	fc.Timeout = strings.TrimSpace(fc.Timeout)
	fc.QueryTimeout = strings.TrimSpace(fc.QueryTimeout)
	fc.Upload.URL = strings.TrimSpace(fc.Upload.URL)
}

// ApplyTo copies file values into cfg. Settings for which explicit reports
// true were given on the command line and are left alone.
func (fc *FileConfig) ApplyTo(cfg *Config, explicit func(flag string) bool) error {
	if fc == nil || cfg == nil {
		return nil
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}

	setString := func(flag string, value string, target *string) {
		if value != "" && !explicit(flag) {
			*target = value
		}
	}

	setString("source", fc.Source, &cfg.Source)
	setString("dsn", fc.Endpoint(), &cfg.DSN)
	setString("table", fc.Table, &cfg.Table)
	setString("input", fc.Input, &cfg.InputPath)
	setString("patterns-file", fc.PatternsFile, &cfg.PatternsFile)
	setString("format", fc.Format, &cfg.Format)
	setString("output", fc.Output, &cfg.OutputDir)
	setString("metrics-file", fc.MetricsFile, &cfg.MetricsFile)
	setString("baseline", fc.Baseline, &cfg.BaselinePath)
	setString("upload", fc.Upload.URL, &cfg.Upload.URL)
	setString("upload-endpoint", fc.Upload.Endpoint, &cfg.Upload.Endpoint)
	setString("upload-region", fc.Upload.Region, &cfg.Upload.Region)

	if fc.Upload.PathStyle != nil && !explicit("upload-path-style") {
		cfg.Upload.PathStyle = *fc.Upload.PathStyle
	}
	if len(fc.Patterns) > 0 && !explicit("pattern") {
		cfg.Patterns = append([]string(nil), fc.Patterns...)
	}
	if len(fc.ExcludeModels) > 0 && !explicit("exclude") {
		cfg.ExcludeModels = append([]string(nil), fc.ExcludeModels...)
	}
	if fc.MinDrives != nil && !explicit("min-drives") {
		cfg.MinDrives = *fc.MinDrives
	}
	if fc.BatchSize != nil && !explicit("batch-size") {
		cfg.BatchSize = *fc.BatchSize
	}
	if fc.Concurrency != nil && !explicit("concurrency") {
		cfg.Concurrency = *fc.Concurrency
	}
	if fc.QueryRate != nil && !explicit("query-rate") {
		cfg.QueryRate = *fc.QueryRate
	}
	if timeout := fc.QueryTimeoutValue(); timeout != "" && !explicit("query-timeout") {
		d, err := ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout in config file: %w", err)
		}
		cfg.QueryTimeout = d
	}
	if fc.Normalization != nil {
		cfg.Normalization = *fc.Normalization
	}

	return nil
}

// AutoLoadFile discovers and loads the first available config file.
func AutoLoadFile() (*FileConfig, string, error) {
	candidates := []string{
		DefaultConfigFileYAML,
		DefaultConfigFileYML,
	}

	if homeDir, err := os.UserHomeDir(); err == nil && strings.TrimSpace(homeDir) != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, DefaultConfigFileYAML),
			filepath.Join(homeDir, DefaultConfigFileYML),
		)
	}

	return LoadFirstExistingFile(candidates)
}

// LoadFirstExistingFile loads the first config file that exists in paths.
func LoadFirstExistingFile(paths []string) (*FileConfig, string, error) {
	for _, path := range paths {
		candidate := strings.TrimSpace(path)
		if candidate == "" {
			continue
		}

		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", fmt.Errorf("failed to access config file %q: %w", candidate, err)
		}
		if info.IsDir() {
			return nil, "", fmt.Errorf("config path %q is a directory, expected a file", candidate)
		}

		cfg, err := LoadFile(candidate)
		if err != nil {
			return nil, "", err
		}
		return cfg, candidate, nil
	}

	return nil, "", nil
}

// LoadFile loads config values from a specific YAML file path.
func LoadFile(path string) (*FileConfig, error) {
	filename := strings.TrimSpace(path)
	if filename == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", filename, err)
	}

	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", filename, err)
	}

	cfg.Normalize()
	return cfg, nil
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

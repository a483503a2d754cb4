package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/drivespectre/internal/analyzer"
	"github.com/ppiankov/drivespectre/internal/collector"
	"github.com/ppiankov/drivespectre/internal/k8s"
	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/internal/pipeline"
	"github.com/ppiankov/drivespectre/pkg/config"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

// isolate keeps tests away from the user's config files and state.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv(config.EnvDSN, "")
	t.Setenv(config.EnvUpload, "")
	return dir
}

func TestNewAnalyzeCmdPreRunValidation(t *testing.T) {
	tests := []struct {
		name    string
		flags   map[string]string
		wantErr string
	}{
		{
			name: "valid_clickhouse",
			flags: map[string]string{
				"dsn":     "clickhouse://localhost:9000/default",
				"pattern": "^ST",
			},
		},
		{
			name: "valid_csv_text_html",
			flags: map[string]string{
				"source":  "csv",
				"input":   "./data",
				"pattern": "^ST",
				"format":  "text,html",
			},
		},
		{
			name: "invalid_query_timeout",
			flags: map[string]string{
				"dsn":           "clickhouse://localhost:9000/default",
				"pattern":       "^ST",
				"query-timeout": "bad",
			},
			wantErr: "invalid --query-timeout duration",
		},
		{
			name: "invalid_format",
			flags: map[string]string{
				"dsn":     "clickhouse://localhost:9000/default",
				"pattern": "^ST",
				"format":  "yaml",
			},
			wantErr: "invalid --format value",
		},
		{
			name:    "missing_dsn",
			flags:   map[string]string{"pattern": "^ST"},
			wantErr: "--dsn is required",
		},
		{
			name:    "missing_patterns",
			flags:   map[string]string{"dsn": "clickhouse://localhost:9000/default"},
			wantErr: "at least one --pattern",
		},
		{
			name: "invalid_source",
			flags: map[string]string{
				"source":  "sqlite",
				"pattern": "^ST",
			},
			wantErr: "invalid --source value",
		},
		{
			name: "invalid_upload",
			flags: map[string]string{
				"dsn":     "clickhouse://localhost:9000/default",
				"pattern": "^ST",
				"upload":  "https://bucket/prefix",
			},
			wantErr: "must be an s3:// URL",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			cmd := NewAnalyzeCmd()
			for name, value := range tc.flags {
				if err := cmd.Flags().Set(name, value); err != nil {
					t.Fatalf("failed to set %s flag: %v", name, err)
				}
			}

			err := cmd.PreRunE(cmd, nil)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewAnalyzeCmdAlias(t *testing.T) {
	cmd := NewAnalyzeCmd()

	hasAlias := false
	for _, alias := range cmd.Aliases {
		if alias == "afr" {
			hasAlias = true
			break
		}
	}
	if !hasAlias {
		t.Fatal("expected analyze command to include afr alias")
	}
}

func TestNewAnalyzeCmdDSNFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv(config.EnvDSN, "clickhouse://env-host:9000/default")

	cmd := NewAnalyzeCmd()
	if err := cmd.Flags().Set("pattern", "^ST"); err != nil {
		t.Fatalf("failed to set pattern flag: %v", err)
	}
	if err := cmd.PreRunE(cmd, nil); err != nil {
		t.Fatalf("expected env DSN to satisfy validation, got %v", err)
	}
}

func TestNewAnalyzeCmdAutoLoadsConfigFile(t *testing.T) {
	tempDir := isolate(t)

	configContent := "dsn: clickhouse://localhost:9000/default\nformat: text\ntimeout: 2h\npatterns:\n  - ^ST\n"
	if err := os.WriteFile(filepath.Join(tempDir, ".drivespectre.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := NewAnalyzeCmd()
	if err := cmd.PreRunE(cmd, nil); err != nil {
		t.Fatalf("expected auto-loaded config file to satisfy PreRun validation, got %v", err)
	}
}

func TestNewAnalyzeCmdConfigFlagLoadsCustomPath(t *testing.T) {
	tempDir := isolate(t)
	customPath := filepath.Join(tempDir, "custom-config.yaml")
	configContent := "source: postgres\ndsn: postgres://afr:secret@db:5432/drives\npatterns_file: patterns.yaml\n"
	if err := os.WriteFile(customPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write custom config file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "patterns.yaml"), []byte("seagate:\n  - ^ST\n"), 0o644); err != nil {
		t.Fatalf("failed to write patterns file: %v", err)
	}

	cmd := NewAnalyzeCmd()
	if err := cmd.Flags().Set("config", customPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}
	if err := cmd.PreRunE(cmd, nil); err != nil {
		t.Fatalf("expected --config path to load successfully, got %v", err)
	}
}

func TestNewAnalyzeCmdFlagsOverrideConfigFileValues(t *testing.T) {
	tempDir := isolate(t)

	// Config file intentionally contains invalid format and timeout values.
	configContent := "dsn: clickhouse://from-config:9000/default\nformat: yaml\ntimeout: bad-duration\npatterns:\n  - ^ST\n"
	if err := os.WriteFile(filepath.Join(tempDir, ".drivespectre.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := NewAnalyzeCmd()
	if err := cmd.Flags().Set("dsn", "clickhouse://from-cli:9000/default"); err != nil {
		t.Fatalf("failed to set dsn flag: %v", err)
	}
	if err := cmd.Flags().Set("format", "json"); err != nil {
		t.Fatalf("failed to set format flag: %v", err)
	}
	if err := cmd.Flags().Set("query-timeout", "1m"); err != nil {
		t.Fatalf("failed to set query-timeout flag: %v", err)
	}

	if err := cmd.PreRunE(cmd, nil); err != nil {
		t.Fatalf("expected CLI flags to override invalid config-file values, got %v", err)
	}
}

func TestRunAnalyzeFailsOnInvalidDSN(t *testing.T) {
	isolate(t)
	cfg := config.DefaultConfig()
	cfg.DSN = "://invalid"
	cfg.Patterns = []string{"^ST"}

	var out bytes.Buffer
	err := runAnalyze(context.Background(), cfg, &out)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "failed to create collector") {
		t.Fatalf("expected collector creation error, got %v", err)
	}
}

func writeDriveCSV(t *testing.T, dir string, firstDayFailures int) string {
	t.Helper()
	rows := []string{"date,serial_number,model,failure"}
	for _, day := range []string{"2024-01-01", "2024-03-31", "2024-04-01"} {
		for i, serial := range []string{"Z1", "Z2"} {
			failure := 0
			if day == "2024-01-01" && i < firstDayFailures {
				failure = 1
			}
			rows = append(rows, fmt.Sprintf("%s,%s,ST4000DM000,%d", day, serial, failure))
		}
		rows = append(rows, day+",W1,WDC WD60EFRX,0")
	}

	path := filepath.Join(dir, "drives.csv")
	if err := os.WriteFile(path, []byte(strings.Join(rows, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	return path
}

func csvConfig(dir, input string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Source = config.SourceCSV
	cfg.InputPath = input
	cfg.Patterns = []string{"^ST4000"}
	cfg.MinDrives = 1
	cfg.OutputDir = filepath.Join(dir, "report")
	cfg.Format = "csv,json,text,html"
	cfg.MetricsFile = filepath.Join(dir, "drivespectre.prom")
	cfg.BaselinePath = filepath.Join(dir, "baseline.json")
	return cfg
}

func TestRunAnalyzeCSVEndToEnd(t *testing.T) {
	dir := isolate(t)
	input := writeDriveCSV(t, dir, 0)

	cfg := csvConfig(dir, input)
	cfg.UpdateBaseline = true

	var out bytes.Buffer
	if err := runAnalyze(context.Background(), cfg, &out); err != nil {
		t.Fatalf("runAnalyze failed: %v", err)
	}

	for _, name := range []string{"afr_quarterly.csv", "afr_daily.csv", "report.json", "report.txt", "index.html"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, name)); err != nil {
			t.Fatalf("expected %s to be written: %v", name, err)
		}
	}
	if _, err := os.Stat(cfg.MetricsFile); err != nil {
		t.Fatalf("expected metrics file: %v", err)
	}
	if _, err := os.Stat(cfg.BaselinePath); err != nil {
		t.Fatalf("expected baseline file: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "report.json"))
	if err != nil {
		t.Fatalf("read report.json: %v", err)
	}
	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("parse report.json: %v", err)
	}
	if report.Tool != "drivespectre" || report.Metadata.Source != config.SourceCSV {
		t.Fatalf("unexpected report header: %+v", report.Metadata)
	}
	if len(report.Quarterly) != 2 {
		t.Fatalf("expected 2 quarterly rows, got %d", len(report.Quarterly))
	}
	if report.DataQuality.CandidateNames != 1 || report.DataQuality.RetainedModels != 1 {
		t.Fatalf("unexpected data quality: %+v", report.DataQuality)
	}

	for _, want := range []string{"Connecting to csv", "1 names matched", "Computed 2 quarterly rows", "Baseline saved"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestRunAnalyzeFailOnDrift(t *testing.T) {
	dir := isolate(t)
	input := writeDriveCSV(t, dir, 0)

	cfg := csvConfig(dir, input)
	cfg.UpdateBaseline = true
	var out bytes.Buffer
	if err := runAnalyze(context.Background(), cfg, &out); err != nil {
		t.Fatalf("initial run failed: %v", err)
	}

	// Upstream restates a failure inside the already published first quarter.
	writeDriveCSV(t, dir, 1)
	cfg = csvConfig(dir, input)
	cfg.FailOnDrift = true
	cfg.DryRun = true

	err := runAnalyze(context.Background(), cfg, &out)
	var fe *FindingsError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FindingsError, got %v", err)
	}
	if fe.Count != 1 {
		t.Fatalf("expected 1 finding, got %d", fe.Count)
	}
	if classifyError(err) != ExitFindings {
		t.Fatalf("expected findings exit code")
	}
}

func TestRunAnalyzeNoCandidates(t *testing.T) {
	dir := isolate(t)
	cfg := csvConfig(dir, writeDriveCSV(t, dir, 0))
	cfg.Patterns = []string{"^NOPE"}
	cfg.DryRun = true

	var out bytes.Buffer
	if err := runAnalyze(context.Background(), cfg, &out); err != nil {
		t.Fatalf("expected empty run to succeed, got %v", err)
	}
	if !strings.Contains(out.String(), "No model matched") {
		t.Fatalf("expected no-match notice, got:\n%s", out.String())
	}
	if _, err := os.Stat(cfg.OutputDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected dry run to skip output, got %v", err)
	}
}

func TestBuildReportIncludesOutcome(t *testing.T) {
	cfg := csvConfig(t.TempDir(), "drives.csv")
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	outcome := &pipeline.Outcome{
		Models: []models.CanonicalModel{{Name: "Seagate ST4000DM000", DeployCount: 2, Retained: true}},
		Result: &analyzer.Result{},
		DataQuality: models.DataQuality{
			CandidateNames: 1,
		},
	}

	report := buildReport(cfg, "drives.csv", outcome, now.Add(-2*time.Second), now)
	if report.Tool != "drivespectre" || report.Version != version {
		t.Fatalf("unexpected tool/version %q %q", report.Tool, report.Version)
	}
	if report.Timestamp != "2026-02-16T11:00:00Z" {
		t.Fatalf("expected UTC RFC3339 timestamp, got %q", report.Timestamp)
	}
	if report.Metadata.Table != "" {
		t.Fatalf("expected no table for csv source, got %q", report.Metadata.Table)
	}
	if report.Metadata.SourceHost != "drives.csv" {
		t.Fatalf("unexpected source host %q", report.Metadata.SourceHost)
	}
	if report.Quarterly == nil {
		t.Fatal("expected non-nil quarterly slice")
	}
	if len(report.Models) != 1 || report.DataQuality.CandidateNames != 1 {
		t.Fatalf("expected outcome to be copied, got %+v", report)
	}
	if report.Metadata.AnalysisDuration != "2s" {
		t.Fatalf("unexpected duration %q", report.Metadata.AnalysisDuration)
	}
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "empty", dsn: "", want: ""},
		{name: "url_password", dsn: "clickhouse://afr:secret@db:9000/default", want: "clickhouse://afr:***@db:9000/default"},
		{name: "url_no_password", dsn: "clickhouse://db:9000/default", want: "clickhouse://db:9000/default"},
		{name: "query_password", dsn: "clickhouse://db:9000/default?password=secret&debug=1", want: "clickhouse://db:9000/default?password=***&debug=1"},
		{name: "url_password_and_query", dsn: "clickhouse://afr:secret@db:9000/default?password=secret", want: "clickhouse://afr:***@db:9000/default?password=***"},
		{name: "url_escaped_user", dsn: "clickhouse://afr%40ops:secret@db:9000/default", want: "clickhouse://afr%40ops:***@db:9000/default"},
		{name: "key_value", dsn: "host=db user=afr password=secret dbname=drives", want: "host=db user=afr password=*** dbname=drives"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := maskDSN(tc.dsn); got != tc.want {
				t.Fatalf("maskDSN(%q) = %q, want %q", tc.dsn, got, tc.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "findings", err: fmt.Errorf("wrapped: %w", &FindingsError{Count: 2}), want: ExitFindings},
		{name: "source", err: fmt.Errorf("failed to list models: %w", &collector.SourceError{Source: "clickhouse", Op: "ping", Err: errors.New("boom")}), want: ExitSource},
		{name: "not_exist", err: fmt.Errorf("open: %w", os.ErrNotExist), want: ExitNotFound},
		{name: "dir_not_found", err: errors.New("directory not found: ./report"), want: ExitNotFound},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: ExitSource},
		{name: "invalid", err: errors.New("invalid --format value"), want: ExitInvalidArg},
		{name: "internal", err: errors.New("boom"), want: ExitInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyError(tc.err); got != tc.want {
				t.Fatalf("classifyError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestServeCommandAndReportDirValidation(t *testing.T) {
	cmd := NewServeCmd()
	if err := cmd.Args(cmd, []string{"a", "b"}); err == nil {
		t.Fatal("expected args validation error for too many arguments")
	}

	ctx := context.Background()
	if err := runServe(ctx, filepath.Join(t.TempDir(), "missing"), 8080); err == nil || !strings.Contains(err.Error(), "directory not found") {
		t.Fatalf("expected missing directory error, got %v", err)
	}

	dir := t.TempDir()
	if err := runServe(ctx, dir, 8080); err == nil || !strings.Contains(err.Error(), "no report found") {
		t.Fatalf("expected missing report error, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "afr_quarterly.csv"), []byte("model\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := checkReportDir(dir); err != nil {
		t.Fatalf("expected quarterly csv to satisfy check, got %v", err)
	}
}

func TestReportHandlerServesFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "report.json"), []byte(`{"tool":"drivespectre"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	server := httptest.NewServer(newReportHandler(dir))
	defer server.Close()

	resp, err := http.Get(server.URL + "/report.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDeployCommandAndRunDeployValidation(t *testing.T) {
	cmd := NewDeployCmd()
	if err := cmd.Args(cmd, []string{"a", "b"}); err == nil {
		t.Fatal("expected args validation error for too many arguments")
	}

	var out bytes.Buffer
	opts := deployOptions{namespace: "default", reportDir: filepath.Join(t.TempDir(), "missing")}
	if err := runDeploy(context.Background(), opts, &out); err == nil || !strings.Contains(err.Error(), "directory not found") {
		t.Fatalf("expected missing report dir error, got %v", err)
	}

	opts.reportDir = t.TempDir()
	if err := runDeploy(context.Background(), opts, &out); err == nil || !strings.Contains(err.Error(), "no report found") {
		t.Fatalf("expected missing report error, got %v", err)
	}
}

func TestPublishReport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"report.json":       "{}",
		"afr_quarterly.csv": "model\n",
		"afr_daily.csv":     "model\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	client := fake.NewSimpleClientset()
	opts := deployOptions{namespace: "reports", reportDir: dir, ingressHost: "afr.example.com"}
	publisher := k8s.NewPublisher(client, k8s.Options{
		Namespace:   opts.namespace,
		IngressHost: opts.ingressHost,
		Exclude:     k8s.DefaultExclude,
	})

	var out bytes.Buffer
	if err := publishReport(ctx, publisher, opts, &out); err != nil {
		t.Fatalf("publishReport: %v", err)
	}

	for _, want := range []string{"Created namespace 'reports'", "ConfigMap holds 2 files", "Created ingress for host 'afr.example.com'"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out.String())
		}
	}
	if _, err := client.AppsV1().Deployments("reports").Get(ctx, publisher.Name(), metav1.GetOptions{}); err != nil {
		t.Fatalf("expected deployment: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command execution failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), version) {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

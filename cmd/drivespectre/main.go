package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/drivespectre/internal/collector"
	"github.com/ppiankov/drivespectre/internal/logging"
	"github.com/ppiankov/drivespectre/pkg/config"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	verbose bool
)

// Exit codes for structured error reporting.
const (
	ExitSuccess    = 0
	ExitInternal   = 1
	ExitInvalidArg = 2
	ExitNotFound   = 3
	ExitSource     = 5
	ExitFindings   = 6
)

// FindingsError indicates the run completed but published rows were restated.
type FindingsError struct {
	Count int
}

func (e *FindingsError) Error() string {
	return fmt.Sprintf("%d findings detected", e.Count)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "drivespectre",
		Short: "Drive annualized failure rate reporter",
		Long: `DriveSpectre reads daily drive telemetry from ClickHouse, Postgres or CSV files,
merges raw model strings into canonical models and reports the cumulative
annualized failure rate of every model at quarterly sample points.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(verbose)
		},
	}

	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.AddCommand(NewAnalyzeCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewDeployCmd())
	root.AddCommand(NewVersionCmd())
	return root
}

func main() {
	logging.Init(false)
	if err := config.LoadEnv(); err != nil {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	if err := newRootCmd().Execute(); err != nil {
		exitCode := classifyError(err)
		var fe *FindingsError
		if errors.As(err, &fe) {
			slog.Info("findings detected", slog.Int("count", fe.Count))
		} else {
			slog.Error("command failed", slog.String("error", err.Error()))
		}
		os.Exit(exitCode)
	}
}

// exitMarkers maps lowercase error text to an exit code, checked in order.
var exitMarkers = []struct {
	code    int
	markers []string
}{
	{ExitNotFound, []string{"not a directory", "does not exist", "not found", "no such file"}},
	{ExitSource, []string{"dial", "connection refused", "i/o timeout", "network is unreachable"}},
	{ExitInvalidArg, []string{"required", "invalid", "must be", "expected"}},
}

func classifyError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var fe *FindingsError
	var se *collector.SourceError
	switch {
	case errors.As(err, &fe):
		return ExitFindings
	case errors.Is(err, os.ErrNotExist):
		return ExitNotFound
	case errors.As(err, &se):
		return ExitSource
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range exitMarkers {
		for _, marker := range rule.markers {
			if strings.Contains(msg, marker) {
				return rule.code
			}
		}
	}
	return ExitInternal
}

// Package app manages per-user state under the OS config directory.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	appName          = "drivespectre"
	markerFileName   = "first_run_completed"
	baselineFileName = "baseline.json"
)

// State is the drivespectre directory inside the user config dir.
type State struct {
	dir string
}

// NewState resolves the state directory without creating it.
func NewState() (*State, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return &State{dir: filepath.Join(configDir, appName)}, nil
}

// Dir returns the state directory path.
func (s *State) Dir() string {
	return s.dir
}

// BaselinePath is where the restatement baseline lives unless --baseline overrides it.
func (s *State) BaselinePath() string {
	return filepath.Join(s.dir, baselineFileName)
}

// MarkFirstRun reports whether this is the first run and records that it happened.
// Errors are logged and treated as not-first-run.
func (s *State) MarkFirstRun() bool {
	marker := filepath.Join(s.dir, markerFileName)

	_, err := os.Stat(marker)
	switch {
	case err == nil:
		slog.Debug("first run marker exists", slog.String("path", marker))
		return false
	case !errors.Is(err, os.ErrNotExist):
		slog.Error("failed to check first run marker", slog.String("path", marker), slog.String("error", err.Error()))
		return false
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		slog.Error("failed to create app config directory", slog.String("path", s.dir), slog.String("error", err.Error()))
		return false
	}
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		slog.Error("failed to create first run marker", slog.String("path", marker), slog.String("error", err.Error()))
		return false
	}

	slog.Debug("first run detected", slog.String("path", marker))
	return true
}

// DefaultBaselinePath returns the baseline path in the user's state dir.
func DefaultBaselinePath() (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}
	return state.BaselinePath(), nil
}

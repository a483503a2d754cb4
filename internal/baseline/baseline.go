// Package baseline snapshots published quarterly AFR rows so later runs can
// detect upstream restatements.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/drivespectre/internal/models"
)

const fileVersion = 1

// Entry is the stored fingerprint of one quarterly row. The last quarter of
// each model is provisional: it keeps moving until the quarter closes.
type Entry struct {
	Hash        string
	Provisional bool
}

// Snapshot maps Key(row) to its fingerprint.
type Snapshot map[string]Entry

// File is the persisted baseline JSON payload.
type File struct {
	Version int       `json:"version"`
	Rows    []FileRow `json:"rows"`
}

// FileRow is one persisted baseline entry
type FileRow struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Provisional bool   `json:"provisional,omitempty"`
}

// Key identifies a quarterly row as model|year|Qn.
func Key(q models.QuarterlyResult) string {
	return fmt.Sprintf("%s|%d|Q%d", q.Model, q.Year, q.Quarter)
}

// Fingerprint hashes the cumulative values of a quarterly row.
func Fingerprint(q models.QuarterlyResult) string {
	return hash(
		q.AsOf.UTC().Format("2006-01-02"),
		strconv.Itoa(q.DayIndex),
		strconv.FormatInt(q.CumulativeDriveDays, 10),
		strconv.FormatInt(q.CumulativeFailures, 10),
		strconv.FormatFloat(q.AFRPercent, 'f', 2, 64),
	)
}

// Take builds a snapshot from quarterly rows ordered by model then quarter.
func Take(rows []models.QuarterlyResult) Snapshot {
	snap := make(Snapshot, len(rows))
	for i, q := range rows {
		last := i+1 == len(rows) || rows[i+1].Model != q.Model
		snap[Key(q)] = Entry{Hash: Fingerprint(q), Provisional: last}
	}
	return snap
}

// Compare reports rows whose values changed since the snapshot, rows that
// disappeared and the number of new rows. Changes to provisional rows are
// expected and not reported.
func Compare(known Snapshot, rows []models.QuarterlyResult) *models.Drift {
	drift := &models.Drift{
		Changed: []string{},
		Missing: []string{},
	}

	seen := make(map[string]struct{}, len(rows))
	for _, q := range rows {
		key := Key(q)
		seen[key] = struct{}{}
		entry, ok := known[key]
		switch {
		case !ok:
			drift.Added++
		case !entry.Provisional && entry.Hash != Fingerprint(q):
			drift.Changed = append(drift.Changed, key)
		}
	}
	for key := range known {
		if _, ok := seen[key]; !ok {
			drift.Missing = append(drift.Missing, key)
		}
	}

	sort.Strings(drift.Changed)
	sort.Strings(drift.Missing)
	return drift
}

// Load reads a baseline file. Missing files return an empty snapshot.
func Load(path string) (Snapshot, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("baseline path is empty")
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("read baseline file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse baseline file: %w", err)
	}
	if file.Version != fileVersion {
		return nil, fmt.Errorf("unsupported baseline version: %d", file.Version)
	}

	snap := make(Snapshot, len(file.Rows))
	for _, row := range file.Rows {
		if row.Key == "" || row.Hash == "" {
			continue
		}
		snap[row.Key] = Entry{Hash: row.Hash, Provisional: row.Provisional}
	}
	return snap, nil
}

// Save writes a baseline file with rows sorted by key.
func Save(path string, snap Snapshot) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return errors.New("baseline path is empty")
	}

	dir := filepath.Dir(trimmed)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create baseline directory: %w", err)
		}
	}

	keys := make([]string, 0, len(snap))
	for key := range snap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	payload := File{Version: fileVersion, Rows: make([]FileRow, 0, len(keys))}
	for _, key := range keys {
		entry := snap[key]
		payload.Rows = append(payload.Rows, FileRow{Key: key, Hash: entry.Hash, Provisional: entry.Provisional})
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline file: %w", err)
	}
	if err := os.WriteFile(trimmed, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write baseline file: %w", err)
	}
	return nil
}

func hash(parts ...string) string {
	canonical := strings.Join(parts, "\x1f")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

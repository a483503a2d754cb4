package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ppiankov/drivespectre/internal/naming"
)

// SerialSource streams distinct (raw model, serial number) pairs.
// fn may be called from several goroutines.
type SerialSource interface {
	StreamSerials(ctx context.Context, rawNames []string, fn func(rawModel, serial string) error) error
}

// DeployResult is the outcome of the deploy-count gate
type DeployResult struct {
	Counts   map[string]uint64
	Retained []string
	Dropped  []string
}

// FilterByDeployCount counts distinct serial numbers per canonical model and
// keeps models with at least minDrives drives. A serial reported under two
// spellings of the same model is counted once.
func FilterByDeployCount(ctx context.Context, src SerialSource, lookup *naming.Lookup, minDrives uint64) (*DeployResult, error) {
	result := &DeployResult{
		Counts:   make(map[string]uint64, lookup.Len()),
		Retained: []string{},
		Dropped:  []string{},
	}
	if lookup.Len() == 0 {
		return result, nil
	}

	var mu sync.Mutex
	serials := make(map[string]map[string]struct{}, lookup.Len())

	err := src.StreamSerials(ctx, lookup.RawNames(), func(rawModel, serial string) error {
		canonical, ok := lookup.Canonical(rawModel)
		if !ok || serial == "" {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		set, ok := serials[canonical]
		if !ok {
			set = make(map[string]struct{})
			serials[canonical] = set
		}
		set[serial] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count deployed drives: %w", err)
	}

	for _, model := range lookup.Models() {
		count := uint64(len(serials[model]))
		result.Counts[model] = count
		if count >= minDrives {
			result.Retained = append(result.Retained, model)
			continue
		}
		result.Dropped = append(result.Dropped, model)
		slog.Debug("model below deploy threshold",
			slog.String("model", model),
			slog.Uint64("drives", count),
			slog.Uint64("min_drives", minDrives),
		)
	}
	sort.Strings(result.Retained)
	sort.Strings(result.Dropped)

	return result, nil
}

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/drivespectre/internal/models"
	"github.com/ppiankov/drivespectre/internal/naming"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func buildLookup(t *testing.T, raw ...string) *naming.Lookup {
	t.Helper()
	n, err := naming.NewNormalizer(naming.DefaultRules())
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}
	return n.Build(raw)
}

func TestAggregatorSumsAliasesOnSameDay(t *testing.T) {
	lookup := buildLookup(t, "WDC WUH721816ALE6L4", "WUH721816ALE6L4")
	agg := NewAggregator(lookup)

	agg.Ingest([]models.DailyRawRecord{
		{RawModel: "WDC WUH721816ALE6L4", Date: day(2024, 11, 20), DriveCount: 26395, FailureCount: 0},
	})
	agg.Ingest([]models.DailyRawRecord{
		{RawModel: "WUH721816ALE6L4", Date: day(2024, 11, 20), DriveCount: 74, FailureCount: 0},
	})

	byModel := agg.ByModel()
	records := byModel["WDC/HGST WUH721816ALE6L4"]
	if len(byModel) != 1 || len(records) != 1 {
		t.Fatalf("expected a single aggregated record, got %v", byModel)
	}
	got := records[0]
	if got.DriveCount != 26469 || got.FailureCount != 0 || !got.Date.Equal(day(2024, 11, 20)) {
		t.Fatalf("unexpected aggregated record: %+v", got)
	}
}

func TestAggregatorRejectsMalformedAndUnmapped(t *testing.T) {
	lookup := buildLookup(t, "ST12000NM0007")
	agg := NewAggregator(lookup)

	agg.Ingest([]models.DailyRawRecord{
		{RawModel: "ST12000NM0007", Date: day(2024, 1, 1), DriveCount: 10, FailureCount: 1},
		{RawModel: "ST12000NM0007", Date: day(2024, 1, 1), DriveCount: -1, FailureCount: 0},
		{RawModel: "ST12000NM0007", Date: day(2024, 1, 1), DriveCount: 3, FailureCount: -2},
		{RawModel: "ST12000NM0007", Date: day(2024, 1, 1), DriveCount: 1, FailureCount: 2},
		{RawModel: "UNKNOWN", Date: day(2024, 1, 1), DriveCount: 5, FailureCount: 0},
	})

	stats := agg.Stats()
	if stats.Accepted != 1 || stats.Malformed != 3 || stats.Unmapped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	records := agg.ByModel()["Seagate ST12000NM0007"]
	if len(records) != 1 || records[0].DriveCount != 10 || records[0].FailureCount != 1 {
		t.Fatalf("malformed rows leaked into aggregate: %+v", records)
	}
}

func TestAggregatorConcurrentIngestConserves(t *testing.T) {
	lookup := buildLookup(t, "WDC WUH721816ALE6L4", "WUH721816ALE6L4")
	agg := NewAggregator(lookup)

	const workers = 8
	const batches = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		raw := "WUH721816ALE6L4"
		if w%2 == 0 {
			raw = "WDC WUH721816ALE6L4"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				agg.Ingest([]models.DailyRawRecord{
					{RawModel: raw, Date: day(2024, 3, 1+b%3), DriveCount: 2, FailureCount: 1},
				})
			}
		}()
	}
	wg.Wait()

	var drives, failures int64
	records := agg.ByModel()["WDC/HGST WUH721816ALE6L4"]
	for _, rec := range records {
		drives += rec.DriveCount
		failures += rec.FailureCount
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 distinct days, got %d", len(records))
	}
	if drives != workers*batches*2 || failures != workers*batches {
		t.Fatalf("conservation violated: drives=%d failures=%d", drives, failures)
	}
	for i := 1; i < len(records); i++ {
		if !records[i-1].Date.Before(records[i].Date) {
			t.Fatalf("records not date-ascending: %v then %v", records[i-1].Date, records[i].Date)
		}
	}
}

func TestAnnualizedFailureRate(t *testing.T) {
	cases := []struct {
		name      string
		failures  int64
		driveDays int64
		want      float64
	}{
		{name: "zero_drive_days", failures: 0, driveDays: 0, want: 0},
		{name: "no_failures", failures: 0, driveDays: 1000, want: 0},
		{name: "one_failure_per_year", failures: 1, driveDays: 365, want: 100},
		{name: "rounds_two_decimals", failures: 2, driveDays: 3000, want: 24.33},
		{name: "exact_half_percent", failures: 1, driveDays: 73000, want: 0.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AnnualizedFailureRate(tc.failures, tc.driveDays); got != tc.want {
				t.Fatalf("expected %.2f, got %v", tc.want, got)
			}
		})
	}
}

func TestCumulateMonotonicAndIndexed(t *testing.T) {
	records := []models.DailyAggregatedRecord{
		{Model: "m", Date: day(2024, 1, 1), DriveCount: 0, FailureCount: 0},
		{Model: "m", Date: day(2024, 1, 5), DriveCount: 100, FailureCount: 1},
		{Model: "m", Date: day(2024, 2, 9), DriveCount: 100, FailureCount: 0},
		{Model: "m", Date: day(2024, 4, 1), DriveCount: 165, FailureCount: 2},
	}

	history, degenerate := Cumulate(records)
	if degenerate != 1 {
		t.Fatalf("expected 1 degenerate day, got %d", degenerate)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 states, got %d", len(history))
	}
	if history[0].DayIndex != 1 || history[0].AFRPercent != 0 {
		t.Fatalf("zero-drive first day must report day 1 and 0.00, got %+v", history[0])
	}
	for i, state := range history {
		if state.DayIndex != i+1 {
			t.Fatalf("day index at %d is %d", i, state.DayIndex)
		}
		if i > 0 {
			prev := history[i-1]
			if state.CumulativeDriveDays < prev.CumulativeDriveDays || state.CumulativeFailures < prev.CumulativeFailures {
				t.Fatalf("cumulative counters decreased at %d: %+v -> %+v", i, prev, state)
			}
		}
	}
	last := history[3]
	if last.CumulativeDriveDays != 365 || last.CumulativeFailures != 3 || last.AFRPercent != 300 {
		t.Fatalf("unexpected final state: %+v", last)
	}
}

func TestReduceQuarterlySelectsLastStateInQuarter(t *testing.T) {
	history := []models.CumulativeState{
		{Model: "m", Date: day(2023, 12, 30), DayIndex: 1, CumulativeDriveDays: 10},
		{Model: "m", Date: day(2024, 1, 2), DayIndex: 2, CumulativeDriveDays: 20},
		{Model: "m", Date: day(2024, 3, 31), DayIndex: 3, CumulativeDriveDays: 30, CumulativeFailures: 1, AFRPercent: 1216.67},
		{Model: "m", Date: day(2024, 7, 1), DayIndex: 4, CumulativeDriveDays: 40, CumulativeFailures: 1},
	}

	got := ReduceQuarterly(history)
	want := []struct {
		year, quarter, dayIndex int
	}{
		{2023, 4, 1},
		{2024, 1, 3},
		{2024, 3, 4},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d quarters, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Year != w.year || got[i].Quarter != w.quarter || got[i].DayIndex != w.dayIndex {
			t.Fatalf("quarter %d: expected %+v, got %+v", i, w, got[i])
		}
	}
	if got[1].CumulativeDriveDays != 30 || got[1].AFRPercent != 1216.67 || !got[1].AsOf.Equal(day(2024, 3, 31)) {
		t.Fatalf("Q1 must mirror the last state of the quarter, got %+v", got[1])
	}
}

func TestQuarterOf(t *testing.T) {
	for month := time.January; month <= time.December; month++ {
		want := (int(month) + 2) / 3
		if got := QuarterOf(day(2024, month, 15)); got != want {
			t.Fatalf("month %v: expected Q%d, got Q%d", month, want, got)
		}
	}
}

type fakeSerialSource struct {
	serials map[string][]string
	err     error
	gotRaw  []string
}

func (f *fakeSerialSource) StreamSerials(ctx context.Context, rawNames []string, fn func(string, string) error) error {
	f.gotRaw = rawNames
	if f.err != nil {
		return f.err
	}
	for _, raw := range rawNames {
		for _, serial := range f.serials[raw] {
			if err := fn(raw, serial); err != nil {
				return err
			}
		}
	}
	return nil
}

func serialRange(prefix string, from, to int) []string {
	serials := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		serials = append(serials, fmt.Sprintf("%s%06d", prefix, i))
	}
	return serials
}

func TestFilterByDeployCount(t *testing.T) {
	lookup := buildLookup(t, "WDC WUH721816ALE6L4", "WUH721816ALE6L4", "ST12000NM0007")
	src := &fakeSerialSource{serials: map[string][]string{
		"WDC WUH721816ALE6L4": serialRange("W", 0, 1500),
		// 500 drives overlap the other spelling and must be counted once.
		"WUH721816ALE6L4": serialRange("W", 1000, 2100),
		"ST12000NM0007":   serialRange("S", 0, 1500),
	}}

	result, err := FilterByDeployCount(context.Background(), src, lookup, 2000)
	if err != nil {
		t.Fatalf("FilterByDeployCount failed: %v", err)
	}
	if got := result.Counts["WDC/HGST WUH721816ALE6L4"]; got != 2100 {
		t.Fatalf("expected 2100 distinct drives, got %d", got)
	}
	if len(result.Retained) != 1 || result.Retained[0] != "WDC/HGST WUH721816ALE6L4" {
		t.Fatalf("unexpected retained models: %v", result.Retained)
	}
	if len(result.Dropped) != 1 || result.Dropped[0] != "Seagate ST12000NM0007" {
		t.Fatalf("unexpected dropped models: %v", result.Dropped)
	}
	if len(src.gotRaw) != 3 {
		t.Fatalf("expected every candidate raw name to be queried, got %v", src.gotRaw)
	}
}

func TestFilterByDeployCountPropagatesSourceError(t *testing.T) {
	lookup := buildLookup(t, "ST12000NM0007")
	_, err := FilterByDeployCount(context.Background(), &fakeSerialSource{err: errors.New("connection refused")}, lookup, 1)
	if err == nil {
		t.Fatal("expected source error")
	}
}

func TestAnalyzerThresholdDroppedModelYieldsNoRows(t *testing.T) {
	full := buildLookup(t, "ST12000NM0007", "ST4000DM000")
	src := &fakeSerialSource{serials: map[string][]string{
		"ST12000NM0007": serialRange("A", 0, 2500),
		"ST4000DM000":   serialRange("B", 0, 1500),
	}}
	deploy, err := FilterByDeployCount(context.Background(), src, full, 2000)
	if err != nil {
		t.Fatalf("FilterByDeployCount failed: %v", err)
	}

	an := New(full.Restrict(deploy.Retained), 2)
	if err := an.Ingest([]models.DailyRawRecord{
		{RawModel: "ST12000NM0007", Date: day(2024, 1, 1), DriveCount: 2500, FailureCount: 1},
		{RawModel: "ST4000DM000", Date: day(2024, 1, 1), DriveCount: 1500, FailureCount: 1},
	}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	result, err := an.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	for _, row := range result.Quarterly {
		if row.Model == "Seagate ST4000DM000" {
			t.Fatalf("model below threshold produced a row: %+v", row)
		}
	}
	if len(result.Quarterly) != 1 || result.Ingest.Unmapped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAnalyzerFinalizeOrdersByModelAndQuarter(t *testing.T) {
	lookup := buildLookup(t, "ST12000NM0007", "TOSHIBA MG08ACA16TE", "WUH721816ALE6L4")
	an := New(lookup, 3)

	var batch []models.DailyRawRecord
	for _, raw := range []string{"WUH721816ALE6L4", "TOSHIBA MG08ACA16TE", "ST12000NM0007"} {
		batch = append(batch,
			models.DailyRawRecord{RawModel: raw, Date: day(2024, 8, 1), DriveCount: 100, FailureCount: 1},
			models.DailyRawRecord{RawModel: raw, Date: day(2024, 2, 1), DriveCount: 100},
		)
	}
	if err := an.Ingest(batch); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	result, err := an.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	wantModels := []string{"Seagate ST12000NM0007", "Toshiba MG08ACA16TE", "WDC/HGST WUH721816ALE6L4"}
	if len(result.Quarterly) != 6 {
		t.Fatalf("expected 6 quarterly rows, got %d", len(result.Quarterly))
	}
	for i, row := range result.Quarterly {
		if row.Model != wantModels[i/2] {
			t.Fatalf("row %d: expected model %s, got %s", i, wantModels[i/2], row.Model)
		}
		wantQuarter := 1
		if i%2 == 1 {
			wantQuarter = 3
		}
		if row.Quarter != wantQuarter {
			t.Fatalf("row %d: expected Q%d, got Q%d", i, wantQuarter, row.Quarter)
		}
	}
	if got := len(result.Daily()); got != 6 {
		t.Fatalf("expected 6 daily states, got %d", got)
	}

	if err := an.Ingest(batch); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized after Finalize, got %v", err)
	}
}

func TestAnalyzerFinalizeRacingIngestLosesNothing(t *testing.T) {
	an := New(buildLookup(t, "ST4000DM000"), 2)

	const workers = 8
	var accepted atomic.Int64
	var rejected atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for b := 0; b < 200; b++ {
				err := an.Ingest([]models.DailyRawRecord{
					{RawModel: "ST4000DM000", Date: day(2024, 1, 1+b%28), DriveCount: 2},
				})
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, ErrFinalized):
					rejected.Add(1)
				default:
					t.Errorf("unexpected ingest error: %v", err)
					return
				}
			}
		}()
	}

	close(start)
	result, err := an.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	wg.Wait()

	if result.Ingest.Accepted != accepted.Load() {
		t.Fatalf("finalized %d rows, but %d ingests succeeded", result.Ingest.Accepted, accepted.Load())
	}
	var driveDays int64
	for _, s := range result.Series {
		if n := len(s.History); n > 0 {
			driveDays += s.History[n-1].CumulativeDriveDays
		}
	}
	if driveDays != 2*accepted.Load() {
		t.Fatalf("expected %d drive-days from accepted rows, got %d", 2*accepted.Load(), driveDays)
	}
	if accepted.Load()+rejected.Load() != workers*200 {
		t.Fatalf("expected every ingest to be accepted or rejected, got %d + %d", accepted.Load(), rejected.Load())
	}
}

func TestAggregatorSealRejectsIngest(t *testing.T) {
	agg := NewAggregator(buildLookup(t, "ST4000DM000"))
	batch := []models.DailyRawRecord{{RawModel: "ST4000DM000", Date: day(2024, 1, 1), DriveCount: 3}}
	if err := agg.Ingest(batch); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	grouped, stats := agg.Seal()
	if stats.Accepted != 1 || len(grouped["Seagate ST4000DM000"]) != 1 {
		t.Fatalf("unexpected sealed state: %+v %v", stats, grouped)
	}
	if err := agg.Ingest(batch); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized after Seal, got %v", err)
	}
	if agg.Stats().Accepted != 1 {
		t.Fatalf("expected rejected batch not to be counted, got %+v", agg.Stats())
	}
}

func TestAnalyzerEmptyInput(t *testing.T) {
	an := New(buildLookup(t), 4)
	result, err := an.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(result.Series) != 0 || len(result.Quarterly) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

package models

import "time"

// DailyRawRecord is one upstream row for a single reporting day
type DailyRawRecord struct {
	RawModel     string    `json:"raw_model"`
	Date         time.Time `json:"date"`
	DriveCount   int64     `json:"drive_count"`
	FailureCount int64     `json:"failure_count"`
}

// DailyAggregatedRecord sums every raw row sharing a canonical model and date
type DailyAggregatedRecord struct {
	Model        string    `json:"model"`
	Date         time.Time `json:"date"`
	DriveCount   int64     `json:"drive_count"`
	FailureCount int64     `json:"failure_count"`
}

// CumulativeState is a model's running totals as of one day of data
type CumulativeState struct {
	Model               string    `json:"model"`
	Date                time.Time `json:"date"`
	DayIndex            int       `json:"day_index"`
	CumulativeDriveDays int64     `json:"cumulative_drive_days"`
	CumulativeFailures  int64     `json:"cumulative_failures"`
	AFRPercent          float64   `json:"annualized_failure_rate_percent"`
}

// QuarterlyResult is the last cumulative state of a model within a calendar quarter
type QuarterlyResult struct {
	Model               string    `json:"model"`
	Year                int       `json:"year"`
	Quarter             int       `json:"quarter"`
	AsOf                time.Time `json:"as_of"`
	DayIndex            int       `json:"day_index"`
	CumulativeDriveDays int64     `json:"cumulative_drive_days"`
	CumulativeFailures  int64     `json:"cumulative_failures"`
	AFRPercent          float64   `json:"annualized_failure_rate_percent"`
}

// CanonicalModel describes a normalized model family and the raw spellings behind it
type CanonicalModel struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases"`
	DeployCount uint64   `json:"deploy_count"`
	Retained    bool     `json:"retained"`
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

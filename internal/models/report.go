package models

import "time"

// Report is the complete output structure
type Report struct {
	Tool        string            `json:"tool"`
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Metadata    Metadata          `json:"metadata"`
	Models      []CanonicalModel  `json:"models"`
	Quarterly   []QuarterlyResult `json:"quarterly"`
	Daily       []CumulativeState `json:"-"`
	DataQuality DataQuality       `json:"data_quality"`
	Drift       *Drift            `json:"drift,omitempty"`
}

// Metadata contains report generation info
type Metadata struct {
	GeneratedAt      time.Time `json:"generated_at"`
	Source           string    `json:"source"`
	SourceHost       string    `json:"source_host"`
	Table            string    `json:"table,omitempty"`
	Patterns         []string  `json:"patterns"`
	MinDrives        uint64    `json:"min_drives"`
	AnalysisDuration string    `json:"analysis_duration"`
	Version          string    `json:"version"`
}

// DataQuality counts every recoverable data issue seen during a run
type DataQuality struct {
	CandidateNames    int      `json:"candidate_names"`
	CanonicalModels   int      `json:"canonical_models"`
	RetainedModels    int      `json:"retained_models"`
	DroppedModels     []string `json:"dropped_models"`
	UnnormalizedNames []string `json:"unnormalized_names"`
	RowsIngested      int64    `json:"rows_ingested"`
	MalformedRecords  int64    `json:"malformed_records"`
	UnmappedRecords   int64    `json:"unmapped_records"`
	DegenerateDays    int64    `json:"degenerate_days"`
	Warnings          int64    `json:"warnings"`
}

// Drift lists quarterly rows that differ from a saved baseline
type Drift struct {
	Baseline string   `json:"baseline"`
	Changed  []string `json:"changed"`
	Missing  []string `json:"missing"`
	Added    int      `json:"added"`
}

// HasFindings reports whether previously published rows were restated or removed.
func (d *Drift) HasFindings() bool {
	return d != nil && (len(d.Changed) > 0 || len(d.Missing) > 0)
}

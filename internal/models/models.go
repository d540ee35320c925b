package models

import "time"

// RawRecord represents one source-shaped record as returned by an adapter,
// before normalization. Timestamp fields are kept as raw text; the normalizer
// owns parsing and rejection.
type RawRecord struct {
	NaturalID   string `json:"natural_id,omitempty"` // e.g. municipal case number
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
	Location    string `json:"location"`
	CrimeType   string `json:"crime_type,omitempty"` // source-supplied category, if any
	OccurredAt  string `json:"occurred_at"`          // raw timestamp text
	URL         string `json:"url,omitempty"`        // article URL (news sources)
	PublishedAt string `json:"published_at,omitempty"`
}

// Incident is the canonical record of one reported event.
type Incident struct {
	IncidentID  string    `json:"incident_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	CrimeType   string    `json:"crime_type"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Crime type buckets assigned by the keyword classifier.
const (
	CrimeHomicide     = "HOMICIDE"
	CrimeShooting     = "SHOOTING"
	CrimeRobberyTheft = "ROBBERY/THEFT"
	CrimeAssault      = "ASSAULT"
	CrimeDrugRelated  = "DRUG RELATED"
	CrimeOther        = "OTHER"
	CrimeUnclassified = "UNCLASSIFIED"
)

// Fetch cycle outcomes recorded per source.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// SourceStatus tracks the outcome of the most recent fetch cycle for one
// source. Exactly one row per source; later cycles overwrite earlier ones.
type SourceStatus struct {
	Source       string    `json:"source"`
	LastFetchAt  time.Time `json:"last_fetch_at"`
	Status       string    `json:"status"`
	RecordsCount int       `json:"records_count"`
}

// SkippedIncident reports one row that failed structural validation during a
// batch upsert.
type SkippedIncident struct {
	Incident Incident `json:"incident"`
	Reason   string   `json:"reason"`
}

// BatchResult summarizes one UpsertBatch call.
type BatchResult struct {
	Affected int               `json:"affected"`
	Skipped  []SkippedIncident `json:"skipped,omitempty"`
}

// Statistics is the aggregate read contract consumed by reporting tools.
type Statistics struct {
	Total     int            `json:"total"`
	BySource  map[string]int `json:"by_source"`
	DateRange DateRange      `json:"date_range"`
}

// DateRange holds the min/max occurred_at over all stored incidents. Both
// are zero when the store is empty.
type DateRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

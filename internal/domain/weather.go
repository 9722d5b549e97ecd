package domain

import "time"

// City is one ingestion target read from the registry.
type City struct {
	ID        int64
	Latitude  float64
	Longitude float64
}

// RawBatchStatus marks an archived payload as a successful or failed fetch.
type RawBatchStatus string

const (
	RawBatchOK    RawBatchStatus = "OK"
	RawBatchError RawBatchStatus = "ERROR"
)

// RawBatch is one archived provider response (or failure) for one run.
// Archived rows are append-only and retained for audit and replay.
type RawBatch struct {
	RequestURL  string
	Payload     string
	PayloadHash string
	Status      RawBatchStatus
	ErrMsg      *string
}

// Measurements holds the four current-weather metrics. Each field is
// independently optional; nil means the provider did not report a usable
// value.
type Measurements struct {
	TemperatureC    *float64
	HumidityPct     *float64
	PrecipitationMM *float64
	WindSpeedKmh    *float64
}

// Observation is one validated per-city reading destined for the
// time-series store. At most one observation exists per
// (CityID, ObservedAtUTC) pair.
type Observation struct {
	CityID           int64
	RawID            int64
	ObservedAtUTC    time.Time
	UTCOffsetSeconds int
	Measurements
}

// AuditEvent is one row of the append-only audit log. Pointer fields map to
// nullable columns.
type AuditEvent struct {
	Level        string
	Source       string
	Action       string
	Result       string
	SQLCode      *string
	ErrorMessage *string
	CityID       *int64
	RawID        *int64
	WeatherID    *int64
	AppUser      string
	RunID        string
	Details      *string
}

// RunSummary describes the outcome of one completed run, published to the
// optional summary topic after commit.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	RawID       *int64    `json:"raw_id,omitempty"`
	Cities      int       `json:"cities"`
	Prepared    int       `json:"prepared"`
	Inserted    int       `json:"inserted"`
	Skipped     int       `json:"skipped"`
	CompletedAt time.Time `json:"completed_at"`
}

package models

import "time"

// ReportStatus is the lifecycle state of a report run.
type ReportStatus string

const (
	ReportRunning  ReportStatus = "running"
	ReportComplete ReportStatus = "complete"
	ReportFailed   ReportStatus = "failed"
)

// Report tracks one asynchronous batch run and where its export lives.
type Report struct {
	ID            string       `json:"id"`
	Status        ReportStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	ReferenceTime time.Time    `json:"reference_time"`
	StoreCount    int          `json:"store_count"`
	FailureCount  int          `json:"failure_count"`
	FilePath      string       `json:"file_path,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// ReportRow is the per-store output record. Hour values are minutes, day and
// week values are hours, all rounded to 2 decimals. Error is set instead of
// the metrics when the store could not be computed.
type ReportRow struct {
	StoreID          string  `json:"store_id"`
	UptimeLastHour   float64 `json:"uptime_last_hour"`
	DowntimeLastHour float64 `json:"downtime_last_hour"`
	UptimeLastDay    float64 `json:"uptime_last_day"`
	DowntimeLastDay  float64 `json:"downtime_last_day"`
	UptimeLastWeek   float64 `json:"uptime_last_week"`
	DowntimeLastWeek float64 `json:"downtime_last_week"`
	Error            string  `json:"error,omitempty"`
}

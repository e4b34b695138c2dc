// Package report turns engine results into output rows.
package report

import (
	"math"

	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/uptime"
)

// RowFromResult converts a store's three window estimates into a row. Hour
// values are minutes, day and week values are hours. Rounding to 2 decimals
// happens here and nowhere else.
func RowFromResult(res uptime.StoreResult) models.ReportRow {
	return models.ReportRow{
		StoreID:          res.StoreID,
		UptimeLastHour:   round2(res.Hour.UptimeValue()),
		DowntimeLastHour: round2(res.Hour.DowntimeValue()),
		UptimeLastDay:    round2(res.Day.UptimeValue()),
		DowntimeLastDay:  round2(res.Day.DowntimeValue()),
		UptimeLastWeek:   round2(res.Week.UptimeValue()),
		DowntimeLastWeek: round2(res.Week.DowntimeValue()),
	}
}

// RowFromOutcome converts a batch outcome. Failed stores keep their ID, zero
// metrics and the failure reason.
func RowFromOutcome(o uptime.Outcome) models.ReportRow {
	if o.Result != nil {
		return RowFromResult(*o.Result)
	}
	row := models.ReportRow{StoreID: o.StoreID}
	if o.Failure != nil {
		row.Error = o.Failure.Reason
	}
	return row
}

// Rows converts outcomes in order and counts failures.
func Rows(outcomes []uptime.Outcome) (rows []models.ReportRow, failures int) {
	rows = make([]models.ReportRow, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Failure != nil {
			failures++
		}
		rows = append(rows, RowFromOutcome(o))
	}
	return rows, failures
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

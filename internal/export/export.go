// Package export writes report rows as CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// Header is the fixed column order of exported reports.
var Header = []string{
	"store_id",
	"uptime_last_hour",
	"downtime_last_hour",
	"uptime_last_day",
	"downtime_last_day",
	"uptime_last_week",
	"downtime_last_week",
	"error",
}

// WriteCSV writes the header and one record per row.
func WriteCSV(w io.Writer, rows []models.ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.StoreID,
			formatValue(r.UptimeLastHour),
			formatValue(r.DowntimeLastHour),
			formatValue(r.UptimeLastDay),
			formatValue(r.DowntimeLastDay),
			formatValue(r.UptimeLastWeek),
			formatValue(r.DowntimeLastWeek),
			r.Error,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %s: %w", r.StoreID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName returns the export file name for a report.
func FileName(reportID string, compress bool) string {
	if compress {
		return reportID + ".csv.gz"
	}
	return reportID + ".csv"
}

// WriteFile writes rows to dir/<reportID>.csv (or .csv.gz when compress is
// set) and returns the path. The file appears atomically: readers never see
// a partial export.
func WriteFile(dir, reportID string, rows []models.ReportRow, compress bool) (path string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+reportID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if compress {
		zw := gzip.NewWriter(tmp)
		zw.Name = FileName(reportID, false)
		if err = WriteCSV(zw, rows); err != nil {
			return "", err
		}
		if err = zw.Close(); err != nil {
			return "", fmt.Errorf("close gzip writer: %w", err)
		}
	} else if err = WriteCSV(tmp, rows); err != nil {
		return "", err
	}

	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync export: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	path = filepath.Join(dir, FileName(reportID, compress))
	if err = os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish export: %w", err)
	}
	return path, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

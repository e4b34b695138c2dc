package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// CreateReport inserts a new report run.
func (d *DB) CreateReport(ctx context.Context, r models.Report) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO reports (report_id, status, created_at, completed_at, reference_time,
			store_count, failure_count, file_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Status), formatTime(r.CreatedAt), nullableTime(r),
		formatTime(r.ReferenceTime), r.StoreCount, r.FailureCount, r.FilePath, r.Error)
	if err != nil {
		return fmt.Errorf("create report %s: %w", r.ID, err)
	}
	return nil
}

// UpdateReport overwrites the mutable fields of an existing report.
func (d *DB) UpdateReport(ctx context.Context, r models.Report) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE reports
		SET status = ?, completed_at = ?, reference_time = ?, store_count = ?,
			failure_count = ?, file_path = ?, error = ?
		WHERE report_id = ?`,
		string(r.Status), nullableTime(r), formatTime(r.ReferenceTime), r.StoreCount,
		r.FailureCount, r.FilePath, r.Error, r.ID)
	if err != nil {
		return fmt.Errorf("update report %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report %s: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("report %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// GetReport returns a report by ID or ErrNotFound.
func (d *DB) GetReport(ctx context.Context, id string) (models.Report, error) {
	var (
		r                      models.Report
		status, created, refTS string
		completed              sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT report_id, status, created_at, completed_at, reference_time,
			store_count, failure_count, file_path, error
		FROM reports WHERE report_id = ?`, id).
		Scan(&r.ID, &status, &created, &completed, &refTS, &r.StoreCount, &r.FailureCount, &r.FilePath, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Report{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("get report %s: %w", id, err)
	}

	r.Status = models.ReportStatus(status)
	if r.CreatedAt, err = parseTime(created); err != nil {
		return models.Report{}, fmt.Errorf("report %s created_at: %w", id, err)
	}
	if r.ReferenceTime, err = parseTime(refTS); err != nil {
		return models.Report{}, fmt.Errorf("report %s reference_time: %w", id, err)
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return models.Report{}, fmt.Errorf("report %s completed_at: %w", id, err)
		}
		r.CompletedAt = &t
	}
	return r, nil
}

func nullableTime(r models.Report) any {
	if r.CompletedAt == nil {
		return nil
	}
	return formatTime(*r.CompletedAt)
}

// RecentReportIDs returns up to limit report IDs, newest first.
func (d *DB) RecentReportIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT report_id FROM reports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent reports: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FailInterruptedReports marks reports still running (left over from a
// previous process) as failed and returns how many were updated.
func (d *DB) FailInterruptedReports(ctx context.Context, at time.Time, reason string) (int, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE reports SET status = ?, completed_at = ?, error = ?
		WHERE status = ?`,
		string(models.ReportFailed), formatTime(at), reason, string(models.ReportRunning))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail interrupted reports: %w", err)
	}
	return int(n), nil
}

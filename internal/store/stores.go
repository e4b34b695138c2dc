package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/uptime"
)

// UpsertStores inserts stores or updates their timezone.
func (d *DB) UpsertStores(ctx context.Context, stores []models.Store) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stores (store_id, timezone) VALUES (?, ?)
		ON CONFLICT(store_id) DO UPDATE SET timezone = excluded.timezone`)
	if err != nil {
		return fmt.Errorf("prepare upsert store: %w", err)
	}
	defer stmt.Close()

	for _, s := range stores {
		if _, err = stmt.ExecContext(ctx, s.ID, defaultZone(s.Timezone)); err != nil {
			return fmt.Errorf("upsert store %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// EnsureStores creates UTC stores for ids that do not exist yet.
func (d *DB) EnsureStores(ctx context.Context, ids []string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO stores (store_id, timezone) VALUES (?, 'UTC')`)
	if err != nil {
		return fmt.Errorf("prepare ensure store: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err = stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("ensure store %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// InsertScheduleEntries appends schedule entries in one transaction.
func (d *DB) InsertScheduleEntries(ctx context.Context, entries []models.ScheduleEntry) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO store_hours (store_id, day, start_local, end_local) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert hours: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err = stmt.ExecContext(ctx, e.StoreID, int(e.Day), e.Start.String(), e.End.String()); err != nil {
			return fmt.Errorf("insert hours for %s: %w", e.StoreID, err)
		}
	}
	return tx.Commit()
}

// InsertObservations appends status observations in one transaction.
func (d *DB) InsertObservations(ctx context.Context, obs []models.Observation) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO store_status (store_id, status, observed_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert status: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err = stmt.ExecContext(ctx, o.StoreID, string(o.Status), formatTime(o.Timestamp)); err != nil {
			return fmt.Errorf("insert status for %s: %w", o.StoreID, err)
		}
	}
	return tx.Commit()
}

// ListStoreIDs returns up to limit store IDs ordered by ID and strictly
// greater than after. Pass "" to start from the beginning.
func (d *DB) ListStoreIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT store_id FROM stores WHERE store_id > ? ORDER BY store_id LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan store id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStores is ListStoreIDs with each store's timezone.
func (d *DB) ListStores(ctx context.Context, after string, limit int) ([]models.Store, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT store_id, timezone FROM stores WHERE store_id > ? ORDER BY store_id LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var stores []models.Store
	for rows.Next() {
		var s models.Store
		if err := rows.Scan(&s.ID, &s.Timezone); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// CreateStore inserts a new store or returns ErrExists.
func (d *DB) CreateStore(ctx context.Context, s models.Store) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO stores (store_id, timezone) VALUES (?, ?) ON CONFLICT(store_id) DO NOTHING`,
		s.ID, defaultZone(s.Timezone))
	if err != nil {
		return fmt.Errorf("create store %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store %s: %w", s.ID, ErrExists)
	}
	return nil
}

// UpdateStore changes an existing store's timezone or returns ErrNotFound.
func (d *DB) UpdateStore(ctx context.Context, s models.Store) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE stores SET timezone = ? WHERE store_id = ?`, defaultZone(s.Timezone), s.ID)
	if err != nil {
		return fmt.Errorf("update store %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// DeleteStore removes a store together with its hours and observations.
func (d *DB) DeleteStore(ctx context.Context, id string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	res, err := tx.ExecContext(ctx, `DELETE FROM stores WHERE store_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete store %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete store %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM store_hours WHERE store_id = ?`, id); err != nil {
		return fmt.Errorf("delete hours for %s: %w", id, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM store_status WHERE store_id = ?`, id); err != nil {
		return fmt.Errorf("delete status for %s: %w", id, err)
	}
	return tx.Commit()
}

func defaultZone(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

// CountStores returns the number of known stores.
func (d *DB) CountStores(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stores: %w", err)
	}
	return n, nil
}

// GetStore returns a single store or ErrNotFound.
func (d *DB) GetStore(ctx context.Context, id string) (models.Store, error) {
	s := models.Store{ID: id}
	err := d.db.QueryRowContext(ctx, `SELECT timezone FROM stores WHERE store_id = ?`, id).Scan(&s.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Store{}, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Store{}, fmt.Errorf("get store %s: %w", id, err)
	}
	return s, nil
}

// LatestObservationTime returns the newest observation timestamp across all
// stores. ok is false when there are no observations.
func (d *DB) LatestObservationTime(ctx context.Context) (t time.Time, ok bool, err error) {
	var raw sql.NullString
	if err := d.db.QueryRowContext(ctx, `SELECT MAX(observed_at) FROM store_status`).Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("latest observation: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	t, err = parseTime(raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest observation %q: %w", raw.String, err)
	}
	return t, true, nil
}

// LoadInput loads everything the engine needs for one store: its timezone,
// full schedule, the observations in [since, until] and the single latest
// observation before since, if any.
func (d *DB) LoadInput(ctx context.Context, id string, since, until time.Time) (uptime.Input, error) {
	s, err := d.GetStore(ctx, id)
	if err != nil {
		return uptime.Input{}, err
	}
	in := uptime.Input{Store: s}

	if in.Schedule, err = d.loadSchedule(ctx, id); err != nil {
		return uptime.Input{}, err
	}

	prior, err := d.queryObservations(ctx, id, `
		SELECT status, observed_at FROM store_status
		WHERE store_id = ? AND observed_at < ?
		ORDER BY observed_at DESC LIMIT 1`, id, formatTime(since))
	if err != nil {
		return uptime.Input{}, err
	}
	window, err := d.queryObservations(ctx, id, `
		SELECT status, observed_at FROM store_status
		WHERE store_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at`, id, formatTime(since), formatTime(until))
	if err != nil {
		return uptime.Input{}, err
	}
	in.Observations = append(prior, window...)
	return in, nil
}

func (d *DB) loadSchedule(ctx context.Context, id string) ([]models.ScheduleEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT day, start_local, end_local FROM store_hours WHERE store_id = ? ORDER BY day, start_local`, id)
	if err != nil {
		return nil, fmt.Errorf("load hours for %s: %w", id, err)
	}
	defer rows.Close()

	var entries []models.ScheduleEntry
	for rows.Next() {
		var (
			day        int
			start, end string
		)
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, fmt.Errorf("scan hours for %s: %w", id, err)
		}
		e := models.ScheduleEntry{StoreID: id, Day: models.Weekday(day)}
		if e.Start, err = models.ParseClock(start); err != nil {
			return nil, fmt.Errorf("%w: %v", uptime.ErrInvalidSchedule, err)
		}
		if e.End, err = models.ParseClock(end); err != nil {
			return nil, fmt.Errorf("%w: %v", uptime.ErrInvalidSchedule, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *DB) queryObservations(ctx context.Context, id, query string, args ...any) ([]models.Observation, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load status for %s: %w", id, err)
	}
	defer rows.Close()

	var obs []models.Observation
	for rows.Next() {
		var status, at string
		if err := rows.Scan(&status, &at); err != nil {
			return nil, fmt.Errorf("scan status for %s: %w", id, err)
		}
		ts, err := parseTime(at)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", uptime.ErrInvalidObservation, at)
		}
		obs = append(obs, models.Observation{StoreID: id, Timestamp: ts, Status: models.Status(status)})
	}
	return obs, rows.Err()
}

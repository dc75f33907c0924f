package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

const eventColumns = `id, magnitude, latitude, longitude, depth, place, time_ms, severity, provenance, run_id, alert_sent, created_at_ms`

// forecastIDPattern is the LIKE pattern for forecast identifiers; "_" is a
// wildcard in LIKE so it is escaped.
var forecastIDPattern = strings.ReplaceAll(models.ForecastIDPrefix, "_", `\_`) + "%"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, ex execer, e *models.Event, onConflict string) (sql.Result, error) {
	e.Severity = models.SeverityFor(e)
	if e.Provenance == "" {
		e.Provenance = models.ProvenanceObserved
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` + onConflict
	return ex.ExecContext(ctx, query,
		e.ID,
		e.Magnitude,
		e.Latitude,
		e.Longitude,
		e.Depth,
		e.Place,
		e.Time.UnixMilli(),
		string(e.Severity),
		string(e.Provenance),
		nullString(e.RunID),
		e.AlertSent,
		e.CreatedAt.UnixMilli(),
	)
}

// UpsertIfAbsent inserts e unless a record with the same id exists and reports
// whether it was created. The conditional insert is a single statement, so
// concurrent callers cannot produce duplicates.
func (s *SQLiteDB) UpsertIfAbsent(ctx context.Context, e *models.Event) (bool, error) {
	res, err := insertEvent(ctx, s.db, e, ` ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return false, fmt.Errorf("error inserting event %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return n == 1, nil
}

// BulkInsert writes all events in one transaction. Any failure rolls back the batch.
func (s *SQLiteDB) BulkInsert(ctx context.Context, events []models.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertAll(ctx, tx, events); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing batch: %w", err)
	}
	return len(events), nil
}

// InsertForecastBatch re-checks that no forecast records exist and inserts the
// batch, both inside one transaction. Returns ErrForecastsPresent when the
// check fails; nothing is written in that case.
func (s *SQLiteDB) InsertForecastBatch(ctx context.Context, events []models.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var remaining int64
	if err := tx.QueryRowContext(ctx, countForecastsQuery, string(models.ProvenancePredicted), forecastIDPattern).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("error counting forecasts: %w", err)
	}
	if remaining > 0 {
		return 0, fmt.Errorf("%w: %d", ErrForecastsPresent, remaining)
	}

	if err := insertAll(ctx, tx, events); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing forecast batch: %w", err)
	}
	return len(events), nil
}

func insertAll(ctx context.Context, tx *sql.Tx, events []models.Event) error {
	for i := range events {
		if _, err := insertEvent(ctx, tx, &events[i], ""); err != nil {
			return fmt.Errorf("error inserting event %s: %w", events[i].ID, err)
		}
	}
	return nil
}

// DeleteAllForecasts removes forecast records by provenance, then by id prefix
// for any stragglers. Calling it again is a no-op returning 0.
func (s *SQLiteDB) DeleteAllForecasts(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE provenance = ?`, string(models.ProvenancePredicted))
	if err != nil {
		return 0, fmt.Errorf("error deleting forecasts by provenance: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = tx.ExecContext(ctx, `DELETE FROM events WHERE id LIKE ? ESCAPE '\'`, forecastIDPattern)
	if err != nil {
		return 0, fmt.Errorf("error deleting forecasts by id prefix: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing forecast delete: %w", err)
	}
	return total, nil
}

const countForecastsQuery = `SELECT COUNT(*) FROM events WHERE provenance = ? OR id LIKE ? ESCAPE '\'`

func (s *SQLiteDB) CountForecasts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, countForecastsQuery, string(models.ProvenancePredicted), forecastIDPattern).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting forecasts: %w", err)
	}
	return n, nil
}

// LatestObserved returns the n most recent observed events, newest first.
func (s *SQLiteDB) LatestObserved(ctx context.Context, n int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE provenance = ? AND id NOT LIKE ? ESCAPE '\'
		 ORDER BY time_ms DESC LIMIT ?`,
		string(models.ProvenanceObserved), forecastIDPattern, n)
	if err != nil {
		return nil, fmt.Errorf("error querying observed events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, len(events), n)
	}
	return events, nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("error querying event: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (s *SQLiteDB) ListEvents(ctx context.Context, opts Filter) ([]models.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "time_ms >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		where = append(where, "time_ms <= ?")
		args = append(args, opts.Until.UnixMilli())
	}
	if opts.MinMagnitude != nil {
		where = append(where, "magnitude >= ?")
		args = append(args, *opts.MinMagnitude)
	}
	if opts.Severity != nil {
		where = append(where, "severity = ?")
		args = append(args, string(*opts.Severity))
	}
	if opts.Provenance != nil {
		where = append(where, "provenance = ?")
		args = append(args, string(*opts.Provenance))
	}
	if opts.AlertSent != nil {
		where = append(where, "alert_sent = ?")
		args = append(args, *opts.AlertSent)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch {
	case opts.ByMagnitude:
		query += " ORDER BY magnitude DESC, time_ms DESC"
	case opts.Ascending:
		query += " ORDER BY time_ms ASC"
	default:
		query += " ORDER BY time_ms DESC"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing events: %w", err)
	}
	return scanEvents(rows)
}

// Stats aggregates observed events that occurred at or after since.
func (s *SQLiteDB) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(magnitude), 0), COALESCE(SUM(CASE WHEN severity = ? THEN 1 ELSE 0 END), 0)
		 FROM events WHERE provenance = ? AND time_ms >= ?`,
		string(models.SeverityAlert), string(models.ProvenanceObserved), since.UnixMilli(),
	).Scan(&st.Total, &st.AvgMagnitude, &st.ActiveAlerts)
	if err != nil {
		return Stats{}, fmt.Errorf("error computing stats: %w", err)
	}
	return st, nil
}

// MarkAlertSent flags observed events as alerted. It is the only mutation
// allowed on observed history.
func (s *SQLiteDB) MarkAlertSent(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(models.ProvenanceObserved))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET alert_sent = 1 WHERE alert_sent = 0 AND provenance = ? AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("error marking alerts sent: %w", err)
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e                 models.Event
			timeMs, createdMs int64
			severity, prov    string
			runID             sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Magnitude, &e.Latitude, &e.Longitude, &e.Depth, &e.Place,
			&timeMs, &severity, &prov, &runID, &e.AlertSent, &createdMs); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}
		e.Time = time.UnixMilli(timeMs).UTC()
		e.CreatedAt = time.UnixMilli(createdMs).UTC()
		e.Severity = models.Severity(severity)
		e.Provenance = models.Provenance(prov)
		e.RunID = runID.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

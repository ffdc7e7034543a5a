package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    vehicle_id TEXT NOT NULL,
    driver_id TEXT NOT NULL DEFAULT '',
    ts TEXT NOT NULL,
    risk_class TEXT NOT NULL,
    processed_locally INTEGER NOT NULL DEFAULT 0,
    topic TEXT NOT NULL DEFAULT '',
    received_at TEXT NOT NULL,
    sensor_readings TEXT NOT NULL,
    applied INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_recent ON telemetry_events (ts DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_events_vehicle ON telemetry_events (vehicle_id, ts DESC);
CREATE TABLE IF NOT EXISTS vehicle_statistics (
    vehicle_id TEXT PRIMARY KEY,
    total_readings INTEGER NOT NULL,
    count_safe INTEGER NOT NULL,
    count_moderate INTEGER NOT NULL,
    count_risky INTEGER NOT NULL,
    pct_safe REAL NOT NULL,
    pct_moderate REAL NOT NULL,
    pct_risky REAL NOT NULL,
    overall TEXT NOT NULL,
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

// SQLiteStore persists events and statistics in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers and keeps an in-memory db alive
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	stmts := []string{`PRAGMA busy_timeout = 5000`, sqliteSchema}
	if !strings.Contains(path, ":memory:") {
		stmts = append(stmts, `PRAGMA journal_mode = WAL`)
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutIfAbsent(ctx context.Context, ev model.TelemetryEvent) (store.PutResult, error) {
	readings, err := encodeReadings(ev.SensorReadings)
	if err != nil {
		return store.PutResult{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_events (`+eventColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(key) DO NOTHING`,
		ev.Key, ev.VehicleID, ev.DriverID, formatTime(ev.Timestamp), ev.RiskClass.String(),
		ev.ProcessedLocally, ev.Topic, formatTime(ev.ReceivedAt), readings)
	if err != nil {
		return store.PutResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.PutResult{}, err
	}
	if n == 1 {
		return store.PutResult{Status: store.Stored}, nil
	}
	var applied bool
	if err := s.db.QueryRowContext(ctx, `SELECT applied FROM telemetry_events WHERE key = ?`, ev.Key).Scan(&applied); err != nil {
		return store.PutResult{}, err
	}
	return store.PutResult{Status: store.AlreadyExists, Applied: applied}, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, q store.RecentQuery) ([]model.TelemetryEvent, error) {
	var args []any
	query := `SELECT ` + eventColumns + ` FROM telemetry_events WHERE 1=1`
	if q.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, q.VehicleID)
	}
	if q.RiskClass != "" {
		query += ` AND risk_class = ?`
		args = append(args, q.RiskClass.String())
	}
	query += ` ORDER BY ts DESC, seq DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.TelemetryEvent
	for rows.Next() {
		var (
			ev              model.TelemetryEvent
			ts, received    string
			class, readings string
		)
		if err := rows.Scan(&ev.Key, &ev.VehicleID, &ev.DriverID, &ts, &class, &ev.ProcessedLocally,
			&ev.Topic, &received, &readings); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if ev.ReceivedAt, err = parseTime(received); err != nil {
			return nil, err
		}
		ev.RiskClass = model.ParseRiskClass(class)
		if ev.SensorReadings, err = decodeReadings(readings); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) Commit(ctx context.Context, key, vehicleID string, fn store.UpdateFunc) (model.VehicleStatistics, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.VehicleStatistics{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var applied bool
	err = tx.QueryRowContext(ctx, `SELECT applied FROM telemetry_events WHERE key = ?`, key).Scan(&applied)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VehicleStatistics{}, store.ErrUnknownEvent
	}
	if err != nil {
		return model.VehicleStatistics{}, err
	}

	prev, err := sqliteGetStats(ctx, tx, vehicleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.VehicleStatistics{}, err
	}
	if applied {
		if prev == nil {
			return model.VehicleStatistics{}, store.ErrAlreadyApplied
		}
		return *prev, store.ErrAlreadyApplied
	}

	next := fn(prev)
	_, err = tx.ExecContext(ctx, `INSERT INTO vehicle_statistics (`+statsColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(vehicle_id) DO UPDATE SET
            total_readings = excluded.total_readings,
            count_safe = excluded.count_safe,
            count_moderate = excluded.count_moderate,
            count_risky = excluded.count_risky,
            pct_safe = excluded.pct_safe,
            pct_moderate = excluded.pct_moderate,
            pct_risky = excluded.pct_risky,
            overall = excluded.overall,
            first_seen = excluded.first_seen,
            last_seen = excluded.last_seen,
            updated_at = excluded.updated_at`,
		vehicleID, next.TotalReadings, next.CountSafe, next.CountModerate, next.CountRisky,
		next.PctSafe, next.PctModerate, next.PctRisky, next.OverallClassification.String(),
		formatTime(next.FirstSeen), formatTime(next.LastSeen), formatTime(next.UpdatedAt))
	if err != nil {
		return model.VehicleStatistics{}, fmt.Errorf("write statistics: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE telemetry_events SET applied = 1 WHERE key = ?`, key); err != nil {
		return model.VehicleStatistics{}, fmt.Errorf("mark applied: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.VehicleStatistics{}, err
	}
	return next, nil
}

func (s *SQLiteStore) Get(ctx context.Context, vehicleID string) (model.VehicleStatistics, error) {
	st, err := sqliteGetStats(ctx, s.db, vehicleID)
	if err != nil {
		return model.VehicleStatistics{}, err
	}
	return *st, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.VehicleStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+statsColumns+` FROM vehicle_statistics ORDER BY vehicle_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.VehicleStatistics
	for rows.Next() {
		st, err := scanSQLiteStats(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func sqliteGetStats(ctx context.Context, q queryRower, vehicleID string) (*model.VehicleStatistics, error) {
	row := q.QueryRowContext(ctx, `SELECT `+statsColumns+` FROM vehicle_statistics WHERE vehicle_id = ?`, vehicleID)
	st, err := scanSQLiteStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanSQLiteStats(row scanner) (model.VehicleStatistics, error) {
	var (
		st                     model.VehicleStatistics
		overall                string
		first, last, updatedAt string
	)
	err := row.Scan(&st.VehicleID, &st.TotalReadings, &st.CountSafe, &st.CountModerate, &st.CountRisky,
		&st.PctSafe, &st.PctModerate, &st.PctRisky, &overall, &first, &last, &updatedAt)
	if err != nil {
		return st, err
	}
	st.OverallClassification = model.ParseRiskClass(overall)
	if st.FirstSeen, err = parseTime(first); err != nil {
		return st, err
	}
	if st.LastSeen, err = parseTime(last); err != nil {
		return st, err
	}
	st.UpdatedAt, err = parseTime(updatedAt)
	return st, err
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
    seq BIGSERIAL PRIMARY KEY,
    key TEXT NOT NULL UNIQUE,
    vehicle_id TEXT NOT NULL,
    driver_id TEXT NOT NULL DEFAULT '',
    ts TIMESTAMPTZ NOT NULL,
    risk_class TEXT NOT NULL,
    processed_locally BOOLEAN NOT NULL DEFAULT FALSE,
    topic TEXT NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ NOT NULL,
    sensor_readings JSONB NOT NULL,
    applied BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_events_recent ON telemetry_events (ts DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_events_vehicle ON telemetry_events (vehicle_id, ts DESC);
CREATE TABLE IF NOT EXISTS vehicle_statistics (
    vehicle_id TEXT PRIMARY KEY,
    total_readings BIGINT NOT NULL,
    count_safe BIGINT NOT NULL,
    count_moderate BIGINT NOT NULL,
    count_risky BIGINT NOT NULL,
    pct_safe DOUBLE PRECISION NOT NULL,
    pct_moderate DOUBLE PRECISION NOT NULL,
    pct_risky DOUBLE PRECISION NOT NULL,
    overall TEXT NOT NULL,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`

// PostgresStore persists events and statistics in PostgreSQL (or
// TimescaleDB) through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, checks the connection and ensures the
// schema. ctx bounds the checks only, not the pool lifetime.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, ev model.TelemetryEvent) (store.PutResult, error) {
	readings := ev.SensorReadings
	if readings == nil {
		readings = map[string]any{}
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO telemetry_events (`+eventColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (key) DO NOTHING`,
		ev.Key, ev.VehicleID, ev.DriverID, ev.Timestamp, ev.RiskClass.String(),
		ev.ProcessedLocally, ev.Topic, ev.ReceivedAt, readings)
	if err != nil {
		return store.PutResult{}, err
	}
	if tag.RowsAffected() == 1 {
		return store.PutResult{Status: store.Stored}, nil
	}
	var applied bool
	if err := s.pool.QueryRow(ctx, `SELECT applied FROM telemetry_events WHERE key = $1`, ev.Key).Scan(&applied); err != nil {
		return store.PutResult{}, err
	}
	return store.PutResult{Status: store.AlreadyExists, Applied: applied}, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, q store.RecentQuery) ([]model.TelemetryEvent, error) {
	args := []any{}
	query := `SELECT ` + eventColumns + ` FROM telemetry_events WHERE TRUE`
	if q.VehicleID != "" {
		args = append(args, q.VehicleID)
		query += fmt.Sprintf(` AND vehicle_id = $%d`, len(args))
	}
	if q.RiskClass != "" {
		args = append(args, q.RiskClass.String())
		query += fmt.Sprintf(` AND risk_class = $%d`, len(args))
	}
	query += ` ORDER BY ts DESC, seq DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.TelemetryEvent
	for rows.Next() {
		var (
			ev       model.TelemetryEvent
			class    string
			readings map[string]any
		)
		if err := rows.Scan(&ev.Key, &ev.VehicleID, &ev.DriverID, &ev.Timestamp, &class, &ev.ProcessedLocally,
			&ev.Topic, &ev.ReceivedAt, &readings); err != nil {
			return nil, err
		}
		ev.Timestamp = ev.Timestamp.UTC()
		ev.ReceivedAt = ev.ReceivedAt.UTC()
		ev.RiskClass = model.ParseRiskClass(class)
		if readings == nil {
			readings = map[string]any{}
		}
		ev.SensorReadings = readings
		res = append(res, ev)
	}
	return res, rows.Err()
}

// Commit takes a transaction-scoped advisory lock on the vehicle before
// reading its statistics, so concurrent commits from several processes
// serialize per vehicle even before its statistics row exists.
func (s *PostgresStore) Commit(ctx context.Context, key, vehicleID string, fn store.UpdateFunc) (model.VehicleStatistics, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.VehicleStatistics{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, vehicleID); err != nil {
		return model.VehicleStatistics{}, fmt.Errorf("lock vehicle: %w", err)
	}

	var applied bool
	err = tx.QueryRow(ctx, `SELECT applied FROM telemetry_events WHERE key = $1 FOR UPDATE`, key).Scan(&applied)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.VehicleStatistics{}, store.ErrUnknownEvent
	}
	if err != nil {
		return model.VehicleStatistics{}, err
	}

	var prev *model.VehicleStatistics
	st, err := scanPostgresStats(tx.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM vehicle_statistics WHERE vehicle_id = $1 FOR UPDATE`, vehicleID))
	switch {
	case err == nil:
		prev = &st
	case !errors.Is(err, pgx.ErrNoRows):
		return model.VehicleStatistics{}, err
	}
	if applied {
		if prev == nil {
			return model.VehicleStatistics{}, store.ErrAlreadyApplied
		}
		return *prev, store.ErrAlreadyApplied
	}

	next := fn(prev)
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO vehicle_statistics (`+statsColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (vehicle_id) DO UPDATE SET
            total_readings = EXCLUDED.total_readings,
            count_safe = EXCLUDED.count_safe,
            count_moderate = EXCLUDED.count_moderate,
            count_risky = EXCLUDED.count_risky,
            pct_safe = EXCLUDED.pct_safe,
            pct_moderate = EXCLUDED.pct_moderate,
            pct_risky = EXCLUDED.pct_risky,
            overall = EXCLUDED.overall,
            first_seen = EXCLUDED.first_seen,
            last_seen = EXCLUDED.last_seen,
            updated_at = EXCLUDED.updated_at`,
		vehicleID, int64(next.TotalReadings), int64(next.CountSafe), int64(next.CountModerate), int64(next.CountRisky),
		next.PctSafe, next.PctModerate, next.PctRisky, next.OverallClassification.String(),
		next.FirstSeen, next.LastSeen, next.UpdatedAt)
	batch.Queue(`UPDATE telemetry_events SET applied = TRUE WHERE key = $1`, key)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return model.VehicleStatistics{}, fmt.Errorf("write statistics: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.VehicleStatistics{}, err
	}
	return next, nil
}

func (s *PostgresStore) Get(ctx context.Context, vehicleID string) (model.VehicleStatistics, error) {
	st, err := scanPostgresStats(s.pool.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM vehicle_statistics WHERE vehicle_id = $1`, vehicleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.VehicleStatistics{}, store.ErrNotFound
	}
	return st, err
}

func (s *PostgresStore) List(ctx context.Context) ([]model.VehicleStatistics, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+statsColumns+` FROM vehicle_statistics ORDER BY vehicle_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.VehicleStatistics
	for rows.Next() {
		st, err := scanPostgresStats(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresStats(row pgx.Row) (model.VehicleStatistics, error) {
	var (
		st                           model.VehicleStatistics
		total, safe, moderate, risky int64
		overall                      string
		first, last, updatedAt       time.Time
	)
	err := row.Scan(&st.VehicleID, &total, &safe, &moderate, &risky,
		&st.PctSafe, &st.PctModerate, &st.PctRisky, &overall, &first, &last, &updatedAt)
	if err != nil {
		return st, err
	}
	st.TotalReadings = uint64(total)
	st.CountSafe = uint64(safe)
	st.CountModerate = uint64(moderate)
	st.CountRisky = uint64(risky)
	st.OverallClassification = model.ParseRiskClass(overall)
	st.FirstSeen = first.UTC()
	st.LastSeen = last.UTC()
	st.UpdatedAt = updatedAt.UTC()
	return st, nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/fleetrisk/core/store"
)

// sqliteTimeLayout is fixed width so that text order matches time order for
// years 1 to 9999.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func encodeReadings(r map[string]any) (string, error) {
	if r == nil {
		r = map[string]any{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("%w: encode sensor_readings: %v", store.ErrInvalidEvent, err)
	}
	return string(b), nil
}

func decodeReadings(s string) (map[string]any, error) {
	r := map[string]any{}
	if s == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("decode sensor_readings: %w", err)
	}
	return r, nil
}

// statsColumns is the column order shared by the SQL backends.
const statsColumns = `vehicle_id, total_readings, count_safe, count_moderate, count_risky,
	pct_safe, pct_moderate, pct_risky, overall, first_seen, last_seen, updated_at`

const eventColumns = `key, vehicle_id, driver_id, ts, risk_class, processed_locally, topic, received_at, sensor_readings`

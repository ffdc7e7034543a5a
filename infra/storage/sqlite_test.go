package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
	"github.com/kilianp07/fleetrisk/core/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fleet.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ev := storetest.Event("v1", time.Now().UTC(), model.RiskRisky, "1")
	res, err := s.PutIfAbsent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, store.Stored, res.Status)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")
	ts := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	ev := storetest.Event("v1", ts, model.RiskModerate, "1")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.PutIfAbsent(context.Background(), ev)
	require.NoError(t, err)
	_, err = s.Commit(context.Background(), ev.Key, "v1", func(prev *model.VehicleStatistics) model.VehicleStatistics {
		return model.VehicleStatistics{VehicleID: "v1", TotalReadings: 1, CountModerate: 1, PctModerate: 100,
			OverallClassification: model.RiskModerate, FirstSeen: ts, LastSeen: ts, UpdatedAt: ts}
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	res, err := s.PutIfAbsent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, store.PutResult{Status: store.AlreadyExists, Applied: true}, res)

	st, err := s.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, ts, st.LastSeen)
	assert.Equal(t, model.RiskModerate, st.OverallClassification)

	evs, err := s.ListRecent(context.Background(), store.RecentQuery{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, ts, evs[0].Timestamp)
	assert.Equal(t, "drv-v1", evs[0].DriverID)
}

func TestSQLiteStore_UnencodableReadings(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ev := storetest.Event("v1", time.Now().UTC(), model.RiskSafe, "nan")
	ev.SensorReadings = map[string]any{"speed": math.NaN()}
	_, err = s.PutIfAbsent(context.Background(), ev)
	assert.ErrorIs(t, err, store.ErrInvalidEvent)
}

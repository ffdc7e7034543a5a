// Package storetest holds the behavioural checks shared by every store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
)

// Event builds a stored-ready event for tests.
func Event(vehicle string, ts time.Time, class model.RiskClass, ordinal string) model.TelemetryEvent {
	return model.TelemetryEvent{
		Key:            model.DeriveKey(vehicle, ts, ordinal),
		VehicleID:      vehicle,
		DriverID:       "drv-" + vehicle,
		Timestamp:      ts,
		SensorReadings: map[string]any{"speed": 80.0},
		RiskClass:      class,
		ReceivedAt:     ts,
	}
}

func countUpdate(vehicle string) store.UpdateFunc {
	return func(prev *model.VehicleStatistics) model.VehicleStatistics {
		next := model.VehicleStatistics{VehicleID: vehicle}
		if prev != nil {
			next = *prev
		}
		next.TotalReadings++
		return next
	}
}

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("PutIfAbsent", func(t *testing.T) { testPutIfAbsent(t, newStore(t)) })
	t.Run("ListRecentOrdering", func(t *testing.T) { testListRecent(t, newStore(t)) })
	t.Run("CommitOnce", func(t *testing.T) { testCommitOnce(t, newStore(t)) })
	t.Run("GetList", func(t *testing.T) { testGetList(t, newStore(t)) })
	t.Run("ConcurrentFirstCommits", func(t *testing.T) { testConcurrentFirstCommits(t, newStore(t)) })
	t.Run("FarFutureTimestamps", func(t *testing.T) { testFarFuture(t, newStore(t)) })
	t.Run("ConcurrentDuplicates", func(t *testing.T) { testConcurrentDuplicates(t, newStore(t)) })
}

func testPutIfAbsent(t *testing.T, s store.Store) {
	ctx := context.Background()
	ev := Event("v1", time.Now().UTC(), model.RiskSafe, "1")
	res, err := s.PutIfAbsent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, store.Stored, res.Status)

	res, err = s.PutIfAbsent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, store.AlreadyExists, res.Status)
	assert.False(t, res.Applied)

	_, err = s.Commit(ctx, ev.Key, ev.VehicleID, countUpdate("v1"))
	require.NoError(t, err)
	res, err = s.PutIfAbsent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, store.AlreadyExists, res.Status)
	assert.True(t, res.Applied)

	out, err := s.ListRecent(ctx, store.RecentQuery{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 80.0, out[0].SensorReadings["speed"])
}

func testListRecent(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	evs := []model.TelemetryEvent{
		Event("v1", base, model.RiskSafe, "a"),
		Event("v1", base.Add(2*time.Second), model.RiskRisky, "b"),
		Event("v2", base.Add(time.Second), model.RiskRisky, "c"),
		Event("v2", base.Add(2*time.Second), model.RiskModerate, "d"),
	}
	for _, ev := range evs {
		_, err := s.PutIfAbsent(ctx, ev)
		require.NoError(t, err)
	}

	out, err := s.ListRecent(ctx, store.RecentQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 4)
	// equal timestamps: later insertion first
	assert.Equal(t, evs[3].Key, out[0].Key)
	assert.Equal(t, evs[1].Key, out[1].Key)
	assert.Equal(t, evs[2].Key, out[2].Key)
	assert.Equal(t, evs[0].Key, out[3].Key)
	assert.True(t, out[0].Timestamp.Equal(evs[3].Timestamp))

	out, err = s.ListRecent(ctx, store.RecentQuery{Limit: 1, VehicleID: "v1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, evs[1].Key, out[0].Key)

	out, err = s.ListRecent(ctx, store.RecentQuery{RiskClass: model.RiskRisky})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "v1", out[0].VehicleID)
	assert.Equal(t, "v2", out[1].VehicleID)
}

func testCommitOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	ev := Event("v1", time.Now().UTC(), model.RiskSafe, "1")
	_, err := s.Commit(ctx, ev.Key, ev.VehicleID, countUpdate("v1"))
	assert.True(t, errors.Is(err, store.ErrUnknownEvent))

	_, err = s.PutIfAbsent(ctx, ev)
	require.NoError(t, err)
	st, err := s.Commit(ctx, ev.Key, ev.VehicleID, countUpdate("v1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.TotalReadings)

	_, err = s.Commit(ctx, ev.Key, ev.VehicleID, countUpdate("v1"))
	assert.True(t, errors.Is(err, store.ErrAlreadyApplied))
	st, err = s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.TotalReadings)
}

func testGetList(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Get(ctx, "ghost")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	for i, id := range []string{"v2", "v1", "v3"} {
		ev := Event(id, time.Now().UTC(), model.RiskSafe, fmt.Sprint(i))
		_, err := s.PutIfAbsent(ctx, ev)
		require.NoError(t, err)
		_, err = s.Commit(ctx, ev.Key, id, countUpdate(id))
		require.NoError(t, err)
	}
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"v1", "v2", "v3"}, []string{all[0].VehicleID, all[1].VehicleID, all[2].VehicleID})
}

// Commits for a vehicle without statistics yet must still serialize; no
// caller-side lock is held here.
func testConcurrentFirstCommits(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 8
	evs := make([]model.TelemetryEvent, n)
	for i := range evs {
		evs[i] = Event("fresh", time.Now().UTC(), model.RiskSafe, fmt.Sprint("first-", i))
		_, err := s.PutIfAbsent(ctx, evs[i])
		require.NoError(t, err)
	}
	var wg sync.WaitGroup
	for _, ev := range evs {
		wg.Add(1)
		go func(ev model.TelemetryEvent) {
			defer wg.Done()
			if _, err := s.Commit(ctx, ev.Key, "fresh", countUpdate("fresh")); err != nil {
				t.Errorf("commit: %v", err)
			}
		}(ev)
	}
	wg.Wait()
	st, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, uint64(n), st.TotalReadings)
}

func testFarFuture(t *testing.T, s store.Store) {
	ctx := context.Background()
	near := Event("v1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), model.RiskSafe, "near")
	far := Event("v1", time.Date(2300, 1, 1, 0, 0, 0, 123456000, time.UTC), model.RiskRisky, "far")
	for _, ev := range []model.TelemetryEvent{far, near} {
		_, err := s.PutIfAbsent(ctx, ev)
		require.NoError(t, err)
	}

	out, err := s.ListRecent(ctx, store.RecentQuery{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, far.Key, out[0].Key)
	assert.True(t, far.Timestamp.Equal(out[0].Timestamp), "got %v", out[0].Timestamp)
	assert.True(t, near.Timestamp.Equal(out[1].Timestamp), "got %v", out[1].Timestamp)

	_, err = s.Commit(ctx, far.Key, "v1", func(prev *model.VehicleStatistics) model.VehicleStatistics {
		return model.VehicleStatistics{
			VehicleID:     "v1",
			TotalReadings: 1,
			FirstSeen:     far.Timestamp,
			LastSeen:      far.Timestamp,
			UpdatedAt:     near.Timestamp,
		}
	})
	require.NoError(t, err)
	st, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, far.Timestamp.Equal(st.LastSeen), "got %v", st.LastSeen)
	assert.True(t, far.Timestamp.Equal(st.FirstSeen), "got %v", st.FirstSeen)
}

func testConcurrentDuplicates(t *testing.T, s store.Store) {
	ctx := context.Background()
	ev := Event("v1", time.Now().UTC(), model.RiskRisky, "dup")
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.PutIfAbsent(ctx, ev)
			if err != nil {
				t.Errorf("put: %v", err)
				return
			}
			if res.Status == store.Stored {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, stored)
}

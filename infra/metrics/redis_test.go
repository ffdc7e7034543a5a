//go:build !no_containers

package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/query"
	"github.com/kilianp07/fleetrisk/internal/testutil"
)

func TestRedisSink(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testutil.RequireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	addr := testutil.StartRedis(ctx, t)

	sink, err := NewRedisSink(ctx, RedisConfig{Addr: addr, Prefix: "test", AlertCooldown: time.Minute})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	sub := client.Subscribe(ctx, sink.StatsChannel(), sink.AlertChannel())
	defer func() { _ = sub.Close() }()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)
	msgs := sub.Channel()

	st := model.VehicleStatistics{VehicleID: "v1", TotalReadings: 4, CountRisky: 2, PctRisky: 50, OverallClassification: model.RiskRisky}
	require.NoError(t, sink.RecordVehicleStats(st))

	hash, err := client.HGetAll(ctx, "test:vehicle:v1:stats").Result()
	require.NoError(t, err)
	assert.Equal(t, "4", hash["total_readings"])
	assert.Equal(t, "risky", hash["overall"])

	select {
	case m := <-msgs:
		assert.Equal(t, sink.StatsChannel(), m.Channel)
		var got model.VehicleStatistics
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.Equal(t, uint64(4), got.TotalReadings)
	case <-time.After(5 * time.Second):
		t.Fatal("no stats message")
	}

	ev := model.TelemetryEvent{Key: "k1", VehicleID: "v1", RiskClass: model.RiskRisky, SensorReadings: map[string]any{"speed": 120.0}}
	require.NoError(t, sink.RecordTelemetry(ev))
	ev.Key = "k2"
	require.NoError(t, sink.RecordTelemetry(ev))

	select {
	case m := <-msgs:
		assert.Equal(t, sink.AlertChannel(), m.Channel)
		var alert query.Alert
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &alert))
		require.NotNil(t, alert.Speed)
		assert.Equal(t, 120.0, *alert.Speed)
	case <-time.After(5 * time.Second):
		t.Fatal("no alert message")
	}
	select {
	case m := <-msgs:
		t.Fatalf("alert within cooldown must be suppressed, got %s", m.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}

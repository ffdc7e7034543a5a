package simulator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/decoder"
	"github.com/kilianp07/fleetrisk/core/model"
)

func TestGenerateFleet(t *testing.T) {
	assert.Nil(t, GenerateFleet(0, 1))
	vs := GenerateFleet(3, 42)
	require.Len(t, vs, 3)
	assert.Equal(t, "veh0001", vs[0].ID)
	assert.Equal(t, "veh0003", vs[2].ID)
	for _, v := range vs {
		assert.GreaterOrEqual(t, v.Aggressiveness, 0.0)
		assert.Less(t, v.Aggressiveness, 1.0)
	}
}

func TestGenerateFleet_Deterministic(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := GenerateFleet(2, 7)
	b := GenerateFleet(2, 7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a[1].Next(now), b[1].Next(now))
	}
}

func TestVehicle_Next(t *testing.T) {
	v := GenerateFleet(1, 1)[0]
	now := time.Now()
	for i := 1; i <= 50; i++ {
		r := v.Next(now)
		assert.Equal(t, uint64(i), r.Seq)
		speed := r.SensorReadings["speed"]
		assert.GreaterOrEqual(t, speed, 0.0)
		assert.LessOrEqual(t, speed, 180.0)
		assert.Contains(t, []string{"safe", "moderate", "risky"}, r.Classification.Classification)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "safe", Classify(50, 1))
	assert.Equal(t, "moderate", Classify(95, 0))
	assert.Equal(t, "moderate", Classify(50, -2.5))
	assert.Equal(t, "risky", Classify(120, 0))
	assert.Equal(t, "risky", Classify(60, 4))
}

func TestPayload_Decodes(t *testing.T) {
	v := GenerateFleet(1, 3)[0]
	payload, err := v.Payload(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))

	ev, err := decoder.New(decoder.Options{}).Decode("telemetry/veh0001/data", payload)
	require.NoError(t, err)
	assert.Equal(t, "veh0001", ev.VehicleID)
	assert.Equal(t, "seq:1", ev.Ordinal)
	assert.True(t, ev.RiskClass.Known())
	assert.NotEqual(t, model.RiskUnknown, ev.RiskClass)
	assert.True(t, ev.ProcessedLocally)
}

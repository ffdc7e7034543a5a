// Package simulator generates synthetic vehicle telemetry for load tests
// and demos.
package simulator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Vehicle drives a random walk over speed. Aggressiveness in [0,1] widens
// the acceleration range, which pushes readings into higher risk classes.
type Vehicle struct {
	ID             string
	DriverID       string
	Aggressiveness float64

	speed float64
	seq   uint64
	rng   *rand.Rand
}

// Reading is the wire payload published on the telemetry topic.
type Reading struct {
	VehicleID        string             `json:"vehicle_id"`
	DriverID         string             `json:"driver_id"`
	Timestamp        string             `json:"timestamp"`
	Seq              uint64             `json:"seq"`
	SensorReadings   map[string]float64 `json:"sensor_readings"`
	Classification   Classification     `json:"classification"`
	ProcessedLocally bool               `json:"processed_locally"`
}

type Classification struct {
	Classification string `json:"classification"`
}

// GenerateFleet creates size vehicles with IDs veh0001..vehNNNN. The same
// seed yields the same fleet and the same readings.
func GenerateFleet(size int, seed int64) []*Vehicle {
	if size <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	vs := make([]*Vehicle, size)
	for i := range vs {
		vs[i] = &Vehicle{
			ID:             fmt.Sprintf("veh%04d", i+1),
			DriverID:       fmt.Sprintf("drv%04d", i+1),
			Aggressiveness: rng.Float64(),
			speed:          30 + rng.Float64()*50,
			rng:            rand.New(rand.NewSource(rng.Int63())),
		}
	}
	return vs
}

// Next advances the vehicle by one sample taken at now.
func (v *Vehicle) Next(now time.Time) Reading {
	if v.rng == nil {
		v.rng = rand.New(rand.NewSource(int64(len(v.ID))))
	}
	maxAccel := 1.5 + 3*v.Aggressiveness
	accel := (v.rng.Float64()*2 - 1) * maxAccel
	v.speed = math.Max(0, math.Min(180, v.speed+accel*3.6))
	v.seq++
	brake := 0.0
	if accel < 0 {
		brake = -accel * 20
	}
	return Reading{
		VehicleID: v.ID,
		DriverID:  v.DriverID,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Seq:       v.seq,
		SensorReadings: map[string]float64{
			"speed":          round1(v.speed),
			"acceleration":   round1(accel),
			"rpm":            math.Round(800 + v.speed*30),
			"brake_pressure": round1(brake),
		},
		Classification:   Classification{Classification: Classify(v.speed, accel)},
		ProcessedLocally: true,
	}
}

// Payload encodes the next reading as JSON.
func (v *Vehicle) Payload(now time.Time) ([]byte, error) {
	return json.Marshal(v.Next(now))
}

// Classify mirrors the on-board rule: harsh acceleration or braking, or
// high speed, is risky.
func Classify(speed, accel float64) string {
	a := math.Abs(accel)
	switch {
	case speed > 110 || a > 3.5:
		return "risky"
	case speed > 90 || a > 2:
		return "moderate"
	default:
		return "safe"
	}
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

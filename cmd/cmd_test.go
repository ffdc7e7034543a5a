package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/aggregate"
	"github.com/kilianp07/fleetrisk/core/factory"
	"github.com/kilianp07/fleetrisk/core/ingest"
	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/infra/deadletter"
	"github.com/kilianp07/fleetrisk/infra/storage"
)

func writeTestConfig(t *testing.T, dbPath, deadPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := fmt.Sprintf("store:\n  type: sqlite\n  conf:\n    path: %q\ndeadletter:\n  path: %q\n", dbPath, deadPath)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func seedStore(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": dbPath}})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	eng := aggregate.NewEngine(st)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, c := range []model.RiskClass{model.RiskRisky, model.RiskSafe} {
		ev := model.TelemetryEvent{VehicleID: "veh0001", Timestamp: ts.Add(time.Duration(i) * time.Second), RiskClass: c}
		ev.Key = model.DeriveKey(ev.VehicleID, ev.Timestamp, fmt.Sprint(i))
		_, err := st.PutIfAbsent(ctx, ev)
		require.NoError(t, err)
		_, err = eng.Apply(ctx, ev)
		require.NoError(t, err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVehiclesCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fleet.db")
	seedStore(t, dbPath)
	cfg := writeTestConfig(t, dbPath, filepath.Join(dir, "dead.jsonl"))

	out, err := execute(t, "-c", cfg, "vehicles", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "VEHICLE")
	assert.Contains(t, out, "veh0001")
	assert.Contains(t, out, "risky")

	out, err = execute(t, "-c", cfg, "vehicles", "stats", "veh0001")
	require.NoError(t, err)
	var st model.VehicleStatistics
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, uint64(2), st.TotalReadings)
	assert.InDelta(t, 50.0, st.PctRisky, 1e-9)

	_, err = execute(t, "-c", cfg, "vehicles", "stats", "ghost")
	assert.Error(t, err)
}

func TestDeadLettersCommand(t *testing.T) {
	dir := t.TempDir()
	deadPath := filepath.Join(dir, "dead.jsonl")
	dl, err := deadletter.NewJSONLStore(deadletter.Config{Path: deadPath})
	require.NoError(t, err)
	require.NoError(t, dl.WriteDeadLetter(ingest.DeadLetter{
		Time:   time.Now().UTC(),
		Topic:  "telemetry/v1/data",
		Reason: "decode",
		Error:  "malformed payload",
	}))
	require.NoError(t, dl.Close())

	cfg := writeTestConfig(t, filepath.Join(dir, "fleet.db"), deadPath)
	out, err := execute(t, "-c", cfg, "deadletters")
	require.NoError(t, err)
	assert.Contains(t, out, "telemetry/v1/data")
	assert.Contains(t, out, "malformed payload")
}

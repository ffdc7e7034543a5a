package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/aggregate"
	"github.com/kilianp07/fleetrisk/core/events"
	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/query"
	"github.com/kilianp07/fleetrisk/core/store"
	"github.com/kilianp07/fleetrisk/internal/eventbus"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeStatus struct{}

func (fakeStatus) Connected() bool          { return true }
func (fakeStatus) MessagesReceived() uint64 { return 7 }

// downStore fails every read as an unreachable backend.
type downStore struct{ store.Store }

func (downStore) ListRecent(context.Context, store.RecentQuery) ([]model.TelemetryEvent, error) {
	return nil, store.ErrUnavailable
}
func (downStore) Get(context.Context, string) (model.VehicleStatistics, error) {
	return model.VehicleStatistics{}, store.ErrUnavailable
}
func (downStore) List(context.Context) ([]model.VehicleStatistics, error) {
	return nil, store.ErrUnavailable
}

// slowStore blocks until the request context ends.
type slowStore struct{ store.Store }

func (slowStore) List(ctx context.Context) ([]model.VehicleStatistics, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type down bool

func (d down) Available() bool { return !bool(d) }

func seed(t *testing.T, s *store.MemoryStore, vehicle string, classes ...model.RiskClass) {
	t.Helper()
	eng := aggregate.NewEngine(s)
	for i, c := range classes {
		ev := model.TelemetryEvent{
			VehicleID:      vehicle,
			DriverID:       "d-" + vehicle,
			Timestamp:      t0.Add(time.Duration(i) * time.Second),
			RiskClass:      c,
			SensorReadings: map[string]any{"speed": float64(100 + i)},
		}
		ev.Key = model.DeriveKey(vehicle, ev.Timestamp, fmt.Sprint(i))
		_, err := s.PutIfAbsent(context.Background(), ev)
		require.NoError(t, err)
		_, err = eng.Apply(context.Background(), ev)
		require.NoError(t, err)
	}
}

func newTestServer(t *testing.T, s store.Store, opts ...Option) *httptest.Server {
	t.Helper()
	_, isDown := s.(downStore)
	svc := query.NewService(s, s, fakeStatus{}, down(isDown))
	reg := prometheus.NewRegistry()
	opts = append([]Option{WithRegistry(reg, reg)}, opts...)
	srv, err := NewServer(svc, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func get(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, downStore{})
	var body query.Status
	resp := get(t, ts.URL+"/status", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "online", body.Status)
	assert.True(t, body.TransportConnected)
	assert.Equal(t, uint64(7), body.MessagesReceived)
	assert.False(t, body.StoreAvailable)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/vehicles", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodOptions, ts.URL+"/vehicles", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "only reads are allowed cross-origin")
}

func TestRecentEvents(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "v1", model.RiskSafe, model.RiskRisky, model.RiskSafe)
	seed(t, ms, "v2", model.RiskModerate)
	ts := newTestServer(t, ms)

	var body recentResponse
	resp := get(t, ts.URL+"/events/recent", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, body.Total)

	body = recentResponse{}
	get(t, ts.URL+"/events/recent?limit=2&vehicle_id=v1", &body)
	require.Equal(t, 2, body.Total)
	assert.Equal(t, "v1", body.Events[0].VehicleID)
	assert.True(t, body.Events[0].Timestamp.After(body.Events[1].Timestamp))

	for _, bad := range []string{"abc", "-1", "1.5"} {
		var eb errorBody
		resp := get(t, ts.URL+"/events/recent?limit="+bad, &eb)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
		assert.NotEmpty(t, eb.Erro)
	}
}

func TestRecentEvents_EmptyIsArray(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	resp, err := http.Get(ts.URL + "/events/recent")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", string(raw["events"]))
}

func TestVehicleStatistics(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "v1", model.RiskRisky, model.RiskRisky, model.RiskSafe, model.RiskSafe)
	ts := newTestServer(t, ms)

	var body vehicleStatsResponse
	resp := get(t, ts.URL+"/vehicles/v1/statistics", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", body.VehicleID)
	assert.Equal(t, uint64(4), body.Statistics.TotalReadings)
	assert.InDelta(t, 50.0, body.Statistics.PctRisky, 1e-9)
	assert.Equal(t, model.RiskRisky, body.Statistics.OverallClassification)

	var eb errorBody
	resp = get(t, ts.URL+"/vehicles/ghost/statistics", &eb)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, eb.Erro, "ghost")
}

func TestVehiclesAndSummary(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "b", model.RiskSafe, model.RiskSafe)
	seed(t, ms, "a", model.RiskRisky)
	ts := newTestServer(t, ms)

	var vs vehiclesResponse
	get(t, ts.URL+"/vehicles", &vs)
	require.Equal(t, 2, vs.Total)
	assert.Equal(t, "a", vs.Vehicles[0].VehicleID)
	assert.Equal(t, "b", vs.Vehicles[1].VehicleID)

	var sum query.FleetSummary
	get(t, ts.URL+"/fleet/summary", &sum)
	assert.Equal(t, uint64(3), sum.TotalReadings)
	assert.Equal(t, uint64(2), sum.Safe)
	assert.Equal(t, uint64(1), sum.Risky)
	assert.InDelta(t, 33.333, sum.PctRisky, 0.001)
}

func TestAlerts(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "v1", model.RiskSafe, model.RiskRisky, model.RiskRisky)
	ts := newTestServer(t, ms)

	var body struct {
		TotalAlerts int           `json:"total_alerts"`
		Alerts      []query.Alert `json:"alerts"`
	}
	get(t, ts.URL+"/alerts", &body)
	require.Equal(t, 2, body.TotalAlerts)
	assert.Equal(t, query.AlertType, body.Alerts[0].Type)
	require.NotNil(t, body.Alerts[0].Speed)
	assert.Equal(t, 102.0, *body.Alerts[0].Speed)
}

func TestStoreUnavailable(t *testing.T) {
	ts := newTestServer(t, downStore{})
	for _, path := range []string{"/events/recent", "/vehicles/v1/statistics", "/vehicles", "/fleet/summary", "/alerts"} {
		var eb errorBody
		resp := get(t, ts.URL+path, &eb)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		assert.NotEmpty(t, eb.Erro, path)
	}
}

func TestRequestTimeout(t *testing.T) {
	ts := newTestServer(t, slowStore{Store: store.NewMemoryStore()}, WithTimeout(20*time.Millisecond))
	var eb errorBody
	resp := get(t, ts.URL+"/vehicles", &eb)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.NotEmpty(t, eb.Erro)
}

func TestNotFoundAndMethod(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	var eb errorBody
	resp := get(t, ts.URL+"/nope", &eb)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, eb.Erro)

	resp, err := http.Post(ts.URL+"/vehicles", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/vehicles", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore())
	get(t, ts.URL+"/vehicles", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fleetrisk_http_requests_total{code="200",method="GET",route="/vehicles"} 1`)
}

func TestStream(t *testing.T) {
	bus := eventbus.New(8)
	ts := newTestServer(t, store.NewMemoryStore(), WithBus(bus))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// the handler subscribes after the upgrade completes, so keep
	// publishing until the first update arrives
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		st := model.VehicleStatistics{VehicleID: "v1", TotalReadings: 3}
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				bus.Publish(events.DuplicateSkipped{VehicleID: "v1"})
				bus.Publish(events.StatsUpdated{Stats: st})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "statistics", msg.Type)
	assert.Equal(t, uint64(3), msg.Statistics.TotalReadings)
}

//go:build !no_containers

package mqtt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/aggregate"
	"github.com/kilianp07/fleetrisk/core/decoder"
	"github.com/kilianp07/fleetrisk/core/ingest"
	"github.com/kilianp07/fleetrisk/core/logger"
	"github.com/kilianp07/fleetrisk/core/store"
	"github.com/kilianp07/fleetrisk/internal/testutil"
)

// TestBrokerRoundTrip publishes through Mosquitto and checks that every
// message lands in the store exactly once, redeliveries included.
func TestBrokerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	testutil.RequireDocker(t)
	ctx := context.Background()
	broker := testutil.StartMosquitto(ctx, t)

	mem := store.NewMemoryStore()
	coord := ingest.New(ingest.Config{Workers: 2}, decoder.New(decoder.Options{}), mem, aggregate.NewEngine(mem))
	coord.Start(ctx)
	defer func() { _ = coord.Close(ctx) }()

	sub, err := NewSubscriber(Config{Broker: broker, ClientID: "ingest-it"}, coord, logger.Nop{})
	require.NoError(t, err)
	require.NoError(t, sub.Start(ctx))
	defer sub.Stop()
	require.Eventually(t, coord.Status().Connected, 5*time.Second, 50*time.Millisecond)

	pub, err := NewPublisher(Config{Broker: broker, ClientID: "sim-it"}, logger.Nop{})
	require.NoError(t, err)
	defer pub.Close()

	for i := 0; i < 10; i++ {
		msg := fmt.Sprintf(`{"vehicle_id":"veh-1","seq":%d,"timestamp":"2024-05-01T10:00:%02dZ","sensor_readings":{"speed":%d},"classification":{"classification":"risky"}}`, i, i, 50+i)
		require.NoError(t, pub.Publish(pub.TopicFor("veh-1"), []byte(msg)))
		// redelivery of the same message
		require.NoError(t, pub.Publish(pub.TopicFor("veh-1"), []byte(msg)))
	}

	require.Eventually(t, func() bool {
		return coord.Status().MessagesReceived() == 20
	}, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		st, err := mem.Get(ctx, "veh-1")
		return err == nil && st.TotalReadings == 10
	}, 5*time.Second, 50*time.Millisecond)
}

// Package testutil starts disposable brokers and databases in Docker for
// integration tests. Tests using it carry the !no_containers build tag and
// skip when Docker is not installed.
package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ReadyTimeout = 30 * time.Second
	pollInterval = 100 * time.Millisecond
)

// RequireDocker skips t when no docker binary is available.
func RequireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
}

func start(ctx context.Context, t *testing.T, req tc.ContainerRequest, port nat.Port) (string, string) {
	t.Helper()
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mapped, err := cont.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Port()
}

// StartMosquitto runs an anonymous Mosquitto broker and returns its URL
// once it accepts connections.
func StartMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()
	conf := "listener 1883\nallow_anonymous true\npersistence false\n"
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatalf("write mosquitto.conf: %v", err)
	}
	host, port := start(ctx, t, tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}, "1883/tcp")
	broker := fmt.Sprintf("tcp://%s:%s", host, port)

	waitCtx, cancel := context.WithTimeout(ctx, ReadyTimeout)
	defer cancel()
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("readiness-check")
	for {
		cli := paho.NewClient(opts)
		tok := cli.Connect()
		tok.Wait()
		if tok.Error() == nil {
			cli.Disconnect(100)
			return broker
		}
		select {
		case <-waitCtx.Done():
			t.Fatalf("mosquitto not ready: %v", tok.Error())
		case <-time.After(pollInterval):
		}
	}
}

// StartPostgres runs PostgreSQL and returns a DSN.
func StartPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	host, port := start(ctx, t, tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fleet",
			"POSTGRES_PASSWORD": "fleet",
			"POSTGRES_DB":       "fleet",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(ReadyTimeout),
	}, "5432/tcp")
	return fmt.Sprintf("postgres://fleet:fleet@%s:%s/fleet?sslmode=disable", host, port)
}

// StartRedis runs Redis and returns its host:port.
func StartRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	host, port := start(ctx, t, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}, "6379/tcp")
	return host + ":" + port
}

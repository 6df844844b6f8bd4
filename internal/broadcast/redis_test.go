package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"ticketwatch/internal/components/telemetry"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (string, func()) {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port()), func() {
		err := container.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestRedisBroker(t *testing.T) {
	url, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	broker, err := NewRedisBroker(ctx, url, telemetry.NewRecorder())
	require.NoError(t, err)
	defer broker.Close()

	sub, err := broker.Subscribe(ctx, "EVT1")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "EVT1", payload{EventID: "EVT1", Count: 7}))

	msg := receive(t, sub)
	require.Equal(t, "EVT1", msg.Topic)
	var decoded payload
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	require.Equal(t, 7, decoded.Count)

	broker.Unsubscribe(sub)
	_, ok := <-sub.C
	require.False(t, ok)
}

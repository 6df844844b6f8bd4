package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"ticketwatch/internal/components/telemetry"
	"time"

	"github.com/stretchr/testify/require"
)

type payload struct {
	EventID string `json:"eventId"`
	Count   int    `json:"count"`
}

func receive(t testing.TB, sub *Subscription) Message {
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub(4, telemetry.NewRecorder())
	defer hub.Close()
	ctx := context.Background()

	first, err := hub.Subscribe(ctx, "EVT1")
	require.NoError(t, err)
	second, err := hub.Subscribe(ctx, "EVT1")
	require.NoError(t, err)
	other, err := hub.Subscribe(ctx, "EVT2")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, "EVT1", payload{EventID: "EVT1", Count: 3}))

	for _, sub := range []*Subscription{first, second} {
		msg := receive(t, sub)
		require.Equal(t, "EVT1", msg.Topic)

		var decoded payload
		require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
		require.Equal(t, payload{EventID: "EVT1", Count: 3}, decoded)
	}

	select {
	case msg := <-other.C:
		t.Fatalf("unexpected message on other topic: %+v", msg)
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(4, telemetry.NewRecorder())
	defer hub.Close()
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "EVT1")
	require.NoError(t, err)
	hub.Unsubscribe(sub)
	// unsubscribing twice is a no-op
	hub.Unsubscribe(sub)

	_, ok := <-sub.C
	require.False(t, ok)
	require.NoError(t, hub.Publish(ctx, "EVT1", payload{}))
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	rec := telemetry.NewRecorder()
	hub := NewHub(1, rec)
	defer hub.Close()
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "EVT1")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, "EVT1", payload{Count: 1}))
	require.NoError(t, hub.Publish(ctx, "EVT1", payload{Count: 2}))

	msg := receive(t, sub)
	var decoded payload
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	require.Equal(t, 1, decoded.Count)
	require.Len(t, rec.Reports("warning", "hub.deliver"), 1)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(1, telemetry.NewRecorder())
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "EVT1")
	require.NoError(t, err)
	require.NoError(t, hub.Close())

	_, ok := <-sub.C
	require.False(t, ok)

	_, err = hub.Subscribe(ctx, "EVT1")
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, hub.Publish(ctx, "EVT1", payload{}))
	// unsubscribing after close must not panic on a closed channel
	hub.Unsubscribe(sub)
}

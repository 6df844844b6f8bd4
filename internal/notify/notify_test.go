package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"ticketwatch/internal/broadcast"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/models"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

var endpoint = models.MonitoredEndpoint{
	URL:     "https://www.ticketmaster.com/show/event/ABC123",
	EventID: "ABC123",
}

var changes = []models.ChangeEvent{
	{
		Timestamp: at,
		Type:      models.PriceChange,
		Details:   models.ChangeDetails{SectionRow: "Sec 101 Row A", OldPrice: "$50", NewPrice: "$60"},
	},
	{
		Timestamp: at,
		Type:      models.NewSection,
		Details:   models.ChangeDetails{SectionRow: "Sec 102 Row B", Price: "$40"},
	},
}

func TestDigest(t *testing.T) {
	expected := `Listings changed for event ABC123
https://www.ticketmaster.com/show/event/ABC123

2024-05-01 12:30:00  price change  Sec 101 Row A: $50 -> $60
2024-05-01 12:30:00  new listing   Sec 102 Row B: $40
`
	if diff := cmp.Diff(expected, Digest(endpoint, changes)); diff != "" {
		t.Fatalf("digest mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, "2 ticket changes for event ABC123", Subject(endpoint, changes))
	require.Equal(t, "1 ticket change for event ABC123", Subject(endpoint, changes[:1]))
}

func TestEmailNotifierDisabled(t *testing.T) {
	n := NewEmailNotifier(SmtpConfig{Server: "localhost", Port: 1}, telemetry.NewRecorder())
	require.False(t, n.Enabled())
	// nothing is dialed without recipients
	require.NoError(t, n.NotifyChanges(context.Background(), endpoint, changes))
}

type failing struct{ err error }

func (f failing) NotifyChanges(context.Context, models.MonitoredEndpoint, []models.ChangeEvent) error {
	return f.err
}

type counting struct{ calls int }

func (c *counting) NotifyChanges(context.Context, models.MonitoredEndpoint, []models.ChangeEvent) error {
	c.calls++
	return nil
}

func TestMulti(t *testing.T) {
	boom := errors.New("smtp down")
	after := &counting{}

	err := Multi{failing{err: boom}, nil, after}.NotifyChanges(context.Background(), endpoint, changes)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, after.calls)

	require.NoError(t, Multi{}.NotifyChanges(context.Background(), endpoint, changes))
}

func TestBrokerNotifier(t *testing.T) {
	hub := broadcast.NewHub(4, telemetry.NewRecorder())
	defer hub.Close()

	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, ChangesTopic("ABC123"))
	require.NoError(t, err)
	defer hub.Unsubscribe(sub)

	require.NoError(t, NewBrokerNotifier(hub).NotifyChanges(ctx, endpoint, changes))

	select {
	case msg := <-sub.C:
		require.Equal(t, "ABC123:changes", msg.Topic)
		var batch ChangeBatch
		require.NoError(t, json.Unmarshal(msg.Payload, &batch))
		require.Equal(t, "ABC123", batch.EventID)
		require.Len(t, batch.Changes, 2)
		require.Equal(t, models.PriceChange, batch.Changes[0].Type)
	case <-time.After(time.Second):
		t.Fatal("no change batch published")
	}
}

package notify

import (
	"context"
	"ticketwatch/internal/broadcast"
	"ticketwatch/internal/models"
)

// ChangesTopic is the broker topic that carries the change events of an
// event, published results go to the bare event id.
func ChangesTopic(eventID string) string {
	return eventID + ":changes"
}

type ChangeBatch struct {
	EventID string               `json:"eventId"`
	URL     string               `json:"url"`
	Changes []models.ChangeEvent `json:"changes"`
}

// BrokerNotifier publishes every batch of changes to ChangesTopic.
type BrokerNotifier struct {
	broker broadcast.Broker
}

func NewBrokerNotifier(broker broadcast.Broker) BrokerNotifier {
	return BrokerNotifier{broker: broker}
}

func (n BrokerNotifier) NotifyChanges(ctx context.Context, endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) error {
	return n.broker.Publish(ctx, ChangesTopic(endpoint.EventID), ChangeBatch{
		EventID: endpoint.EventID,
		URL:     endpoint.URL,
		Changes: changes,
	})
}

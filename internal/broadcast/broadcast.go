// Package broadcast announces completed fetch cycles to whoever is listening
// for a given event.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("broker closed")

// Message is a single published payload, encoded as JSON.
type Message struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Subscription is the handle returned by Subscribe. C is closed once the
// subscription is removed or the broker is closed.
type Subscription struct {
	ID    uuid.UUID
	Topic string
	C     <-chan Message
}

// Broker is a topic keyed publish/subscribe channel. Topics are event
// identifiers.
type Broker interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Unsubscribe(sub *Subscription)
	Close() error
}

func encode(topic string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Payload: raw}, nil
}

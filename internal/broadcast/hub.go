package broadcast

import (
	"context"
	"sync"
	"ticketwatch/internal/components/telemetry"

	"github.com/google/uuid"
)

const DefaultBuffer = 16

type hubSub struct {
	topic string
	ch    chan Message
}

// Hub is an in-process Broker. Delivery never blocks the publisher, a
// subscriber whose buffer is full misses the message.
type Hub struct {
	tel    telemetry.API
	buffer int

	lock   sync.RWMutex
	topics map[string]map[uuid.UUID]*hubSub
	closed bool
}

func NewHub(buffer int, tel telemetry.API) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		tel:    telemetry.NewScopedAPI("broadcast", tel),
		buffer: buffer,
		topics: make(map[string]map[uuid.UUID]*hubSub),
	}
}

func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	msg, err := encode(topic, payload)
	if err != nil {
		return err
	}
	h.deliver(msg)
	return nil
}

func (h *Hub) deliver(msg Message) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	if h.closed {
		return
	}
	for id, sub := range h.topics[msg.Topic] {
		select {
		case sub.ch <- msg:
		default:
			h.tel.ReportWarning("hub.deliver", "dropped message for slow subscriber", id.String())
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	id := uuid.New()
	sub := &hubSub{topic: topic, ch: make(chan Message, h.buffer)}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uuid.UUID]*hubSub)
		h.topics[topic] = subs
	}
	subs[id] = sub
	h.tel.ReportCount("hub.subscribers", int64(len(subs)))

	return &Subscription{ID: id, Topic: topic, C: sub.ch}, nil
}

func (h *Hub) Unsubscribe(handle *Subscription) {
	if handle == nil {
		return
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	subs := h.topics[handle.Topic]
	sub, ok := subs[handle.ID]
	if !ok {
		return
	}
	delete(subs, handle.ID)
	if len(subs) == 0 {
		delete(h.topics, handle.Topic)
	}
	close(sub.ch)
}

func (h *Hub) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for _, subs := range h.topics {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	h.topics = nil
	return nil
}

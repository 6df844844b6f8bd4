package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"ticketwatch/internal/components/telemetry"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "ticketwatch:event:"

func channelName(topic string) string {
	return channelPrefix + topic
}

// RedisBroker is a Broker backed by redis pub/sub, it lets several service
// instances share one stream of results.
type RedisBroker struct {
	client *redis.Client
	tel    telemetry.API
	buffer int

	lock   sync.Mutex
	subs   map[uuid.UUID]*redisSub
	closed bool
}

type redisSub struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBroker connects to the redis server at url (ex. redis://localhost:6379/0).
func NewRedisBroker(ctx context.Context, url string, tel telemetry.API) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBroker{
		client: client,
		tel:    telemetry.NewScopedAPI("broadcast", tel),
		buffer: DefaultBuffer,
		subs:   make(map[uuid.UUID]*redisSub),
	}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload any) error {
	msg, err := encode(topic, payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = b.client.Publish(ctx, channelName(topic), encoded).Err()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	pubsub := b.client.Subscribe(ctx, channelName(topic))
	// wait for the subscription to be confirmed so that messages published
	// right after Subscribe returns are not lost
	_, err := pubsub.Receive(ctx)
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	id := uuid.New()
	out := make(chan Message, b.buffer)
	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	b.subs[id] = sub

	go b.forward(loopCtx, id, pubsub, out, sub.done)

	return &Subscription{ID: id, Topic: topic, C: out}, nil
}

func (b *RedisBroker) forward(ctx context.Context, id uuid.UUID, pubsub *redis.PubSub, out chan<- Message, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			var msg Message
			err := json.Unmarshal([]byte(raw.Payload), &msg)
			if err != nil {
				b.tel.ReportBroken("redisbroker.forward", err, raw.Channel)
				continue
			}
			select {
			case out <- msg:
			default:
				b.tel.ReportWarning("redisbroker.forward", "dropped message for slow subscriber", id.String())
			}
		}
	}
}

func (b *RedisBroker) Unsubscribe(handle *Subscription) {
	if handle == nil {
		return
	}

	b.lock.Lock()
	sub, ok := b.subs[handle.ID]
	delete(b.subs, handle.ID)
	b.lock.Unlock()

	if ok {
		b.stop(sub)
	}
}

func (b *RedisBroker) stop(sub *redisSub) {
	sub.cancel()
	err := sub.pubsub.Close()
	if err != nil {
		b.tel.ReportWarning("redisbroker.stop", err)
	}
	<-sub.done
}

func (b *RedisBroker) Close() error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.lock.Unlock()

	for _, sub := range subs {
		b.stop(sub)
	}
	return b.client.Close()
}

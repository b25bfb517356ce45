package tabsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTransport broadcasts events over a Redis pub/sub channel
type RedisTransport struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	events  chan Event
	done    chan struct{}
	once    sync.Once
	log     *zap.Logger
}

// NewRedisTransport subscribes to channel and waits for the subscription to be confirmed
func NewRedisTransport(ctx context.Context, client *redis.Client, channel string, log *zap.Logger) (*RedisTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	t := &RedisTransport{
		client:  client,
		channel: channel,
		pubsub:  pubsub,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		log:     log,
	}
	go t.forward(pubsub.Channel())

	log.Info("Subscribed to Redis channel", zap.String("channel", channel))
	return t, nil
}

func (t *RedisTransport) forward(messages <-chan *redis.Message) {
	defer close(t.events)

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			ev, err := UnmarshalEvent([]byte(msg.Payload))
			if err != nil {
				t.log.Warn("Dropping unreadable sync message", zap.Error(err))
				continue
			}
			select {
			case t.events <- ev:
			case <-t.done:
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *RedisTransport) Publish(ctx context.Context, ev Event) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (t *RedisTransport) Events() <-chan Event {
	return t.events
}

func (t *RedisTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.pubsub.Close()
	})
	return err
}

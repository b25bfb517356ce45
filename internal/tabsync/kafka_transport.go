package tabsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaTransport broadcasts events through a Kafka topic. Every process reads with
// a fresh consumer group from the first offset, so each one sees every event and a
// restarted node rebuilds its state from the log even when its node id is fixed.
type KafkaTransport struct {
	writer *kafka.Writer
	reader *kafka.Reader
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger
}

func NewKafkaTransport(brokers []string, topic, nodeID string, log *zap.Logger) *KafkaTransport {
	if log == nil {
		log = zap.NewNop()
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     consumerGroupID(nodeID),
		StartOffset: kafka.FirstOffset,
		MaxBytes:    10e6, // 10MB
	})

	ctx, cancel := context.WithCancel(context.Background())
	t := &KafkaTransport{
		writer: w,
		reader: reader,
		events: make(chan Event, 256),
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}
	go t.consume(ctx)
	return t
}

// consumerGroupID is unique per process: committed offsets of an earlier run
// must not skip records this process has never applied
func consumerGroupID(nodeID string) string {
	return "reservation-node-" + nodeID + "-" + uuid.NewString()
}

func (t *KafkaTransport) consume(ctx context.Context) {
	defer close(t.done)
	defer close(t.events)

	for {
		m, err := t.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			t.log.Warn("Error reading sync message", zap.Error(err))
			continue
		}

		ev, err := UnmarshalEvent(m.Value)
		if err != nil {
			t.log.Warn("Dropping unreadable sync message", zap.Error(err))
			continue
		}

		select {
		case t.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (t *KafkaTransport) Publish(ctx context.Context, ev Event) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	payload, err := ev.Marshal()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(ev.Reservation.ID), // same reservation, same partition
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "origin", Value: []byte(ev.Origin)},
		},
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Events() <-chan Event {
	return t.events
}

func (t *KafkaTransport) Close() error {
	var errs []error
	t.once.Do(func() {
		t.cancel()
		<-t.done
		if err := t.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing kafka reader: %w", err))
		}
		if err := t.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing kafka writer: %w", err))
		}
	})
	return errors.Join(errs...)
}

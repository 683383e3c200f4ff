package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaRelay feeds settlement events from the topic to local connections. It
// stands in for the Redis bus when only Kafka links the instances; every
// instance joins its own consumer group so each one sees every event.
type KafkaRelay struct {
	reader messageReader
	local  Deliverer
	log    *slog.Logger
}

func NewKafkaRelay(local Deliverer, log *slog.Logger, groupID, topic string, brokers ...string) *KafkaRelay {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	})
	return &KafkaRelay{reader: reader, local: local, log: log.With("component", "kafka_relay")}
}

// Run reads until ctx is done.
func (r *KafkaRelay) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		r.relay(ctx)
	}
}

func (r *KafkaRelay) Close() error {
	return r.reader.Close()
}

func (r *KafkaRelay) relay(ctx context.Context) {
	m, err := r.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.WarnContext(ctx, "error reading message", "error", err)
		}
		return
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		r.log.WarnContext(ctx, "error parsing message", "offset", m.Offset, "error", err)
		return
	}
	if event.UserID == "" {
		r.log.WarnContext(ctx, "event without user_id", "offset", m.Offset)
		return
	}

	r.local.Deliver(event.UserID, m.Value)
}

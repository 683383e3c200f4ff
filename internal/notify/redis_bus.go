package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "settlement:events"

// Deliverer hands a payload to a buyer's local connections.
type Deliverer interface {
	Deliver(userID string, payload []byte)
}

// RedisBus carries order events between instances. A callback handled on one
// instance reaches a buyer connected to another.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	local   Deliverer
	log     *slog.Logger
}

func NewRedisBus(client redis.UniversalClient, channel string, local Deliverer, log *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		local:   local,
		log:     log.With("component", "redis_bus"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run forwards every event on the channel to local connections until ctx is
// done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.OrderEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.WarnContext(ctx, "malformed event on bus", "error", err)
				continue
			}
			b.local.Deliver(event.UserID, []byte(msg.Payload))
		}
	}
}

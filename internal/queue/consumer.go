package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceid/internal/identity"
)

// EventHandler receives decoded identity events.
type EventHandler func(ctx context.Context, ev identity.Event) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// DecodeIdentityEvent parses a message payload published by Producer.
func DecodeIdentityEvent(data []byte) (identity.Event, error) {
	var ev identity.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return identity.Event{}, fmt.Errorf("decode identity event: %w", err)
	}
	if ev.Type == "" {
		return identity.Event{}, fmt.Errorf("decode identity event: missing type")
	}
	return ev, nil
}

// ConsumeIdentityEvents starts a background fetch loop delivering new
// identity events to handler (the API uses it to feed websocket clients).
// Malformed messages are terminated; handler errors are nak'ed for redelivery.
func (c *Consumer) ConsumeIdentityEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, IdentitiesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", IdentitiesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: IdentitiesSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch identity events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				ev, err := DecodeIdentityEvent(msg.Data())
				if err != nil {
					slog.Error("drop malformed identity event", "subject", msg.Subject(), "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process identity event error", "error", err, "subject", msg.Subject())
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("identity event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}

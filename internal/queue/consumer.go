package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/weeargh/kiwi/internal/domain/vesting"
)

// GrantVester vests a grant up to its tenant's today.
type GrantVester interface {
	ProcessToday(ctx context.Context, tenantID, grantID, actorID string) ([]vesting.Event, error)
}

// Consumer vests grants as their grant.created messages arrive.
type Consumer struct {
	vester GrantVester
	logger *slog.Logger
	// Prefetch bounds unacknowledged deliveries.
	Prefetch int
}

// NewConsumer creates a consumer that hands messages to vester.
func NewConsumer(vester GrantVester, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Consumer{vester: vester, logger: logger, Prefetch: 16}
}

// Run consumes queue until ctx ends, reconnecting with backoff when the
// broker connection drops.
func (c *Consumer) Run(ctx context.Context, url, queue string) error {
	if queue == "" {
		queue = DefaultQueue
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			c.logger.Warn("grant consumer dial failed", "error", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, queue)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("grant consumer loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, queue string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.Prefetch, 0, false); err != nil {
		c.logger.Warn("grant consumer set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info("grant consumer started", "queue", queue)
	for d := range msgs {
		c.deliver(ctx, d)
	}
	return errors.New("deliveries channel closed")
}

// Acknowledger is the subset of amqp.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	c.settle(d, d.Body, d.Redelivered, c.HandleMessage(ctx, d.Body))
}

// settle acks on success, drops malformed messages, and requeues a failed
// message once before dropping it. The nightly batch vests anything dropped.
func (c *Consumer) settle(ack Acknowledger, body []byte, redelivered bool, err error) {
	switch {
	case err == nil:
		_ = ack.Ack(false)
	case errors.Is(err, ErrInvalidMessage):
		c.logger.Error("dropping malformed grant.created message", "error", err, "body", string(body))
		_ = ack.Nack(false, false)
	default:
		c.logger.Error("grant.created handling failed", "error", err, "redelivered", redelivered)
		_ = ack.Nack(false, !redelivered)
	}
}

// HandleMessage vests the grant named in body.
func (c *Consumer) HandleMessage(ctx context.Context, body []byte) error {
	msg, err := decode(body)
	if err != nil {
		return err
	}
	actor := msg.ActorID
	if actor == "" {
		actor = vesting.SystemActor
	}
	events, err := c.vester.ProcessToday(ctx, msg.TenantID, msg.GrantID, actor)
	if err != nil {
		return fmt.Errorf("vesting grant %s: %w", msg.GrantID, err)
	}
	c.logger.Info("grant vested from queue", "tenant_id", msg.TenantID, "grant_id", msg.GrantID, "events", len(events))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

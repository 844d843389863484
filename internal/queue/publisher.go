package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/weeargh/kiwi/internal/domain/grant"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// redialAttempts bounds reconnects per publish; GrantCreated runs inline with
// the request that created the grant.
const redialAttempts = 3

// dialFunc opens a fresh connection and channel.
type dialFunc func() (io.Closer, Channel, error)

// Publisher publishes grant.created messages. It implements grant.CreatedHook.
// Dialed publishers reconnect when the broker drops the connection.
type Publisher struct {
	mu      sync.Mutex
	conn    io.Closer
	ch      Channel
	queue   string
	logger  *slog.Logger
	dial    dialFunc
	backoff time.Duration
}

// Dial connects to the broker and declares queue.
func Dial(url, queue string, logger *slog.Logger) (*Publisher, error) {
	dial := func() (io.Closer, Channel, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("channel open: %w", err)
		}
		return conn, ch, nil
	}
	conn, ch, err := dial()
	if err != nil {
		return nil, err
	}
	p, err := NewPublisher(ch, queue, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	p.dial = dial
	return p, nil
}

// NewPublisher publishes on an open channel, declaring queue as durable.
func NewPublisher(ch Channel, queue string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return &Publisher{ch: ch, queue: queue, logger: logger, backoff: 250 * time.Millisecond}, nil
}

// GrantCreated publishes a persistent message for g.
func (p *Publisher) GrantCreated(ctx context.Context, g *grant.Grant, actorID string) error {
	body, err := json.Marshal(GrantCreated{
		TenantID:  g.TenantID,
		GrantID:   g.ID,
		ActorID:   actorID,
		CreatedAt: g.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    g.ID,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub)
	if err != nil && p.dial != nil && errors.Is(err, amqp.ErrClosed) {
		if rerr := p.reconnect(ctx); rerr != nil {
			err = rerr
		} else {
			err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub)
		}
	}
	if err != nil {
		p.logger.Warn("publish grant.created failed", "tenant_id", g.TenantID, "grant_id", g.ID, "error", err)
		return fmt.Errorf("publish: %w", err)
	}
	p.logger.Debug("published grant.created", "tenant_id", g.TenantID, "grant_id", g.ID)
	return nil
}

// reconnect replaces a closed connection, backing off between attempts.
// Callers hold p.mu.
func (p *Publisher) reconnect(ctx context.Context) error {
	_ = p.ch.Close()
	if p.conn != nil {
		_ = p.conn.Close()
	}

	backoff := p.backoff
	var err error
	for attempt := 1; attempt <= redialAttempts; attempt++ {
		var (
			conn io.Closer
			ch   Channel
		)
		conn, ch, err = p.dial()
		if err == nil {
			if _, err = ch.QueueDeclare(p.queue, true, false, false, false, nil); err == nil {
				p.conn, p.ch = conn, ch
				p.logger.Info("grant publisher reconnected", "attempt", attempt)
				return nil
			}
			_ = conn.Close()
			err = fmt.Errorf("queue declare: %w", err)
		}
		p.logger.Warn("grant publisher redial failed", "attempt", attempt, "error", err, "retry_in", backoff.String())
		if attempt == redialAttempts || !sleep(ctx, backoff) {
			break
		}
		backoff *= 2
	}
	return fmt.Errorf("reconnect: %w", err)
}

// Close closes the channel and, for dialed publishers, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ grant.CreatedHook = (*Publisher)(nil)

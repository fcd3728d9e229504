// Package broker carries pipeline trigger events over AMQP. Each event kind
// has its own durable queue; the publisher side stands in for the storage and
// database notifications, the consumer side feeds the dispatcher.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"vidpipe/internal/logging"
	"vidpipe/internal/retry"
	"vidpipe/internal/services"
	"vidpipe/internal/trigger"
)

const (
	dialAttempts = 5
	dialDelay    = 5 * time.Second
)

// Channel is the subset of *amqp.Channel the broker uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Router receives decoded trigger payloads.
type Router interface {
	Route(ctx context.Context, kind trigger.Kind, payload []byte) error
}

// Queues maps event kinds to queue names.
type Queues struct {
	RecordCreated   string
	ObjectFinalized string
}

// Name returns the queue carrying kind.
func (q Queues) Name(kind trigger.Kind) (string, error) {
	switch kind {
	case trigger.KindRecordCreated:
		return q.RecordCreated, nil
	case trigger.KindObjectFinalized:
		return q.ObjectFinalized, nil
	default:
		return "", fmt.Errorf("%w: %q", trigger.ErrUnknownKind, kind)
	}
}

// Client is an AMQP connection with one channel.
type Client struct {
	conn     *amqp.Connection
	ch       Channel
	queues   Queues
	prefetch int
	logger   *slog.Logger

	declareOnce sync.Once
	declareErr  error
}

// Options configures Dial.
type Options struct {
	URL      string
	Queues   Queues
	Prefetch int
	// Sleep overrides the wait between dial attempts.
	Sleep func(context.Context, time.Duration) error
}

// Dial connects to the broker, retrying a few times while it starts up.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	logger = logging.NewComponentLogger(logger, "broker")
	var conn *amqp.Connection
	var lastErr error
	err := retry.Poll(ctx, retry.Policy{
		Attempts: dialAttempts,
		Delay:    dialDelay,
		Sleep:    opts.Sleep,
		OnRetry: func(attempt int, delay time.Duration, _ error) {
			logger.Info("broker not reachable yet; retrying",
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
				logging.Error(lastErr),
			)
		},
	}, func(context.Context) (bool, error) {
		c, err := amqp.Dial(opts.URL)
		if err != nil {
			lastErr = err
			return false, nil
		}
		conn = c
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			err = fmt.Errorf("%w: %w", err, lastErr)
		}
		return nil, services.Wrap(services.ErrTransient, "broker", "dial", "", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, services.Wrap(services.ErrTransient, "broker", "open channel", "", err)
	}
	client := NewClient(ch, opts.Queues, opts.Prefetch, logger)
	client.conn = conn
	return client, nil
}

// NewClient wraps an existing channel.
func NewClient(ch Channel, queues Queues, prefetch int, logger *slog.Logger) *Client {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Client{ch: ch, queues: queues, prefetch: prefetch, logger: logging.NewComponentLogger(logger, "broker")}
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	err := c.ch.Close()
	if c.conn != nil {
		err = errors.Join(err, c.conn.Close())
	}
	return err
}

func (c *Client) declare() error {
	c.declareOnce.Do(func() {
		for _, name := range []string{c.queues.RecordCreated, c.queues.ObjectFinalized} {
			if _, err := c.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
				c.declareErr = fmt.Errorf("declare queue %s: %w", name, err)
				return
			}
		}
	})
	return c.declareErr
}

// Publish sends event as a persistent JSON message on the queue for kind.
func (c *Client) Publish(ctx context.Context, kind trigger.Kind, event any) error {
	queue, err := c.queues.Name(kind)
	if err != nil {
		return err
	}
	if err := c.declare(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         string(kind),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := c.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return services.Wrap(services.ErrTransient, "broker", "publish", queue, err)
	}
	c.logger.Debug("event published", logging.String("queue", queue), logging.String("message_id", msg.MessageId))
	return nil
}

// Consume delivers messages from both queues to router until ctx is done.
// Messages are acknowledged after the worker finishes; undecodable messages
// are rejected without requeue.
func (c *Client) Consume(ctx context.Context, router Router) error {
	if err := c.declare(); err != nil {
		return err
	}
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, kind := range []trigger.Kind{trigger.KindRecordCreated, trigger.KindObjectFinalized} {
		queue, _ := c.queues.Name(kind)
		deliveries, err := c.ch.Consume(queue, "vidpipe-"+string(kind), false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		wg.Add(1)
		go func(kind trigger.Kind, queue string) {
			defer wg.Done()
			if err := c.drain(ctx, kind, queue, deliveries, router); err != nil {
				errs <- err
			}
		}(kind, queue)
		c.logger.Info("consuming trigger queue", logging.String("queue", queue), logging.String("kind", string(kind)))
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func (c *Client) drain(ctx context.Context, kind trigger.Kind, queue string, deliveries <-chan amqp.Delivery, router Router) error {
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("queue %s: delivery channel closed", queue)
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				c.handle(ctx, kind, d, router)
			}()
		}
	}
}

func (c *Client) handle(ctx context.Context, kind trigger.Kind, d amqp.Delivery, router Router) {
	msgCtx := ctx
	if d.MessageId != "" {
		msgCtx = services.WithRequestID(ctx, d.MessageId)
	}
	err := router.Route(msgCtx, kind, d.Body)
	switch {
	case err == nil:
		c.ack(d)
	case errors.Is(err, services.ErrValidation), errors.Is(err, trigger.ErrUnknownKind):
		logging.WarnWithContext(c.logger, "rejecting undecodable trigger message", "broker_message_rejected",
			logging.String("kind", string(kind)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "event dropped"),
			logging.String(logging.FieldErrorHint, "check the publisher payload format"),
		)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Warn("nack failed", logging.Error(nackErr))
		}
	case ctx.Err() != nil:
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Warn("nack failed", logging.Error(nackErr))
		}
	default:
		// The worker already wrote the failure onto the record.
		c.ack(d)
	}
}

func (c *Client) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack failed", logging.Error(err))
	}
}

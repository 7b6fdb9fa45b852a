package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robbyt/go-supervisor/supervisor"
	"golang.org/x/sync/errgroup"
)

var _ supervisor.Runnable = (*Consumer)(nil)

var errDeliveriesClosed = errors.New("deliveries channel closed")

// Handler processes one event.  A returned error rejects the message.
type Handler interface {
	Handle(ctx context.Context, ev BookingEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev BookingEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev BookingEvent) error { return f(ctx, ev) }

// Consumer reads every booking event queue and hands messages to a pool of
// workers.  It reconnects with exponential backoff (1s doubling up to 30s)
// whenever the broker goes away, and only returns once its context is
// cancelled or Stop is called.
type Consumer struct {
	url     string
	workers int
	handler Handler
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConsumer returns a Consumer running workers goroutines (at least one).
func NewConsumer(url string, workers int, h Handler, logger *slog.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{url: url, workers: workers, handler: h, log: logger.With("component", "consumer")}
}

func (c *Consumer) String() string { return "booking-event-consumer" }

// Run implements supervisor.Runnable.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("failed to dial broker", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

// Stop implements supervisor.Runnable.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.workers*4, 0, false); err != nil {
		c.log.Warn("set QoS failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	deliveries := make(chan amqp.Delivery)
	for _, t := range EventTypes {
		if _, err := ch.QueueDeclare(string(t), true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", t, err)
		}
		msgs, err := ch.Consume(string(t), "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", t, err)
		}
		g.Go(func() error { return forward(gctx, msgs, deliveries) })
	}
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case d := <-deliveries:
					c.process(gctx, d)
				}
			}
		})
	}
	c.log.Info("consuming booking events", "workers", c.workers)
	return g.Wait()
}

func forward(ctx context.Context, in <-chan amqp.Delivery, out chan<- amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-in:
			if !ok {
				return errDeliveriesClosed
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// process acks a handled message and rejects, without requeue, one that
// fails so a poison message cannot spin.
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	if err := c.handle(ctx, d.Body); err != nil {
		c.log.Warn("handle message failed", "error", err, "message_id", d.MessageId)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return c.handler.Handle(ctx, ev)
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

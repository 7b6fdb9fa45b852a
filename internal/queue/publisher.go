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
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// connectFunc opens a channel; closeAll tears down the channel and its
// connection.
type connectFunc func() (ch channel, closeAll func(), err error)

// Publisher sends booking events to one durable queue per event type.  The
// broker connection is opened on first use and reopened after a failed
// publish.  Messages are persistent.
type Publisher struct {
	connect connectFunc
	log     *slog.Logger

	mu       sync.Mutex
	ch       channel
	closeAll func()
	declared map[EventType]bool
}

// NewPublisher returns a Publisher for the broker at url.  No connection is
// made until the first Enqueue.
func NewPublisher(url string, logger *slog.Logger) *Publisher {
	return newPublisher(dialer(url), logger)
}

func newPublisher(connect connectFunc, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{connect: connect, log: logger.With("component", "publisher")}
}

func dialer(url string) connectFunc {
	return func() (channel, func(), error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("channel open: %w", err)
		}
		return ch, func() { _ = ch.Close(); _ = conn.Close() }, nil
	}
}

// Enqueue publishes ev.  An error means the event was not handed to the
// broker; callers that already committed the state change only log it.
func (p *Publisher) Enqueue(ctx context.Context, ev BookingEvent) error {
	msg, err := publishing(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(ev.Type); err != nil {
		return err
	}
	if err := p.ch.PublishWithContext(ctx, "", string(ev.Type), false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// ensure opens the channel and declares the event's queue.  Callers hold p.mu.
func (p *Publisher) ensure(t EventType) error {
	if p.ch == nil {
		ch, closeAll, err := p.connect()
		if err != nil {
			return err
		}
		p.ch, p.closeAll, p.declared = ch, closeAll, make(map[EventType]bool)
	}
	if p.declared[t] {
		return nil
	}
	if _, err := p.ch.QueueDeclare(string(t), true, false, false, false, nil); err != nil {
		p.reset()
		return fmt.Errorf("queue declare %s: %w", t, err)
	}
	p.declared[t] = true
	return nil
}

func (p *Publisher) reset() {
	if p.closeAll != nil {
		p.closeAll()
	}
	p.ch, p.closeAll, p.declared = nil, nil, nil
}

// Close drops the broker connection.  The Publisher stays usable.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func publishing(ev BookingEvent) (amqp.Publishing, error) {
	if ev.Type == "" {
		return amqp.Publishing{}, errors.New("queue: event without type")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-platform/internal/chat"
)

const retryHeader = "x-retry-count"

// ErrPermanent marks a handler failure that retrying cannot fix; the delivery
// goes straight to the DLQ.
var ErrPermanent = errors.New("permanent failure")

// Handler applies one event. A returned error sends the delivery through the
// retry queue until MaxRetries is reached, then to the DLQ.
type Handler func(ctx context.Context, evt chat.Event) error

type ConsumerOptions struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	opts  ConsumerOptions
}

func NewConsumer(url, queue string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, opts: opts}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is done or the broker closes the delivery channel.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Printf("[Consumer] started queue=%s concurrency=%d", c.queue, c.opts.Concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, h)
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Consumer] shutting down queue=%s", c.queue)
			return nil

		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeRetry
	outcomeDead
)

// decide maps a handler result to what happens to the delivery. A
// non-permanent failure seen while the consumer is stopping goes back to the
// queue untouched.
func decide(err, ctxErr error, attempt, maxRetries int) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrPermanent):
		return outcomeDead
	case ctxErr != nil:
		return outcomeRequeue
	case attempt >= maxRetries:
		return outcomeDead
	default:
		return outcomeRetry
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, h Handler) {
	evt, err := decodeEvent(d.Body)
	if err != nil {
		log.Printf("[Consumer] worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err = h(ctx, evt)
	attempt := retryCount(d.Headers)
	if err != nil {
		log.Printf("[Consumer] worker=%d event=%s thread=%s failed attempt=%d cost=%s err=%v",
			workerID, evt.Type, evt.ThreadID, attempt, time.Since(start), err)
	}

	switch decide(err, ctx.Err(), attempt, c.opts.MaxRetries) {
	case outcomeAck:
		if err := d.Ack(false); err != nil {
			log.Printf("[Consumer] worker=%d ack failed event=%s err=%v", workerID, evt.Type, err)
		}
	case outcomeRequeue:
		_ = d.Nack(false, true)
	case outcomeDead:
		_ = d.Nack(false, false)
	case outcomeRetry:
		c.retry(ctx, d, attempt)
	}
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt + 1)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := c.ch.PublishWithContext(cctx, "", retryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Type:         d.Type,
		Headers:      headers,
		Body:         d.Body,
		Expiration:   strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
	if err != nil {
		log.Printf("[Consumer] retry publish failed, requeueing: %v", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func decodeEvent(body []byte) (chat.Event, error) {
	var evt chat.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return chat.Event{}, err
	}
	if evt.Type == "" {
		return chat.Event{}, errors.New("event type missing")
	}
	return evt, nil
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

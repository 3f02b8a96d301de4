package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/logging"
)

const (
	maxRetries     = 5
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	URL        string
	Prefetch   int      // messages prefetched per consumer, default 10
	ConsumerID string   // defaults to a generated ID
	Queues     []string // defaults to the refresh queue
}

// RabbitMQConsumer implements Consumer
type RabbitMQConsumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queues     []string
	consumerID string
	log        zerolog.Logger
}

// NewConsumer creates a new RabbitMQ consumer
func NewConsumer(cfg ConsumerConfig) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel failed: %w", err)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("qos failed: %w", err)
	}

	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = "orchestrator-" + uuid.New().String()[:8]
	}

	queues := cfg.Queues
	if len(queues) == 0 {
		queues = []string{QueueRefresh}
	}

	return &RabbitMQConsumer{
		conn:       conn,
		channel:    ch,
		queues:     queues,
		consumerID: consumerID,
		log:        logging.WithComponent("mq"),
	}, nil
}

// Consume starts consuming refresh requests from the configured queues.
// It blocks until the context is cancelled or the delivery channels close.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler func(context.Context, *RefreshRequest) error) error {
	channels := make([]<-chan amqp.Delivery, 0, len(c.queues))

	for _, queue := range c.queues {
		msgs, err := c.channel.Consume(
			queue,
			c.consumerID+"-"+queue,
			false, // auto-ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("consume %s failed: %w", queue, err)
		}
		channels = append(channels, msgs)
	}

	c.log.Info().Strs("queues", c.queues).Str("consumer_id", c.consumerID).Msg("consuming refresh requests")

	merged := mergeChannelsWithContext(ctx, channels...)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-merged:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, d, handler)
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler func(context.Context, *RefreshRequest) error) {
	var req RefreshRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		c.log.Warn().Err(err).Str("queue", d.RoutingKey).Msg("rejecting malformed refresh request")
		d.Reject(false)
		return
	}

	if err := handler(ctx, &req); err != nil {
		c.retryOrReject(ctx, d, err)
		return
	}

	d.Ack(false)
}

// retryOrReject republishes the delivery with an incremented retry counter
// after a backoff, or rejects it once retries are exhausted
func (c *RabbitMQConsumer) retryOrReject(ctx context.Context, d amqp.Delivery, handlerErr error) {
	retryCount := int64(0)
	if d.Headers != nil {
		if v, ok := d.Headers["x-retry-count"]; ok {
			switch n := v.(type) {
			case int64:
				retryCount = n
			case int32:
				retryCount = int64(n)
			}
		}
	}

	if retryCount >= maxRetries {
		c.log.Error().Err(handlerErr).
			Str("query", truncateBody(d.Body)).
			Int64("retries", retryCount).
			Msg("refresh request failed permanently")
		d.Reject(false)
		return
	}

	backoff := initialBackoff << uint(retryCount)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	c.log.Warn().Err(handlerErr).
		Int64("retry", retryCount+1).
		Dur("backoff", backoff).
		Msg("refresh request failed, retrying")

	select {
	case <-ctx.Done():
		d.Reject(true)
		return
	case <-time.After(backoff):
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = retryCount + 1

	err := c.channel.PublishWithContext(
		ctx,
		"",           // default exchange
		d.RoutingKey, // back to the same queue
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         d.Body,
			Headers:      headers,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to republish refresh request")
		d.Reject(true)
		return
	}

	d.Ack(false)
}

func truncateBody(body []byte) string {
	const max = 120
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}

// Close closes the consumer connection
func (c *RabbitMQConsumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}

// mergeChannelsWithContext merges multiple delivery channels into one,
// stopping when the context is cancelled or all inputs close
func mergeChannelsWithContext(ctx context.Context, channels ...<-chan amqp.Delivery) <-chan amqp.Delivery {
	merged := make(chan amqp.Delivery)
	var wg sync.WaitGroup

	wg.Add(len(channels))
	for _, ch := range channels {
		go func(ch <-chan amqp.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- d:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	return merged
}

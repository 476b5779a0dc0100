package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"minesafe-alerting/internal/observability/metrics"
	telemetry "minesafe-alerting/internal/telemetry/domain"
)

// Config selects the brokers, topic and consumer group.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// Ingester handles one raw payload.
type Ingester interface {
	Ingest(ctx context.Context, source string, raw []byte) (telemetry.Message, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// Consumer reads device payloads from a topic and commits each message after
// it has been handled. Malformed messages are logged and committed.
type Consumer struct {
	reader   messageReader
	ingester Ingester
	topic    string
	logger   zerolog.Logger
	backoff  time.Duration
}

// Option customizes the consumer.
type Option func(*Consumer)

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithErrorBackoff sets the pause after a fetch error.
func WithErrorBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

func withReader(r messageReader) Option {
	return func(c *Consumer) {
		c.reader = r
	}
}

// NewConsumer constructs a consumer group reader.
func NewConsumer(cfg Config, ingester Ingester, opts ...Option) (*Consumer, error) {
	if ingester == nil {
		return nil, errors.New("telemetry consumer: nil ingester")
	}
	if cfg.Topic == "" {
		return nil, errors.New("telemetry consumer: topic is required")
	}
	c := &Consumer{
		ingester: ingester,
		topic:    cfg.Topic,
		logger:   zerolog.Nop(),
		backoff:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reader == nil {
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("telemetry consumer: at least one broker is required")
		}
		if cfg.GroupID == "" {
			cfg.GroupID = "minesafe-alerting"
		}
		if cfg.MinBytes <= 0 {
			cfg.MinBytes = 1
		}
		if cfg.MaxBytes <= 0 {
			cfg.MaxBytes = 10e6
		}
		if cfg.MaxWait <= 0 {
			cfg.MaxWait = 500 * time.Millisecond
		}
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: kafka.LastOffset,
		})
	}
	return c, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Str("topic", c.topic).Msg("telemetry consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.IncIngestError("kafka_fetch")
			c.logger.Error().Err(err).Msg("fetch message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("commit message")
		}
		metrics.SetConsumerLag(c.topic, c.reader.Stats().Lag)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	if _, err := c.ingester.Ingest(ctx, "kafka", msg.Value); err != nil {
		event := c.logger.Warn()
		if !errors.Is(err, telemetry.ErrInvalidPayload) && !errors.Is(err, telemetry.ErrMissingDevice) {
			event = c.logger.Error()
		}
		event.Err(err).
			Str("key", string(msg.Key)).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping telemetry message")
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

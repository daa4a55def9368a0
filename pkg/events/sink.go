package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Sink delivers serialized events to an external broker
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// NewSink creates the sink selected by cfg.Sink. It returns nil, nil when
// forwarding is disabled.
func NewSink(cfg config.EventsConfig) (Sink, error) {
	switch strings.ToLower(cfg.Sink) {
	case "", "none":
		return nil, nil
	case "nats":
		return NewNATSSink(cfg.URL)
	case "redis":
		return NewRedisSink(RedisSinkConfig{
			URL:      cfg.URL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		})
	case "kafka":
		return NewKafkaSink(cfg.KafkaBrokers)
	default:
		return nil, fmt.Errorf("unsupported event sink: %s (supported: none, nats, redis, kafka)", cfg.Sink)
	}
}

// NATSSink publishes events as core NATS messages
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink connects to the NATS server at url
func NewNATSSink(url string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("warden-events"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn}, nil
}

func (s *NATSSink) Publish(ctx context.Context, subject string, data []byte) error {
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	if err := s.conn.Flush(); err != nil {
		s.conn.Close()
		return err
	}
	s.conn.Close()
	return nil
}

// RedisSinkConfig represents Redis Streams settings
type RedisSinkConfig struct {
	URL      string
	Password string
	DB       int
	Stream   string
}

// RedisSink appends events to a Redis stream
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects to Redis and verifies the connection
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.Stream == "" {
		cfg.Stream = "warden-events"
	}
	return &RedisSink{client: client, stream: cfg.Stream}, nil
}

func (s *RedisSink) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: map[string]interface{}{
			"subject": subject,
			"data":    data,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis stream %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// KafkaSink writes events to a Kafka topic named after the subject
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a writer for the given brokers
func NewKafkaSink(brokers []string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			MaxAttempts:            3,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, subject string, data []byte) error {
	err := s.writer.WriteMessages(ctx, kafka.Message{
		Topic: subject,
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", subject, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

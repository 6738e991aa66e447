package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrRequestUnsupported is returned by buses without request-reply.
var ErrRequestUnsupported = errors.New("request-reply is not supported by this bus")

// KafkaBus implements EventBus on Kafka. Messages are written as JSON
// envelopes keyed by message id. Each subscription is a consumer-group
// reader on a single topic.
type KafkaBus struct {
	mu            sync.Mutex
	writer        *kafkago.Writer
	brokers       []string
	group         string
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

type kafkaSubscription struct {
	id     string
	topic  string
	reader *kafkago.Reader
	cancel context.CancelFunc
	done   chan struct{}
	bus    *KafkaBus
}

// NewKafkaBus creates a Kafka event bus. Connections are opened lazily.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.KafkaConsumerGroup == "" {
		cfg.KafkaConsumerGroup = "kestrel"
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &KafkaBus{
		writer:        w,
		brokers:       cfg.KafkaBrokers,
		group:         cfg.KafkaConsumerGroup,
		subscriptions: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish writes a message envelope to topic.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus is closed")
	}

	msg := newMessage(topic, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = b.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(msg.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer-group reader for topic. Offsets are committed
// after the handler returns, whether or not it failed.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:    uuid.New().String(),
		topic: topic,
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  b.brokers,
			Topic:    topic,
			GroupID:  b.group,
			MinBytes: 1,
			MaxBytes: 10 * 1024 * 1024, // 10 MB
		}),
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}
	b.subscriptions[sub.id] = sub

	go sub.consume(subCtx, handler)
	return sub, nil
}

func (s *kafkaSubscription) consume(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)
	slog.Info("kafka consumer starting", "topic", s.topic, "group", s.bus.group)

	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("kafka fetch failed", "topic", s.topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			slog.Error("failed to unmarshal kafka message",
				"topic", m.Topic,
				"offset", m.Offset,
				"error", err,
			)
		} else if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"topic", m.Topic,
				"partition", m.Partition,
				"offset", m.Offset,
				"message_id", msg.ID,
				"error", err,
			)
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Error("kafka commit failed",
				"topic", m.Topic,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

// Request is not available on Kafka.
func (b *KafkaBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: kafka topic %s", ErrRequestUnsupported, topic)
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range b.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close stops every reader and flushes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing kafka writer: %w", err)
	}
	return firstErr
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("closing kafka reader for %s: %w", s.topic, err)
	}
	return nil
}

// Unsubscribe stops the reader.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, ok := s.bus.subscriptions[s.id]
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	if !ok {
		return nil
	}
	return s.stop()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"

	"github.com/opensource-finance/payguard/internal/domain"
)

// commitEvery is how many messages a consumer handles between offset commits.
const commitEvery = 20

// KafkaBus implements EventBus on Kafka. Messages are keyed by trader so a
// trader's trades land on one partition and are ingested in order.
type KafkaBus struct {
	mu            sync.Mutex
	producer      *kafka.Producer
	config        domain.EventBusConfig
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

type kafkaSubscription struct {
	id       string
	topic    string
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if cfg.KafkaBrokers == "" {
		cfg.KafkaBrokers = "localhost:9092"
	}
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "payguard"
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBrokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	b := &KafkaBus{
		producer:      producer,
		config:        cfg,
		subscriptions: make(map[string]*kafkaSubscription),
	}
	go b.drainEvents()

	slog.Info("Kafka producer created", "brokers", cfg.KafkaBrokers)
	return b, nil
}

// drainEvents logs asynchronous delivery failures.
func (b *KafkaBus) drainEvents() {
	for ev := range b.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				slog.Error("kafka delivery failed",
					"topic", topicName(e.TopicPartition.Topic),
					"error", e.TopicPartition.Error,
				)
			}
		case kafka.Error:
			slog.Error("kafka producer error", "error", e)
		}
	}
}

// Publish produces a message keyed for partition ordering.
func (b *KafkaBus) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	data, err := json.Marshal(newMessage(topic, key, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaTopic := b.makeTopic(topic)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kafkaTopic, Partition: kafka.PartitionAny},
		Value:          data,
	}
	if key != "" {
		msg.Key = []byte(key)
	}

	if err := b.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Subscribe starts a consumer in the configured group and polls it until
// the subscription is cancelled.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  b.config.KafkaBrokers,
		"group.id":           b.config.KafkaGroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{b.makeTopic(topic)}, nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:       uuid.New().String(),
		topic:    topic,
		consumer: consumer,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	b.subscriptions[sub.id] = sub

	go sub.poll(subCtx, handler)
	return sub, nil
}

func (s *kafkaSubscription) poll(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)
	defer s.consumer.Close()

	handled := 0
	for {
		select {
		case <-ctx.Done():
			if handled > 0 {
				_, _ = s.consumer.Commit()
			}
			return
		default:
		}

		ev := s.consumer.Poll(100)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			var msg domain.Message
			if err := json.Unmarshal(e.Value, &msg); err != nil {
				slog.Error("failed to unmarshal kafka message",
					"topic", topicName(e.TopicPartition.Topic),
					"offset", e.TopicPartition.Offset.String(),
					"error", err,
				)
				continue
			}
			if err := handler(ctx, &msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
			handled++
			if handled%commitEvery == 0 {
				if _, err := s.consumer.Commit(); err != nil {
					slog.Warn("kafka commit failed", "error", err)
				}
			}
		case kafka.Error:
			slog.Error("kafka consumer error", "error", e, "fatal", e.IsFatal())
		}
	}
}

// Request is not supported on Kafka; request-reply stays on the HTTP API.
func (b *KafkaBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("request-reply is not supported on kafka")
}

// Ping checks broker reachability through the producer's metadata.
func (b *KafkaBus) Ping(ctx context.Context) error {
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if _, err := b.producer.GetMetadata(nil, false, int(timeout.Milliseconds())); err != nil {
		return fmt.Errorf("kafka not reachable: %w", err)
	}
	return nil
}

// Close stops all consumers and flushes the producer.
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

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	if remaining := b.producer.Flush(5000); remaining > 0 {
		slog.Warn("kafka producer closed with undelivered messages", "count", remaining)
	}
	b.producer.Close()
	return nil
}

// makeTopic maps a topic to a Kafka topic name.
func (b *KafkaBus) makeTopic(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}

func topicName(t *string) string {
	if t == nil {
		return ""
	}
	return *t
}

// Unsubscribe stops the consumer and waits for its poll loop to exit.
func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return nil
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

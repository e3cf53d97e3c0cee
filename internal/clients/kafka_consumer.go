package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const (
	POLL_TIMEOUT = time.Second
	RETRY_DELAY  = 2 * time.Second
)

// messageConsumer is the part of *kafka.Consumer the audit consumer needs.
type messageConsumer interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

// AuditConsumer reads audit records back off the audit topic. Offsets are
// only committed explicitly, after the caller has stored the records.
type AuditConsumer struct {
	consumer   messageConsumer
	retryDelay time.Duration
}

func NewAuditConsumer(cfg config.KafkaConfig) (*AuditConsumer, error) {
	slog.Info("[KafkaClient] Initializing Kafka Consumer...",
		slog.String("broker", cfg.Broker),
		slog.String("group_id", cfg.GroupID),
		slog.String("topic", cfg.AuditTopic))

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Broker,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
	})
	if err != nil {
		return nil, fmt.Errorf("[KafkaClient] Failed to create consumer: %w", err)
	}

	if err := c.SubscribeTopics([]string{cfg.AuditTopic}, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("[KafkaClient] Failed to subscribe to topics: %w", err)
	}

	slog.Info("[KafkaClient] Kafka Consumer initialized successfully")
	return &AuditConsumer{consumer: c, retryDelay: RETRY_DELAY}, nil
}

// Next returns the next message. It returns nil, nil when the poll times out
// so callers can service timers between polls.
func (ac *AuditConsumer) Next(ctx context.Context) (*kafka.Message, error) {
	for i := 0; i < MAX_RETRIES; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := ac.consumer.ReadMessage(POLL_TIMEOUT)
		if err == nil {
			return msg, nil
		}

		var kafkaErr kafka.Error
		if errors.As(err, &kafkaErr) {
			switch kafkaErr.Code() {
			case kafka.ErrTimedOut:
				return nil, nil
			case kafka.ErrAllBrokersDown:
				slog.Error("[KafkaIterator] All Kafka brokers are down. Aborting")
				return nil, err
			}
		}

		slog.Warn("[KafkaIterator] Failed to read message, retrying...",
			slog.Int("attempt", i+1),
			slog.Int("max_retries", MAX_RETRIES),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ac.retryDelay):
		}
	}
	return nil, errors.New("[KafkaIterator] Failed to read message after retries")
}

// Commit marks every message in msgs as processed. Only the highest offset
// per partition is sent.
func (ac *AuditConsumer) Commit(ctx context.Context, msgs []*kafka.Message) error {
	offsets := commitOffsets(msgs)
	if len(offsets) == 0 {
		return nil
	}

	for i := 0; i < MAX_RETRIES; i++ {
		_, err := ac.consumer.CommitOffsets(offsets)
		if err == nil {
			slog.Debug("[KafkaCommitHandler] Committed offsets",
				slog.Int("partitions", len(offsets)))
			return nil
		}

		slog.Warn("[KafkaCommitHandler] Failed to commit offsets, retrying...",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))

		var kafkaErr kafka.Error
		if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrAllBrokersDown {
			slog.Error("[KafkaCommitHandler] All Kafka brokers are down. Aborting commit")
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ac.retryDelay):
		}
	}
	return fmt.Errorf("[KafkaCommitHandler] Failed to commit offsets after %d retries", MAX_RETRIES)
}

func (ac *AuditConsumer) Close() error {
	slog.Info("[KafkaClient] Closing Kafka consumer...")
	return ac.consumer.Close()
}

// commitOffsets returns, per topic partition, the offset after the last
// message seen.
func commitOffsets(msgs []*kafka.Message) []kafka.TopicPartition {
	type key struct {
		topic     string
		partition int32
	}
	latest := make(map[key]kafka.TopicPartition)
	order := []key{}

	for _, msg := range msgs {
		if msg == nil || msg.TopicPartition.Topic == nil {
			continue
		}
		k := key{*msg.TopicPartition.Topic, msg.TopicPartition.Partition}
		next := msg.TopicPartition.Offset + 1

		current, seen := latest[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || next > current.Offset {
			topic := k.topic
			latest[k] = kafka.TopicPartition{Topic: &topic, Partition: k.partition, Offset: next}
		}
	}

	offsets := make([]kafka.TopicPartition, 0, len(order))
	for _, k := range order {
		offsets = append(offsets, latest[k])
	}
	return offsets
}

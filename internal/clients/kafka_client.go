package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/utils"
	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// messageProducer is the part of *kafka.Producer the publisher needs.
type messageProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// AuditPublisher batches audit records and produces them to a Kafka topic,
// keyed by record ID. Batches go out when the buffer fills or on a timer.
type AuditPublisher struct {
	producer messageProducer
	topic    string
	buffer   *utils.BatchBuffer[models.AuditRecord]
	flushNow chan struct{}

	cancel    context.CancelFunc
	loopDone  sync.WaitGroup
	eventDone sync.WaitGroup
	closeOnce sync.Once
}

func NewAuditPublisher(cfg config.KafkaConfig) (*AuditPublisher, error) {
	slog.Info("[KafkaClient] Initializing Kafka Producer...",
		slog.String("broker", cfg.Broker),
		slog.String("topic", cfg.AuditTopic))

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   cfg.Broker,
		"security.protocol":   "PLAINTEXT",
		"api.version.request": "true",
		"enable.idempotence":  true,
		"acks":                "all",
	})
	if err != nil {
		return nil, fmt.Errorf("[KafkaClient] Failed to create producer: %w", err)
	}

	slog.Info("[KafkaClient] Kafka Producer initialized successfully")
	return newAuditPublisher(p, cfg.AuditTopic, utils.BATCH_TIMEOUT), nil
}

func newAuditPublisher(p messageProducer, topic string, interval time.Duration) *AuditPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	ap := &AuditPublisher{
		producer: p,
		topic:    topic,
		buffer:   utils.NewBatchBuffer[models.AuditRecord](utils.BATCH_SIZE),
		flushNow: make(chan struct{}, 1),
		cancel:   cancel,
	}

	ap.loopDone.Add(1)
	go ap.run(ctx, interval)

	ap.eventDone.Add(1)
	go ap.drainEvents()

	return ap
}

func (ap *AuditPublisher) Publish(records ...models.AuditRecord) {
	if len(records) == 0 {
		return
	}
	if ap.buffer.Add(records...) {
		select {
		case ap.flushNow <- struct{}{}:
		default:
		}
	}
}

func (ap *AuditPublisher) run(ctx context.Context, interval time.Duration) {
	defer ap.loopDone.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ap.flush()
			return
		case <-ticker.C:
			ap.flush()
		case <-ap.flushNow:
			ap.flush()
		}
	}
}

func (ap *AuditPublisher) flush() {
	batch := ap.buffer.GetAndClear()
	if len(batch) == 0 {
		return
	}

	for _, record := range batch {
		value, err := json.Marshal(record)
		if err != nil {
			slog.Error("[KafkaClient] Failed to marshal audit record",
				slog.String("id", record.ID),
				slog.String("error", err.Error()))
			continue
		}

		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &ap.topic, Partition: kafka.PartitionAny},
			Key:            []byte(record.ID),
			Value:          value,
		}

		for i := 0; i < 3; i++ {
			err = ap.producer.Produce(msg, nil)
			if err == nil {
				break
			}
			slog.Warn("[KafkaClient] Failed to produce message, retrying...",
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()))
		}
		if err != nil {
			slog.Error("[KafkaClient] Dropping audit record after retries",
				slog.String("id", record.ID))
		}
	}

	slog.Debug("[KafkaClient] Published audit batch",
		slog.String("topic", ap.topic),
		slog.Int("batch_size", len(batch)))
}

// drainEvents reads delivery reports until the producer closes its channel.
func (ap *AuditPublisher) drainEvents() {
	defer ap.eventDone.Done()

	for e := range ap.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				slog.Warn("[KafkaClient] Delivery failed",
					slog.String("key", string(ev.Key)),
					slog.String("error", ev.TopicPartition.Error.Error()))
			}
		case kafka.Error:
			slog.Warn("[KafkaClient] Producer error",
				slog.String("error", ev.Error()))
		}
	}
}

// Close flushes anything still buffered and shuts the producer down.
func (ap *AuditPublisher) Close() {
	ap.closeOnce.Do(func() {
		slog.Info("[KafkaClient] Shutting down Kafka producer...")
		ap.cancel()
		ap.loopDone.Wait()

		if remaining := ap.producer.Flush(5000); remaining > 0 {
			slog.Warn("[KafkaClient] Not all messages were delivered before shutdown",
				slog.Int("remaining", remaining))
		}
		ap.producer.Close()
		ap.eventDone.Wait()
		slog.Info("[KafkaClient] Kafka producer shut down")
	})
}

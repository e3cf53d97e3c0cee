package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/utils"
	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const (
	SINK_BATCH_SIZE    = 25
	SINK_FLUSH_TIMEOUT = utils.BATCH_TIMEOUT
	INSERT_ATTEMPTS    = 3
	INSERT_BACKOFF     = 500 * time.Millisecond
)

type Source interface {
	Next(ctx context.Context) (*kafka.Message, error)
	Commit(ctx context.Context, msgs []*kafka.Message) error
}

type pending struct {
	record *models.AuditRecord
	msg    *kafka.Message
}

// Sink mirrors published audit records into a LogStore. Offsets are
// committed only after the batch holding them is stored, so a crash replays
// records and stores must tolerate duplicate IDs.
type Sink struct {
	source   Source
	store    db.LogStore
	buffer   *utils.BatchBuffer[pending]
	interval time.Duration
	backoff  time.Duration
}

func New(source Source, store db.LogStore) *Sink {
	return &Sink{
		source:   source,
		store:    store,
		buffer:   utils.NewBatchBuffer[pending](SINK_BATCH_SIZE),
		interval: SINK_FLUSH_TIMEOUT,
		backoff:  INSERT_BACKOFF,
	}
}

// Run consumes until ctx is cancelled or a batch cannot be stored. Whatever
// is buffered at cancellation is flushed before returning.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[AuditSink] Mirroring audit records")

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.flush(flushCtx)
			cancel()
			slog.Info("[AuditSink] Stopping...")
			return err
		case <-ticker.C:
			if err := s.flush(ctx); err != nil {
				return err
			}
		default:
			msg, err := s.source.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("read audit topic: %w", err)
			}
			if msg == nil {
				continue
			}

			if s.buffer.Add(decode(msg)) {
				if err := s.flush(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// decode keeps undecodable messages in the batch without a record so their
// offsets still get committed.
func decode(msg *kafka.Message) pending {
	var record models.AuditRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil || record.ID == "" {
		slog.Warn("[AuditSink] Skipping malformed audit record",
			slog.String("key", string(msg.Key)),
			slog.Any("error", err))
		return pending{msg: msg}
	}
	return pending{record: &record, msg: msg}
}

func (s *Sink) flush(ctx context.Context) error {
	batch := s.buffer.GetAndClear()
	if len(batch) == 0 {
		return nil
	}

	records := make([]models.AuditRecord, 0, len(batch))
	msgs := make([]*kafka.Message, 0, len(batch))
	for _, p := range batch {
		if p.record != nil {
			records = append(records, *p.record)
		}
		msgs = append(msgs, p.msg)
	}

	if insertErr := s.insertWithRetry(ctx, records); insertErr != nil {
		return fmt.Errorf("store %d audit records: %w", len(records), insertErr)
	}

	if err := s.source.Commit(ctx, msgs); err != nil {
		// stored but uncommitted records are replayed and ignored
		slog.Warn("[AuditSink] Failed to commit offsets",
			slog.String("error", err.Error()))
	}

	slog.Debug("[AuditSink] Flushed audit batch",
		slog.Int("records", len(records)),
		slog.Int("messages", len(msgs)))
	return nil
}

func (s *Sink) insertWithRetry(ctx context.Context, records []models.AuditRecord) error {
	var err error
	backoff := s.backoff

	for attempt := 0; attempt < INSERT_ATTEMPTS; attempt++ {
		if err = s.store.Insert(ctx, records...); err == nil {
			return nil
		}
		slog.Error("[AuditSink] Failed to write audit records",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt+1))

		if attempt == INSERT_ATTEMPTS-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

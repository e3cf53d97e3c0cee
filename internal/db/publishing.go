package db

import (
	"context"
	"log/slog"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
)

// RecordPublisher fans stored records out to downstream consumers.
type RecordPublisher interface {
	Publish(records ...models.AuditRecord)
	Close()
}

// PublishingStore writes through to the wrapped store and then publishes the
// records. Publishing is best effort and never fails an insert.
type PublishingStore struct {
	LogStore
	publisher RecordPublisher
}

func NewPublishingStore(store LogStore, publisher RecordPublisher) *PublishingStore {
	return &PublishingStore{LogStore: store, publisher: publisher}
}

func (p *PublishingStore) Insert(ctx context.Context, records ...models.AuditRecord) error {
	if err := p.LogStore.Insert(ctx, records...); err != nil {
		return err
	}
	p.publisher.Publish(records...)
	slog.Debug("[PublishingStore] Queued audit records for publishing",
		slog.Int("count", len(records)))
	return nil
}

func (p *PublishingStore) Close(ctx context.Context) error {
	p.publisher.Close()
	return p.LogStore.Close(ctx)
}

package db

import (
	"context"
	"sort"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
)

// LogStore is the append-only sink for audit records.
type LogStore interface {
	// Insert appends records. Records are never updated afterwards.
	Insert(ctx context.Context, records ...models.AuditRecord) error
	// Find returns every record matching filter. The zero filter returns all.
	Find(ctx context.Context, filter models.LogFilter) ([]models.AuditRecord, error)
	// Latest returns up to limit records, newest first.
	Latest(ctx context.Context, limit int) ([]models.AuditRecord, error)
	Close(ctx context.Context) error
}

func sortNewestFirst(records []models.AuditRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

func truncate(records []models.AuditRecord, limit int) []models.AuditRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

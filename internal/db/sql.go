package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// auditRow is the relational shape of an AuditRecord.
type auditRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Prompt      string    `gorm:"type:text"`
	Model       string    `gorm:"size:255;index"`
	Type        string    `gorm:"size:16;index"`
	Predictions []string  `gorm:"serializer:json"`
	BiasFlags   []string  `gorm:"serializer:json"`
	Biased      bool      `gorm:"index"`
	Sentiment   string    `gorm:"size:16"`
	Timestamp   time.Time `gorm:"index"`
	InputLength int
}

func (auditRow) TableName() string { return "audit_logs" }

func toRow(r models.AuditRecord) auditRow {
	return auditRow{
		ID:          r.ID,
		Prompt:      r.Prompt,
		Model:       r.Model,
		Type:        string(r.Type),
		Predictions: r.Predictions,
		BiasFlags:   r.BiasFlags,
		Biased:      r.Biased,
		Sentiment:   r.Sentiment,
		Timestamp:   r.Timestamp,
		InputLength: r.InputLength,
	}
}

func (row auditRow) record() models.AuditRecord {
	predictions := row.Predictions
	if predictions == nil {
		predictions = []string{}
	}
	flags := row.BiasFlags
	if flags == nil {
		flags = []string{}
	}
	return models.AuditRecord{
		ID:          row.ID,
		Prompt:      row.Prompt,
		Model:       row.Model,
		Type:        models.ModelType(row.Type),
		Predictions: predictions,
		BiasFlags:   flags,
		Biased:      row.Biased,
		Sentiment:   row.Sentiment,
		Timestamp:   row.Timestamp,
		InputLength: row.InputLength,
	}
}

// OpenSQL picks the gorm dialect from dsn. MySQL DSNs contain "@tcp(";
// anything else is treated as a SQLite file path (":memory:" works too).
func OpenSQL(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.Contains(dsn, "@tcp(") {
		dialector = mysql.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", dialector.Name(), err)
	}
	return db, nil
}

type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the audit_logs table.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&auditRow{}); err != nil {
		return nil, fmt.Errorf("db: auto-migrate audit_logs: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Insert(ctx context.Context, records ...models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]auditRow, len(records))
	for i, r := range records {
		rows[i] = toRow(r)
	}
	// replayed records keep their first write
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("db: insert audit records: %w", err)
	}
	return nil
}

func (s *SQLStore) Find(ctx context.Context, filter models.LogFilter) ([]models.AuditRecord, error) {
	q := s.db.WithContext(ctx).Model(&auditRow{})
	if filter.Model != "" {
		q = q.Where("model = ?", filter.Model)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.Sentiment != "" {
		q = q.Where("sentiment = ?", filter.Sentiment)
	}
	if filter.Biased != nil {
		q = q.Where("biased = ?", *filter.Biased)
	}

	var rows []auditRow
	if err := q.Order("timestamp").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: find audit records: %w", err)
	}
	return toRecords(rows), nil
}

func (s *SQLStore) Latest(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	q := s.db.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []auditRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: latest audit records: %w", err)
	}
	return toRecords(rows), nil
}

func (s *SQLStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecords(rows []auditRow) []models.AuditRecord {
	out := make([]models.AuditRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out
}

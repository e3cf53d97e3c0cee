package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MONGO_LOGS_COLLECTION = "logs"

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{coll: database.Collection(MONGO_LOGS_COLLECTION)}
}

func (s *MongoStore) Insert(ctx context.Context, records ...models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}
	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		slog.Error("[MongoStore] Failed to insert audit records",
			slog.Int("count", len(records)),
			slog.String("error", err.Error()))
		return fmt.Errorf("[MongoStore] insert: %w", err)
	}
	return nil
}

func (s *MongoStore) Find(ctx context.Context, filter models.LogFilter) ([]models.AuditRecord, error) {
	return s.find(ctx, mongoFilter(filter), options.Find())
}

func (s *MongoStore) Latest(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.D{}, opts)
}

func (s *MongoStore) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]models.AuditRecord, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("[MongoStore] find: %w", err)
	}
	defer cursor.Close(ctx)

	records := []models.AuditRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("[MongoStore] decode: %w", err)
	}
	return records, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.coll.Database().Client().Disconnect(ctx)
}

func mongoFilter(filter models.LogFilter) bson.D {
	doc := bson.D{}
	if filter.Model != "" {
		doc = append(doc, bson.E{Key: "model", Value: filter.Model})
	}
	if filter.Type != "" {
		doc = append(doc, bson.E{Key: "type", Value: string(filter.Type)})
	}
	if filter.Sentiment != "" {
		doc = append(doc, bson.E{Key: "sentiment", Value: filter.Sentiment})
	}
	if filter.Biased != nil {
		doc = append(doc, bson.E{Key: "biased", Value: *filter.Biased})
	}
	return doc
}

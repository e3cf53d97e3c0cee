package clients

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewMongoDatabase connects and pings before handing back the database.
func NewMongoDatabase(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	slog.Info("[MongoClient] Connecting to MongoDB",
		slog.String("database", cfg.Database))

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("[MongoClient] connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("[MongoClient] failed to ping MongoDB: %w", err)
	}

	slog.Info("[MongoClient] Successfully connected to MongoDB")
	return client.Database(cfg.Database), nil
}

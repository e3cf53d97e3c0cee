package storage

import (
	"context"
	"errors"
	"path/filepath"
)

var ErrNotFound = errors.New("artifact not found")

// ArtifactStore persists fine-tuned heads and generated reports.
type ArtifactStore interface {
	// Put writes data under key and returns where it landed.
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

func contentType(key string) string {
	switch filepath.Ext(key) {
	case ".json":
		return "application/json"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

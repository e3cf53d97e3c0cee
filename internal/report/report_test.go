package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memArchive struct {
	keys []string
	err  error
}

func (m *memArchive) Put(ctx context.Context, key string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return "mem://" + key, nil
}

func (m *memArchive) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func TestRender(t *testing.T) {
	data, err := Render([]models.AuditRecord{{
		Model:       "bert-base-uncased",
		Type:        models.ModelTypeMasked,
		Prompt:      "The nurse is [MASK]",
		Predictions: []string{"she", "tired"},
		BiasFlags:   []string{"Gender bias likely: [she]"},
		Sentiment:   models.SentimentNeutral,
		Timestamp:   time.Now(),
	}}, time.Now())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestRender_Empty(t *testing.T) {
	data, err := Render(nil, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestGenerator_ArchivesReport(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	for i := 0; i < REPORT_LIMIT+5; i++ {
		require.NoError(t, store.Insert(ctx, models.AuditRecord{ID: string(rune('a' + i)), Model: "gpt2", Timestamp: time.Now()}))
	}

	archive := &memArchive{}
	g := NewGenerator(store, archive)
	g.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }

	data, err := g.Generate(ctx)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	require.Len(t, archive.keys, 1)
	assert.True(t, strings.HasPrefix(archive.keys[0], "reports/20240601T100000.000000000Z-"), archive.keys[0])
	assert.True(t, strings.HasSuffix(archive.keys[0], ".pdf"))
}

func TestGenerator_SameInstantReportsDoNotCollide(t *testing.T) {
	archive := &memArchive{}
	g := NewGenerator(db.NewMemoryStore(), archive)
	g.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, archive.keys, 2)
	assert.NotEqual(t, archive.keys[0], archive.keys[1])
}

func TestGenerator_ArchiveFailureIsNotFatal(t *testing.T) {
	g := NewGenerator(db.NewMemoryStore(), &memArchive{err: errors.New("bucket gone")})
	_, err := g.Generate(context.Background())
	assert.NoError(t, err)
}

package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	loc, err := s.Put(ctx, "fine-tuned/bert-base-uncased/head.json", []byte(`{"w":1}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fine-tuned", "bert-base-uncased", "head.json"), loc)

	data, err := s.Get(ctx, "fine-tuned/bert-base-uncased/head.json")
	require.NoError(t, err)
	assert.Equal(t, `{"w":1}`, string(data))
}

func TestLocalStore_Missing(t *testing.T) {
	_, err := NewLocalStore(t.TempDir()).Get(context.Background(), "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, err := s.Put(context.Background(), "../outside.json", []byte("x"))
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("a/head.json"))
	assert.Equal(t, "application/pdf", contentType("reports/1.pdf"))
	assert.Equal(t, "application/octet-stream", contentType("blob"))
}

func TestLocalStore_OverwriteIsNeverPartial(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()
	key := "fine-tuned/gpt2/head.json"

	a := bytes.Repeat([]byte("a"), 1<<20)
	b := bytes.Repeat([]byte("b"), 1<<20)
	_, err := s.Put(ctx, key, a)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			payload := a
			if i%2 == 0 {
				payload = b
			}
			_, err := s.Put(ctx, key, payload)
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 50; i++ {
		data, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, a) || bytes.Equal(data, b), "read %d bytes of a mixed artifact", len(data))
	}
	wg.Wait()

	entries, err := os.ReadDir(filepath.Join(dir, "fine-tuned", "gpt2"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")
	assert.Equal(t, "head.json", entries[0].Name())
}

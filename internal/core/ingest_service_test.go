package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/store"
)

type fakeChunkWriter struct {
	mu       sync.Mutex
	inserted []store.Chunk
	err      error
	calls    int
}

func (f *fakeChunkWriter) InsertChunks(_ context.Context, chunks []store.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}

func TestIngestAssignsOrdinalsInOrder(t *testing.T) {
	writer := &fakeChunkWriter{}
	// The embedding encodes the chunk length so each vector is traceable to
	// its text even when calls complete out of order.
	client := &fakeLLM{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			return []float32{float32(len(text))}, nil
		},
	}
	svc := NewIngestService(writer, client, 4, zap.NewNop())

	text := strings.Repeat("A sentence about quarterly revenue figures. ", 60)
	doc := &store.Document{ID: "doc-1"}

	count, err := svc.Ingest(context.Background(), 42, "sk-test", doc, text)
	require.NoError(t, err)
	require.Greater(t, count, 1)
	require.Len(t, writer.inserted, count)

	for i, c := range writer.inserted {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, int64(42), c.UserID)
		assert.NotEmpty(t, c.Content)
		require.Len(t, c.Embedding, 1)
		assert.Equal(t, float32(len(c.Content)), c.Embedding[0],
			"chunk %d paired with another chunk's embedding", i)
	}
}

func TestIngestEmptyText(t *testing.T) {
	writer := &fakeChunkWriter{}
	client := &fakeLLM{}
	svc := NewIngestService(writer, client, 4, zap.NewNop())

	count, err := svc.Ingest(context.Background(), 1, "sk-test", &store.Document{ID: "d"}, "   \n ")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, client.embedCalls)
	assert.Zero(t, writer.calls)
}

func TestIngestEmbeddingFailureAbortsWholeBatch(t *testing.T) {
	writer := &fakeChunkWriter{}
	var n int
	var mu sync.Mutex
	client := &fakeLLM{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			mu.Lock()
			n++
			failNow := n == 2
			mu.Unlock()
			if failNow {
				return nil, errors.New("provider unavailable")
			}
			return []float32{1}, nil
		},
	}
	svc := NewIngestService(writer, client, 1, zap.NewNop())

	text := strings.Repeat("Sentence one about something. ", 120)
	_, err := svc.Ingest(context.Background(), 1, "sk-test", &store.Document{ID: "d"}, text)
	require.ErrorIs(t, err, ErrProvider)
	assert.Zero(t, writer.calls, "no partial chunk set may be persisted")
}

func TestIngestStoreFailure(t *testing.T) {
	writer := &fakeChunkWriter{err: fmt.Errorf("disk full")}
	svc := NewIngestService(writer, &fakeLLM{}, 2, zap.NewNop())

	_, err := svc.Ingest(context.Background(), 1, "sk-test", &store.Document{ID: "d"}, "A short document.")
	require.ErrorIs(t, err, ErrStore)
}

func TestIngestInvalidChunkParams(t *testing.T) {
	svc := NewIngestService(&fakeChunkWriter{}, &fakeLLM{}, 2, zap.NewNop())

	_, err := svc.IngestWithOptions(context.Background(), 1, "sk-test", &store.Document{ID: "d"}, "text", 0, 0)
	require.ErrorIs(t, err, ErrValidation)
}

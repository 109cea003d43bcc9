package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docuchat/docuchat/internal/chunker"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/store"
)

// ChunkWriter is the persistence side of the vector store.
type ChunkWriter interface {
	InsertChunks(ctx context.Context, chunks []store.Chunk) error
}

// IngestService turns a document's extracted text into persisted, embedded
// chunks. Ingestion is all-or-nothing: every chunk is embedded first and the
// full batch is written in one transaction, so a provider failure midway
// never leaves a partial chunk set behind.
type IngestService struct {
	chunks      ChunkWriter
	llm         llm.Client
	concurrency int
	log         *zap.Logger
}

func NewIngestService(chunks ChunkWriter, client llm.Client, concurrency int, log *zap.Logger) *IngestService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &IngestService{
		chunks:      chunks,
		llm:         client,
		concurrency: concurrency,
		log:         log,
	}
}

// Ingest chunks rawText with the default chunk parameters, embeds each chunk
// and persists the batch. It returns the number of chunks created.
func (s *IngestService) Ingest(ctx context.Context, userID int64, apiKey string, doc *store.Document, rawText string) (int, error) {
	return s.IngestWithOptions(ctx, userID, apiKey, doc, rawText, chunker.DefaultMaxSize, chunker.DefaultOverlap)
}

// IngestWithOptions is Ingest with caller-controlled chunk parameters.
func (s *IngestService) IngestWithOptions(ctx context.Context, userID int64, apiKey string, doc *store.Document, rawText string, maxSize, overlap int) (int, error) {
	texts, err := chunker.Chunk(rawText, maxSize, overlap)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(texts) == 0 {
		s.log.Info("document produced no chunks", zap.String("document_id", doc.ID))
		return 0, nil
	}

	// Embedding calls fan out with bounded concurrency; the provider rate
	// limits us. Ordinals are fixed by chunk position before dispatch, so
	// completion order cannot reorder anything.
	embeddings := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vector, err := s.llm.Embed(gctx, apiKey, text)
			if err != nil {
				return fmt.Errorf("%w: embedding chunk %d: %v", ErrProvider, i, err)
			}
			embeddings[i] = vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			DocumentID: doc.ID,
			UserID:     userID,
			Ordinal:    i,
			Content:    text,
			Embedding:  embeddings[i],
		}
	}

	if err := s.chunks.InsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("%w: persisting chunks: %v", ErrStore, err)
	}

	s.log.Info("ingested document",
		zap.String("document_id", doc.ID),
		zap.Int64("user_id", userID),
		zap.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}

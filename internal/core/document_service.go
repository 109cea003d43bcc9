package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/extract"
	"github.com/docuchat/docuchat/internal/store"
)

// DocumentStore is the document persistence the service depends on.
type DocumentStore interface {
	CreateDocument(ctx context.Context, userID int64, title, sourcePath, mimeType string) (*store.Document, error)
	ListDocuments(ctx context.Context, userID int64) ([]store.Document, error)
	DeleteDocument(ctx context.Context, documentID string, userID int64) error
	DeleteUserDocuments(ctx context.Context, userID int64) (int, error)
	GetOpenAIKey(ctx context.Context, userID int64) (string, error)
}

// ObjectStore persists the original uploaded bytes.
type ObjectStore interface {
	Put(path string, data []byte) error
	DeletePrefix(prefix string) error
}

// TextExtractor produces raw text from uploaded file bytes.
type TextExtractor interface {
	Text(ctx context.Context, filename string, data []byte) (string, error)
}

// Ingester feeds extracted text through the chunk/embed/persist pipeline.
type Ingester interface {
	Ingest(ctx context.Context, userID int64, apiKey string, doc *store.Document, rawText string) (int, error)
}

// UploadInput is one uploaded file.
type UploadInput struct {
	Filename string
	Title    string
	MimeType string
	Data     []byte
}

// UploadResult is returned to the client after a successful upload.
type UploadResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Chunks int    `json:"chunks"`
}

// DocumentService orchestrates uploads: store the file, extract its text,
// create the document record and ingest the chunks.
type DocumentService struct {
	docs      DocumentStore
	objects   ObjectStore
	extractor TextExtractor
	ingester  Ingester
	log       *zap.Logger
}

func NewDocumentService(docs DocumentStore, objects ObjectStore, extractor TextExtractor, ingester Ingester, log *zap.Logger) *DocumentService {
	return &DocumentService{
		docs:      docs,
		objects:   objects,
		extractor: extractor,
		ingester:  ingester,
		log:       log,
	}
}

// Upload processes one uploaded file end to end. If ingestion fails after
// the document row was created, the row is removed again so the store never
// holds a document without its chunks.
func (s *DocumentService) Upload(ctx context.Context, userID int64, in UploadInput) (*UploadResult, error) {
	if in.Filename == "" || len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: no file provided", ErrValidation)
	}

	// The credential check runs before anything is written or any paid
	// provider call is made.
	apiKey, err := s.docs.GetOpenAIKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load credential: %v", ErrStore, err)
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	text, err := s.extractor.Text(ctx, in.Filename, in.Data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFile) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to extract text from %s: %w", in.Filename, err)
	}

	path := fmt.Sprintf("docs/%d/%s-%s", userID, uuid.NewString(), SanitizeFilename(in.Filename))
	if err := s.objects.Put(path, in.Data); err != nil {
		return nil, fmt.Errorf("%w: storing file: %v", ErrStore, err)
	}

	title := in.Title
	if title == "" {
		title = in.Filename
	}
	doc, err := s.docs.CreateDocument(ctx, userID, title, path, in.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: creating document: %v", ErrStore, err)
	}

	count, err := s.ingester.Ingest(ctx, userID, apiKey, doc, text)
	if err != nil {
		if derr := s.docs.DeleteDocument(ctx, doc.ID, userID); derr != nil {
			s.log.Warn("failed to roll back document after ingest failure",
				zap.String("document_id", doc.ID), zap.Error(derr))
		}
		return nil, err
	}

	return &UploadResult{ID: doc.ID, Title: doc.Title, Chunks: count}, nil
}

// List returns the owner's documents, newest first.
func (s *DocumentService) List(ctx context.Context, userID int64) ([]store.Document, error) {
	docs, err := s.docs.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", ErrStore, err)
	}
	return docs, nil
}

// Reset deletes all of the owner's documents, chunks and stored files,
// returning the number of documents removed. A storage cleanup failure is
// logged but does not fail the reset; the database rows are already gone.
func (s *DocumentService) Reset(ctx context.Context, userID int64) (int, error) {
	count, err := s.docs.DeleteUserDocuments(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting documents: %v", ErrStore, err)
	}

	if err := s.objects.DeletePrefix(fmt.Sprintf("docs/%d", userID)); err != nil {
		s.log.Warn("failed to delete stored files", zap.Int64("user_id", userID), zap.Error(err))
	}
	return count, nil
}

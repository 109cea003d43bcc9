package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/store"
)

const (
	// DefaultTopK is the number of chunks retrieved when the caller does not
	// ask for a specific count.
	DefaultTopK = 5

	// RefusalAnswer is the exact sentence returned when the model produces
	// no usable content. Returning it is a successful response, not an error.
	RefusalAnswer = "I'm sorry, I don't have information about that."
)

const answerSystemPrompt = `You are an AI assistant answering user questions only from the provided context.
- If the answer is not in the context, say exactly: "I'm sorry, I don't have information about that."
- Do not invent names, amounts, or dates.
- Always cite which document chunk you used if possible.`

// VectorSearcher is the retrieval side of the vector store.
type VectorSearcher interface {
	TopKChunks(ctx context.Context, userID int64, queryVector []float32, k int) ([]store.Match, error)
}

// CredentialSource resolves an owner's embedding credential. An empty string
// means no credential is on file.
type CredentialSource interface {
	GetOpenAIKey(ctx context.Context, userID int64) (string, error)
}

// Source identifies one retrieved chunk backing an answer.
type Source struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
}

// Answer is the result of one retrieval-augmented question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// RAGService assembles answers: embed the question, fetch the owner's top-k
// chunks, prompt the model with the assembled context, and apply the refusal
// contract.
type RAGService struct {
	search VectorSearcher
	creds  CredentialSource
	llm    llm.Client
	log    *zap.Logger
}

func NewRAGService(search VectorSearcher, creds CredentialSource, client llm.Client, log *zap.Logger) *RAGService {
	return &RAGService{
		search: search,
		creds:  creds,
		llm:    client,
		log:    log,
	}
}

// Answer runs the retrieval pipeline for one question. Every store query is
// scoped to userID; chunks of other owners are never retrieved. Sources are
// the ranked matches regardless of which ones the model's prose cites.
func (s *RAGService) Answer(ctx context.Context, userID int64, question string, topK int) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	}
	if topK < 1 {
		topK = DefaultTopK
	}

	// Credential check comes before any paid provider call.
	apiKey, err := s.creds.GetOpenAIKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load credential: %v", ErrStore, err)
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	queryVector, err := s.llm.Embed(ctx, apiKey, question)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding: %v", ErrProvider, err)
	}

	matches, err := s.search.TopKChunks(ctx, userID, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", ErrStore, err)
	}
	// Zero matches is normal; the model sees an empty context and the
	// refusal contract takes over.

	completion, err := s.llm.Complete(ctx, apiKey, answerSystemPrompt, buildUserPrompt(matches, question))
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", ErrProvider, err)
	}

	answer := completion
	if strings.TrimSpace(answer) == "" {
		answer = RefusalAnswer
	}

	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, Source{DocumentID: m.DocumentID, ChunkID: m.ChunkID})
	}

	s.log.Debug("answered question",
		zap.Int64("user_id", userID),
		zap.Int("matches", len(matches)),
		zap.Bool("refused", answer == RefusalAnswer),
	)
	return &Answer{Answer: answer, Sources: sources}, nil
}

// buildUserPrompt labels each match with its 1-based rank and parent document
// so the model can cite numbered context blocks.
func buildUserPrompt(matches []store.Match, question string) string {
	blocks := make([]string, 0, len(matches))
	for i, m := range matches {
		blocks = append(blocks, fmt.Sprintf("CHUNK %d (doc: %s):\n%s", i+1, m.DocumentID, m.Content))
	}
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:", strings.Join(blocks, "\n\n"), question)
}

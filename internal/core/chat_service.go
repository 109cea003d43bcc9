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
	maxTitleLength        = 60
	fallbackTitleLength   = 50
	conversationPageLimit = 100
)

// ConversationStore is the conversation/message persistence the service
// depends on.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID int64, title *string) (*store.Conversation, error)
	GetConversation(ctx context.Context, conversationID string, userID int64) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	UpdateConversationTitle(ctx context.Context, conversationID string, userID int64, title string) error
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error)
}

// Answerer produces a retrieval-augmented answer for one question.
type Answerer interface {
	Answer(ctx context.Context, userID int64, question string, topK int) (*Answer, error)
}

// ChatService manages conversations: messages flow through the retrieval
// assembler and titles are generated from the first exchange.
type ChatService struct {
	convs ConversationStore
	creds CredentialSource
	rag   Answerer
	llm   llm.Client
	log   *zap.Logger
}

func NewChatService(convs ConversationStore, creds CredentialSource, rag Answerer, client llm.Client, log *zap.Logger) *ChatService {
	return &ChatService{
		convs: convs,
		creds: creds,
		rag:   rag,
		llm:   client,
		log:   log,
	}
}

func (s *ChatService) CreateConversation(ctx context.Context, userID int64) (*store.Conversation, error) {
	conv, err := s.convs.CreateConversation(ctx, userID, nil) // title generated after the first exchange
	if err != nil {
		return nil, fmt.Errorf("%w: creating conversation: %v", ErrStore, err)
	}
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error) {
	convs, err := s.convs.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %v", ErrStore, err)
	}
	return convs, nil
}

func (s *ChatService) GetConversationDetails(ctx context.Context, conversationID string, userID int64) (*store.Conversation, []store.Message, error) {
	conv, err := s.convs.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: getting conversation: %v", ErrStore, err)
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("%w: conversation", ErrNotFound)
	}

	messages, err := s.convs.GetMessages(ctx, conversationID, conversationPageLimit, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: getting messages: %v", ErrStore, err)
	}
	return conv, messages, nil
}

// PostMessage stores the user's message, produces a retrieval-augmented
// answer and stores it as the model's message. The answer is atomic per
// request: any failure aborts without a model message.
func (s *ChatService) PostMessage(ctx context.Context, conversationID string, userID int64, content string) (*store.Message, *Answer, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil, fmt.Errorf("%w: message content cannot be empty", ErrValidation)
	}

	conv, err := s.convs.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: verifying conversation: %v", ErrStore, err)
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("%w: conversation", ErrNotFound)
	}

	userMsg := store.Message{
		ConversationID: conversationID,
		Sender:         "user",
		Content:        content,
	}
	if err := s.convs.CreateMessage(ctx, &userMsg); err != nil {
		return nil, nil, fmt.Errorf("%w: storing user message: %v", ErrStore, err)
	}

	answer, err := s.rag.Answer(ctx, userID, content, DefaultTopK)
	if err != nil {
		return nil, nil, err
	}

	modelMsg := store.Message{
		ConversationID: conversationID,
		Sender:         "model",
		Content:        answer.Answer,
	}
	if err := s.convs.CreateMessage(ctx, &modelMsg); err != nil {
		return nil, nil, fmt.Errorf("%w: storing model message: %v", ErrStore, err)
	}

	return &modelMsg, answer, nil
}

// GenerateTitle produces a short title for a conversation from its first
// exchange and saves it. A provider failure falls back to a prefix of the
// user's message rather than failing the request.
func (s *ChatService) GenerateTitle(ctx context.Context, userID int64, conversationID, userMessage, assistantResponse string) (string, error) {
	if conversationID == "" || strings.TrimSpace(userMessage) == "" {
		return "", fmt.Errorf("%w: missing required fields", ErrValidation)
	}

	conv, err := s.convs.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return "", fmt.Errorf("%w: verifying conversation: %v", ErrStore, err)
	}
	if conv == nil {
		return "", fmt.Errorf("%w: conversation", ErrNotFound)
	}

	apiKey, err := s.creds.GetOpenAIKey(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: failed to load credential: %v", ErrStore, err)
	}
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}

	title, err := s.llm.GenerateTitle(ctx, apiKey, userMessage, assistantResponse)
	if err != nil {
		s.log.Warn("title generation failed, using fallback",
			zap.String("conversation_id", conversationID), zap.Error(err))
		title = ""
	}

	title = strings.Trim(title, "\"'\n\r\t ")
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = strings.TrimSpace(string(runes[:maxTitleLength]))
	}
	if title == "" {
		title = fallbackTitle(userMessage)
	}

	if err := s.convs.UpdateConversationTitle(ctx, conversationID, userID, title); err != nil {
		return "", fmt.Errorf("%w: saving title: %v", ErrStore, err)
	}
	return title, nil
}

func fallbackTitle(userMessage string) string {
	runes := []rune(strings.TrimSpace(userMessage))
	if len(runes) > fallbackTitleLength {
		runes = runes[:fallbackTitleLength]
	}
	return string(runes)
}

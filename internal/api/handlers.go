package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/core"
	"github.com/docuchat/docuchat/internal/extract"
	"github.com/docuchat/docuchat/internal/store"
)

const maxUploadBytes = 32 << 20 // 32 MiB

type contextKey string

const (
	userIDKey         contextKey = "userID"
	externalUserIDKey contextKey = "externalUserID"
)

// UserStore resolves and creates user accounts.
type UserStore interface {
	GetUserByExternalID(ctx context.Context, externalUserID string) (*store.User, error)
	CreateUser(ctx context.Context, externalUserID, passwordHash string) (*store.User, error)
}

// ProfileStore manages per-user settings, including the embedding credential.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID int64) (*store.Profile, error)
	UpsertProfile(ctx context.Context, userID int64, email, openAIKey string) (*store.Profile, error)
}

// RAGAnswerer answers a question from the owner's documents.
type RAGAnswerer interface {
	Answer(ctx context.Context, userID int64, question string, topK int) (*core.Answer, error)
}

// DocumentManager handles the upload/list/reset document lifecycle.
type DocumentManager interface {
	Upload(ctx context.Context, userID int64, in core.UploadInput) (*core.UploadResult, error)
	List(ctx context.Context, userID int64) ([]store.Document, error)
	Reset(ctx context.Context, userID int64) (int, error)
}

// ConversationManager handles conversations, messages and titles.
type ConversationManager interface {
	CreateConversation(ctx context.Context, userID int64) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	GetConversationDetails(ctx context.Context, conversationID string, userID int64) (*store.Conversation, []store.Message, error)
	PostMessage(ctx context.Context, conversationID string, userID int64, content string) (*store.Message, *core.Answer, error)
	GenerateTitle(ctx context.Context, userID int64, conversationID, userMessage, assistantResponse string) (string, error)
}

type APIHandler struct {
	tokens   *auth.Manager
	users    UserStore
	profiles ProfileStore
	rag      RAGAnswerer
	docs     DocumentManager
	chats    ConversationManager
	log      *zap.Logger
}

func NewAPIHandler(tokens *auth.Manager, users UserStore, profiles ProfileStore, rag RAGAnswerer, docs DocumentManager, chats ConversationManager, log *zap.Logger) *APIHandler {
	return &APIHandler{
		tokens:   tokens,
		users:    users,
		profiles: profiles,
		rag:      rag,
		docs:     docs,
		chats:    chats,
		log:      log,
	}
}

// JWTAuthMiddleware authenticates the bearer token and stores the resolved
// owner identity in the request context. Every failure maps to the same 401
// body so nothing about accounts leaks.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := h.tokens.Validate(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := h.users.GetUserByExternalID(r.Context(), externalUserID)
		if err != nil {
			h.log.Error("failed to resolve user", zap.String("external_user_id", externalUserID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if user == nil {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		ctx = context.WithValue(ctx, externalUserIDKey, user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func externalUserIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(externalUserIDKey).(string)
	return id
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "User ID and password are required")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("failed to hash password", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	existing, err := h.users.GetUserByExternalID(r.Context(), req.UserID)
	if err != nil {
		h.log.Error("failed to check existing user", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "User already exists")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.UserID, hashedPassword)
	if err != nil {
		h.log.Error("failed to create user", zap.String("user_id", req.UserID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "User ID and password are required")
		return
	}

	user, err := h.users.GetUserByExternalID(r.Context(), req.UserID)
	if err != nil {
		h.log.Error("failed to get user for login", zap.Error(err))
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.tokens.Generate(user.ExternalUserID)
	if err != nil {
		h.log.Error("failed to generate token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

type ChatRAGRequest struct {
	Message string `json:"message"`
	TopK    int    `json:"topK"`
}

// ChatRAGHandler answers one question from the caller's documents. The
// request and response bodies follow the published wire contract exactly.
func (h *APIHandler) ChatRAGHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	var req ChatRAGRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "Message is required")
		return
	}

	answer, err := h.rag.Answer(r.Context(), userID, req.Message, req.TopK)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrValidation):
			respondError(w, http.StatusBadRequest, "Message is required")
		case errors.Is(err, core.ErrMissingAPIKey):
			respondError(w, http.StatusBadRequest, "OpenAI API key not configured")
		default:
			h.log.Error("rag answer failed", zap.Int64("user_id", userID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	respondJSON(w, http.StatusOK, answer)
}

func (h *APIHandler) UploadDocHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "No file provided")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Error("failed to read upload", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	result, err := h.docs.Upload(r.Context(), userID, core.UploadInput{
		Filename: header.Filename,
		Title:    r.FormValue("title"),
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrValidation):
			respondError(w, http.StatusBadRequest, "No file provided")
		case errors.Is(err, extract.ErrUnsupportedFile):
			respondError(w, http.StatusBadRequest, "Unsupported file")
		case errors.Is(err, core.ErrMissingAPIKey):
			respondError(w, http.StatusBadRequest, "OpenAI API key not configured")
		default:
			h.log.Error("upload failed", zap.Int64("user_id", userID), zap.String("filename", header.Filename), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *APIHandler) ListDocsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	docs, err := h.docs.List(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to list documents", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to fetch docs")
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *APIHandler) ResetDocsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	deleted, err := h.docs.Reset(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to reset documents", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"deleted": map[string]int{"documents": deleted},
	})
}

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to fetch profile", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to fetch profile")
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "Profile not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

type PutProfileRequest struct {
	OpenAIAPIKey string `json:"openai_api_key"`
}

func (h *APIHandler) PutProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	var req PutProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OpenAIAPIKey == "" {
		respondError(w, http.StatusBadRequest, "OpenAI API key is required")
		return
	}

	profile, err := h.profiles.UpsertProfile(r.Context(), userID, externalUserIDFrom(r), req.OpenAIAPIKey)
	if err != nil {
		h.log.Error("failed to update profile", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

type GenerateTitleRequest struct {
	UserMessage       string `json:"userMessage"`
	AssistantResponse string `json:"assistantResponse"`
	ConversationID    string `json:"conversationId"`
}

func (h *APIHandler) GenerateTitleHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	var req GenerateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	title, err := h.chats.GenerateTitle(r.Context(), userID, req.ConversationID, req.UserMessage, req.AssistantResponse)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrValidation):
			respondError(w, http.StatusBadRequest, "Missing required fields")
		case errors.Is(err, core.ErrNotFound):
			respondError(w, http.StatusNotFound, "Conversation not found")
		case errors.Is(err, core.ErrMissingAPIKey):
			respondError(w, http.StatusBadRequest, "OpenAI API key not configured")
		default:
			h.log.Error("title generation failed", zap.Int64("user_id", userID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	conv, err := h.chats.CreateConversation(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to create conversation", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusCreated, conv)
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	convs, err := h.chats.ListConversations(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to list conversations", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}

	respondJSON(w, http.StatusOK, convs)
}

type ConversationDetailsResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	conversationID := chi.URLParam(r, "conversationID")

	conv, messages, err := h.chats.GetConversationDetails(r.Context(), conversationID, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		h.log.Error("failed to get conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}

	respondJSON(w, http.StatusOK, ConversationDetailsResponse{Conversation: conv, Messages: messages})
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type PostMessageResponse struct {
	Message *store.Message `json:"message"`
	Sources []core.Source  `json:"sources"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Message content cannot be empty")
		return
	}

	modelMsg, answer, err := h.chats.PostMessage(r.Context(), conversationID, userID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrValidation):
			respondError(w, http.StatusBadRequest, "Message content cannot be empty")
		case errors.Is(err, core.ErrNotFound):
			respondError(w, http.StatusNotFound, "Conversation not found")
		case errors.Is(err, core.ErrMissingAPIKey):
			respondError(w, http.StatusBadRequest, "OpenAI API key not configured")
		default:
			h.log.Error("failed to post message", zap.String("conversation_id", conversationID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	respondJSON(w, http.StatusOK, PostMessageResponse{Message: modelMsg, Sources: answer.Sources})
}

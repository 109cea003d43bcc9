package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/core"
	"github.com/docuchat/docuchat/internal/extract"
	"github.com/docuchat/docuchat/internal/store"
)

type stubUserStore struct {
	users map[string]*store.User
}

func (s *stubUserStore) GetUserByExternalID(_ context.Context, externalUserID string) (*store.User, error) {
	return s.users[externalUserID], nil
}

func (s *stubUserStore) CreateUser(_ context.Context, externalUserID, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:             int64(len(s.users) + 1),
		ExternalUserID: externalUserID,
		PasswordHash:   passwordHash,
	}
	s.users[externalUserID] = user
	return user, nil
}

type stubProfileStore struct {
	profile *store.Profile
	err     error
}

func (s *stubProfileStore) GetProfile(context.Context, int64) (*store.Profile, error) {
	return s.profile, s.err
}

func (s *stubProfileStore) UpsertProfile(_ context.Context, userID int64, email, key string) (*store.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.profile = &store.Profile{UserID: userID, Email: email, OpenAIAPIKey: key}
	return s.profile, nil
}

type stubAnswerer struct {
	answer *core.Answer
	err    error
}

func (s *stubAnswerer) Answer(context.Context, int64, string, int) (*core.Answer, error) {
	return s.answer, s.err
}

type stubDocManager struct {
	uploadResult *core.UploadResult
	uploadErr    error
	docs         []store.Document
	listErr      error
	resetCount   int
	resetErr     error
}

func (s *stubDocManager) Upload(context.Context, int64, core.UploadInput) (*core.UploadResult, error) {
	return s.uploadResult, s.uploadErr
}

func (s *stubDocManager) List(context.Context, int64) ([]store.Document, error) {
	return s.docs, s.listErr
}

func (s *stubDocManager) Reset(context.Context, int64) (int, error) {
	return s.resetCount, s.resetErr
}

type stubConvManager struct {
	conv     *store.Conversation
	convs    []store.Conversation
	messages []store.Message
	modelMsg *store.Message
	answer   *core.Answer
	title    string
	err      error
}

func (s *stubConvManager) CreateConversation(_ context.Context, userID int64) (*store.Conversation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &store.Conversation{ID: "conv-1", UserID: userID}, nil
}

func (s *stubConvManager) ListConversations(context.Context, int64) ([]store.Conversation, error) {
	return s.convs, s.err
}

func (s *stubConvManager) GetConversationDetails(context.Context, string, int64) (*store.Conversation, []store.Message, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.conv, s.messages, nil
}

func (s *stubConvManager) PostMessage(context.Context, string, int64, string) (*store.Message, *core.Answer, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.modelMsg, s.answer, nil
}

func (s *stubConvManager) GenerateTitle(context.Context, int64, string, string, string) (string, error) {
	return s.title, s.err
}

type testEnv struct {
	router http.Handler
	tokens *auth.Manager
	users  *stubUserStore

	profiles *stubProfileStore
	rag      *stubAnswerer
	docs     *stubDocManager
	chats    *stubConvManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		tokens:   auth.NewManager("test-secret", time.Hour),
		users:    &stubUserStore{users: make(map[string]*store.User)},
		profiles: &stubProfileStore{},
		rag:      &stubAnswerer{answer: &core.Answer{Answer: "ok", Sources: []core.Source{}}},
		docs:     &stubDocManager{},
		chats:    &stubConvManager{},
	}
	handler := NewAPIHandler(env.tokens, env.users, env.profiles, env.rag, env.docs, env.chats, zap.NewNop())
	env.router = NewRouter(handler, zap.NewNop())
	return env
}

// authToken registers a user and returns a valid bearer token for it.
func (e *testEnv) authToken(t *testing.T) string {
	t.Helper()
	if _, ok := e.users.users["alice@example.com"]; !ok {
		_, err := e.users.CreateUser(context.Background(), "alice@example.com", "hash")
		require.NoError(t, err)
	}
	token, err := e.tokens.Generate("alice@example.com")
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMissingToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chat/rag", "", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestAuthGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chat/rag", "not-a-jwt", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestAuthTokenForUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.tokens.Generate("ghost@example.com")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/chat/rag", token, map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestChatRAGEmptyMessage(t *testing.T) {
	env := newTestEnv(t)
	token := env.authToken(t)

	for _, body := range []any{map[string]string{"message": ""}, map[string]string{"message": "   "}, nil} {
		rec := env.do(t, http.MethodPost, "/api/chat/rag", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Message is required"}`, rec.Body.String())
	}
}

func TestChatRAGMissingAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.rag.answer = nil
	env.rag.err = core.ErrMissingAPIKey
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/chat/rag", token, map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"OpenAI API key not configured"}`, rec.Body.String())
}

func TestChatRAGInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.rag.answer = nil
	env.rag.err = fmt.Errorf("%w: provider exploded", core.ErrProvider)
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/chat/rag", token, map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestChatRAGSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.rag.answer = &core.Answer{
		Answer: "The total is 42.",
		Sources: []core.Source{
			{DocumentID: "d1", ChunkID: "c1"},
			{DocumentID: "d2", ChunkID: "c2"},
		},
	}
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/chat/rag", token, map[string]any{"message": "what is the total?", "topK": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"answer": "The total is 42.",
		"sources": [
			{"document_id": "d1", "chunk_id": "c1"},
			{"document_id": "d2", "chunk_id": "c2"}
		]
	}`, rec.Body.String())
}

func TestChatRAGEmptySourcesIsArray(t *testing.T) {
	env := newTestEnv(t)
	env.rag.answer = &core.Answer{Answer: core.RefusalAnswer, Sources: []core.Source{}}
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/chat/rag", token, map[string]string{"message": "unknown?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sources":[]`)
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/signup", "", map[string]string{"user_id": "bob@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter22", "password hash must not leak")

	rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"user_id": "bob@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)
	var loginResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	require.NotEmpty(t, loginResp.Token)

	// The issued token authenticates protected routes.
	rec = env.do(t, http.MethodGet, "/api/docs", loginResp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupDuplicate(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]string{"user_id": "bob@example.com", "password": "hunter22"}
	rec := env.do(t, http.MethodPost, "/api/signup", "", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/signup", "", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"User already exists"}`, rec.Body.String())
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/signup", "", map[string]string{"user_id": "bob@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"user_id": "bob@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid credentials"}`, rec.Body.String())
}

func TestListDocsEmpty(t *testing.T) {
	env := newTestEnv(t)
	token := env.authToken(t)

	rec := env.do(t, http.MethodGet, "/api/docs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())
}

func TestResetDocs(t *testing.T) {
	env := newTestEnv(t)
	env.docs.resetCount = 7
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/docs/reset", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"deleted":{"documents":7}}`, rec.Body.String())
}

func uploadRequest(t *testing.T, token, filename string, contents []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(contents)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/docs/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadDoc(t *testing.T) {
	env := newTestEnv(t)
	env.docs.uploadResult = &core.UploadResult{ID: "doc-1", Title: "report.pdf", Chunks: 3}
	token := env.authToken(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, uploadRequest(t, token, "report.pdf", []byte("%PDF-")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"doc-1","title":"report.pdf","chunks":3}`, rec.Body.String())
}

func TestUploadDocNoFile(t *testing.T) {
	env := newTestEnv(t)
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/docs/upload", token, map[string]string{"not": "a file"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No file provided"}`, rec.Body.String())
}

func TestUploadDocUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	env.docs.uploadErr = fmt.Errorf("%w: .exe", extract.ErrUnsupportedFile)
	token := env.authToken(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, uploadRequest(t, token, "virus.exe", []byte("MZ")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Unsupported file"}`, rec.Body.String())
}

func TestUploadDocMissingAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.docs.uploadErr = core.ErrMissingAPIKey
	token := env.authToken(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, uploadRequest(t, token, "report.pdf", []byte("%PDF-")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"OpenAI API key not configured"}`, rec.Body.String())
}

func TestGetProfileNotFound(t *testing.T) {
	env := newTestEnv(t)
	token := env.authToken(t)

	rec := env.do(t, http.MethodGet, "/api/profile", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Profile not found"}`, rec.Body.String())
}

func TestPutProfile(t *testing.T) {
	env := newTestEnv(t)
	token := env.authToken(t)

	rec := env.do(t, http.MethodPut, "/api/profile", token, map[string]string{"openai_api_key": "sk-new"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sk-new"`)
	assert.Equal(t, "alice@example.com", env.profiles.profile.Email, "email comes from the authenticated identity")

	rec = env.do(t, http.MethodGet, "/api/profile", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPutProfileMissingKey(t *testing.T) {
	env := newTestEnv(t)
	token := env.authToken(t)

	rec := env.do(t, http.MethodPut, "/api/profile", token, map[string]string{"openai_api_key": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"OpenAI API key is required"}`, rec.Body.String())
}

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t)
	env.chats.modelMsg = &store.Message{ID: "m2", ConversationID: "conv-1", Sender: "model", Content: "hi"}
	env.chats.answer = &core.Answer{Answer: "hi", Sources: []core.Source{{DocumentID: "d1", ChunkID: "c1"}}}
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/conversations/conv-1/messages", token, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sender":"model"`)
	assert.Contains(t, rec.Body.String(), `"sources":[{"document_id":"d1","chunk_id":"c1"}]`)
}

func TestPostMessageUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	env.chats.err = fmt.Errorf("%w: conversation", core.ErrNotFound)
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/conversations/nope/messages", token, map[string]string{"content": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Conversation not found"}`, rec.Body.String())
}

func TestGenerateTitle(t *testing.T) {
	env := newTestEnv(t)
	env.chats.title = "Revenue questions"
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/generate-title", token, map[string]string{
		"conversationId": "conv-1",
		"userMessage":    "what was revenue?",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"title":"Revenue questions"}`, rec.Body.String())
}

func TestGenerateTitleValidation(t *testing.T) {
	env := newTestEnv(t)
	env.chats.err = fmt.Errorf("%w: missing required fields", core.ErrValidation)
	token := env.authToken(t)

	rec := env.do(t, http.MethodPost, "/api/generate-title", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing required fields"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListConversationsEmpty(t *testing.T) {
	env := newTestEnv(t)
	token := env.authToken(t)

	rec := env.do(t, http.MethodGet, "/api/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestGetConversationDetails(t *testing.T) {
	env := newTestEnv(t)
	title := "Revenue questions"
	env.chats.conv = &store.Conversation{ID: "conv-1", UserID: 1, Title: &title}
	env.chats.messages = []store.Message{
		{ID: "m1", ConversationID: "conv-1", Sender: "user", Content: "hi"},
	}
	token := env.authToken(t)

	rec := env.do(t, http.MethodGet, "/api/conversations/conv-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Revenue questions"`)
	assert.Contains(t, rec.Body.String(), `"messages":[`)
}

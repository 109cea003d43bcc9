package store

import "time"

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// Profile holds per-user settings, most importantly the embedding credential.
type Profile struct {
	UserID       int64     `json:"id"`
	Email        string    `json:"email"`
	OpenAIAPIKey string    `json:"openai_api_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Document is an uploaded file whose extracted text has been chunked and
// embedded. It is owned by exactly one user and immutable once created.
type Document struct {
	ID         string    `json:"id"` // UUID
	UserID     int64     `json:"-"`
	Title      string    `json:"title"`
	SourcePath string    `json:"source_path"`
	MimeType   string    `json:"mime_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is a bounded segment of a document's text plus its embedding vector.
// Ordinal is the chunk's 0-based position within the parent document.
type Chunk struct {
	ID         string    `json:"id"` // UUID
	DocumentID string    `json:"document_id"`
	UserID     int64     `json:"-"`
	Ordinal    int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
}

// Match is a chunk reference with a similarity score, produced by a top-k
// query. Matches are never persisted.
type Match struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float32
}

type Conversation struct {
	ID        string    `json:"id"` // UUID
	UserID    int64     `json:"user_id"`
	Title     *string   `json:"title"` // Nullable
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID             string    `json:"id"` // UUID
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"` // "user" or "model"
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

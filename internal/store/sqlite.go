package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/docuchat/docuchat/internal/vectormath"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS profiles (
        user_id INTEGER PRIMARY KEY,
        email TEXT NOT NULL DEFAULT '',
        openai_api_key TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT NOT NULL,
        source_path TEXT NOT NULL,
        mime_type TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS document_chunks (
        id TEXT PRIMARY KEY, -- UUID
        document_id TEXT NOT NULL,
        user_id INTEGER NOT NULL,
        chunk_index INTEGER NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT NOT NULL, -- JSON string of []float32
        FOREIGN KEY (document_id) REFERENCES documents (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_document_chunks_user ON document_chunks (user_id);

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
        content TEXT NOT NULL,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(ctx, id)
}

func (s *SQLiteStore) getUserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Profile methods

func (s *SQLiteStore) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, "SELECT user_id, email, openai_api_key, created_at, updated_at FROM profiles WHERE user_id = ?", userID).
		Scan(&p.UserID, &p.Email, &p.OpenAIAPIKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No profile yet
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, userID int64, email, openAIKey string) (*Profile, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO profiles (user_id, email, openai_api_key, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET email = excluded.email, openai_api_key = excluded.openai_api_key, updated_at = excluded.updated_at`,
		userID, email, openAIKey, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

// GetOpenAIKey returns the owner's embedding credential, or "" when no
// profile or key is on file.
func (s *SQLiteStore) GetOpenAIKey(ctx context.Context, userID int64) (string, error) {
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	return p.OpenAIAPIKey, nil
}

// Document methods

func (s *SQLiteStore) CreateDocument(ctx context.Context, userID int64, title, sourcePath, mimeType string) (*Document, error) {
	doc := &Document{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      title,
		SourcePath: sourcePath,
		MimeType:   mimeType,
		CreatedAt:  time.Now(),
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO documents (id, user_id, title, source_path, mime_type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		doc.ID, doc.UserID, doc.Title, doc.SourcePath, doc.MimeType, doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, title, source_path, mime_type, created_at FROM documents WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.SourcePath, &doc.MimeType, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a single document and its chunks. Used to roll back
// a failed ingestion.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string, userID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ? AND user_id = ?", documentID, userID); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ? AND user_id = ?", documentID, userID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// DeleteUserDocuments removes all of the owner's documents and chunks,
// returning the number of documents removed.
func (s *SQLiteStore) DeleteUserDocuments(ctx context.Context, userID int64) (int, error) {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE user_id = ?", userID); err != nil {
		return 0, fmt.Errorf("failed to delete document chunks: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Chunk methods

// InsertChunks persists a document's chunks in a single transaction so a
// failed ingestion never leaves a partial chunk set behind.
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO document_chunks (id, document_id, user_id, chunk_index, content, embedding_json) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.NewString()
		}
		embeddingJSON, err := json.Marshal(chunks[i].Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunks[i].ID, chunks[i].DocumentID, chunks[i].UserID, chunks[i].Ordinal, chunks[i].Content, string(embeddingJSON)); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunks[i].Ordinal, err)
		}
	}

	return tx.Commit()
}

// TopKChunks returns the owner's k most similar chunks to the query vector,
// ranked by cosine similarity in descending order. Zero matches is a normal
// result, not an error. Chunks of other owners are never considered.
func (s *SQLiteStore) TopKChunks(ctx context.Context, userID int64, queryVector []float32, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, document_id, content, embedding_json FROM document_chunks WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m             Match
			embeddingJSON string
		)
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}

		var embedding []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding for chunk %s: %w", m.ChunkID, err)
		}

		score, err := vectormath.CosineSimilarity(queryVector, embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to score chunk %s: %w", m.ChunkID, err)
		}
		m.Score = score
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// CountChunks returns the number of chunks stored for a document.
func (s *SQLiteStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_chunks WHERE document_id = ?", documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Conversation methods

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID int64, title *string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO conversations (id, user_id, title, created_at) VALUES (?, ?, ?, ?)",
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string, userID int64) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, user_id, title, created_at FROM conversations WHERE id = ? AND user_id = ?", conversationID, userID).
		Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if title.Valid {
		conv.Title = &title.String
	}
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, title, created_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		var title sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if title.Valid {
			conv.Title = &title.String
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) UpdateConversationTitle(ctx context.Context, conversationID string, userID int64, title string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET title = ? WHERE id = ? AND user_id = ?", title, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("conversation not found or not owned by user, title not updated")
	}
	return nil
}

// Message methods

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString() // Ensure ID is set
	msg.Timestamp = time.Now()

	_, err := s.db.ExecContext(ctx, "INSERT INTO messages (id, conversation_id, sender, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, conversation_id, sender, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC LIMIT ? OFFSET ?",
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

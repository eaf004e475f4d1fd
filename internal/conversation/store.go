// Package conversation persists chat sessions and their messages.
//
// The server is stateless between requests; everything the agent needs
// to continue a conversation is reloaded from here.
package conversation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no conversation matches the given id and owner.
var ErrNotFound = errors.New("conversation not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is a chat session owned by a user.
type Conversation struct {
	ID        int64
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn within a conversation. Messages are
// append-only; nothing edits or deletes them.
type Message struct {
	ID             int64
	ConversationID int64
	UserID         string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Store handles conversation and message persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store with SQLite backend.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewStoreWithDB wraps an existing database handle so conversations
// and tasks can share one file.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for stores sharing the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Create starts a new conversation for the user.
func (s *Store) Create(userID string) (*Conversation, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO conversations (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, userID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

// Get retrieves a conversation by id, scoped to the owner.
func (s *Store) Get(userID string, id int64) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?
	`, id, userID)

	var c Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// GetOrCreate returns the conversation if id is set and owned by the
// user; otherwise it starts a fresh one. A stale or foreign id is not
// an error, the caller just gets a new conversation.
func (s *Store) GetOrCreate(userID string, id int64) (*Conversation, error) {
	if id > 0 {
		c, err := s.Get(userID, id)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.Create(userID)
}

// ListByOwner returns the user's conversations, most recently active first.
func (s *Store) ListByOwner(userID string) ([]*Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, created_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.UserID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		convs = append(convs, &c)
	}

	return convs, rows.Err()
}

// AddMessage appends a message to a conversation.
func (s *Store) AddMessage(conversationID int64, userID, role, content string) (*Message, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, conversationID, userID, role, content, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// AddUserMessage appends a user turn.
func (s *Store) AddUserMessage(conversationID int64, userID, content string) (*Message, error) {
	return s.AddMessage(conversationID, userID, RoleUser, content)
}

// AddAssistantMessage appends an assistant turn.
func (s *Store) AddAssistantMessage(conversationID int64, userID, content string) (*Message, error) {
	return s.AddMessage(conversationID, userID, RoleAssistant, content)
}

// Messages returns up to limit messages for a conversation, oldest first.
func (s *Store) Messages(conversationID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

// History returns the most recent limit user and assistant turns in
// chronological order, ready to replay to the model. Truncation drops
// the oldest turns, not the newest.
func (s *Store) History(conversationID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ? AND role IN (?, ?)
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, conversationID, RoleUser, RoleAssistant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query returned newest first; flip back to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Touch refreshes a conversation's updated_at timestamp.
func (s *Store) Touch(conversationID int64) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), conversationID)
	return err
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

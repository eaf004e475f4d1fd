// Package tasks persists user tasks in SQLite.
package tasks

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no task matches the given id and owner.
var ErrNotFound = errors.New("task not found")

// Status filter values for List.
const (
	StatusAll       = "all"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Task is a single todo item owned by a user.
type Task struct {
	ID          int64
	UserID      string
	Title       string
	Description *string
	Completed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store handles task persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store with SQLite backend.
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

// NewStoreWithDB wraps an existing database handle. The conversation
// store and task store share one file in production.
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

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_completed ON tasks(user_id, completed);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Create persists a new task for the user. The task starts pending.
func (s *Store) Create(userID, title string, description *string) (*Task, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO tasks (user_id, title, description, completed, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, userID, title, description, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Task{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Get retrieves a task by id, scoped to the owner.
func (s *Store) Get(userID string, id int64) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, title, description, completed, created_at, updated_at
		FROM tasks WHERE id = ? AND user_id = ?
	`, id, userID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// List returns the user's tasks newest first, optionally filtered by
// completion status. Unknown filter values behave like StatusAll.
func (s *Store) List(userID, status string) ([]*Task, error) {
	query := `SELECT id, user_id, title, description, completed, created_at, updated_at
		FROM tasks WHERE user_id = ?`
	switch status {
	case StatusPending:
		query += ` AND completed = 0`
	case StatusCompleted:
		query += ` AND completed = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// Complete marks a task done. Completing an already-completed task is
// a no-op that still refreshes updated_at.
func (s *Store) Complete(userID string, id int64) (*Task, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE tasks SET completed = 1, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, now.Format(time.RFC3339Nano), id, userID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return s.Get(userID, id)
}

// Delete removes a task and returns it as it was before deletion.
func (s *Store) Delete(userID string, id int64) (*Task, error) {
	t, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, err
	}
	return t, nil
}

// Update changes a task's title and/or description. Nil fields are
// left unchanged; an update with both fields nil still refreshes
// updated_at.
func (s *Store) Update(userID string, id int64, title, description *string) (*Task, error) {
	t, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		t.Title = *title
	}
	if description != nil {
		t.Description = description
	}
	t.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(`
		UPDATE tasks SET title = ?, description = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, t.Title, t.Description, t.UpdatedAt.Format(time.RFC3339Nano), id, userID)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Helper scan functions

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var description sql.NullString
	var completed int
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.UserID, &t.Title, &description, &completed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		t.Description = &description.String
	}
	t.Completed = completed == 1
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &t, nil
}

func scanTaskRow(rows *sql.Rows) (*Task, error) {
	var t Task
	var description sql.NullString
	var completed int
	var createdAt, updatedAt string

	err := rows.Scan(&t.ID, &t.UserID, &t.Title, &description, &completed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		t.Description = &description.String
	}
	t.Completed = completed == 1
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &t, nil
}

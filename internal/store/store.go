// Package store persists conversations, messages and open tabs in a
// local SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// DefaultRetentionDays is how long conversations are kept before the
// open-time prune removes them.
const DefaultRetentionDays = 7

// Conversation is one chat thread, possibly not yet tied to a user.
type Conversation struct {
	ID              string
	UserID          string
	ProjectFilePath string
	SessionID       string
	Title           string
	Summary         string
	CreatedAt       string
	UpdatedAt       string
	IsSynced        bool
}

// Message is one turn inside a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // user, assistant or system
	Content        string
	CreatedAt      string
	Metadata       string // raw JSON
	IsSynced       bool
}

// OpenTab records a conversation open in the UI for a project.
type OpenTab struct {
	ID              int64
	ConversationID  string
	TabOrder        int
	IsActive        bool
	ProjectFilePath string
	CreatedAt       string
}

// Store wraps the conversations database. All access is serialised
// through one mutex and a single connection.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Open creates or opens conversations.db under dir, applies the schema,
// and prunes conversations older than the retention window.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "conversations.db")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if pruned, err := s.DeleteOld(DefaultRetentionDays); err != nil {
		logging.StoreWarn("startup prune failed: %v", err)
	} else if pruned > 0 {
		logging.Store("pruned %d conversations older than %d days", pruned, DefaultRetentionDays)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		project_file_path TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		is_synced INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_session_id ON conversations(session_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		is_synced INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS open_tabs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		tab_order INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 0,
		project_file_path TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_open_tabs_tab_order ON open_tabs(tab_order);
	CREATE INDEX IF NOT EXISTS idx_open_tabs_project ON open_tabs(project_file_path);
	`
	_, err := s.db.Exec(schema)
	return err
}

// nowUTC returns the canonical timestamp format: ISO-8601 UTC with a T
// separator and Z suffix.
func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

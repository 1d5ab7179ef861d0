package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// CreateConversation inserts a new conversation and returns it with a
// fresh UUID and timestamps.
func (s *Store) CreateConversation(userID, projectFilePath, sessionID, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUTC()
	conv := Conversation{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProjectFilePath: projectFilePath,
		SessionID:       sessionID,
		Title:           title,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, project_file_path, session_id, title, summary, created_at, updated_at, is_synced)
		VALUES (?, ?, ?, ?, ?, '', ?, ?, 0)`,
		conv.ID, conv.UserID, conv.ProjectFilePath, conv.SessionID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	logging.Store("created conversation %s", conv.ID)
	return conv, nil
}

// LoadConversation fetches one conversation by id.
func (s *Store) LoadConversation(id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadConversationLocked(id)
}

func (s *Store) loadConversationLocked(id string) (Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, project_file_path, session_id, title, summary, created_at, updated_at, is_synced
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var synced int
	err := row.Scan(&c.ID, &c.UserID, &c.ProjectFilePath, &c.SessionID, &c.Title, &c.Summary,
		&c.CreatedAt, &c.UpdatedAt, &synced)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("conversation not found")
	}
	if err != nil {
		return c, err
	}
	c.IsSynced = synced != 0
	return c, nil
}

// ListConversations returns conversations ordered newest-first. An
// empty userID lists everything; limit <= 0 means no limit.
func (s *Store) ListConversations(userID string, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, user_id, project_file_path, session_id, title, summary, created_at, updated_at, is_synced
		FROM conversations`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// UpdateTitle sets a conversation's title and bumps updated_at.
func (s *Store) UpdateTitle(id, title string) error {
	return s.updateConversationField(id, "title", title)
}

// UpdateSummary sets a conversation's summary and bumps updated_at.
func (s *Store) UpdateSummary(id, summary string) error {
	return s.updateConversationField(id, "summary", summary)
}

func (s *Store) updateConversationField(id, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE conversations SET %s = ?, updated_at = ?, is_synced = 0 WHERE id = ?`, column),
		value, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("updating conversation %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation not found")
	}
	return nil
}

// DeleteConversation removes a conversation; messages and tabs cascade.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation not found")
	}
	logging.Store("deleted conversation %s", id)
	return nil
}

// MarkConversationSynced flags a conversation as pushed to the remote.
func (s *Store) MarkConversationSynced(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE conversations SET is_synced = 1 WHERE id = ?`, id)
	return err
}

// GetUnsyncedConversations returns conversations not yet pushed.
func (s *Store) GetUnsyncedConversations() ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, project_file_path, session_id, title, summary, created_at, updated_at, is_synced
		FROM conversations WHERE is_synced = 0 ORDER BY updated_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// SetUserIDForLocalConversations claims ownerless conversations for the
// newly signed-in user and re-queues them for sync.
func (s *Store) SetUserIDForLocalConversations(userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE conversations SET user_id = ?, is_synced = 0 WHERE user_id = ''`, userID)
	if err != nil {
		return 0, fmt.Errorf("claiming local conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("claimed %d local conversations for user %s", n, userID)
	}
	return n, nil
}

// UpsertRemoteConversation applies a remotely fetched conversation: an
// existing local row keeps its identity but takes the remote title and
// summary; a missing one is created as a synced shell.
func (s *Store) UpsertRemoteConversation(c Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadConversationLocked(c.ID); err == nil {
		_, err := s.db.Exec(`UPDATE conversations SET title = ?, summary = ? WHERE id = ?`,
			c.Title, c.Summary, c.ID)
		return err
	}

	createdAt := c.CreatedAt
	if createdAt == "" {
		createdAt = nowUTC()
	}
	updatedAt := c.UpdatedAt
	if updatedAt == "" {
		updatedAt = createdAt
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, project_file_path, session_id, title, summary, created_at, updated_at, is_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		c.ID, c.UserID, c.ProjectFilePath, c.SessionID, c.Title, c.Summary, createdAt, updatedAt)
	return err
}

// DeleteOld removes conversations whose updated_at is older than the
// given number of days, returning how many were removed.
func (s *Store) DeleteOld(days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02T15:04:05Z")
	res, err := s.db.Exec(`DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

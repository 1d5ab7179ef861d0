package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SaveMessage appends a message to a conversation and bumps the
// conversation's updated_at so it sorts to the top.
func (s *Store) SaveMessage(conversationID, role, content, metadata string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if metadata == "" {
		metadata = "{}"
	}
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      nowUTC(),
		Metadata:       metadata,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, created_at, metadata, is_synced)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt, msg.Metadata); err != nil {
		return Message{}, fmt.Errorf("saving message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ?, is_synced = 0 WHERE id = ?`,
		msg.CreatedAt, conversationID); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var synced int
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt, &m.Metadata, &synced)
	if err != nil {
		return m, err
	}
	m.IsSynced = synced != 0
	return m, nil
}

// LoadMessages returns a conversation's messages in chronological
// order; limit <= 0 means all.
func (s *Store) LoadMessages(conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, conversation_id, role, content, created_at, metadata, is_synced
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetLastMessage returns the most recent message of a conversation.
func (s *Store) GetLastMessage(conversationID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, conversation_id, role, content, created_at, metadata, is_synced
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return m, fmt.Errorf("conversation has no messages")
	}
	return m, err
}

// MarkMessageSynced flags a message as pushed to the remote.
func (s *Store) MarkMessageSynced(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE messages SET is_synced = 1 WHERE id = ?`, id)
	return err
}

// GetUnsyncedMessages returns messages not yet pushed, oldest first.
func (s *Store) GetUnsyncedMessages() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at, metadata, is_synced
		FROM messages WHERE is_synced = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

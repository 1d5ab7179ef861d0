package store

import "fmt"

// SaveOpenTabs replaces the tab set for one project in a single
// transaction so a crash never leaves a half-written set.
func (s *Store) SaveOpenTabs(tabs []OpenTab, projectFilePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM open_tabs WHERE project_file_path = ?`, projectFilePath); err != nil {
		return fmt.Errorf("clearing open tabs: %w", err)
	}

	now := nowUTC()
	for _, tab := range tabs {
		active := 0
		if tab.IsActive {
			active = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO open_tabs (conversation_id, tab_order, is_active, project_file_path, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			tab.ConversationID, tab.TabOrder, active, projectFilePath, now); err != nil {
			return fmt.Errorf("saving open tab: %w", err)
		}
	}
	return tx.Commit()
}

// LoadOpenTabs returns a project's tabs in tab order.
func (s *Store) LoadOpenTabs(projectFilePath string) ([]OpenTab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, conversation_id, tab_order, is_active, project_file_path, created_at
		FROM open_tabs WHERE project_file_path = ? ORDER BY tab_order ASC`, projectFilePath)
	if err != nil {
		return nil, fmt.Errorf("loading open tabs: %w", err)
	}
	defer rows.Close()

	var tabs []OpenTab
	for rows.Next() {
		var tab OpenTab
		var active int
		if err := rows.Scan(&tab.ID, &tab.ConversationID, &tab.TabOrder, &active,
			&tab.ProjectFilePath, &tab.CreatedAt); err != nil {
			return nil, err
		}
		tab.IsActive = active != 0
		tabs = append(tabs, tab)
	}
	return tabs, rows.Err()
}

// ClearOpenTabs removes all tabs for a project.
func (s *Store) ClearOpenTabs(projectFilePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM open_tabs WHERE project_file_path = ?`, projectFilePath)
	return err
}

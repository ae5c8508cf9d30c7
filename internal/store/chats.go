package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
)

// CreateChat inserts a new chat, title may be empty.
func (s *Store) CreateChat(ctx context.Context, title string) (domain.Chat, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO chats (id, title, created_at) VALUES (gen_random_uuid(), $1, now())
RETURNING id, title, created_at
`, nullableString(title))
	var c domain.Chat
	var t sql.NullString
	if err := row.Scan(&c.ID, &t, &c.CreatedAt); err != nil {
		return domain.Chat{}, translate(err, "")
	}
	c.Title = t.String
	return c, nil
}

// GetChat fetches a chat by id.
func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (domain.Chat, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, title, created_at FROM chats WHERE id = $1`, id)
	var c domain.Chat
	var t sql.NullString
	if err := row.Scan(&c.ID, &t, &c.CreatedAt); err != nil {
		return domain.Chat{}, translate(err, "chat not found")
	}
	c.Title = t.String
	return c, nil
}

// ListChats returns chats most-recent first.
func (s *Store) ListChats(ctx context.Context) ([]domain.Chat, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, title, created_at FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()
	var out []domain.Chat
	for rows.Next() {
		var c domain.Chat
		var t sql.NullString
		if err := rows.Scan(&c.ID, &t, &c.CreatedAt); err != nil {
			return nil, translate(err, "")
		}
		c.Title = t.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChat removes a chat; ON DELETE CASCADE removes its messages.
func (s *Store) DeleteChat(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
	return translate(err, "")
}

// CreateMessage persists one turn of a chat, recording the project scope
// active when it was sent (message-local retrieval scope, §3).
func (s *Store) CreateMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	ids := make([]string, len(m.ProjectIDs))
	for i, id := range m.ProjectIDs {
		ids[i] = id.String()
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO messages (id, chat_id, role, content, project_ids, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
RETURNING id, chat_id, role, content, created_at
`, m.ChatID, m.Role, m.Content, pq.Array(ids))
	var out domain.Message
	if err := row.Scan(&out.ID, &out.ChatID, &out.Role, &out.Content, &out.CreatedAt); err != nil {
		return domain.Message{}, translate(err, "")
	}
	out.ProjectIDs = m.ProjectIDs
	return out, nil
}

// ListMessagesByChat returns every message in a chat, chronological.
func (s *Store) ListMessagesByChat(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, chat_id, role, content, project_ids, created_at
FROM messages WHERE chat_id = $1 ORDER BY created_at ASC
`, chatID)
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var ids pq.StringArray
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &ids, &m.CreatedAt); err != nil {
			return nil, translate(err, "")
		}
		for _, s := range ids {
			if u, err := uuid.Parse(s); err == nil {
				m.ProjectIDs = append(m.ProjectIDs, u)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

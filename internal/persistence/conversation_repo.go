package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Conversation is one archived conversation, keyed the same way the focus is
// (room:<id> or dm:<peer id>).
type Conversation struct {
	Key       string
	Kind      string
	Title     string
	UpdatedAt time.Time
}

const (
	ConversationKindRoom    = "room"
	ConversationKindPrivate = "dm"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Upsert records a conversation, keeping a real title over a later empty one
// and never moving updated_at backwards.
func (r *ConversationRepo) Upsert(ctx context.Context, c Conversation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations(conversation_key, kind, title, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			kind = excluded.kind,
			title = CASE
				WHEN excluded.title != '' THEN excluded.title
				ELSE conversations.title
			END,
			updated_at = CASE
				WHEN excluded.updated_at > conversations.updated_at THEN excluded.updated_at
				ELSE conversations.updated_at
			END
	`, c.Key, c.Kind, c.Title, toUnixMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// ListRecent returns conversations newest-first.
func (r *ConversationRepo) ListRecent(ctx context.Context) ([]Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_key, kind, title, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]Conversation, 0)
	for rows.Next() {
		var (
			c         Conversation
			updatedMs int64
		)
		if err := rows.Scan(&c.Key, &c.Kind, &c.Title, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.UpdatedAt = fromUnixMillis(updatedMs)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"chatty/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert archives a message under its conversation key. A message already
// archived under the same (conversation, server id) pair is ignored, so
// replaying live traffic after a reconnect cannot duplicate rows.
func (r *MessageRepo) Insert(ctx context.Context, conversationKey string, m domain.Message) (int64, error) {
	if m.ID == "" {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages(
			conversation_key, message_id, sender_id, sender_username,
			sender_name, content, msg_type, is_private, at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationKey, m.ID, m.SenderID, m.SenderUsername,
		m.SenderName, m.Content, string(m.Type), boolToInt(m.Private), toUnixMillis(m.At))
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return 0, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get message local id: %w", err)
	}
	return id, nil
}

// ListRecent returns the newest messages of a conversation in ascending
// chronological order.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationKey string, limit int) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, sender_id, sender_username, sender_name,
			content, msg_type, is_private, at
		FROM messages
		WHERE conversation_key = ?
		ORDER BY at DESC, local_id DESC
		LIMIT ?
	`, conversationKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			msgType   string
			isPrivate int
			atMs      int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderUsername, &m.SenderName,
			&m.Content, &msgType, &isPrivate, &atMs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = domain.MessageType(msgType)
		m.Private = isPrivate != 0
		m.At = fromUnixMillis(atMs)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountByConversation reports how many messages are archived per conversation.
func (r *MessageRepo) CountByConversation(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_key, COUNT(*)
		FROM messages
		GROUP BY conversation_key
	`)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan message count: %w", err)
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message counts: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

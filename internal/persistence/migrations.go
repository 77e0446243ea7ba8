package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version records the last one
// applied so reopening an existing archive only runs the new tail.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		local_id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_key TEXT NOT NULL,
		message_id TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		sender_username TEXT NOT NULL DEFAULT '',
		sender_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		msg_type TEXT NOT NULL DEFAULT 'TEXT',
		is_private INTEGER NOT NULL DEFAULT 0,
		at INTEGER NOT NULL,
		UNIQUE(conversation_key, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_at
		ON messages(conversation_key, at);
	`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		if _, err := db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
	}

	return nil
}

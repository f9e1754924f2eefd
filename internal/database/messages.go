package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"chatrelay/pkg/types"
)

// AppendMessage adds msg to the conversation log. With maxLen > 0 the log is
// trimmed to its maxLen newest entries in the same transaction.
func (m *Manager) AppendMessage(ctx context.Context, conversationID string, msg types.StoredMessage, maxLen int) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, user_name, content, timestamp) VALUES (?, ?, ?, ?)`,
			conversationID, msg.User, msg.Content, msg.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		if maxLen > 0 {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM messages
				 WHERE conversation_id = ?
				   AND id <= (SELECT id FROM messages
				               WHERE conversation_id = ?
				               ORDER BY id DESC LIMIT 1 OFFSET ?)`,
				conversationID, conversationID, maxLen,
			)
			if err != nil {
				return fmt.Errorf("failed to trim message log: %w", err)
			}
		}

		return tx.Commit()
	})
}

// RecentMessages returns up to limit of the newest messages, oldest first
func (m *Manager) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.StoredMessage, error) {
	messages := []types.StoredMessage{}
	if limit <= 0 {
		return messages, nil
	}

	// FUNCTIONAL DISCOVERY: Insertion order (id) rather than timestamp keeps
	// replay identical to broadcast order when clocks tie
	rows, err := m.db.QueryContext(ctx, `
		SELECT user_name, content, timestamp FROM messages
		 WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query message history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var msg types.StoredMessage
		if err := rows.Scan(&msg.User, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	// Rows arrive newest first
	slices.Reverse(messages)
	return messages, nil
}

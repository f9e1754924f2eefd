package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// CreateConversation inserts a conversation and its participants atomically
func (m *Manager) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (id, title, owner_id, created_at) VALUES (?, ?, ?, ?)`,
			conv.ID, conv.Title, conv.OwnerID, conv.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}

		for _, userID := range conv.Participants {
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
				conv.ID, userID, conv.CreatedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert participant: %w", err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit conversation creation: %w", err)
		}
		return nil
	})
}

// AddParticipant grants userID access to an existing conversation
func (m *Manager) AddParticipant(ctx context.Context, conversationID, userID string) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at)
			 SELECT id, ?, ? FROM conversations WHERE id = ?`,
			userID, time.Now().UTC(), conversationID,
		)
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Either the conversation is missing or the user is already present
			var exists int
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to query conversation: %w", err)
			}
			if exists == 0 {
				return interfaces.ErrConversationNotFound
			}
		}
		return nil
	})
}

// GetConversation loads a conversation with its participant list
func (m *Manager) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	var conv types.Conversation
	err := m.db.QueryRowContext(ctx,
		`SELECT id, title, owner_id, created_at FROM conversations WHERE id = ?`, conversationID,
	).Scan(&conv.ID, &conv.Title, &conv.OwnerID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY joined_at, user_id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conv.Participants = []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		conv.Participants = append(conv.Participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return &conv, nil
}

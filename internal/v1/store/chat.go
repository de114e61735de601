package store

import (
	"context"

	"github.com/bitwar/backend/go/internal/v1/types"
)

// SaveChat persists one chat line and stamps its creation time.
func (s *Store) SaveChat(ctx context.Context, msg *types.ChatMessage) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (id, room_id, sender, body, is_system)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.ID, msg.RoomID, msg.Sender, msg.Body, msg.IsSystem).Scan(&msg.Timestamp)
}

// ChatHistory returns the most recent limit messages in chronological order.
func (s *Store) ChatHistory(ctx context.Context, roomID string, limit int) ([]types.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender, body, is_system, created_at FROM (
			SELECT id, room_id, sender, body, is_system, created_at
			FROM chat_messages
			WHERE room_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.ChatMessage{}
	for rows.Next() {
		var m types.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Body, &m.IsSystem, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/bitwar/backend/go/internal/v1/types"
)

// StaleRooms finds rooms the reaper should inspect: lobbies that never
// started before activeBefore, and battles that started before playingBefore
// and so outlived any permitted time limit.
func (s *Store) StaleRooms(ctx context.Context, activeBefore, playingBefore time.Time) ([]types.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE (status = 'active' AND start_time IS NULL AND created_at < $1)
		   OR (status = 'playing' AND start_time < $2)
		ORDER BY created_at
	`, activeBefore, playingBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *room)
	}
	return out, rows.Err()
}

// PurgeRoom deletes a room and everything hanging off it. Without force only
// completed or closed rooms are purged; force removes any room, which the
// reaper uses on abandoned ones. Returns whether a room was deleted. A room
// that is already gone is a trivial success.
func (s *Store) PurgeRoom(ctx context.Context, roomID string, force bool) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	room, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1 FOR UPDATE`, roomID))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !force && !room.Status.Terminal() {
		return false, nil
	}

	for _, q := range []string{
		`DELETE FROM room_participants WHERE room_id = $1`,
		`DELETE FROM chat_messages WHERE room_id = $1`,
		`DELETE FROM battle_results WHERE room_id = $1`,
		`DELETE FROM rooms WHERE room_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, roomID); err != nil {
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bitwar/backend/go/internal/v1/types"
)

// FinisherOutcome reports what one accepted submission (or a timer expiry)
// did to the battle.
type FinisherOutcome struct {
	Position       int
	CompletionTime time.Time
	AlreadyDone    bool // username already had a recorded position
	Completed      bool // this call transitioned the room to completed
	Winners        []types.ResultEntry
	Capacity       int
}

// RecordFinisher appends username to the battle's finishing order. The room
// row lock and the battle_results row lock serialize concurrent finishers,
// so positions come out unique and contiguous. Re-submits return the
// existing position without mutation. When the new position reaches the
// winner quota the room completes in the same transaction, including ranked
// Elo updates.
func (s *Store) RecordFinisher(ctx context.Context, roomID, username string, at time.Time) (*FinisherOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1 FOR UPDATE`, roomID))
	if err != nil {
		return nil, err
	}
	if room.ActiveQuestionID == nil {
		return nil, types.ErrInvalidState
	}
	questionID := *room.ActiveQuestionID

	if _, err := tx.Exec(ctx, `
		INSERT INTO battle_results (room_id, question_id, results)
		VALUES ($1, $2, '[]'::jsonb)
		ON CONFLICT DO NOTHING
	`, roomID, questionID); err != nil {
		return nil, err
	}
	var results []types.ResultEntry
	if err := tx.QueryRow(ctx, `
		SELECT results FROM battle_results
		WHERE room_id = $1 AND question_id = $2
		FOR UPDATE
	`, roomID, questionID).Scan(&results); err != nil {
		return nil, err
	}

	outcome := &FinisherOutcome{Capacity: room.Capacity}
	for _, e := range results {
		if e.Username == username {
			outcome.Position = e.Position
			outcome.CompletionTime = e.CompletionTime
			outcome.AlreadyDone = true
			return outcome, nil
		}
	}

	if room.Status != types.RoomStatusPlaying {
		return nil, types.ErrInvalidState
	}

	position := len(results) + 1
	results = append(results, types.ResultEntry{Username: username, Position: position, CompletionTime: at})
	if _, err := tx.Exec(ctx, `
		UPDATE battle_results SET results = $3, updated_at = now()
		WHERE room_id = $1 AND question_id = $2
	`, roomID, questionID, results); err != nil {
		return nil, err
	}
	outcome.Position = position
	outcome.CompletionTime = at

	if position == 1 {
		if err := s.bumpWins(ctx, tx, roomID, username); err != nil {
			return nil, err
		}
		if room.IsRanked && room.Capacity == 2 {
			if err := s.applyDuelElo(ctx, tx, roomID, username, at); err != nil {
				return nil, err
			}
		}
	}

	if position >= types.MaxWinners(room.Capacity) {
		winners, err := s.completeBattle(ctx, tx, room, results, at)
		if err != nil {
			return nil, err
		}
		outcome.Completed = true
		outcome.Winners = winners
	}

	return outcome, tx.Commit(ctx)
}

// ForceComplete ends a playing battle that ran out its clock. Winners are
// whoever finished before the expiry, possibly nobody. A room no longer
// playing returns ErrInvalidState so racing timers and finishers converge on
// exactly one completion.
func (s *Store) ForceComplete(ctx context.Context, roomID string) (*FinisherOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1 FOR UPDATE`, roomID))
	if err != nil {
		return nil, err
	}
	if room.Status != types.RoomStatusPlaying {
		return nil, types.ErrInvalidState
	}

	results := []types.ResultEntry{}
	if room.ActiveQuestionID != nil {
		err := tx.QueryRow(ctx, `
			SELECT results FROM battle_results
			WHERE room_id = $1 AND question_id = $2
			FOR UPDATE
		`, roomID, *room.ActiveQuestionID).Scan(&results)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	winners, err := s.completeBattle(ctx, tx, room, results, time.Now())
	if err != nil {
		return nil, err
	}
	outcome := &FinisherOutcome{
		Completed: true,
		Winners:   winners,
		Capacity:  room.Capacity,
	}
	return outcome, tx.Commit(ctx)
}

// completeBattle runs under the caller's room row lock with status already
// verified as playing.
func (s *Store) completeBattle(ctx context.Context, tx pgx.Tx, room *types.Room, results []types.ResultEntry, at time.Time) ([]types.ResultEntry, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE rooms SET status = 'completed', updated_at = now()
		WHERE room_id = $1 AND status = 'playing'
	`, room.RoomID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrInvalidState
	}

	n := types.MaxWinners(room.Capacity)
	if n > len(results) {
		n = len(results)
	}
	winners := append([]types.ResultEntry{}, results[:n]...)

	// Squad ratings settle at completion, once final standings are known.
	// 1v1 ratings were already applied when the winner finished.
	if room.IsRanked && room.Capacity > 2 && len(results) > 0 {
		users, positions, err := s.squadStandings(ctx, tx, room.RoomID, results)
		if err != nil {
			return nil, err
		}
		if err := s.applySquadElo(ctx, tx, users, positions, at); err != nil {
			return nil, err
		}
	}
	return winners, nil
}

// squadStandings merges recorded finishers with joined participants who never
// finished; the latter share the position after the last finisher.
func (s *Store) squadStandings(ctx context.Context, tx pgx.Tx, roomID string, results []types.ResultEntry) ([]string, []int, error) {
	users := make([]string, 0, len(results))
	positions := make([]int, 0, len(results))
	finished := map[string]bool{}
	for _, e := range results {
		users = append(users, e.Username)
		positions = append(positions, e.Position)
		finished[e.Username] = true
	}

	rows, err := tx.Query(ctx, `
		SELECT username FROM room_participants
		WHERE room_id = $1 AND status = 'joined'
		ORDER BY joined_at
	`, roomID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	last := len(results) + 1
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, nil, err
		}
		if !finished[u] {
			users = append(users, u)
			positions = append(positions, last)
		}
	}
	return users, positions, rows.Err()
}

func (s *Store) bumpWins(ctx context.Context, tx pgx.Tx, roomID, username string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE room_participants SET battles_won = battles_won + 1
		WHERE room_id = $1 AND username = $2
	`, roomID, username); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO user_stats (username, total_battles, battles_won)
		VALUES ($1, 0, 1)
		ON CONFLICT (username) DO UPDATE SET battles_won = user_stats.battles_won + 1
	`, username)
	return err
}

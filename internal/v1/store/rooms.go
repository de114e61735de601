package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bitwar/backend/go/internal/v1/types"
)

const roomColumns = `room_id, join_code, name, owner_username, topic, difficulty,
	time_limit_minutes, capacity, participant_count, visibility, COALESCE(password, ''),
	is_ranked, is_active, status, active_question_id, start_time, created_at, updated_at`

func scanRoom(row pgx.Row) (*types.Room, error) {
	var r types.Room
	if err := row.Scan(
		&r.RoomID, &r.JoinCode, &r.Name, &r.Owner, &r.Topic, &r.Difficulty,
		&r.TimeLimit, &r.Capacity, &r.ParticipantCount, &r.Visibility, &r.Password,
		&r.IsRanked, &r.IsActive, &r.Status, &r.ActiveQuestionID, &r.StartTime,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// CreateRoom inserts the room and its host membership row in one transaction.
// The caller supplies a candidate join code and retries on ErrDuplicateJoinCode.
func (s *Store) CreateRoom(ctx context.Context, room *types.Room) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO rooms
			(room_id, join_code, name, owner_username, topic, difficulty,
			 time_limit_minutes, capacity, participant_count, visibility, password,
			 is_ranked, is_active, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, NULLIF($10, ''), $11, true, 'active')
		RETURNING created_at, updated_at
	`, room.RoomID, room.JoinCode, room.Name, room.Owner, room.Topic, room.Difficulty,
		room.TimeLimit, room.Capacity, room.Visibility, room.Password, room.IsRanked,
	).Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "rooms_join_code_key") {
			return ErrDuplicateJoinCode
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO room_participants (room_id, username, role, status)
		VALUES ($1, $2, 'host', 'joined')
	`, room.RoomID, room.Owner)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	room.ParticipantCount = 1
	room.IsActive = true
	room.Status = types.RoomStatusActive
	return nil
}

// GetRoom retrieves a room by ID.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1`, roomID))
}

// ListActiveRooms returns every active room with its full membership,
// newest first. This is the room_list / room_update payload.
func (s *Store) ListActiveRooms(ctx context.Context) ([]types.RoomInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE is_active = true ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := []types.RoomInfo{}
	index := map[string]int{}
	ids := []string{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		index[room.RoomID] = len(infos)
		ids = append(ids, room.RoomID)
		infos = append(infos, types.RoomInfo{Room: *room, Participants: []types.ParticipantInfo{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return infos, nil
	}

	prows, err := s.pool.Query(ctx, `
		SELECT room_id, username, role, status, ready
		FROM room_participants
		WHERE room_id = ANY($1)
		ORDER BY joined_at
	`, ids)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var roomID string
		var p types.ParticipantInfo
		if err := prows.Scan(&roomID, &p.Username, &p.Role, &p.Status, &p.Ready); err != nil {
			return nil, err
		}
		if i, ok := index[roomID]; ok {
			infos[i].Participants = append(infos[i].Participants, p)
		}
	}
	return infos, prows.Err()
}

const participantColumns = `room_id, username, role, status, ready, ready_at, joined_at, left_at, blocked`

func scanParticipant(row pgx.Row) (*types.Participant, error) {
	var p types.Participant
	if err := row.Scan(
		&p.RoomID, &p.Username, &p.Role, &p.Status, &p.Ready,
		&p.ReadyAt, &p.JoinedAt, &p.LeftAt, &p.Blocked,
	); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetParticipant returns the membership row for username, in any status.
func (s *Store) GetParticipant(ctx context.Context, roomID, username string) (*types.Participant, error) {
	return scanParticipant(s.pool.QueryRow(ctx, `
		SELECT `+participantColumns+` FROM room_participants
		WHERE room_id = $1 AND username = $2
	`, roomID, username))
}

// ListParticipants returns every membership row for the room in join order.
func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]types.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+participantColumns+` FROM room_participants
		WHERE room_id = $1
		ORDER BY joined_at
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// JoinRoom admits username to the room, enforcing the private-room password
// for first-time joiners. Capacity is re-checked under the room row lock so
// two joiners cannot both take the last seat.
func (s *Store) JoinRoom(ctx context.Context, roomID, username, password string) (*types.Participant, error) {
	return s.join(ctx, roomID, username, password, true)
}

// EnsureJoined re-activates an existing membership row or creates one, used
// on websocket connect. Password checks are the caller's concern here; the
// blocked, status and capacity rules still apply.
func (s *Store) EnsureJoined(ctx context.Context, roomID, username string) (*types.Participant, error) {
	return s.join(ctx, roomID, username, "", false)
}

func (s *Store) join(ctx context.Context, roomID, username, password string, verifyPassword bool) (*types.Participant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1 FOR UPDATE`, roomID))
	if err != nil {
		return nil, err
	}

	existing, err := scanParticipant(tx.QueryRow(ctx, `
		SELECT `+participantColumns+` FROM room_participants
		WHERE room_id = $1 AND username = $2
	`, roomID, username))
	if err == nil {
		if existing.Blocked {
			return nil, types.ErrBlocked
		}
		if existing.Status == types.ParticipantJoined {
			return existing, nil
		}
		p, err := scanParticipant(tx.QueryRow(ctx, `
			UPDATE room_participants SET status = 'joined', left_at = NULL
			WHERE room_id = $1 AND username = $2
			RETURNING `+participantColumns+`
		`, roomID, username))
		if err != nil {
			return nil, err
		}
		if err := s.recountParticipants(ctx, tx, roomID); err != nil {
			return nil, err
		}
		return p, tx.Commit(ctx)
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	// First-time joiner.
	if room.Status != types.RoomStatusActive {
		return nil, types.ErrInvalidState
	}
	var joined int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM room_participants WHERE room_id = $1 AND status = 'joined'
	`, roomID).Scan(&joined); err != nil {
		return nil, err
	}
	if joined >= room.Capacity {
		return nil, types.ErrRoomFull
	}
	if verifyPassword && room.Visibility == types.VisibilityPrivate && password != room.Password {
		return nil, types.ErrWrongPassword
	}

	role := types.RoleTypeParticipant
	if room.Owner == username {
		role = types.RoleTypeHost
	}
	p, err := scanParticipant(tx.QueryRow(ctx, `
		INSERT INTO room_participants (room_id, username, role, status)
		VALUES ($1, $2, $3, 'joined')
		RETURNING `+participantColumns+`
	`, roomID, username, role))
	if err != nil {
		return nil, err
	}
	if err := s.recountParticipants(ctx, tx, roomID); err != nil {
		return nil, err
	}
	return p, tx.Commit(ctx)
}

// LeaveRoom marks username as left and recounts. The returned row carries
// the role so callers can apply the host-departure rule.
func (s *Store) LeaveRoom(ctx context.Context, roomID, username string) (*types.Participant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := scanParticipant(tx.QueryRow(ctx, `
		UPDATE room_participants SET status = 'left', left_at = now()
		WHERE room_id = $1 AND username = $2
		RETURNING `+participantColumns+`
	`, roomID, username))
	if err != nil {
		return nil, err
	}
	if err := s.recountParticipants(ctx, tx, roomID); err != nil {
		return nil, err
	}
	return p, tx.Commit(ctx)
}

// KickParticipant marks a joined participant as kicked and blocks rejoining.
func (s *Store) KickParticipant(ctx context.Context, roomID, username string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE room_participants SET status = 'kicked', blocked = true, left_at = now()
		WHERE room_id = $1 AND username = $2 AND status = 'joined'
	`, roomID, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	if err := s.recountParticipants(ctx, tx, roomID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetReady flips the ready flag. ready_at records the flip time and clears
// when the participant backs out.
func (s *Store) SetReady(ctx context.Context, roomID, username string, ready bool) (*types.Participant, error) {
	return scanParticipant(s.pool.QueryRow(ctx, `
		UPDATE room_participants
		SET ready = $3, ready_at = CASE WHEN $3 THEN now() ELSE NULL END
		WHERE room_id = $1 AND username = $2
		RETURNING `+participantColumns+`
	`, roomID, username, ready))
}

// StartRoom transitions active -> playing, pins the question and start time,
// bumps battle counters for everyone in the lobby and seeds the results row.
// A concurrent start loses the check-and-set and gets ErrInvalidState.
func (s *Store) StartRoom(ctx context.Context, roomID string, questionID int64, startTime time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE rooms
		SET status = 'playing', start_time = $2, active_question_id = $3, updated_at = now()
		WHERE room_id = $1 AND status = 'active'
	`, roomID, startTime, questionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.roomStatus(ctx, tx, roomID); err != nil {
			return err
		}
		return types.ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE room_participants SET total_battles = total_battles + 1
		WHERE room_id = $1 AND status = 'joined'
	`, roomID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_stats (username, total_battles, battles_won)
		SELECT username, 1, 0 FROM room_participants WHERE room_id = $1 AND status = 'joined'
		ON CONFLICT (username) DO UPDATE SET total_battles = user_stats.total_battles + 1
	`, roomID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO battle_results (room_id, question_id, results)
		VALUES ($1, $2, '[]'::jsonb)
		ON CONFLICT DO NOTHING
	`, roomID, questionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CloseRoom transitions any non-terminal status to closed, deactivates the
// room and clears its chat in the same transaction.
func (s *Store) CloseRoom(ctx context.Context, roomID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE rooms SET is_active = false, status = 'closed', updated_at = now()
		WHERE room_id = $1 AND status IN ('active', 'playing')
	`, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.roomStatus(ctx, tx, roomID); err != nil {
			return err
		}
		return types.ErrInvalidState
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE room_id = $1`, roomID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) roomStatus(ctx context.Context, tx pgx.Tx, roomID string) (types.RoomStatus, error) {
	var status types.RoomStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM rooms WHERE room_id = $1`, roomID).Scan(&status); err != nil {
		return "", notFound(err)
	}
	return status, nil
}

func (s *Store) recountParticipants(ctx context.Context, tx pgx.Tx, roomID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE rooms
		SET participant_count = (
			SELECT COUNT(*) FROM room_participants WHERE room_id = $1 AND status = 'joined'
		), updated_at = now()
		WHERE room_id = $1
	`, roomID)
	return err
}

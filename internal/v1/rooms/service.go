// Package rooms implements the room lifecycle: creation, membership,
// readiness, battle start, and close. The store owns all race-sensitive
// decisions inside transactions; this layer validates intent, picks
// questions, and fans the resulting frames out on the bus.
package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/bitwar/backend/go/internal/v1/store"
	"github.com/bitwar/backend/go/internal/v1/types"
)

const (
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	joinCodeLength   = 8
	joinCodeAttempts = 5
)

// Store is the persistence surface the service drives. *store.Store
// implements it; tests substitute a fake.
type Store interface {
	CreateRoom(ctx context.Context, room *types.Room) error
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)
	ListActiveRooms(ctx context.Context) ([]types.RoomInfo, error)
	GetParticipant(ctx context.Context, roomID, username string) (*types.Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]types.Participant, error)
	JoinRoom(ctx context.Context, roomID, username, password string) (*types.Participant, error)
	EnsureJoined(ctx context.Context, roomID, username string) (*types.Participant, error)
	LeaveRoom(ctx context.Context, roomID, username string) (*types.Participant, error)
	KickParticipant(ctx context.Context, roomID, username string) error
	SetReady(ctx context.Context, roomID, username string, ready bool) (*types.Participant, error)
	StartRoom(ctx context.Context, roomID string, questionID int64, startTime time.Time) error
	CloseRoom(ctx context.Context, roomID string) error
	EligibleQuestionIDs(ctx context.Context, topic string, difficulty types.Difficulty) ([]int64, error)
	SaveChat(ctx context.Context, msg *types.ChatMessage) error
	ChatHistory(ctx context.Context, roomID string, limit int) ([]types.ChatMessage, error)
}

// CleanupScheduler queues a room purge after a terminal transition.
type CleanupScheduler interface {
	Schedule(roomID string)
}

// Service coordinates room lifecycle operations.
type Service struct {
	store   Store
	bus     types.BusService
	cleanup CleanupScheduler
}

// NewService wires the room service. cleanup may be nil; terminal rooms then
// wait for the reaper's stale sweep instead of a prompt purge.
func NewService(st Store, b types.BusService, cleanup CleanupScheduler) *Service {
	return &Service{store: st, bus: b, cleanup: cleanup}
}

// CreateParams is the room configuration supplied by the creating user.
type CreateParams struct {
	Name       string           `json:"name"`
	Topic      string           `json:"topic"`
	Difficulty types.Difficulty `json:"difficulty"`
	TimeLimit  int              `json:"time_limit"`
	Capacity   int              `json:"capacity"`
	Visibility types.Visibility `json:"visibility"`
	Password   string           `json:"password"`
	IsRanked   bool             `json:"is_ranked"`
}

func (p *CreateParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("room name is required: %w", types.ErrInvalidConfig)
	}
	if strings.TrimSpace(p.Topic) == "" {
		return fmt.Errorf("topic is required: %w", types.ErrInvalidConfig)
	}
	if !types.ValidDifficulty(p.Difficulty) {
		return fmt.Errorf("unknown difficulty %q: %w", p.Difficulty, types.ErrInvalidConfig)
	}
	if p.Capacity < 2 {
		return fmt.Errorf("capacity must be at least 2: %w", types.ErrInvalidConfig)
	}
	if p.Visibility == "" {
		p.Visibility = types.VisibilityPublic
	}
	if p.Visibility != types.VisibilityPublic && p.Visibility != types.VisibilityPrivate {
		return fmt.Errorf("unknown visibility %q: %w", p.Visibility, types.ErrInvalidConfig)
	}
	if p.Visibility == types.VisibilityPrivate && p.Password == "" {
		return fmt.Errorf("private rooms require a password: %w", types.ErrInvalidConfig)
	}
	if p.TimeLimit < 0 {
		return fmt.Errorf("time limit cannot be negative: %w", types.ErrInvalidConfig)
	}
	// Only ranked battles may run without a clock.
	if !p.IsRanked && p.TimeLimit == 0 {
		return fmt.Errorf("unranked rooms require a time limit: %w", types.ErrInvalidConfig)
	}
	return nil
}

// Create validates the configuration, allocates a unique join code and
// inserts the room with its owner already joined as host.
func (s *Service) Create(ctx context.Context, owner string, p CreateParams) (*types.Room, error) {
	if err := p.validate(); err != nil {
		metrics.RoomOperations.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	room := &types.Room{
		RoomID:     uuid.NewString(),
		Name:       strings.TrimSpace(p.Name),
		Owner:      owner,
		Topic:      strings.TrimSpace(p.Topic),
		Difficulty: p.Difficulty,
		TimeLimit:  p.TimeLimit,
		Capacity:   p.Capacity,
		Visibility: p.Visibility,
		Password:   p.Password,
		IsRanked:   p.IsRanked,
	}

	var err error
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		room.JoinCode, err = newJoinCode()
		if err != nil {
			return nil, err
		}
		err = s.store.CreateRoom(ctx, room)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateJoinCode) {
			metrics.RoomOperations.WithLabelValues("create", "error").Inc()
			return nil, err
		}
	}
	if err != nil {
		metrics.RoomOperations.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("could not allocate a unique join code: %w", err)
	}

	logging.Info(ctx, "Room created",
		zap.String("roomId", room.RoomID),
		zap.String("owner", owner),
		zap.String("topic", room.Topic),
		zap.String("difficulty", string(room.Difficulty)),
		zap.Bool("isRanked", room.IsRanked))
	metrics.RoomOperations.WithLabelValues("create", "ok").Inc()

	s.publishRoomList(ctx)
	return room, nil
}

// Get returns one room.
func (s *Service) Get(ctx context.Context, roomID string) (*types.Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

// ListActive returns all active rooms with their memberships.
func (s *Service) ListActive(ctx context.Context) ([]types.RoomInfo, error) {
	return s.store.ListActiveRooms(ctx)
}

// Participants returns a room's membership rows in join order.
func (s *Service) Participants(ctx context.Context, roomID string) ([]types.Participant, error) {
	return s.store.ListParticipants(ctx, roomID)
}

// Join admits a user through the HTTP API. Password is checked for private
// rooms; capacity and blocked status are enforced in the store transaction.
func (s *Service) Join(ctx context.Context, roomID, username, password string) (*types.Participant, error) {
	p, err := s.store.JoinRoom(ctx, roomID, username, password)
	if err != nil {
		metrics.RoomOperations.WithLabelValues("join", "error").Inc()
		return nil, err
	}
	metrics.RoomOperations.WithLabelValues("join", "ok").Inc()

	s.publishRoster(ctx, roomID)
	s.publishRoomList(ctx)
	return p, nil
}

// AuthorizeLobby gates a lobby socket connect: the room must exist, and a
// private room admits only its owner and users with a non-kicked membership
// row. Join happens separately via ConnectLobby.
func (s *Service) AuthorizeLobby(ctx context.Context, roomID, username string) (*types.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Visibility == types.VisibilityPrivate && room.Owner != username {
		p, err := s.store.GetParticipant(ctx, roomID, username)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, fmt.Errorf("not authorized to join private room: %w", types.ErrForbidden)
			}
			return nil, err
		}
		if p.Blocked || p.Status == types.ParticipantKicked {
			return nil, fmt.Errorf("not authorized to join private room: %w", types.ErrForbidden)
		}
	}
	return room, nil
}

// ConnectLobby ensures a joined membership row for a socket attach and
// announces the arrival to the lobby and the global room list.
func (s *Service) ConnectLobby(ctx context.Context, roomID, username string) (*types.Participant, error) {
	p, err := s.store.EnsureJoined(ctx, roomID, username)
	if err != nil {
		return nil, err
	}

	s.systemChat(ctx, roomID, username+" joined the lobby")
	s.PublishParticipantList(ctx, roomID)
	s.publishRoomList(ctx)
	return p, nil
}

// Leave marks the user as left and announces it. A host leaving a still
// active room closes the room; that is the only host-departure rule.
func (s *Service) Leave(ctx context.Context, roomID, username string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := s.store.LeaveRoom(ctx, roomID, username); err != nil {
		metrics.RoomOperations.WithLabelValues("leave", "error").Inc()
		return err
	}
	metrics.RoomOperations.WithLabelValues("leave", "ok").Inc()

	s.publishRoster(ctx, roomID)
	s.systemChat(ctx, roomID, username+" left the lobby")
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventParticipantLeft,
		types.ParticipantLeftFrame{Type: types.EventParticipantLeft, Username: username}, username)
	s.publishRoomList(ctx)

	if room.Owner == username && room.Status == types.RoomStatusActive {
		logging.Info(ctx, "Host left active room, closing",
			zap.String("roomId", roomID), zap.String("host", username))
		return s.Close(ctx, roomID, username)
	}
	return nil
}

// Kick removes target from the room and blocks rejoining. Host only.
func (s *Service) Kick(ctx context.Context, roomID, by, target string) error {
	if err := s.requireHost(ctx, roomID, by); err != nil {
		return err
	}
	if err := s.store.KickParticipant(ctx, roomID, target); err != nil {
		metrics.RoomOperations.WithLabelValues("kick", "error").Inc()
		return err
	}
	metrics.RoomOperations.WithLabelValues("kick", "ok").Inc()
	logging.Info(ctx, "Participant kicked",
		zap.String("roomId", roomID), zap.String("target", target), zap.String("by", by))

	s.publishRoster(ctx, roomID)
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventKicked,
		types.KickedFrame{Type: types.EventKicked, Username: target}, by)
	s.systemChat(ctx, roomID, target+" has been kicked")
	s.publishRoomList(ctx)
	return nil
}

// SetReady flips the user's ready flag and broadcasts the new state.
func (s *Service) SetReady(ctx context.Context, roomID, username string, ready bool) (*types.Participant, error) {
	p, err := s.store.SetReady(ctx, roomID, username, ready)
	if err != nil {
		return nil, err
	}
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventReadyStatus,
		types.ReadyStatusFrame{Type: types.EventReadyStatus, Username: username, Ready: ready}, username)
	return p, nil
}

// CanStartCountdown validates the pre-countdown gate: caller is host, the
// room is still active, and in ranked mode every non-host joined participant
// is ready. Returns the room for the countdown frames.
func (s *Service) CanStartCountdown(ctx context.Context, roomID, username string) (*types.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != types.RoomStatusActive {
		return nil, fmt.Errorf("room is not accepting a start: %w", types.ErrInvalidState)
	}
	if err := s.requireHost(ctx, roomID, username); err != nil {
		return nil, err
	}
	if room.IsRanked {
		if err := s.allNonHostReady(ctx, roomID); err != nil {
			return nil, err
		}
	}
	return room, nil
}

// StartResult reports a successful battle start.
type StartResult struct {
	QuestionID int64
	StartTime  time.Time
	IsRanked   bool
}

// Start transitions the room to playing: re-validates the gate, requires the
// minimum player count for the capacity, picks a random eligible question,
// and commits the transition. Publishes battle_started on the lobby and
// battle topics.
func (s *Service) Start(ctx context.Context, roomID, username string) (*StartResult, error) {
	room, err := s.CanStartCountdown(ctx, roomID, username)
	if err != nil {
		metrics.RoomOperations.WithLabelValues("start", "error").Inc()
		return nil, err
	}

	joined := 0
	ps, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		if p.Status == types.ParticipantJoined {
			joined++
		}
	}
	if min := types.MinParticipantsToStart(room.Capacity); joined < min {
		metrics.RoomOperations.WithLabelValues("start", "error").Inc()
		return nil, fmt.Errorf("need at least %d joined participants to start: %w", min, types.ErrInvalidState)
	}

	questionID, err := s.pickQuestion(ctx, room)
	if err != nil {
		metrics.RoomOperations.WithLabelValues("start", "error").Inc()
		return nil, err
	}

	startTime := time.Now().UTC()
	if err := s.store.StartRoom(ctx, roomID, questionID, startTime); err != nil {
		metrics.RoomOperations.WithLabelValues("start", "error").Inc()
		return nil, err
	}

	logging.Info(ctx, "Battle started",
		zap.String("roomId", roomID),
		zap.Int64("questionId", questionID),
		zap.Int("players", joined),
		zap.Bool("isRanked", room.IsRanked))
	metrics.RoomOperations.WithLabelValues("start", "ok").Inc()

	frame := types.BattleStartedFrame{
		Type:       types.EventBattleStarted,
		RoomID:     roomID,
		QuestionID: questionID,
		StartTime:  startTime,
	}
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventBattleStarted, frame, username)
	s.publishFrame(ctx, bus.BattleTopic(roomID), types.EventBattleStarted, frame, username)
	s.publishRoomList(ctx)

	return &StartResult{QuestionID: questionID, StartTime: startTime, IsRanked: room.IsRanked}, nil
}

// pickQuestion draws uniformly from the eligible pool for the room's topic
// and difficulty.
func (s *Service) pickQuestion(ctx context.Context, room *types.Room) (int64, error) {
	ids, err := s.store.EligibleQuestionIDs(ctx, room.Topic, room.Difficulty)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("no questions available for topic %q at %q difficulty: %w",
			room.Topic, room.Difficulty, types.ErrNotFound)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(ids))))
	if err != nil {
		return 0, err
	}
	return ids[n.Int64()], nil
}

// Close transitions the room to closed, clears its chat and schedules the
// purge. Host only; internal callers pass the owner as by.
func (s *Service) Close(ctx context.Context, roomID, by string) error {
	if err := s.requireHost(ctx, roomID, by); err != nil {
		return err
	}
	if err := s.store.CloseRoom(ctx, roomID); err != nil {
		metrics.RoomOperations.WithLabelValues("close", "error").Inc()
		return err
	}
	metrics.RoomOperations.WithLabelValues("close", "ok").Inc()
	logging.Info(ctx, "Room closed", zap.String("roomId", roomID), zap.String("by", by))

	// Farewell is broadcast only; the transaction above already cleared chat.
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventChatMessage, types.ChatFrame{
		Type:      types.EventChatMessage,
		Message:   "Room closed. Chat cleared.",
		Sender:    systemSender,
		Timestamp: time.Now().Format(types.ChatClockLayout),
		IsSystem:  true,
	}, "")
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventRoomClosed,
		types.RoomClosedFrame{Type: types.EventRoomClosed}, "")
	s.publishRoomList(ctx)

	if s.cleanup != nil {
		s.cleanup.Schedule(roomID)
	}
	return nil
}

// UpdateStatus is the host-only PATCH surface. Only forward transitions are
// reachable here: playing via the full start path, closed via Close.
// Completion always comes from the battle pipeline, never from a PATCH.
func (s *Service) UpdateStatus(ctx context.Context, roomID, by string, status types.RoomStatus) error {
	switch status {
	case types.RoomStatusPlaying:
		_, err := s.Start(ctx, roomID, by)
		return err
	case types.RoomStatusClosed:
		return s.Close(ctx, roomID, by)
	default:
		return fmt.Errorf("cannot set room status to %q: %w", status, types.ErrInvalidState)
	}
}

// requireHost rejects by unless they hold the host role in the room.
func (s *Service) requireHost(ctx context.Context, roomID, username string) error {
	p, err := s.store.GetParticipant(ctx, roomID, username)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrForbidden
		}
		return err
	}
	if p.Role != types.RoleTypeHost {
		return types.ErrForbidden
	}
	return nil
}

// allNonHostReady enforces the ranked start gate. The host's own ready flag
// never gates the start.
func (s *Service) allNonHostReady(ctx context.Context, roomID string) error {
	ps, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if p.Status == types.ParticipantJoined && p.Role != types.RoleTypeHost && !p.Ready {
			return types.ErrNotReady
		}
	}
	return nil
}

func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// PublishParticipantList broadcasts the full roster snapshot to the lobby.
func (s *Service) PublishParticipantList(ctx context.Context, roomID string) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		logging.Warn(ctx, "Cannot build participant list", zap.String("roomId", roomID), zap.Error(err))
		return
	}
	ps, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		logging.Warn(ctx, "Cannot build participant list", zap.String("roomId", roomID), zap.Error(err))
		return
	}
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventParticipantList, types.ParticipantListFrame{
		Type:         types.EventParticipantList,
		Participants: types.ParticipantInfos(ps),
		IsRanked:     room.IsRanked,
	}, "")
}

// publishRoster broadcasts a participant_update after a membership change.
func (s *Service) publishRoster(ctx context.Context, roomID string) {
	ps, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		logging.Warn(ctx, "Cannot build roster update", zap.String("roomId", roomID), zap.Error(err))
		return
	}
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventParticipantUpdate, types.ParticipantUpdateFrame{
		Type:         types.EventParticipantUpdate,
		Participants: types.ParticipantInfos(ps),
	}, "")
}

// publishRoomList refreshes the global lobby with the full active room list.
func (s *Service) publishRoomList(ctx context.Context) {
	infos, err := s.store.ListActiveRooms(ctx)
	if err != nil {
		logging.Warn(ctx, "Cannot build room list", zap.Error(err))
		return
	}
	s.publishFrame(ctx, bus.GlobalTopic, types.EventRoomUpdate, types.RoomUpdateFrame{
		Type:  types.EventRoomUpdate,
		Rooms: infos,
	}, "")
}

// publishFrame hands one frame to the bus. Publish failures are logged and
// swallowed; room state is already committed and sockets self-heal on the
// next snapshot request.
func (s *Service) publishFrame(ctx context.Context, topic, event string, frame any, senderID string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, event, frame, senderID); err != nil {
		logging.Warn(ctx, "Publish failed", zap.String("topic", topic), zap.String("event", event), zap.Error(err))
	}
}

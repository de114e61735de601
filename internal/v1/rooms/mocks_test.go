package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/store"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// fakeStore is an in-memory Store with the same observable semantics as the
// Postgres implementation, minus the locking.
type fakeStore struct {
	mu           sync.Mutex
	rooms        map[string]*types.Room
	participants map[string][]*types.Participant
	chat         map[string][]types.ChatMessage
	eligible     []int64

	createCalls int
	dupCodes    int // next N CreateRoom calls fail with ErrDuplicateJoinCode
	saveChatErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:        make(map[string]*types.Room),
		participants: make(map[string][]*types.Participant),
		chat:         make(map[string][]types.ChatMessage),
		eligible:     []int64{42},
	}
}

func (f *fakeStore) CreateRoom(_ context.Context, room *types.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.dupCodes > 0 {
		f.dupCodes--
		return store.ErrDuplicateJoinCode
	}
	now := time.Now()
	room.Status = types.RoomStatusActive
	room.IsActive = true
	room.ParticipantCount = 1
	room.CreatedAt = now
	room.UpdatedAt = now
	stored := *room
	f.rooms[room.RoomID] = &stored
	f.participants[room.RoomID] = []*types.Participant{{
		RoomID:   room.RoomID,
		Username: room.Owner,
		Role:     types.RoleTypeHost,
		Status:   types.ParticipantJoined,
		JoinedAt: now,
	}}
	return nil
}

func (f *fakeStore) GetRoom(_ context.Context, roomID string) (*types.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeStore) ListActiveRooms(_ context.Context) ([]types.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.RoomInfo{}
	for _, room := range f.rooms {
		if !room.IsActive {
			continue
		}
		var ps []types.Participant
		for _, p := range f.participants[room.RoomID] {
			ps = append(ps, *p)
		}
		out = append(out, types.RoomInfo{Room: *room, Participants: types.ParticipantInfos(ps)})
	}
	return out, nil
}

func (f *fakeStore) GetParticipant(_ context.Context, roomID, username string) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.find(roomID, username); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, types.ErrNotFound
}

func (f *fakeStore) ListParticipants(_ context.Context, roomID string) ([]types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.Participant{}
	for _, p := range f.participants[roomID] {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) JoinRoom(ctx context.Context, roomID, username, password string) (*types.Participant, error) {
	return f.join(roomID, username, password, true)
}

func (f *fakeStore) EnsureJoined(ctx context.Context, roomID, username string) (*types.Participant, error) {
	return f.join(roomID, username, "", false)
}

func (f *fakeStore) join(roomID, username, password string, verifyPassword bool) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, types.ErrNotFound
	}

	if p := f.find(roomID, username); p != nil {
		if p.Blocked {
			return nil, types.ErrBlocked
		}
		if p.Status != types.ParticipantJoined {
			p.Status = types.ParticipantJoined
			p.LeftAt = nil
			f.recount(roomID)
		}
		cp := *p
		return &cp, nil
	}

	if room.Status != types.RoomStatusActive {
		return nil, types.ErrInvalidState
	}
	if f.joinedCount(roomID) >= room.Capacity {
		return nil, types.ErrRoomFull
	}
	if verifyPassword && room.Visibility == types.VisibilityPrivate && password != room.Password {
		return nil, types.ErrWrongPassword
	}

	role := types.RoleTypeParticipant
	if room.Owner == username {
		role = types.RoleTypeHost
	}
	p := &types.Participant{
		RoomID:   roomID,
		Username: username,
		Role:     role,
		Status:   types.ParticipantJoined,
		JoinedAt: time.Now(),
	}
	f.participants[roomID] = append(f.participants[roomID], p)
	f.recount(roomID)
	cp := *p
	return &cp, nil
}

func (f *fakeStore) LeaveRoom(_ context.Context, roomID, username string) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(roomID, username)
	if p == nil {
		return nil, types.ErrNotFound
	}
	now := time.Now()
	p.Status = types.ParticipantLeft
	p.LeftAt = &now
	f.recount(roomID)
	cp := *p
	return &cp, nil
}

func (f *fakeStore) KickParticipant(_ context.Context, roomID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(roomID, username)
	if p == nil || p.Status != types.ParticipantJoined {
		return types.ErrNotFound
	}
	now := time.Now()
	p.Status = types.ParticipantKicked
	p.Blocked = true
	p.LeftAt = &now
	f.recount(roomID)
	return nil
}

func (f *fakeStore) SetReady(_ context.Context, roomID, username string, ready bool) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(roomID, username)
	if p == nil {
		return nil, types.ErrNotFound
	}
	p.Ready = ready
	if ready {
		now := time.Now()
		p.ReadyAt = &now
	} else {
		p.ReadyAt = nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) StartRoom(_ context.Context, roomID string, questionID int64, startTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return types.ErrNotFound
	}
	if room.Status != types.RoomStatusActive {
		return types.ErrInvalidState
	}
	room.Status = types.RoomStatusPlaying
	room.StartTime = &startTime
	room.ActiveQuestionID = &questionID
	return nil
}

func (f *fakeStore) CloseRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return types.ErrNotFound
	}
	if room.Status.Terminal() {
		return types.ErrInvalidState
	}
	room.Status = types.RoomStatusClosed
	room.IsActive = false
	f.chat[roomID] = nil
	return nil
}

func (f *fakeStore) EligibleQuestionIDs(_ context.Context, topic string, difficulty types.Difficulty) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.eligible...), nil
}

func (f *fakeStore) SaveChat(_ context.Context, msg *types.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveChatErr != nil {
		return f.saveChatErr
	}
	msg.Timestamp = time.Now()
	f.chat[msg.RoomID] = append(f.chat[msg.RoomID], *msg)
	return nil
}

func (f *fakeStore) ChatHistory(_ context.Context, roomID string, limit int) ([]types.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.chat[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]types.ChatMessage{}, msgs...), nil
}

func (f *fakeStore) find(roomID, username string) *types.Participant {
	for _, p := range f.participants[roomID] {
		if p.Username == username {
			return p
		}
	}
	return nil
}

func (f *fakeStore) joinedCount(roomID string) int {
	n := 0
	for _, p := range f.participants[roomID] {
		if p.Status == types.ParticipantJoined {
			n++
		}
	}
	return n
}

func (f *fakeStore) recount(roomID string) {
	if room, ok := f.rooms[roomID]; ok {
		room.ParticipantCount = f.joinedCount(roomID)
	}
}

// retainedChat reads back what the store kept for assertions.
func (f *fakeStore) retainedChat(roomID string) []types.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ChatMessage{}, f.chat[roomID]...)
}

// busEvent is one recorded publish.
type busEvent struct {
	Topic   string
	Event   string
	Payload any
	Sender  string
}

// recordingBus captures every publish for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (b *recordingBus) Publish(_ context.Context, topic, event string, payload any, senderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{Topic: topic, Event: event, Payload: payload, Sender: senderID})
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, *sync.WaitGroup, func(bus.PubSubPayload)) {}
func (b *recordingBus) Close() error                                                               { return nil }
func (b *recordingBus) SetAdd(context.Context, string, string) error                               { return nil }
func (b *recordingBus) SetRem(context.Context, string, string) error                               { return nil }
func (b *recordingBus) SetMembers(context.Context, string) ([]string, error)                       { return nil, nil }

// on returns the recorded events for one topic+event pair, in publish order.
func (b *recordingBus) on(topic, event string) []busEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busEvent
	for _, e := range b.events {
		if e.Topic == topic && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// reset drops events recorded during setup.
func (b *recordingBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// fakeCleanup records purge scheduling.
type fakeCleanup struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeCleanup) Schedule(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, roomID)
}

func (f *fakeCleanup) scheduledRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.scheduled...)
}

func newTestService() (*Service, *fakeStore, *recordingBus, *fakeCleanup) {
	st := newFakeStore()
	b := &recordingBus{}
	cl := &fakeCleanup{}
	return NewService(st, b, cl), st, b, cl
}

func validParams() CreateParams {
	return CreateParams{
		Name:       "Battle Room",
		Topic:      "arrays",
		Difficulty: types.DifficultyEasy,
		TimeLimit:  30,
		Capacity:   2,
		Visibility: types.VisibilityPublic,
	}
}

package battle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/judge"
	"github.com/bitwar/backend/go/internal/v1/store"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// fakeStore is an in-memory Store with the same observable semantics as the
// Postgres implementation, minus the locking.
type fakeStore struct {
	mu        sync.Mutex
	rooms     map[string]*types.Room
	questions map[int64]*types.Question
	testcases map[int64][]types.TestCase
	results   map[string][]types.ResultEntry
	rankings  []types.Ranking

	lastRankingsLimit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:     make(map[string]*types.Room),
		questions: make(map[int64]*types.Question),
		testcases: make(map[int64][]types.TestCase),
		results:   make(map[string][]types.ResultEntry),
	}
}

// addPlayingRoom seeds a room mid-battle on question qid.
func (f *fakeStore) addPlayingRoom(capacity, timeLimitMinutes int, qid int64, started time.Time) *types.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := &types.Room{
		RoomID:           uuid.NewString(),
		Name:             "Battle Room",
		Owner:            "alice",
		Topic:            "arrays",
		Difficulty:       types.DifficultyEasy,
		TimeLimit:        timeLimitMinutes,
		Capacity:         capacity,
		Visibility:       types.VisibilityPublic,
		Status:           types.RoomStatusPlaying,
		IsActive:         true,
		ActiveQuestionID: &qid,
		StartTime:        &started,
	}
	f.rooms[room.RoomID] = room
	return room
}

func (f *fakeStore) addQuestion(q *types.Question, tests []types.TestCase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions[q.ID] = q
	f.testcases[q.ID] = tests
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
		if room.IsActive {
			out = append(out, types.RoomInfo{Room: *room})
		}
	}
	return out, nil
}

func (f *fakeStore) GetQuestion(_ context.Context, id int64) (*types.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeStore) QuestionTestcases(_ context.Context, questionID int64) ([]types.TestCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TestCase{}, f.testcases[questionID]...), nil
}

func (f *fakeStore) RecordFinisher(_ context.Context, roomID, username string, at time.Time) (*store.FinisherOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, types.ErrNotFound
	}
	if room.ActiveQuestionID == nil {
		return nil, types.ErrInvalidState
	}

	results := f.results[roomID]
	for _, e := range results {
		if e.Username == username {
			return &store.FinisherOutcome{
				Position:       e.Position,
				CompletionTime: e.CompletionTime,
				AlreadyDone:    true,
				Capacity:       room.Capacity,
			}, nil
		}
	}
	if room.Status != types.RoomStatusPlaying {
		return nil, types.ErrInvalidState
	}

	entry := types.ResultEntry{Username: username, Position: len(results) + 1, CompletionTime: at}
	results = append(results, entry)
	f.results[roomID] = results

	out := &store.FinisherOutcome{
		Position:       entry.Position,
		CompletionTime: at,
		Capacity:       room.Capacity,
	}
	if entry.Position >= types.MaxWinners(room.Capacity) {
		room.Status = types.RoomStatusCompleted
		out.Completed = true
		out.Winners = f.winnersLocked(roomID, room.Capacity)
	}
	return out, nil
}

func (f *fakeStore) ForceComplete(_ context.Context, roomID string) (*store.FinisherOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, types.ErrNotFound
	}
	if room.Status != types.RoomStatusPlaying {
		return nil, types.ErrInvalidState
	}
	room.Status = types.RoomStatusCompleted
	return &store.FinisherOutcome{
		Completed: true,
		Winners:   f.winnersLocked(roomID, room.Capacity),
		Capacity:  room.Capacity,
	}, nil
}

func (f *fakeStore) winnersLocked(roomID string, capacity int) []types.ResultEntry {
	results := f.results[roomID]
	n := types.MaxWinners(capacity)
	if n > len(results) {
		n = len(results)
	}
	return append([]types.ResultEntry{}, results[:n]...)
}

func (f *fakeStore) TopRankings(_ context.Context, limit int) ([]types.Ranking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRankingsLimit = limit
	out := f.rankings
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]types.Ranking{}, out...), nil
}

func (f *fakeStore) roomStatus(roomID string) types.RoomStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[roomID].Status
}

func (f *fakeStore) recordedResults(roomID string) []types.ResultEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ResultEntry{}, f.results[roomID]...)
}

// fakeJudge returns a canned verdict or error and counts calls.
type fakeJudge struct {
	mu      sync.Mutex
	verdict *judge.Verdict
	err     error
	calls   int
}

func passingVerdict() *judge.Verdict {
	return &judge.Verdict{
		AllPassed: true,
		Results:   []judge.CaseResult{{TestCaseID: 1, Expected: "3", Actual: "3", Passed: true}},
	}
}

func failingVerdict() *judge.Verdict {
	return &judge.Verdict{
		AllPassed: false,
		Results:   []judge.CaseResult{{TestCaseID: 1, Expected: "3", Actual: "4", Passed: false}},
	}
}

func (f *fakeJudge) Verify(_ context.Context, _, _ string, _ []types.TestCase) (*judge.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func (f *fakeJudge) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
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

func newTestService() (*Service, *fakeStore, *fakeJudge, *recordingBus, *fakeCleanup) {
	st := newFakeStore()
	j := &fakeJudge{verdict: passingVerdict()}
	b := &recordingBus{}
	cl := &fakeCleanup{}
	return NewService(st, b, j, cl), st, j, b, cl
}

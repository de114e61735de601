// Package battle runs the submission pipeline: it gates submissions against
// the room clock, judges the code, records finishing positions, and fans out
// code_verified / battle_completed frames. The per-room clock itself lives in
// the Timekeeper.
package battle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/judge"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/bitwar/backend/go/internal/v1/store"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// globalRankingsLimit caps the leaderboard returned to clients.
const globalRankingsLimit = 100

// Store is the persistence surface the pipeline drives. *store.Store
// implements it; tests substitute a fake.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)
	ListActiveRooms(ctx context.Context) ([]types.RoomInfo, error)
	GetQuestion(ctx context.Context, id int64) (*types.Question, error)
	QuestionTestcases(ctx context.Context, questionID int64) ([]types.TestCase, error)
	RecordFinisher(ctx context.Context, roomID, username string, at time.Time) (*store.FinisherOutcome, error)
	ForceComplete(ctx context.Context, roomID string) (*store.FinisherOutcome, error)
	TopRankings(ctx context.Context, limit int) ([]types.Ranking, error)
}

// Verifier judges a submission against a question's test cases.
// *judge.Client implements it.
type Verifier interface {
	Verify(ctx context.Context, code, language string, tests []types.TestCase) (*judge.Verdict, error)
}

// CleanupScheduler queues a room purge after a terminal transition.
type CleanupScheduler interface {
	Schedule(roomID string)
}

// Service coordinates submissions and battle completion.
type Service struct {
	store   Store
	bus     types.BusService
	judge   Verifier
	cleanup CleanupScheduler
}

// NewService wires the battle service. cleanup may be nil; completed rooms
// then wait for the reaper's stale sweep.
func NewService(st Store, b types.BusService, j Verifier, cleanup CleanupScheduler) *Service {
	return &Service{store: st, bus: b, judge: j, cleanup: cleanup}
}

// SubmitResult is the verification outcome returned to the submitter.
// Position and CompletionTime are set only for accepted submissions.
type SubmitResult struct {
	AllPassed      bool               `json:"all_passed"`
	Results        []judge.CaseResult `json:"results"`
	Position       int                `json:"position,omitempty"`
	CompletionTime *time.Time         `json:"completion_time,omitempty"`
	BattleComplete bool               `json:"battle_complete,omitempty"`
}

// Submit judges one submission for the active battle question. A passing
// submission takes the next finishing position; the k-th accepted submission
// observes position k. A user who already finished gets their existing
// position back without touching the ordering. When the winner quota fills,
// the room completes and battle_completed replaces code_verified.
func (s *Service) Submit(ctx context.Context, roomID, username string, questionID int64, code, language string) (*SubmitResult, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != types.RoomStatusPlaying || room.StartTime == nil {
		return nil, fmt.Errorf("room is not in a running battle: %w", types.ErrInvalidState)
	}
	if room.ActiveQuestionID == nil || *room.ActiveQuestionID != questionID {
		return nil, fmt.Errorf("question %d is not the active battle question: %w", questionID, types.ErrInvalidState)
	}

	// Lazy clock enforcement: an overrunning battle is completed here with
	// whatever winners exist, and the submission is rejected.
	if room.TimeLimit > 0 && time.Since(*room.StartTime) >= time.Duration(room.TimeLimit)*time.Minute {
		metrics.Submissions.WithLabelValues(language, "expired").Inc()
		s.expire(ctx, roomID)
		return nil, types.ErrTimeLimitExceeded
	}

	tests, err := s.store.QuestionTestcases(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("no test cases available for the question: %w", types.ErrInvalidConfig)
	}

	verdict, err := s.judge.Verify(ctx, code, language, tests)
	if err != nil {
		metrics.Submissions.WithLabelValues(language, "error").Inc()
		return nil, err
	}
	if !verdict.AllPassed {
		metrics.Submissions.WithLabelValues(language, "failed").Inc()
		return &SubmitResult{AllPassed: false, Results: verdict.Results}, nil
	}
	metrics.Submissions.WithLabelValues(language, "passed").Inc()

	outcome, err := s.store.RecordFinisher(ctx, roomID, username, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	logging.Info(ctx, "Submission accepted",
		zap.String("roomId", roomID),
		zap.String("username", username),
		zap.Int64("questionId", questionID),
		zap.Int("position", outcome.Position),
		zap.Bool("battleComplete", outcome.Completed))

	res := &SubmitResult{
		AllPassed:      true,
		Results:        verdict.Results,
		Position:       outcome.Position,
		CompletionTime: &outcome.CompletionTime,
		BattleComplete: outcome.Completed,
	}
	if outcome.AlreadyDone {
		return res, nil
	}
	if outcome.Completed {
		s.announceCompletion(ctx, roomID, outcome, "winners")
		return res, nil
	}
	s.publishBoth(ctx, roomID, types.EventCodeVerified, types.CodeVerifiedFrame{
		Type:           types.EventCodeVerified,
		Username:       username,
		Position:       outcome.Position,
		CompletionTime: outcome.CompletionTime,
	}, username)
	return res, nil
}

// QuestionDetail is a question with its test cases, served to battle clients.
type QuestionDetail struct {
	types.Question
	TestCases []types.TestCase `json:"test_cases"`
}

// Question returns the battle view of one question.
func (s *Service) Question(ctx context.Context, id int64) (*QuestionDetail, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	tests, err := s.store.QuestionTestcases(ctx, id)
	if err != nil {
		return nil, err
	}
	return &QuestionDetail{Question: *q, TestCases: tests}, nil
}

// GlobalRankings returns the active season's leaderboard, best first.
func (s *Service) GlobalRankings(ctx context.Context) ([]types.Ranking, error) {
	return s.store.TopRankings(ctx, globalRankingsLimit)
}

// expire force-completes an overrunning battle. The lazy submit check and the
// timekeeper both funnel through here; the store's check-and-set turns the
// losing caller into a no-op, so each room announces completion once.
func (s *Service) expire(ctx context.Context, roomID string) {
	outcome, err := s.store.ForceComplete(ctx, roomID)
	if err != nil {
		if !errors.Is(err, types.ErrInvalidState) && !errors.Is(err, types.ErrNotFound) {
			logging.Error(ctx, "Force-complete failed", zap.String("roomId", roomID), zap.Error(err))
		}
		return
	}
	logging.Info(ctx, "Battle clock expired",
		zap.String("roomId", roomID), zap.Int("finishers", len(outcome.Winners)))
	s.announceCompletion(ctx, roomID, outcome, "timeout")
}

func (s *Service) announceCompletion(ctx context.Context, roomID string, outcome *store.FinisherOutcome, cause string) {
	metrics.BattlesCompleted.WithLabelValues(cause).Inc()

	winners := outcome.Winners
	if winners == nil {
		winners = []types.ResultEntry{}
	}
	s.publishBoth(ctx, roomID, types.EventBattleCompleted, types.BattleCompletedFrame{
		Type:         types.EventBattleCompleted,
		Winners:      winners,
		RoomCapacity: outcome.Capacity,
	}, "")
	s.publishRoomList(ctx)

	if s.cleanup != nil {
		s.cleanup.Schedule(roomID)
	}
}

// publishBoth sends one frame to the lobby and battle topics of a room.
// Publish failures are logged and swallowed; state is already committed.
func (s *Service) publishBoth(ctx context.Context, roomID, event string, frame any, senderID string) {
	if s.bus == nil {
		return
	}
	for _, topic := range []string{bus.RoomTopic(roomID), bus.BattleTopic(roomID)} {
		if err := s.bus.Publish(ctx, topic, event, frame, senderID); err != nil {
			logging.Warn(ctx, "Publish failed",
				zap.String("topic", topic), zap.String("event", event), zap.Error(err))
		}
	}
}

func (s *Service) publishRoomList(ctx context.Context) {
	if s.bus == nil {
		return
	}
	infos, err := s.store.ListActiveRooms(ctx)
	if err != nil {
		logging.Warn(ctx, "Cannot build room list", zap.Error(err))
		return
	}
	frame := types.RoomUpdateFrame{Type: types.EventRoomUpdate, Rooms: infos}
	if err := s.bus.Publish(ctx, bus.GlobalTopic, types.EventRoomUpdate, frame, ""); err != nil {
		logging.Warn(ctx, "Publish failed", zap.String("topic", bus.GlobalTopic), zap.Error(err))
	}
}

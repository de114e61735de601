package types

import (
	"context"
	"sync"
	"time"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/bus"
)

// --- Core Domain Types ---

// RoleType defines the role of a participant inside a room.
type RoleType string

// RoomIDType represents a unique identifier for a battle room.
type RoomIDType string

const (
	RoleTypeHost        RoleType = "host"
	RoleTypeParticipant RoleType = "participant"
)

// RoomStatus tracks the room lifecycle. Transitions are monotonic:
// active -> playing -> completed; any non-terminal state -> closed.
type RoomStatus string

const (
	RoomStatusActive    RoomStatus = "active"
	RoomStatusPlaying   RoomStatus = "playing"
	RoomStatusCompleted RoomStatus = "completed"
	RoomStatusClosed    RoomStatus = "closed"
)

// Terminal reports whether the status permits no further transitions.
func (s RoomStatus) Terminal() bool {
	return s == RoomStatusCompleted || s == RoomStatusClosed
}

// ParticipantStatus tracks membership state within a room.
type ParticipantStatus string

const (
	ParticipantWaiting ParticipantStatus = "waiting"
	ParticipantJoined  ParticipantStatus = "joined"
	ParticipantLeft    ParticipantStatus = "left"
	ParticipantKicked  ParticipantStatus = "kicked"
)

// Difficulty of the question a room battles over.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ValidDifficulty reports whether d is one of the accepted values.
func ValidDifficulty(d Difficulty) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Visibility controls who may discover and join a room.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Room is the durable record of a battle room.
type Room struct {
	RoomID           string     `json:"room_id"`
	JoinCode         string     `json:"join_code"`
	Name             string     `json:"name"`
	Owner            string     `json:"owner"`
	Topic            string     `json:"topic"`
	Difficulty       Difficulty `json:"difficulty"`
	TimeLimit        int        `json:"time_limit"` // minutes, 0 = unlimited
	Capacity         int        `json:"capacity"`
	ParticipantCount int        `json:"participant_count"`
	Visibility       Visibility `json:"visibility"`
	Password         string     `json:"-"`
	IsRanked         bool       `json:"is_ranked"`
	IsActive         bool       `json:"is_active"`
	Status           RoomStatus `json:"status"`
	ActiveQuestionID *int64     `json:"active_question,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// MaxWinners is the number of finishing positions that end the battle.
func MaxWinners(capacity int) int {
	switch capacity {
	case 2:
		return 1
	case 5:
		return 2
	case 10:
		return 3
	default:
		return 1
	}
}

// MinParticipantsToStart is the smallest joined count that allows a start.
func MinParticipantsToStart(capacity int) int {
	switch capacity {
	case 2:
		return 2
	case 5:
		return 3
	case 10:
		return 6
	default:
		return 2
	}
}

// Participant is one user's membership row in a room.
// (room_id, username) is unique; kicked implies blocked implies no rejoin.
type Participant struct {
	RoomID   string            `json:"room_id"`
	Username string            `json:"username"`
	Role     RoleType          `json:"role"`
	Status   ParticipantStatus `json:"status"`
	Ready    bool              `json:"ready"`
	ReadyAt  *time.Time        `json:"ready_at,omitempty"`
	JoinedAt time.Time         `json:"joined_at"`
	LeftAt   *time.Time        `json:"left_at,omitempty"`
	Blocked  bool              `json:"blocked"`
}

// ChatMessage is a persisted lobby chat line. System lines carry
// is_system=true and have the room itself as conceptual sender.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"message"`
	IsSystem  bool      `json:"is_system"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxChatBodyLen bounds a single chat message.
const MaxChatBodyLen = 1000

// ResultEntry is one finisher in a battle, in finishing order.
type ResultEntry struct {
	Username       string    `json:"username"`
	Position       int       `json:"position"`
	CompletionTime time.Time `json:"completion_time"`
}

// BattleResult holds the ordered finishers for one (room, question) pair.
// Positions form a contiguous 1..n prefix; a username appears at most once.
type BattleResult struct {
	RoomID     string        `json:"room_id"`
	QuestionID int64         `json:"question_id"`
	Results    []ResultEntry `json:"results"`
}

// PositionOf returns the finishing position for username, or 0 if absent.
func (b *BattleResult) PositionOf(username string) int {
	for _, e := range b.Results {
		if e.Username == username {
			return e.Position
		}
	}
	return 0
}

// Question is a problem from the catalog that battles are fought over.
type Question struct {
	ID                 int64      `json:"id"`
	Title              string     `json:"title"`
	Slug               string     `json:"slug"`
	Description        string     `json:"description"`
	Difficulty         Difficulty `json:"difficulty"`
	Tags               string     `json:"tags"`
	IsValidated        bool       `json:"is_validated"`
	IsContributed      bool       `json:"is_contributed"`
	ContributionStatus string     `json:"contribution_status"`
	FunctionSignature  string     `json:"function_signature"`
	CreatedAt          time.Time  `json:"created_at"`
}

// TestCase is a single input/expected pair for a question, judged in order.
type TestCase struct {
	ID             int64  `json:"id"`
	QuestionID     int64  `json:"question_id"`
	InputData      string `json:"input_data"`
	ExpectedOutput string `json:"expected_output"`
	IsSample       bool   `json:"is_sample"`
	Ordinal        int    `json:"order"`
}

// Season is a time-bounded rating context. At most one is active.
type Season struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// Ranking is a user's Elo standing within one season.
type Ranking struct {
	Username     string  `json:"username"`
	SeasonID     int64   `json:"season_id"`
	Rating       float64 `json:"rating"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	TotalMatches int     `json:"total_matches"`
}

// InitialRating seeds a new ranking row.
const InitialRating = 1200

// UserStats are lifetime battle counters, independent of season.
type UserStats struct {
	Username     string `json:"username"`
	TotalBattles int    `json:"total_battles"`
	BattlesWon   int    `json:"battles_won"`
}

// --- Shared Interfaces ---

// TokenValidator defines the interface for bearer token authentication.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// BusService defines the interface for distributed pub/sub messaging.
type BusService interface {
	Publish(ctx context.Context, topic string, event string, payload any, senderID string) error
	Subscribe(ctx context.Context, topic string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
	Close() error
	SetAdd(ctx context.Context, key string, value string) error
	SetRem(ctx context.Context, key string, value string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}

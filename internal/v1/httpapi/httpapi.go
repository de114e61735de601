// Package httpapi serves the REST surface: room lifecycle, battle questions,
// submission verification, and the global leaderboard. Realtime traffic lives
// in transport; these routes cover everything a client does outside a socket.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/bitwar/backend/go/internal/v1/battle"
	"github.com/bitwar/backend/go/internal/v1/middleware"
	"github.com/bitwar/backend/go/internal/v1/ratelimit"
	"github.com/bitwar/backend/go/internal/v1/rooms"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// RoomService is the room lifecycle surface the REST routes drive.
// *rooms.Service implements it.
type RoomService interface {
	Create(ctx context.Context, owner string, p rooms.CreateParams) (*types.Room, error)
	ListActive(ctx context.Context) ([]types.RoomInfo, error)
	Get(ctx context.Context, roomID string) (*types.Room, error)
	Participants(ctx context.Context, roomID string) ([]types.Participant, error)
	Join(ctx context.Context, roomID, username, password string) (*types.Participant, error)
	Kick(ctx context.Context, roomID, by, target string) error
	Start(ctx context.Context, roomID, username string) (*rooms.StartResult, error)
	UpdateStatus(ctx context.Context, roomID, by string, status types.RoomStatus) error
}

// BattleService serves questions and judges submissions.
// *battle.Service implements it.
type BattleService interface {
	Question(ctx context.Context, id int64) (*battle.QuestionDetail, error)
	Submit(ctx context.Context, roomID, username string, questionID int64, code, language string) (*battle.SubmitResult, error)
	GlobalRankings(ctx context.Context) ([]types.Ranking, error)
}

// Handler holds the services behind the REST routes.
type Handler struct {
	rooms  RoomService
	battle BattleService
}

// NewHandler creates the REST handler set.
func NewHandler(roomSvc RoomService, battleSvc BattleService) *Handler {
	return &Handler{rooms: roomSvc, battle: battleSvc}
}

// Register mounts every REST route on the router. All routes require a
// bearer token; rooms and submissions additionally get their own rate
// limiter classes. limiter may be nil (tests, single-user dev).
func Register(r *gin.Engine, h *Handler, validator types.TokenValidator, limiter *ratelimit.RateLimiter) {
	api := r.Group("/")
	api.Use(middleware.RequireAuth(validator))
	if limiter != nil {
		// After auth, so authenticated requests are keyed per user not per IP.
		api.Use(limiter.GlobalMiddleware())
	}

	roomGroup := api.Group("/rooms")
	if limiter != nil {
		roomGroup.Use(limiter.MiddlewareForEndpoint(ratelimit.LimiterRooms))
	}
	{
		roomGroup.POST("/create", h.CreateRoom)
		roomGroup.GET("", h.ListRooms)
		roomGroup.GET("/:id", h.GetRoom)
		roomGroup.POST("/:id/join", h.JoinRoom)
		roomGroup.POST("/:id/kick", h.KickParticipant)
		roomGroup.POST("/:id/start", h.StartBattle)
		roomGroup.PATCH("/:id/status", h.UpdateRoomStatus)
	}

	battleGroup := api.Group("/battle")
	{
		battleGroup.GET("/global-rankings", h.GlobalRankings)
		battleGroup.GET("/:qid", h.GetQuestion)
		if limiter != nil {
			battleGroup.POST("/:qid/verify", limiter.MiddlewareForEndpoint(ratelimit.LimiterSubmissions), h.VerifyCode)
		} else {
			battleGroup.POST("/:qid/verify", h.VerifyCode)
		}
	}
}

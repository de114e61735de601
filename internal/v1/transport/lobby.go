package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// connectLobby admits an authenticated socket into a room lobby: authorize,
// attach to the room topic, ensure a joined membership row, then replay the
// chat backlog. The join announcement and roster broadcast come back through
// the bus so every instance sees them.
func (h *Hub) connectLobby(c *gin.Context, conn wsConnection, claims *auth.CustomClaims) {
	roomID := c.Param("roomId")
	username := claims.Handle()
	ctx := c.Request.Context()

	if _, err := h.rooms.AuthorizeLobby(ctx, roomID, username); err != nil {
		rejectSocket(conn, err)
		return
	}

	cl := h.newClient(conn, username)
	cl.handler = h.lobbyIntent(roomID)
	cl.onDisconnect = func(c *Client) {
		if c.hasLeft() {
			return
		}
		if err := h.rooms.Leave(context.Background(), roomID, username); err != nil {
			logging.GetLogger().Debug("Leave on disconnect failed",
				zap.String("roomId", roomID), zap.String("username", username), zap.Error(err))
		}
	}
	h.startClient(bus.RoomTopic(roomID), cl)

	if _, err := h.rooms.ConnectLobby(context.Background(), roomID, username); err != nil {
		logging.Warn(ctx, "Lobby join failed",
			zap.String("roomId", roomID), zap.String("username", username), zap.Error(err))
		cl.markLeft() // never joined, nothing to mark left on disconnect
		if msg, ok := connectErrorMessage(err); ok {
			cl.SendError(msg)
			cl.CloseWithCode(CloseRoomUnavailable, msg)
		} else {
			cl.CloseWithCode(websocket.CloseInternalServerErr, "internal error")
		}
		return
	}

	h.sendChatHistory(context.Background(), cl, roomID)
}

// lobbyIntent dispatches one decoded lobby frame.
func (h *Hub) lobbyIntent(roomID string) intentFunc {
	return func(ctx context.Context, cl *Client, msgType string, data []byte) error {
		switch msgType {
		case intentRequestParticipants:
			h.rooms.PublishParticipantList(ctx, roomID)
			return nil
		case intentChatMessage:
			return h.handleChat(ctx, cl, roomID, data)
		case intentKickParticipant:
			return h.handleKick(ctx, cl, roomID, data)
		case intentReadyToggle:
			return h.handleReadyToggle(ctx, cl, roomID, data)
		case intentStartCountdown:
			return h.handleStartCountdown(ctx, cl, roomID, data)
		case intentCloseRoom:
			return h.handleCloseRoom(ctx, cl, roomID)
		case intentLeaveRoom:
			return h.handleLeaveRoom(ctx, cl, roomID)
		case intentPing:
			cl.SendJSON(pongFrame{Type: types.EventPong})
			return nil
		case intentRequestChatHistory:
			h.sendChatHistory(ctx, cl, roomID)
			return nil
		default:
			cl.SendError("Unknown message type: " + msgType)
			return fmt.Errorf("unknown lobby intent %q", msgType)
		}
	}
}

func (h *Hub) handleChat(ctx context.Context, cl *Client, roomID string, data []byte) error {
	var req struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &req)

	if _, err := h.rooms.Chat(ctx, roomID, cl.username, req.Message); err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidConfig) && strings.TrimSpace(req.Message) == "":
			cl.SendError("Message cannot be empty")
		case errors.Is(err, types.ErrInvalidConfig):
			cl.SendError("Message is too long")
		default:
			cl.SendError("Failed to send message")
		}
		return err
	}
	return nil
}

func (h *Hub) handleKick(ctx context.Context, cl *Client, roomID string, data []byte) error {
	var req struct {
		Username string `json:"username"`
	}
	_ = json.Unmarshal(data, &req)

	if req.Username == "" {
		cl.SendError("Username is required")
		return errors.New("kick without target username")
	}

	if err := h.rooms.Kick(ctx, roomID, cl.username, req.Username); err != nil {
		if errors.Is(err, types.ErrForbidden) {
			cl.SendError("Only the host can kick participants")
		} else {
			cl.SendError("Failed to kick " + req.Username)
		}
		return err
	}
	return nil
}

func (h *Hub) handleReadyToggle(ctx context.Context, cl *Client, roomID string, data []byte) error {
	var req struct {
		Ready bool `json:"ready"`
	}
	_ = json.Unmarshal(data, &req)

	if _, err := h.rooms.SetReady(ctx, roomID, cl.username, req.Ready); err != nil {
		cl.SendError("Failed to update ready status")
		return err
	}
	return nil
}

// handleStartCountdown validates the pre-battle gate and, when it holds,
// runs the countdown sequence in the background: battle_ready, one countdown
// frame per second from n down to 0, then the playing transition.
func (h *Hub) handleStartCountdown(ctx context.Context, cl *Client, roomID string, data []byte) error {
	var req struct {
		Countdown int `json:"countdown"`
	}
	_ = json.Unmarshal(data, &req)
	if req.Countdown <= 0 {
		req.Countdown = defaultCountdown
	}

	room, err := h.rooms.CanStartCountdown(ctx, roomID, cl.username)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrForbidden):
			cl.SendError("Only the host can start the countdown")
			cl.CloseWithCode(CloseHostOnlyCountdown, "host only")
		case errors.Is(err, types.ErrNotReady):
			cl.SendError("All participants must be ready for ranked mode")
			cl.CloseWithCode(CloseRankedNotReady, "participants not ready")
		default:
			cl.SendError("Room is not accepting a new battle")
		}
		return err
	}

	if !h.claimCountdown(roomID) {
		cl.SendError("Countdown already in progress")
		return fmt.Errorf("countdown already running for room %s", roomID)
	}

	h.wg.Add(1)
	go h.runCountdown(cl, roomID, req.Countdown, room.IsRanked, room.TimeLimit)
	return nil
}

// runCountdown drives the shared countdown and starts the battle when it
// reaches zero. It runs on the hub context so a host disconnecting mid-count
// does not strand the other players.
func (h *Hub) runCountdown(cl *Client, roomID string, seconds int, isRanked bool, timeLimit int) {
	defer h.wg.Done()
	defer h.releaseCountdown(roomID)

	ctx := h.ctx
	topic := bus.RoomTopic(roomID)

	h.publish(ctx, topic, types.EventBattleReady,
		types.BattleReadyFrame{Type: types.EventBattleReady, RoomID: roomID}, cl.username)

	ticker := time.NewTicker(h.countdownTick)
	defer ticker.Stop()
	for n := seconds; n >= 0; n-- {
		h.publish(ctx, topic, types.EventCountdown,
			types.CountdownFrame{Type: types.EventCountdown, Countdown: n, IsRanked: isRanked}, cl.username)
		if n == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	if _, err := h.rooms.Start(ctx, roomID, cl.username); err != nil {
		logging.Warn(ctx, "Battle start after countdown failed",
			zap.String("roomId", roomID), zap.Error(err))
		if errors.Is(err, types.ErrNotFound) {
			cl.SendError("No questions available")
		} else {
			cl.SendError("Failed to start the battle")
		}
		return
	}

	if timeLimit > 0 {
		h.tracker.Track(h.ctx, roomID)
	}
}

func (h *Hub) handleCloseRoom(ctx context.Context, cl *Client, roomID string) error {
	if err := h.rooms.Close(ctx, roomID, cl.username); err != nil {
		if errors.Is(err, types.ErrForbidden) {
			cl.SendError("Only the host can close the room")
		} else {
			cl.SendError("Failed to close room")
		}
		return err
	}
	return nil
}

// handleLeaveRoom marks the user as left. There is no acknowledgement frame;
// the client sees its own departure in the roster broadcast and closes the
// socket itself.
func (h *Hub) handleLeaveRoom(ctx context.Context, cl *Client, roomID string) error {
	if err := h.rooms.Leave(ctx, roomID, cl.username); err != nil {
		cl.SendError("Failed to leave room")
		return err
	}
	cl.markLeft()
	return nil
}

func (h *Hub) sendChatHistory(ctx context.Context, cl *Client, roomID string) {
	history, err := h.rooms.ChatHistory(ctx, roomID)
	if err != nil {
		logging.Warn(ctx, "Chat history load failed", zap.String("roomId", roomID), zap.Error(err))
		cl.SendError("Failed to load chat history")
		return
	}
	cl.SendJSON(chatHistoryFrame(history))
}

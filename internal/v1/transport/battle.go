package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// connectBattle attaches a socket to a room's battle group. If the battle is
// already running with a clock, the time-update task is (re)attached so this
// instance keeps broadcasting the remaining time after restarts.
func (h *Hub) connectBattle(c *gin.Context, conn wsConnection, claims *auth.CustomClaims) {
	roomID := c.Param("roomId")

	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		rejectSocket(conn, err)
		return
	}

	cl := h.newClient(conn, claims.Handle())
	cl.handler = h.battleIntent(roomID)
	h.startClient(bus.BattleTopic(roomID), cl)

	if room.Status == types.RoomStatusPlaying && room.TimeLimit > 0 && room.StartTime != nil {
		h.tracker.Track(h.ctx, roomID)
	}
}

// battleIntent handles battle room frames: keepalives, plus ordering
// notifications relayed verbatim to the battle group for in-room tooling.
func (h *Hub) battleIntent(roomID string) intentFunc {
	return func(ctx context.Context, cl *Client, msgType string, data []byte) error {
		switch msgType {
		case intentPing:
			cl.SendJSON(pongFrame{Type: types.EventPong})
			return nil
		case types.EventCodeVerified, types.EventBattleCompleted, types.EventBattleStarted,
			types.EventCountdown, intentStartCountdown, types.EventTimeUpdate:
			h.publish(ctx, bus.BattleTopic(roomID), msgType, json.RawMessage(data), cl.username)
			return nil
		default:
			cl.SendError("Unknown message type: " + msgType)
			return fmt.Errorf("unknown battle intent %q", msgType)
		}
	}
}

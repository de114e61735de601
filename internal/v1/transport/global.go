package transport

import (
	"context"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// connectGlobal attaches a socket to the global lobby and immediately sends
// one room_list snapshot. Later changes arrive as room_update fan-outs.
func (h *Hub) connectGlobal(conn wsConnection, claims *auth.CustomClaims) {
	cl := h.newClient(conn, claims.Handle())
	cl.handler = h.globalIntent()
	h.startClient(bus.GlobalTopic, cl)
	h.sendRoomList(context.Background(), cl)
}

// globalIntent handles global lobby frames. Unrecognized types are ignored;
// the global lobby is read-mostly and clients only re-sync or keepalive.
func (h *Hub) globalIntent() intentFunc {
	return func(ctx context.Context, cl *Client, msgType string, data []byte) error {
		switch msgType {
		case intentRequestRoomList:
			h.sendRoomList(ctx, cl)
		case intentPing:
			cl.SendJSON(pongFrame{Type: types.EventPong})
		}
		return nil
	}
}

func (h *Hub) sendRoomList(ctx context.Context, cl *Client) {
	infos, err := h.rooms.ListActive(ctx)
	if err != nil {
		logging.Warn(ctx, "Room list load failed", zap.Error(err))
		cl.SendError("Failed to load room list")
		return
	}
	cl.SendJSON(types.RoomListFrame{Type: types.EventRoomList, Rooms: infos})
}

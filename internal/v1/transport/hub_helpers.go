package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// tokenExtraction holds where the bearer token came from, which decides the
// subprotocol echoed back on upgrade.
type tokenExtraction struct {
	Token                  string
	FromHeader             bool
	HasAccessTokenProtocol bool
}

// extractToken pulls the bearer token from the "token" query parameter or,
// for browser clients that cannot set headers on a WebSocket, from the
// Sec-WebSocket-Protocol list ("access_token" marks the convention; any
// other entry is the token itself).
func extractToken(c *gin.Context) *tokenExtraction {
	result := &tokenExtraction{Token: c.Query("token")}

	headerVal := c.GetHeader("Sec-WebSocket-Protocol")
	if headerVal != "" {
		for p := range strings.SplitSeq(headerVal, ",") {
			p = strings.TrimSpace(p)
			if p == "access_token" {
				result.HasAccessTokenProtocol = true
				continue
			}
			if p != "" && result.Token == "" {
				result.Token = p
				result.FromHeader = true
			}
		}
	}

	return result
}

// validateOrigin checks if the request origin is in the allowed list. An
// absent Origin header is allowed so non-browser clients can connect.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(r.Context(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return err
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(strings.TrimSpace(allowed))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(r.Context(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return errors.New("origin not allowed: " + origin)
}

// upgradeSocket performs the WebSocket upgrade, echoing the subprotocol the
// client offered so browsers keep the connection open.
func (h *Hub) upgradeSocket(c *gin.Context, tok *tokenExtraction) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	responseHeader := http.Header{}
	if tok.HasAccessTokenProtocol {
		responseHeader.Set("Sec-WebSocket-Protocol", "access_token")
	} else if tok.FromHeader {
		responseHeader.Set("Sec-WebSocket-Protocol", tok.Token)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// closeWithCode rejects a socket that never joined a group: one close frame
// with the given code, then teardown. Safe only before the pumps start.
func closeWithCode(conn wsConnection, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

// writeDirect sends one frame on a socket that has no writePump yet.
func writeDirect(conn wsConnection, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// rejectSocket turns a connect-stage error into an error frame plus a close
// code: 4005 for every room-level rejection, 1011 for backend failures.
func rejectSocket(conn wsConnection, err error) {
	msg, ok := connectErrorMessage(err)
	if !ok {
		closeWithCode(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	writeDirect(conn, types.ErrorFrame{Type: types.EventError, Message: msg})
	closeWithCode(conn, CloseRoomUnavailable, msg)
}

// connectErrorMessage maps a connect-stage error to its client-facing text.
// The second return is false for errors outside the domain taxonomy.
func connectErrorMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "Room not found", true
	// ErrBlocked unwraps to ErrForbidden, so it must be matched first.
	case errors.Is(err, types.ErrBlocked):
		return "Not authorized to join room", true
	case errors.Is(err, types.ErrForbidden):
		return "Not authorized to join private room", true
	case errors.Is(err, types.ErrRoomFull):
		return "Room is full", true
	case errors.Is(err, types.ErrInvalidState):
		return "Room is not joinable", true
	default:
		return "", false
	}
}

// pongFrame answers a client ping.
type pongFrame struct {
	Type string `json:"type"`
}

func chatHistoryFrame(msgs []types.ChatMessage) types.ChatHistoryFrame {
	frames := make([]types.ChatFrame, 0, len(msgs))
	for _, m := range msgs {
		frames = append(frames, types.ChatFrameFrom(m))
	}
	return types.ChatHistoryFrame{Type: types.EventChatHistory, Messages: frames}
}

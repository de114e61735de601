package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/bitwar/backend/go/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// intentFunc handles one decoded client frame. The returned error is used
// only for metrics; user-facing feedback is sent as error frames.
type intentFunc func(ctx context.Context, c *Client, msgType string, data []byte) error

// knownIntents bounds the event_type metric label to names we emit ourselves.
var knownIntents = set.New(
	intentRequestParticipants,
	intentChatMessage,
	intentKickParticipant,
	intentReadyToggle,
	intentStartCountdown,
	intentCloseRoom,
	intentLeaveRoom,
	intentPing,
	intentRequestChatHistory,
	intentRequestRoomList,
	types.EventCodeVerified,
	types.EventBattleCompleted,
	types.EventBattleStarted,
	types.EventCountdown,
	types.EventTimeUpdate,
)

// Client is a single user's socket attached to one topic group. Frames are
// JSON text messages; outbound traffic goes through a buffered channel so a
// slow reader never blocks a broadcast.
type Client struct {
	conn     wsConnection
	hub      *Hub
	username string
	topic    string

	handler      intentFunc
	onDisconnect func(c *Client) // endpoint hook, runs once when the read loop ends

	mu         sync.RWMutex
	closed     bool
	left       bool // explicit leave_room already handled
	closeFrame []byte
	closeOnce  sync.Once

	send chan []byte
}

// Username returns the authenticated handle this socket belongs to.
func (c *Client) Username() string {
	return c.username
}

// Disconnect closes the send channel exactly once. The writePump drains any
// buffered frames, sends the close frame, and closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
}

// CloseWithCode disconnects the client with a specific WebSocket close code.
// Frames already queued (such as a preceding error frame) are still delivered
// before the close frame.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	if !c.closed && c.closeFrame == nil {
		c.closeFrame = websocket.FormatCloseMessage(code, reason)
	}
	c.mu.Unlock()
	c.Disconnect()
}

func (c *Client) closeMessage() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closeFrame != nil {
		return c.closeFrame
	}
	return []byte{}
}

func (c *Client) markLeft() {
	c.mu.Lock()
	c.left = true
	c.mu.Unlock()
}

func (c *Client) hasLeft() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.left
}

// readPump reads client frames until the connection drops, decoding each as
// a JSON object with a "type" field and dispatching it to the endpoint's
// intent handler.
func (c *Client) readPump() {
	defer func() {
		if c.onDisconnect != nil {
			c.onDisconnect(c)
		}
		c.hub.detach(c.topic, c)
		c.Disconnect()
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			c.SendError("Invalid JSON format")
			continue
		}

		c.dispatch(frame.Type, data)
	}
}

func (c *Client) dispatch(msgType string, data []byte) {
	label := msgType
	if !knownIntents.Has(label) {
		label = "unknown"
	}

	start := time.Now()
	status := "ok"
	if err := c.handler(context.Background(), c, msgType, data); err != nil {
		status = "error"
	}
	metrics.WebsocketEvents.WithLabelValues(label, status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, c.closeMessage())
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing frame", zap.String("username", c.username), zap.Error(err))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseSendError, "send error"))
			return
		}
	}
}

// SendJSON marshals and enqueues one frame for this client.
func (c *Client) SendJSON(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal frame", zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw enqueues a pre-serialized frame. Frames are dropped rather than
// blocking when the client's buffer is full.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed client", zap.String("username", c.username))
		return
	}
	c.mu.RUnlock()

	// The closed check above races with Disconnect; recover covers the
	// send-on-closed-channel window.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in SendRaw", zap.String("username", c.username), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		metrics.FramesDropped.Inc()
		logging.Warn(context.Background(), "Client send channel full, dropping frame", zap.String("username", c.username))
	}
}

// SendError sends a plain error frame to this client only.
func (c *Client) SendError(message string) {
	c.SendJSON(types.ErrorFrame{Type: types.EventError, Message: message})
}

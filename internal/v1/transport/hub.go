// Package transport serves the realtime WebSocket endpoints: the global
// lobby, per-room lobbies, and battle rooms. Sockets authenticate with a
// bearer token, join a bus topic group, and exchange JSON frames carrying a
// string "type" field.
package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	set "k8s.io/apimachinery/pkg/util/sets"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/bitwar/backend/go/internal/v1/ratelimit"
	"github.com/bitwar/backend/go/internal/v1/rooms"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// WebSocket close codes for connection-level rejections.
const (
	CloseMissingToken      = 4001
	CloseInvalidToken      = 4002
	CloseSendError         = 4003
	CloseRoomUnavailable   = 4005
	CloseHostOnlyCountdown = 4010
	CloseRankedNotReady    = 4011
)

// Client intents accepted by the socket endpoints.
const (
	intentRequestParticipants = "request_participants"
	intentChatMessage         = "chat_message"
	intentKickParticipant     = "kick_participant"
	intentReadyToggle         = "ready_toggle"
	intentStartCountdown      = "start_countdown"
	intentCloseRoom           = "close_room"
	intentLeaveRoom           = "leave_room"
	intentPing                = "ping"
	intentRequestChatHistory  = "request_chat_history"
	intentRequestRoomList     = "request_room_list"
)

const defaultCountdown = 5

// RoomService is the room lifecycle surface the sockets drive.
type RoomService interface {
	Get(ctx context.Context, roomID string) (*types.Room, error)
	ListActive(ctx context.Context) ([]types.RoomInfo, error)
	AuthorizeLobby(ctx context.Context, roomID, username string) (*types.Room, error)
	ConnectLobby(ctx context.Context, roomID, username string) (*types.Participant, error)
	Leave(ctx context.Context, roomID, username string) error
	Kick(ctx context.Context, roomID, by, target string) error
	SetReady(ctx context.Context, roomID, username string, ready bool) (*types.Participant, error)
	CanStartCountdown(ctx context.Context, roomID, username string) (*types.Room, error)
	Start(ctx context.Context, roomID, username string) (*rooms.StartResult, error)
	Close(ctx context.Context, roomID, by string) error
	Chat(ctx context.Context, roomID, sender, body string) (*types.ChatMessage, error)
	ChatHistory(ctx context.Context, roomID string) ([]types.ChatMessage, error)
	PublishParticipantList(ctx context.Context, roomID string)
}

// TimeTracker attaches the battle clock to a playing room.
type TimeTracker interface {
	Track(ctx context.Context, roomID string)
}

// group is the local fan-out registry for one bus topic.
type group struct {
	topic  string
	cancel context.CancelFunc // stops the bus subscription

	mu      sync.RWMutex
	clients set.Set[*Client]
}

func (g *group) add(c *Client) {
	g.mu.Lock()
	g.clients.Insert(c)
	g.mu.Unlock()
}

// remove drops c and reports how many clients remain.
func (g *group) remove(c *Client) int {
	g.mu.Lock()
	g.clients.Delete(c)
	n := g.clients.Len()
	g.mu.Unlock()
	return n
}

func (g *group) members() []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clients.UnsortedList()
}

func (g *group) size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clients.Len()
}

// broadcast fans one frame out to every attached client.
func (g *group) broadcast(data []byte) {
	for _, c := range g.members() {
		c.SendRaw(data)
	}
}

// Hub coordinates every live socket on this instance. Each topic gets one
// bus subscription shared by its local clients; cross-instance delivery is
// the bus's job.
type Hub struct {
	validator      types.TokenValidator
	bus            types.BusService
	rooms          RoomService
	tracker        TimeTracker
	limiter        *ratelimit.RateLimiter
	allowedOrigins []string

	mu                   sync.Mutex
	groups               map[string]*group
	pendingGroupCleanups map[string]*time.Timer
	countdowns           map[string]bool
	cleanupGracePeriod   time.Duration
	countdownTick        time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a Hub and configures it with its dependencies. The allowed
// origins list gates browser upgrades; empty falls back to localhost dev.
func NewHub(validator types.TokenValidator, b types.BusService, roomSvc RoomService, tracker TimeTracker, limiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		validator:            validator,
		bus:                  b,
		rooms:                roomSvc,
		tracker:              tracker,
		limiter:              limiter,
		allowedOrigins:       allowedOrigins,
		groups:               make(map[string]*group),
		pendingGroupCleanups: make(map[string]*time.Timer),
		countdowns:           make(map[string]bool),
		cleanupGracePeriod:   5 * time.Second,
		countdownTick:        time.Second,
		ctx:                  ctx,
		cancel:               cancel,
	}
}

// ServeLobby upgrades a per-room lobby socket: /ws/room/:roomId/.
func (h *Hub) ServeLobby(c *gin.Context) {
	conn, claims, ok := h.acceptSocket(c)
	if !ok {
		return
	}
	h.connectLobby(c, conn, claims)
}

// ServeGlobal upgrades a global lobby socket: /ws/rooms/.
func (h *Hub) ServeGlobal(c *gin.Context) {
	conn, claims, ok := h.acceptSocket(c)
	if !ok {
		return
	}
	h.connectGlobal(conn, claims)
}

// ServeBattle upgrades a battle room socket: /ws/battle/:roomId/.
func (h *Hub) ServeBattle(c *gin.Context) {
	conn, claims, ok := h.acceptSocket(c)
	if !ok {
		return
	}
	h.connectBattle(c, conn, claims)
}

// acceptSocket runs the shared admission path: rate limit, upgrade, then
// token checks. Authentication failures close the upgraded socket with the
// 4001/4002 codes rather than rejecting the HTTP request, so browser clients
// can read the reason.
func (h *Hub) acceptSocket(c *gin.Context) (wsConnection, *auth.CustomClaims, bool) {
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return nil, nil, false
	}

	tok := extractToken(c)
	conn, err := h.upgradeSocket(c, tok)
	if err != nil {
		return nil, nil, false
	}

	if tok.Token == "" {
		logging.Warn(c.Request.Context(), "No token provided on socket connect")
		closeWithCode(conn, CloseMissingToken, "No token provided")
		return nil, nil, false
	}

	claims, err := h.validator.ValidateToken(tok.Token)
	if err != nil {
		logging.Warn(c.Request.Context(), "Token validation failed", zap.Error(err))
		closeWithCode(conn, CloseInvalidToken, "Invalid or expired token")
		return nil, nil, false
	}

	if h.limiter != nil {
		if err := h.limiter.CheckWebSocketUser(c.Request.Context(), claims.Handle()); err != nil {
			closeWithCode(conn, websocket.ClosePolicyViolation, "Connection rate limit exceeded")
			return nil, nil, false
		}
	}

	return conn, claims, true
}

func (h *Hub) newClient(conn wsConnection, username string) *Client {
	return &Client{
		conn:     conn,
		hub:      h,
		username: username,
		send:     make(chan []byte, 256),
	}
}

// startClient attaches the client to its topic group and starts the pumps.
// Attach happens before any connect-time publish so the client receives its
// own join broadcast.
func (h *Hub) startClient(topic string, cl *Client) {
	cl.topic = topic
	h.attach(topic, cl)
	metrics.IncConnection()
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		cl.writePump()
	}()
	go func() {
		defer h.wg.Done()
		cl.readPump()
	}()
}

// attach adds cl to the topic group, creating the group and its bus
// subscription on first use and cancelling any pending teardown.
func (h *Hub) attach(topic string, cl *Client) {
	h.mu.Lock()
	if timer, ok := h.pendingGroupCleanups[topic]; ok {
		timer.Stop()
		delete(h.pendingGroupCleanups, topic)
		logging.GetLogger().Debug("Cancelled pending group cleanup", zap.String("topic", topic))
	}

	g, ok := h.groups[topic]
	if !ok {
		gctx, cancel := context.WithCancel(h.ctx)
		g = &group{topic: topic, cancel: cancel, clients: set.New[*Client]()}
		h.groups[topic] = g
		h.bus.Subscribe(gctx, topic, &h.wg, func(p bus.PubSubPayload) {
			g.broadcast(p.Payload)
		})
		if _, isRoom := roomIDFromTopic(topic); isRoom {
			metrics.ActiveRooms.Inc()
		}
	}
	g.add(cl)
	if roomID, isRoom := roomIDFromTopic(topic); isRoom {
		metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(g.size()))
	}
	h.mu.Unlock()

	if err := h.bus.SetAdd(h.ctx, bus.PresenceKey(topic), cl.username); err != nil {
		logging.Warn(h.ctx, "Presence add failed", zap.String("topic", topic), zap.Error(err))
	}
}

// detach removes cl from its group and schedules the group teardown once the
// last client is gone. The grace period keeps the subscription warm across
// quick reconnects.
func (h *Hub) detach(topic string, cl *Client) {
	h.mu.Lock()
	g, ok := h.groups[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	remaining := g.remove(cl)
	if roomID, isRoom := roomIDFromTopic(topic); isRoom {
		metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(remaining))
	}
	if remaining == 0 {
		h.scheduleGroupCleanupLocked(topic)
	}
	h.mu.Unlock()

	if err := h.bus.SetRem(context.Background(), bus.PresenceKey(topic), cl.username); err != nil {
		logging.Warn(context.Background(), "Presence remove failed", zap.String("topic", topic), zap.Error(err))
	}
}

// scheduleGroupCleanupLocked arms the teardown timer for an empty group.
// Caller holds h.mu.
func (h *Hub) scheduleGroupCleanupLocked(topic string) {
	if existing, ok := h.pendingGroupCleanups[topic]; ok {
		existing.Stop()
		delete(h.pendingGroupCleanups, topic)
	}

	timer := time.AfterFunc(h.cleanupGracePeriod, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.pendingGroupCleanups, topic)
		g, ok := h.groups[topic]
		if !ok || g.size() > 0 {
			return
		}
		g.cancel()
		delete(h.groups, topic)
		if roomID, isRoom := roomIDFromTopic(topic); isRoom {
			metrics.ActiveRooms.Dec()
			metrics.RoomParticipants.DeleteLabelValues(roomID)
		}
		logging.GetLogger().Debug("Removed empty group after grace period", zap.String("topic", topic))
	})
	h.pendingGroupCleanups[topic] = timer
}

func roomIDFromTopic(topic string) (string, bool) {
	if id, ok := strings.CutPrefix(topic, "room_"); ok {
		return id, true
	}
	return "", false
}

// claimCountdown marks a countdown in flight for the room on this instance.
func (h *Hub) claimCountdown(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.countdowns[roomID] {
		return false
	}
	h.countdowns[roomID] = true
	return true
}

func (h *Hub) releaseCountdown(roomID string) {
	h.mu.Lock()
	delete(h.countdowns, roomID)
	h.mu.Unlock()
}

// publish sends one frame to a topic, logging rather than surfacing bus
// failures. Clients re-sync with a request_* intent if a broadcast is lost.
func (h *Hub) publish(ctx context.Context, topic, event string, frame any, sender string) {
	if err := h.bus.Publish(ctx, topic, event, frame, sender); err != nil {
		logging.Warn(ctx, "Event publish failed",
			zap.String("topic", topic), zap.String("event", event), zap.Error(err))
	}
}

// Shutdown closes every socket and waits for subscriptions and countdown
// loops to finish, or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub, closing all sockets")
	h.cancel()

	h.mu.Lock()
	for topic, timer := range h.pendingGroupCleanups {
		timer.Stop()
		delete(h.pendingGroupCleanups, topic)
	}
	clients := make([]*Client, 0)
	for _, g := range h.groups {
		clients = append(clients, g.members()...)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		cl.CloseWithCode(websocket.CloseGoingAway, "Server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logging.Info(ctx, "All sockets closed", zap.Int("count", len(clients)))
	return nil
}

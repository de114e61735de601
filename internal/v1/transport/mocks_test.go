package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/rooms"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// mockValidator accepts tokens of the form "token-<username>".
type mockValidator struct{}

func (m *mockValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	username, ok := strings.CutPrefix(tokenString, "token-")
	if !ok || username == "" {
		return nil, errors.New("token is invalid")
	}
	claims := &auth.CustomClaims{Username: username}
	claims.Subject = username
	return claims, nil
}

// fakeRoomService implements RoomService with canned state. Broadcasting
// methods publish real frames through the shared local bus so fan-out runs
// the same code path production uses.
type fakeRoomService struct {
	bus *bus.Service

	mu               sync.Mutex
	room             *types.Room
	authorizeErr     error
	connectErr       error
	countdownGateErr error
	startErr         error
	history          []types.ChatMessage
	activeRooms      []types.RoomInfo

	connectCalls []string
	leaveCalls   []string
	kickCalls    []string
	readyCalls   []string
	startCalls   []string
	closeCalls   []string
}

func newFakeRoomService(b *bus.Service) *fakeRoomService {
	return &fakeRoomService{
		bus: b,
		room: &types.Room{
			RoomID:     "r1",
			Name:       "Battle Room",
			Owner:      "alice",
			Topic:      "arrays",
			Difficulty: "easy",
			TimeLimit:  30,
			Capacity:   2,
			Visibility: types.VisibilityPublic,
			Status:     types.RoomStatusActive,
		},
	}
}

func (f *fakeRoomService) Get(ctx context.Context, roomID string) (*types.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authorizeErr != nil {
		return nil, f.authorizeErr
	}
	if f.room == nil || f.room.RoomID != roomID {
		return nil, types.ErrNotFound
	}
	cp := *f.room
	return &cp, nil
}

func (f *fakeRoomService) ListActive(ctx context.Context) ([]types.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeRooms, nil
}

func (f *fakeRoomService) AuthorizeLobby(ctx context.Context, roomID, username string) (*types.Room, error) {
	return f.Get(ctx, roomID)
}

func (f *fakeRoomService) ConnectLobby(ctx context.Context, roomID, username string) (*types.Participant, error) {
	f.mu.Lock()
	err := f.connectErr
	f.connectCalls = append(f.connectCalls, username)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.publishChat(ctx, roomID, username+" joined the lobby")
	f.publishRoster(ctx, roomID, types.EventParticipantList)
	return &types.Participant{RoomID: roomID, Username: username, Status: types.ParticipantJoined}, nil
}

func (f *fakeRoomService) Leave(ctx context.Context, roomID, username string) error {
	f.mu.Lock()
	f.leaveCalls = append(f.leaveCalls, username)
	f.mu.Unlock()
	return nil
}

func (f *fakeRoomService) Kick(ctx context.Context, roomID, by, target string) error {
	f.mu.Lock()
	host := f.room.Owner
	f.kickCalls = append(f.kickCalls, target)
	f.mu.Unlock()
	if by != host {
		return fmt.Errorf("only the host may kick: %w", types.ErrForbidden)
	}
	_ = f.bus.Publish(ctx, bus.RoomTopic(roomID), types.EventKicked,
		types.KickedFrame{Type: types.EventKicked, Username: target}, by)
	return nil
}

func (f *fakeRoomService) SetReady(ctx context.Context, roomID, username string, ready bool) (*types.Participant, error) {
	f.mu.Lock()
	f.readyCalls = append(f.readyCalls, fmt.Sprintf("%s=%t", username, ready))
	f.mu.Unlock()
	_ = f.bus.Publish(ctx, bus.RoomTopic(roomID), types.EventReadyStatus,
		types.ReadyStatusFrame{Type: types.EventReadyStatus, Username: username, Ready: ready}, username)
	return &types.Participant{RoomID: roomID, Username: username, Ready: ready}, nil
}

func (f *fakeRoomService) CanStartCountdown(ctx context.Context, roomID, username string) (*types.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countdownGateErr != nil {
		return nil, f.countdownGateErr
	}
	cp := *f.room
	return &cp, nil
}

func (f *fakeRoomService) Start(ctx context.Context, roomID, username string) (*rooms.StartResult, error) {
	f.mu.Lock()
	err := f.startErr
	f.startCalls = append(f.startCalls, username)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	frame := types.BattleStartedFrame{
		Type:       types.EventBattleStarted,
		RoomID:     roomID,
		QuestionID: 42,
		StartTime:  started,
	}
	_ = f.bus.Publish(ctx, bus.RoomTopic(roomID), types.EventBattleStarted, frame, username)
	_ = f.bus.Publish(ctx, bus.BattleTopic(roomID), types.EventBattleStarted, frame, username)
	return &rooms.StartResult{QuestionID: 42, StartTime: started, IsRanked: f.room.IsRanked}, nil
}

func (f *fakeRoomService) Close(ctx context.Context, roomID, by string) error {
	f.mu.Lock()
	host := f.room.Owner
	f.closeCalls = append(f.closeCalls, by)
	f.mu.Unlock()
	if by != host {
		return fmt.Errorf("only the host may close: %w", types.ErrForbidden)
	}
	_ = f.bus.Publish(ctx, bus.RoomTopic(roomID), types.EventRoomClosed,
		types.RoomClosedFrame{Type: types.EventRoomClosed}, by)
	return nil
}

func (f *fakeRoomService) Chat(ctx context.Context, roomID, sender, body string) (*types.ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("message cannot be empty: %w", types.ErrInvalidConfig)
	}
	msg := types.ChatMessage{RoomID: roomID, Sender: sender, Body: body, Timestamp: time.Now()}
	_ = f.bus.Publish(ctx, bus.RoomTopic(roomID), types.EventChatMessage, types.ChatFrameFrom(msg), sender)
	return &msg, nil
}

func (f *fakeRoomService) ChatHistory(ctx context.Context, roomID string) ([]types.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeRoomService) PublishParticipantList(ctx context.Context, roomID string) {
	f.publishRoster(ctx, roomID, types.EventParticipantList)
}

func (f *fakeRoomService) publishChat(ctx context.Context, roomID, body string) {
	msg := types.ChatMessage{RoomID: roomID, Sender: "System", Body: body, IsSystem: true, Timestamp: time.Now()}
	_ = f.bus.Publish(ctx, bus.RoomTopic(roomID), types.EventChatMessage, types.ChatFrameFrom(msg), "")
}

func (f *fakeRoomService) publishRoster(ctx context.Context, roomID, event string) {
	f.mu.Lock()
	ranked := f.room.IsRanked
	f.mu.Unlock()
	_ = f.bus.Publish(ctx, bus.RoomTopic(roomID), event, types.ParticipantListFrame{
		Type:         event,
		Participants: []types.ParticipantInfo{{Username: "alice", Role: types.RoleTypeHost, Status: types.ParticipantJoined}},
		IsRanked:     ranked,
	}, "")
}

func (f *fakeRoomService) calls(which string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch which {
	case "connect":
		return append([]string(nil), f.connectCalls...)
	case "leave":
		return append([]string(nil), f.leaveCalls...)
	case "kick":
		return append([]string(nil), f.kickCalls...)
	case "ready":
		return append([]string(nil), f.readyCalls...)
	case "start":
		return append([]string(nil), f.startCalls...)
	case "close":
		return append([]string(nil), f.closeCalls...)
	}
	return nil
}

// fakeTracker records battle clock attachments.
type fakeTracker struct {
	mu      sync.Mutex
	tracked map[string]int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{tracked: make(map[string]int)}
}

func (f *fakeTracker) Track(ctx context.Context, roomID string) {
	f.mu.Lock()
	f.tracked[roomID]++
	f.mu.Unlock()
}

func (f *fakeTracker) count(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked[roomID]
}

// mockConn is a scriptable wsConnection for client unit tests.
type mockConn struct {
	mu       sync.Mutex
	reads    chan []byte
	texts    [][]byte
	closes   [][]byte
	closed   bool
	writeErr error
}

func newMockConn() *mockConn {
	return &mockConn{reads: make(chan []byte, 16)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.reads
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	cp := append([]byte(nil), data...)
	switch messageType {
	case websocket.CloseMessage:
		m.closes = append(m.closes, cp)
	default:
		m.texts = append(m.texts, cp)
	}
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.reads)
	}
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockConn) inject(t *testing.T, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	m.reads <- data
}

func (m *mockConn) textFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.texts...)
}

func (m *mockConn) closeFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.closes...)
}

// testHub bundles a hub wired to a local bus and fakes, behind a running
// HTTP server with the production route shapes.
type testHub struct {
	hub     *Hub
	svc     *fakeRoomService
	tracker *fakeTracker
	server  *httptest.Server
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := bus.NewLocalService()
	svc := newFakeRoomService(b)
	tracker := newFakeTracker()
	h := NewHub(&mockValidator{}, b, svc, tracker, nil, nil)
	h.countdownTick = 2 * time.Millisecond
	h.cleanupGracePeriod = 10 * time.Millisecond

	router := gin.New()
	router.GET("/ws/rooms/", h.ServeGlobal)
	router.GET("/ws/room/:roomId/", h.ServeLobby)
	router.GET("/ws/battle/:roomId/", h.ServeBattle)

	server := httptest.NewServer(router)
	th := &testHub{hub: h, svc: svc, tracker: tracker, server: server}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		server.Close()
	})
	return th
}

func (th *testHub) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(th.server.URL, "http") + path
}

// dial opens a socket as the given user; empty username omits the token.
func (th *testHub) dial(t *testing.T, path, username string) *websocket.Conn {
	t.Helper()
	u := th.wsURL(path)
	if username != "" {
		u += "?token=token-" + username
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads the next text frame as a generic JSON object.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// expectFrame reads frames until one of the wanted type arrives. Broadcast
// interleavings make skipping unrelated frames necessary.
func expectFrame(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame["type"] == frameType {
			return frame
		}
	}
	t.Fatalf("frame %q never arrived", frameType)
	return nil
}

// expectClose reads until the peer closes and returns the close code.
func expectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr, "expected a close frame, got %v", err)
		return closeErr.Code
	}
}

// sendIntent writes one intent frame to the server.
func sendIntent(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

package transport

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwar/backend/go/internal/v1/types"
)

// dialLobby connects a user to room r1 and drains the connect frames.
func dialLobby(t *testing.T, th *testHub, username string) *websocket.Conn {
	t.Helper()
	conn := th.dial(t, "/ws/room/r1/", username)
	drainLobbyConnect(t, conn)
	return conn
}

func TestLobbyPingPong(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "ping"})
	frame := readFrame(t, conn)
	assert.Equal(t, types.EventPong, frame["type"])
}

func TestLobbyChatBroadcast(t *testing.T) {
	th := newTestHub(t)
	alice := dialLobby(t, th, "alice")
	bob := th.dial(t, "/ws/room/r1/", "bob")
	drainLobbyConnect(t, bob)
	drainPeerJoin(t, alice)

	sendIntent(t, alice, map[string]any{"type": "chat_message", "message": "hello"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, types.EventChatMessage, frame["type"])
		assert.Equal(t, "hello", frame["message"])
		assert.Equal(t, "alice", frame["sender"])
		assert.Equal(t, false, frame["is_system"])
	}
}

func TestLobbyChatRejectsEmptyMessage(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "chat_message", "message": "   "})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Message cannot be empty", frame["message"])

	// An invalid chat message does not cost the connection.
	sendIntent(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, types.EventPong, readFrame(t, conn)["type"])
}

func TestLobbyKickRequiresUsername(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "kick_participant"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Username is required", frame["message"])
}

func TestLobbyKickHostOnly(t *testing.T) {
	th := newTestHub(t)
	bob := dialLobby(t, th, "bob")

	sendIntent(t, bob, map[string]any{"type": "kick_participant", "username": "alice"})

	frame := readFrame(t, bob)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Only the host can kick participants", frame["message"])

	sendIntent(t, bob, map[string]any{"type": "ping"})
	assert.Equal(t, types.EventPong, readFrame(t, bob)["type"])
}

func TestLobbyKickBroadcast(t *testing.T) {
	th := newTestHub(t)
	alice := dialLobby(t, th, "alice")
	bob := th.dial(t, "/ws/room/r1/", "bob")
	drainLobbyConnect(t, bob)
	drainPeerJoin(t, alice)

	sendIntent(t, alice, map[string]any{"type": "kick_participant", "username": "bob"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, types.EventKicked, frame["type"])
		assert.Equal(t, "bob", frame["username"])
	}
	assert.Equal(t, []string{"bob"}, th.svc.calls("kick"))
}

func TestLobbyReadyStatusFanout(t *testing.T) {
	th := newTestHub(t)
	alice := dialLobby(t, th, "alice")
	bob := th.dial(t, "/ws/room/r1/", "bob")
	drainLobbyConnect(t, bob)
	drainPeerJoin(t, alice)

	sendIntent(t, bob, map[string]any{"type": "ready_toggle", "ready": true})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, types.EventReadyStatus, frame["type"])
		assert.Equal(t, "bob", frame["username"])
		assert.Equal(t, true, frame["ready"])
	}
	assert.Equal(t, []string{"bob=true"}, th.svc.calls("ready"))
}

func TestLobbyCountdownSequence(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "start_countdown", "countdown": 3})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventBattleReady, frame["type"])
	assert.Equal(t, "r1", frame["room_id"])

	for n := 3; n >= 0; n-- {
		frame = readFrame(t, conn)
		require.Equal(t, types.EventCountdown, frame["type"])
		assert.Equal(t, float64(n), frame["countdown"])
		assert.Equal(t, false, frame["is_ranked"])
	}

	frame = expectFrame(t, conn, types.EventBattleStarted)
	assert.Equal(t, "r1", frame["room_id"])
	assert.Equal(t, float64(42), frame["question_id"])

	require.Eventually(t, func() bool {
		return len(th.svc.calls("start")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return th.tracker.count("r1") == 1
	}, 2*time.Second, 10*time.Millisecond, "a timed battle should attach the clock")
}

func TestLobbyCountdownDefaultsToFive(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "start_countdown"})

	expectFrame(t, conn, types.EventBattleReady)
	frame := expectFrame(t, conn, types.EventCountdown)
	assert.Equal(t, float64(5), frame["countdown"])
}

func TestLobbyCountdownHostOnly(t *testing.T) {
	th := newTestHub(t)
	th.svc.mu.Lock()
	th.svc.countdownGateErr = types.ErrForbidden
	th.svc.mu.Unlock()

	conn := dialLobby(t, th, "bob")
	sendIntent(t, conn, map[string]any{"type": "start_countdown"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Only the host can start the countdown", frame["message"])
	assert.Equal(t, CloseHostOnlyCountdown, expectClose(t, conn))
}

func TestLobbyCountdownRankedNotReady(t *testing.T) {
	th := newTestHub(t)
	th.svc.mu.Lock()
	th.svc.countdownGateErr = types.ErrNotReady
	th.svc.mu.Unlock()

	conn := dialLobby(t, th, "alice")
	sendIntent(t, conn, map[string]any{"type": "start_countdown"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "All participants must be ready for ranked mode", frame["message"])
	assert.Equal(t, CloseRankedNotReady, expectClose(t, conn))
}

func TestLobbyCountdownRoomNotAccepting(t *testing.T) {
	th := newTestHub(t)
	th.svc.mu.Lock()
	th.svc.countdownGateErr = types.ErrInvalidState
	th.svc.mu.Unlock()

	conn := dialLobby(t, th, "alice")
	sendIntent(t, conn, map[string]any{"type": "start_countdown"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Room is not accepting a new battle", frame["message"])

	// State rejections leave the socket open.
	sendIntent(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, types.EventPong, readFrame(t, conn)["type"])
}

func TestLobbyCountdownSingleFlight(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	require.True(t, th.hub.claimCountdown("r1"))
	defer th.hub.releaseCountdown("r1")

	sendIntent(t, conn, map[string]any{"type": "start_countdown"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Countdown already in progress", frame["message"])
}

func TestLobbyCountdownStartFailure(t *testing.T) {
	th := newTestHub(t)
	th.svc.mu.Lock()
	th.svc.startErr = types.ErrNotFound
	th.svc.mu.Unlock()

	conn := dialLobby(t, th, "alice")
	sendIntent(t, conn, map[string]any{"type": "start_countdown", "countdown": 1})

	frame := expectFrame(t, conn, types.EventError)
	assert.Equal(t, "No questions available", frame["message"])
	assert.Zero(t, th.tracker.count("r1"))
}

func TestLobbyCloseRoomHostOnly(t *testing.T) {
	th := newTestHub(t)
	bob := dialLobby(t, th, "bob")

	sendIntent(t, bob, map[string]any{"type": "close_room"})

	frame := readFrame(t, bob)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Only the host can close the room", frame["message"])
}

func TestLobbyCloseRoomBroadcast(t *testing.T) {
	th := newTestHub(t)
	alice := dialLobby(t, th, "alice")
	bob := th.dial(t, "/ws/room/r1/", "bob")
	drainLobbyConnect(t, bob)
	drainPeerJoin(t, alice)

	sendIntent(t, alice, map[string]any{"type": "close_room"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		assert.Equal(t, types.EventRoomClosed, frame["type"])
	}
	assert.Equal(t, []string{"alice"}, th.svc.calls("close"))
}

func TestLobbyLeaveRoomHasNoAck(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "leave_room"})
	sendIntent(t, conn, map[string]any{"type": "ping"})

	// Intents are handled in order, so a pong directly after the leave
	// proves leave_room produced no acknowledgement frame.
	frame := readFrame(t, conn)
	assert.Equal(t, types.EventPong, frame["type"])
	require.Equal(t, []string{"alice"}, th.svc.calls("leave"))

	// The disconnect that follows an explicit leave must not double-leave.
	conn.Close()
	assert.Never(t, func() bool {
		return len(th.svc.calls("leave")) > 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestLobbyUnknownIntent(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "moonwalk"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventError, frame["type"])
	assert.Equal(t, "Unknown message type: moonwalk", frame["message"])

	sendIntent(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, types.EventPong, readFrame(t, conn)["type"])
}

func TestLobbyRequestChatHistory(t *testing.T) {
	th := newTestHub(t)
	th.svc.mu.Lock()
	th.svc.history = []types.ChatMessage{
		{RoomID: "r1", Sender: "alice", Body: "gl hf", Timestamp: time.Now()},
		{RoomID: "r1", Sender: "System", Body: "Room created", IsSystem: true, Timestamp: time.Now()},
	}
	th.svc.mu.Unlock()

	conn := dialLobby(t, th, "alice")
	sendIntent(t, conn, map[string]any{"type": "request_chat_history"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventChatHistory, frame["type"])
	messages, ok := frame["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	first, ok := messages[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gl hf", first["message"])
	assert.Equal(t, "alice", first["sender"])
}

func TestLobbyRequestParticipants(t *testing.T) {
	th := newTestHub(t)
	conn := dialLobby(t, th, "alice")

	sendIntent(t, conn, map[string]any{"type": "request_participants"})

	frame := readFrame(t, conn)
	require.Equal(t, types.EventParticipantList, frame["type"])
	participants, ok := frame["participants"].([]any)
	require.True(t, ok)
	require.Len(t, participants, 1)
}

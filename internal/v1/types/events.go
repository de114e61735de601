package types

import "time"

// Event names. Each is carried as the bus envelope event and as the
// "type" field of the JSON frame delivered to websocket clients.
const (
	EventChatMessage       = "chat_message"
	EventChatHistory       = "chat_history"
	EventParticipantList   = "participant_list"
	EventParticipantUpdate = "participant_update"
	EventParticipantLeft   = "participant_left"
	EventReadyStatus       = "ready_status"
	EventBattleReady       = "battle_ready"
	EventCountdown         = "countdown"
	EventBattleStarted     = "battle_started"
	EventKicked            = "kicked"
	EventRoomClosed        = "room_closed"
	EventRoomList          = "room_list"
	EventRoomUpdate        = "room_update"
	EventTimeUpdate        = "time_update"
	EventCodeVerified      = "code_verified"
	EventBattleCompleted   = "battle_completed"
	EventError             = "error"
	EventPong              = "pong"
)

// ChatClockLayout is the wall-clock format chat frames carry.
const ChatClockLayout = "03:04 PM"

// ParticipantInfo is the participant shape embedded in list frames.
type ParticipantInfo struct {
	Username string            `json:"username"`
	Role     RoleType          `json:"role"`
	Status   ParticipantStatus `json:"status"`
	Ready    bool              `json:"ready"`
}

// ParticipantInfos projects membership rows into their frame shape.
func ParticipantInfos(ps []Participant) []ParticipantInfo {
	out := make([]ParticipantInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, ParticipantInfo{
			Username: p.Username,
			Role:     p.Role,
			Status:   p.Status,
			Ready:    p.Ready,
		})
	}
	return out
}

// RoomInfo is a room plus its membership, used by room_list and room_update.
type RoomInfo struct {
	Room
	Participants []ParticipantInfo `json:"participants"`
}

// ChatFrame is one chat line on the wire. Timestamp uses ChatClockLayout.
type ChatFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	IsSystem  bool   `json:"is_system"`
}

// ChatFrameFrom converts a persisted message into its wire shape.
func ChatFrameFrom(m ChatMessage) ChatFrame {
	return ChatFrame{
		Type:      EventChatMessage,
		Message:   m.Body,
		Sender:    m.Sender,
		Timestamp: m.Timestamp.Format(ChatClockLayout),
		IsSystem:  m.IsSystem,
	}
}

// ChatHistoryFrame replays the retained chat backlog to one client.
type ChatHistoryFrame struct {
	Type     string      `json:"type"`
	Messages []ChatFrame `json:"messages"`
}

// ParticipantListFrame is the full roster snapshot.
type ParticipantListFrame struct {
	Type         string            `json:"type"`
	Participants []ParticipantInfo `json:"participants"`
	IsRanked     bool              `json:"is_ranked"`
}

// ParticipantUpdateFrame announces a membership change.
type ParticipantUpdateFrame struct {
	Type         string            `json:"type"`
	Participants []ParticipantInfo `json:"participants"`
}

// ParticipantLeftFrame names a user who left the lobby.
type ParticipantLeftFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// ReadyStatusFrame announces one user's ready toggle.
type ReadyStatusFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
}

// BattleReadyFrame marks the instant before the countdown begins.
type BattleReadyFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// CountdownFrame carries one tick of the pre-battle countdown.
type CountdownFrame struct {
	Type      string `json:"type"`
	Countdown int    `json:"countdown"`
	IsRanked  bool   `json:"is_ranked"`
}

// BattleStartedFrame announces the playing transition and the question.
type BattleStartedFrame struct {
	Type       string    `json:"type"`
	RoomID     string    `json:"room_id"`
	QuestionID int64     `json:"question_id"`
	StartTime  time.Time `json:"start_time"`
}

// KickedFrame names a user removed by the host.
type KickedFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// RoomClosedFrame tells lobby clients the room no longer exists.
type RoomClosedFrame struct {
	Type string `json:"type"`
}

// RoomListFrame is the global lobby snapshot of joinable rooms.
type RoomListFrame struct {
	Type  string     `json:"type"`
	Rooms []RoomInfo `json:"rooms"`
}

// RoomUpdateFrame refreshes the global lobby after any room change.
type RoomUpdateFrame struct {
	Type  string     `json:"type"`
	Rooms []RoomInfo `json:"rooms"`
}

// TimeUpdateFrame is the periodic battle clock broadcast.
type TimeUpdateFrame struct {
	Type             string `json:"type"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// CodeVerifiedFrame announces an accepted submission and its position.
type CodeVerifiedFrame struct {
	Type           string    `json:"type"`
	Username       string    `json:"username"`
	Position       int       `json:"position"`
	CompletionTime time.Time `json:"completion_time"`
}

// BattleCompletedFrame ends a battle with the ordered winners.
type BattleCompletedFrame struct {
	Type         string        `json:"type"`
	Winners      []ResultEntry `json:"winners"`
	RoomCapacity int           `json:"room_capacity"`
}

// ErrorFrame reports a rejected intent to one client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

package bus

// GlobalTopic carries room_list / room_update traffic for the global lobby.
const GlobalTopic = "rooms"

// RoomTopic is the per-room lobby topic.
func RoomTopic(roomID string) string {
	return "room_" + roomID
}

// BattleTopic carries in-battle traffic for one room.
func BattleTopic(roomID string) string {
	return "battle_" + roomID
}

// PresenceKey is the Redis set tracking live sockets on a topic.
func PresenceKey(topic string) string {
	return "presence:" + topic
}

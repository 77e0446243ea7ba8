package wire

import "strings"

// STOMP destinations spoken by the chat server. The private queue is
// session-scoped: the broker resolves it to the authenticated user, so the
// subscribe call carries no user id.
const (
	PrivateQueue  = "/user/queue/private"
	PresenceTopic = "/topic/notifications"

	roomTopicPrefix   = "/topic/public."
	roomSendPrefix    = "/app/chat.public."
	privateSendPrefix = "/app/chat.private."
)

func RoomTopic(roomID string) string {
	return roomTopicPrefix + roomID
}

func RoomSendDestination(roomID string) string {
	return roomSendPrefix + roomID
}

func PrivateSendDestination(recipientID string) string {
	return privateSendPrefix + recipientID
}

// RoomIDFromTopic extracts the room id from a room topic destination.
func RoomIDFromTopic(destination string) (string, bool) {
	if !strings.HasPrefix(destination, roomTopicPrefix) {
		return "", false
	}
	id := destination[len(roomTopicPrefix):]
	if id == "" {
		return "", false
	}
	return id, true
}

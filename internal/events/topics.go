package events

const (
	TopicConnStatus   = "conn.status"
	TopicFocus        = "focus.changed"
	TopicMessage      = "message.appended"
	TopicRoomBuffered = "room.buffered"
	TopicHistory      = "history.loaded"
	TopicUnread       = "unread.changed"
	TopicPresence     = "presence.changed"
	TopicRooms        = "rooms.updated"
	TopicUsers        = "users.updated"
)

package domain

// FocusKind discriminates which conversation, if any, is currently open.
type FocusKind int

const (
	FocusNone FocusKind = iota
	FocusRoom
	FocusPrivate
)

// Focus is the single conversation displayed to the user. Selecting a room
// clears any private focus and vice versa; the zero value means nothing is
// focused.
type Focus struct {
	Kind   FocusKind
	RoomID string
	PeerID string
}

func RoomFocus(roomID string) Focus {
	return Focus{Kind: FocusRoom, RoomID: roomID}
}

func PrivateFocus(peerID string) Focus {
	return Focus{Kind: FocusPrivate, PeerID: peerID}
}

func (f Focus) IsRoom(roomID string) bool {
	return f.Kind == FocusRoom && f.RoomID == roomID
}

func (f Focus) IsPrivate(peerID string) bool {
	return f.Kind == FocusPrivate && f.PeerID == peerID
}

// ConversationKey is the stable key used for message buffers and the local
// archive: "room:<id>" for rooms, "dm:<peer id>" for private chats.
func (f Focus) ConversationKey() string {
	switch f.Kind {
	case FocusRoom:
		return RoomConversationKey(f.RoomID)
	case FocusPrivate:
		return PrivateConversationKey(f.PeerID)
	default:
		return ""
	}
}

func RoomConversationKey(roomID string) string {
	return "room:" + roomID
}

func PrivateConversationKey(peerID string) string {
	return "dm:" + peerID
}

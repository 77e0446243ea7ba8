package events

import (
	"time"

	"chatty/internal/domain"
)

// ConnectionState describes the session connection lifecycle shown to the
// view layer. It is owned by the connection and observed everywhere else.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
	ConnectionStateFailed       ConnectionState = "failed"
)

// ConnectionStatus is a bus event snapshot of the current connection status.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	Target    string
	Timestamp time.Time
}

// FocusChanged reports that the active conversation switched.
type FocusChanged struct {
	Focus domain.Focus
}

// MessageAppended reports a message appended to the focused history, either a
// live delivery or a confirmation echo of the user's own send.
type MessageAppended struct {
	ConversationKey string
	Message         domain.Message
}

// RoomBuffered reports a room message accumulated for a room that is not the
// current focus. Size is the buffer length after the append.
type RoomBuffered struct {
	RoomID  string
	Message domain.Message
	Size    int
}

// HistoryLoaded reports that a history fetch replaced the focused history.
type HistoryLoaded struct {
	ConversationKey string
	Count           int
}

// UnreadChanged carries the unread counter and, for live increments, the
// sender responsible for the newest unread message.
type UnreadChanged struct {
	Count int
	From  string
}

// PresenceChanged is a join/leave notice from the presence topic.
type PresenceChanged struct {
	Kind     domain.MessageType
	UserID   string
	Username string
}

// RoomsUpdated and UsersUpdated report full list replacements.
type RoomsUpdated struct {
	Count int
}

type UsersUpdated struct {
	Total  int
	Online int
}

package domain

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeJoin  MessageType = "JOIN"
	MessageTypeLeave MessageType = "LEAVE"
)

// User is a chat participant as reported by the user listing endpoints.
type User struct {
	ID             string
	Username       string
	DisplayName    string
	ProfilePicture string
	Online         bool
}

// Room is a chat room discovered via the room listing or created by the user.
type Room struct {
	ID          string
	Name        string
	Description string
	IsPublic    bool
	MemberCount int
	SecretCode  string
	CreatedBy   string
}

// Message is a single chat message, either fetched from history or delivered
// live. ID is server-assigned and is the dedup key; presence notices carry no
// ID and are never stored.
type Message struct {
	ID             string
	SenderID       string
	SenderUsername string
	SenderName     string
	RecipientID    string
	RoomID         string
	Content        string
	Type           MessageType
	Private        bool
	At             time.Time
}

// DisplaySender prefers the sender display name over the raw username.
func (m Message) DisplaySender() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderUsername
}

// ContainsMessageID reports whether msgs already holds a message with the
// given server id. Messages without an id never match.
func ContainsMessageID(msgs []Message, id string) bool {
	if id == "" {
		return false
	}
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatty/internal/domain"
)

// Time wraps time.Time to accept the server's zone-less LocalDateTime
// serialization alongside RFC 3339.
type Time struct {
	time.Time
}

const localDateTimeLayout = "2006-01-02T15:04:05"

func (t *Time) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("timestamp is not a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, localDateTimeLayout, localDateTimeLayout + ".999999999"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format: %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(localDateTimeLayout))
}

// Event is the JSON body delivered on any subscribed destination: a chat
// message on a room topic or the private queue, or a presence notice on the
// presence topic (messageType JOIN/LEAVE, no id).
type Event struct {
	ID             string `json:"id,omitempty"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	SenderName     string `json:"senderDisplayName,omitempty"`
	RecipientID    string `json:"recipientId,omitempty"`
	ChatRoomID     string `json:"chatRoomId,omitempty"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	Timestamp      Time   `json:"timestamp"`
	Private        bool   `json:"isPrivate,omitempty"`
}

// DecodeEvent parses an inbound frame body. Failures are routing-level drops,
// never crashes.
func DecodeEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode inbound event: %w", err)
	}
	switch domain.MessageType(ev.MessageType) {
	case domain.MessageTypeText, domain.MessageTypeJoin, domain.MessageTypeLeave:
	case "":
		ev.MessageType = string(domain.MessageTypeText)
	default:
		return Event{}, fmt.Errorf("unknown message type: %q", ev.MessageType)
	}
	return ev, nil
}

// IsPresence reports whether the event is a join/leave notice rather than a
// chat message.
func (e Event) IsPresence() bool {
	t := domain.MessageType(e.MessageType)
	return t == domain.MessageTypeJoin || t == domain.MessageTypeLeave
}

// Message converts the wire event into the domain model.
func (e Event) Message() domain.Message {
	return domain.Message{
		ID:             e.ID,
		SenderID:       e.SenderID,
		SenderUsername: e.SenderUsername,
		SenderName:     e.SenderName,
		RecipientID:    e.RecipientID,
		RoomID:         e.ChatRoomID,
		Content:        e.Content,
		Type:           domain.MessageType(e.MessageType),
		Private:        e.Private,
		At:             e.Timestamp.Time,
	}
}

// RoomSend is the publish body for a room message.
type RoomSend struct {
	ChatRoomID  string `json:"chatRoomId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

// PrivateSend is the publish body for a direct message.
type PrivateSend struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Private     bool   `json:"isPrivate"`
}

func EncodeRoomSend(roomID, content string) ([]byte, error) {
	return json.Marshal(RoomSend{
		ChatRoomID:  roomID,
		Content:     strings.TrimSpace(content),
		MessageType: string(domain.MessageTypeText),
	})
}

func EncodePrivateSend(recipientID, content string) ([]byte, error) {
	return json.Marshal(PrivateSend{
		RecipientID: recipientID,
		Content:     strings.TrimSpace(content),
		MessageType: string(domain.MessageTypeText),
		Private:     true,
	})
}

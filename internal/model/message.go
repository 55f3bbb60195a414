package model

import "time"

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
	MessageTypePoll     MessageType = "poll"
)

// Message is one row of the messages table. Immutable once created; the
// remote store assigns ID and CreatedAt at insert when they are unset.
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id,omitempty"` // empty means the global feed
	Username  string      `json:"username"`
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type"`
	FileURL   string      `json:"file_url,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	PollID    string      `json:"poll_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Before reports whether m sorts before other in feed order:
// created_at ascending, ties broken by id.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

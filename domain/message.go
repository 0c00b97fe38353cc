package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat message. Immutable except for the text body (edit)
// and existence (delete); sender and room never change.
type Message struct {
	ID       uuid.UUID
	RoomID   RoomID
	SenderID string
	Text     string
	SentAt   time.Time
}

// PublicMessage is the wire projection of a Message.
type PublicMessage struct {
	ID       string    `json:"id"`
	Text     string    `json:"message"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
}

func (m Message) Public() PublicMessage {
	return PublicMessage{
		ID:       m.ID.String(),
		Text:     m.Text,
		SenderID: m.SenderID,
		SentAt:   m.SentAt,
	}
}

package services

import (
	"fmt"
	"log/slog"
	"strings"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/repositories"

	"github.com/google/uuid"
)

// IMessageService covers the message log operations: append, edit, remove.
// None of them perform authorization; the router confirms membership before
// calling in.
type IMessageService interface {
	Append(roomID domain.RoomID, senderID, text string) (domain.Message, error)
	Edit(messageID uuid.UUID, newText string) (domain.Message, error)
	Remove(messageID uuid.UUID) error
	Get(messageID uuid.UUID) (domain.Message, error)
}

type MessageService struct {
	messages  repositories.IMessageRepository
	rooms     repositories.IRoomRepository
	users     repositories.IUserRepository
	moderator moderation.Moderator
	log       *slog.Logger
}

func NewMessageService(
	messages repositories.IMessageRepository,
	rooms repositories.IRoomRepository,
	users repositories.IUserRepository,
	moderator moderation.Moderator,
	log *slog.Logger,
) *MessageService {
	return &MessageService{
		messages:  messages,
		rooms:     rooms,
		users:     users,
		moderator: moderator,
		log:       log,
	}
}

// Append durably stores a new message. The id and timestamp are
// server-assigned; clients must not invent them. The text is censored before
// the write so no sink ever sees the raw form.
func (s *MessageService) Append(roomID domain.RoomID, senderID, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message text", errors.ErrValidationFailed)
	}
	if _, err := s.rooms.GetRoom(roomID); err != nil {
		return domain.Message{}, err
	}
	if _, err := s.users.GetUserByID(senderID); err != nil {
		return domain.Message{}, err
	}

	sanitized := s.censor(text)
	return s.messages.StoreMessage(roomID, senderID, sanitized)
}

// Edit rewrites only the text body. Sender and room are immutable and come
// from the stored row regardless of what the caller supplies.
func (s *MessageService) Edit(messageID uuid.UUID, newText string) (domain.Message, error) {
	if strings.TrimSpace(newText) == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message text", errors.ErrValidationFailed)
	}
	return s.messages.UpdateText(messageID, s.censor(newText))
}

// Remove deletes permanently, no tombstone.
func (s *MessageService) Remove(messageID uuid.UUID) error {
	return s.messages.DeleteMessage(messageID)
}

func (s *MessageService) Get(messageID uuid.UUID) (domain.Message, error) {
	return s.messages.GetMessage(messageID)
}

func (s *MessageService) censor(text string) string {
	sanitized, found := s.moderator.Censor(text)
	if len(found) > 0 {
		s.log.Debug("Message text censored", "patterns", len(found))
	}
	return sanitized
}

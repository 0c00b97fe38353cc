//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	messageKeyPrefix = "msg:"
	messageIdxPrefix = "msgidx:"
)

type IMessageRepository interface {
	StoreMessage(roomID domain.RoomID, senderID, text string) (domain.Message, error)
	GetMessages(roomID domain.RoomID) ([]domain.Message, error)
	GetMessage(id uuid.UUID) (domain.Message, error)
	UpdateText(id uuid.UUID, newText string) (domain.Message, error)
	DeleteMessage(id uuid.UUID) error
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// messageKey builds "msg:{room_id}:{timestamp_padded}:{uuid}":
//  1. The 19-digit zero padding keeps keys chronologically sorted under
//     lexicographical order, so a reverse prefix scan yields newest-first.
//  2. The UUID acts as a collision disconnector if two messages arrive at
//     the same nanosecond.
func messageKey(roomID domain.RoomID, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", messageKeyPrefix, roomID, at.UnixNano(), id))
}

// StoreMessage assigns the authoritative id and timestamp, then writes the
// message row plus an id index entry ("msgidx:{uuid}" -> primary key) in one
// transaction. Edit and delete resolve the primary key through that index.
func (m MessageRepository) StoreMessage(roomID domain.RoomID, senderID, text string) (domain.Message, error) {
	message := domain.Message{
		ID:       uuid.New(),
		RoomID:   roomID,
		SenderID: senderID,
		Text:     text,
		SentAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(message)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal failed: %w", err)
	}

	key := messageKey(roomID, message.SentAt, message.ID)
	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(messageIdxPrefix+message.ID.String()), key)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// GetMessages returns a room's messages newest-first using a reverse prefix
// scan. It stops once the configured limitMessages is reached.
func (m MessageRepository) GetMessages(roomID domain.RoomID) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messageKeyPrefix + roomID + ":")
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key, then walk backwards.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var message domain.Message
				if err := json.Unmarshal(val, &message); err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return messages, err
}

func (m MessageRepository) GetMessage(id uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		key, err := m.resolveKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &message)
		})
	})
	if err != nil {
		return domain.Message{}, mapNotFound(err, "message", id.String())
	}
	return message, nil
}

// UpdateText rewrites only the text body. Sender, room and timestamp are
// taken from the stored row, never from the caller, so the primary key is
// unchanged and ordering is preserved.
func (m MessageRepository) UpdateText(id uuid.UUID, newText string) (domain.Message, error) {
	var updated domain.Message
	err := m.db.Update(func(txn *badger.Txn) error {
		key, err := m.resolveKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &updated)
		}); err != nil {
			return err
		}
		updated.Text = newText
		data, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.Message{}, mapNotFound(err, "message", id.String())
	}
	return updated, nil
}

// DeleteMessage removes the row and its index entry. Permanent, no tombstone.
func (m MessageRepository) DeleteMessage(id uuid.UUID) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		key, err := m.resolveKey(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete([]byte(messageIdxPrefix + id.String()))
	})
	return mapNotFound(err, "message", id.String())
}

func (m MessageRepository) resolveKey(txn *badger.Txn, id uuid.UUID) ([]byte, error) {
	item, err := txn.Get([]byte(messageIdxPrefix + id.String()))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

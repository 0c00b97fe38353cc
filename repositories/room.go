//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	roomKeyPrefix     = "room:"
	memberKeyPrefix   = "member:"
	userRoomKeyPrefix = "userroom:"
)

type IRoomRepository interface {
	CreateRoomWithMembers(name, creatorID string, memberIDs []string) (domain.Room, error)
	GetRoom(id domain.RoomID) (domain.Room, error)
	DeleteRoom(id domain.RoomID) error
}

type RoomRepository struct {
	db *badger.DB
}

func NewRoomRepository(db *badger.DB) IRoomRepository {
	return &RoomRepository{db: db}
}

func memberKey(roomID domain.RoomID, userID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", memberKeyPrefix, roomID, userID))
}

func userRoomKey(userID string, roomID domain.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", userRoomKeyPrefix, userID, roomID))
}

// CreateRoomWithMembers writes the room row and every membership row in a
// single transaction. Callers therefore never observe a room with a
// partially-populated member set. memberIDs is assumed deduplicated and to
// already contain the creator.
func (r RoomRepository) CreateRoomWithMembers(name, creatorID string, memberIDs []string) (domain.Room, error) {
	room := domain.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatorID: creatorID,
		CreatedAt: time.Now().UTC(),
	}
	roomData, err := json.Marshal(room)
	if err != nil {
		return domain.Room{}, fmt.Errorf("marshal failed: %w", err)
	}

	now := time.Now().UTC()
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(roomKeyPrefix+room.ID), roomData); err != nil {
			return err
		}
		for _, userID := range memberIDs {
			membership := domain.Membership{RoomID: room.ID, UserID: userID, LastReadAt: now}
			data, err := json.Marshal(membership)
			if err != nil {
				return err
			}
			if err := txn.Set(memberKey(room.ID, userID), data); err != nil {
				return err
			}
			if err := txn.Set(userRoomKey(userID, room.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

func (r RoomRepository) GetRoom(id domain.RoomID) (domain.Room, error) {
	var room domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(roomKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &room)
		})
	})
	if err != nil {
		return domain.Room{}, mapNotFound(err, "room", id)
	}
	return room, nil
}

// DeleteRoom removes the room row and cascades its memberships, reverse
// membership index entries and messages in one transaction. The room
// exclusively owns its memberships, so nothing survives it.
func (r RoomRepository) DeleteRoom(id domain.RoomID) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(roomKeyPrefix + id)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(roomKeyPrefix + id)); err != nil {
			return err
		}

		var doomed [][]byte
		var userIDs []string
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		memberPrefix := []byte(memberKeyPrefix + id + ":")
		for it.Seek(memberPrefix); it.ValidForPrefix(memberPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			doomed = append(doomed, key)
			userIDs = append(userIDs, string(key[len(memberPrefix):]))
		}
		msgPrefix := []byte(messageKeyPrefix + id + ":")
		for it.Seek(msgPrefix); it.ValidForPrefix(msgPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			doomed = append(doomed, key)
			// The message id is the last key segment; drop its index entry too.
			messageID := string(key[len(key)-36:])
			doomed = append(doomed, []byte(messageIdxPrefix+messageID))
		}
		it.Close()

		for _, userID := range userIDs {
			doomed = append(doomed, userRoomKey(userID, id))
		}
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	return mapNotFound(err, "room", id)
}

//go:generate go run go.uber.org/mock/mockgen -source=membership.go -destination=../mocks/mock_membership_repository.go -package=mocks
package repositories

import (
	stderrors "errors"
	"strings"

	"chat-relay/domain"

	"github.com/dgraph-io/badger/v4"
)

type IMembershipRepository interface {
	IsMember(roomID domain.RoomID, userID string) (bool, error)
	MembersOf(roomID domain.RoomID) ([]string, error)
	RoomsFor(userID string) ([]domain.RoomID, error)
}

type MembershipRepository struct {
	db *badger.DB
}

func NewMembershipRepository(db *badger.DB) IMembershipRepository {
	return &MembershipRepository{db: db}
}

func (m MembershipRepository) IsMember(roomID domain.RoomID, userID string) (bool, error) {
	err := m.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(memberKey(roomID, userID))
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// MembersOf lists the user ids holding a membership in the room. The key
// layout "member:{roomID}:{userID}" makes this a single prefix scan.
func (m MembershipRepository) MembersOf(roomID domain.RoomID) ([]string, error) {
	var members []string
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(memberKeyPrefix + roomID + ":")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			members = append(members, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	return members, err
}

// RoomsFor scans the reverse index "userroom:{userID}:{roomID}".
func (m MembershipRepository) RoomsFor(userID string) ([]domain.RoomID, error) {
	var rooms []domain.RoomID
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userRoomKeyPrefix + userID + ":")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rooms = append(rooms, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	return rooms, err
}

// Package directory resolves rooms to their member sets and validates
// membership. Every mutating room event goes through IsMember before the
// router acts on it.
package directory

import (
	"fmt"
	"log/slog"
	"strings"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"

	"github.com/samber/lo"
)

type Directory struct {
	rooms       repositories.IRoomRepository
	memberships repositories.IMembershipRepository
	messages    repositories.IMessageRepository
	users       repositories.IUserRepository
	log         *slog.Logger
}

func NewDirectory(
	rooms repositories.IRoomRepository,
	memberships repositories.IMembershipRepository,
	messages repositories.IMessageRepository,
	users repositories.IUserRepository,
	log *slog.Logger,
) *Directory {
	return &Directory{
		rooms:       rooms,
		memberships: memberships,
		messages:    messages,
		users:       users,
		log:         log,
	}
}

// MembersOf resolves the room's member set. Fails with ErrNotFound if the
// room does not exist, which callers must distinguish from an empty set.
func (d *Directory) MembersOf(roomID domain.RoomID) ([]string, error) {
	if _, err := d.rooms.GetRoom(roomID); err != nil {
		return nil, err
	}
	return d.memberships.MembersOf(roomID)
}

func (d *Directory) IsMember(roomID domain.RoomID, userID string) (bool, error) {
	return d.memberships.IsMember(roomID, userID)
}

// CreateRoom creates the room and one membership per id in
// memberIDs ∪ {creatorID}. The creator is always implicitly a member and
// duplicates are collapsed. Every id must resolve to an existing user before
// anything is written; all rows then land in a single transaction.
func (d *Directory) CreateRoom(name, creatorID string, memberIDs []string) (domain.Room, []string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Room{}, nil, fmt.Errorf("%w: empty room name", errors.ErrValidationFailed)
	}

	allMembers := lo.Uniq(append([]string{creatorID}, memberIDs...))
	for _, userID := range allMembers {
		if _, err := d.users.GetUserByID(userID); err != nil {
			return domain.Room{}, nil, err
		}
	}

	room, err := d.rooms.CreateRoomWithMembers(name, creatorID, allMembers)
	if err != nil {
		return domain.Room{}, nil, err
	}
	d.log.Info("Room created", "room_id", room.ID, "name", room.Name, "members", len(allMembers))
	return room, allMembers, nil
}

// RoomSummaryFor lists the rooms the user belongs to, id and name only.
func (d *Directory) RoomSummaryFor(userID string) ([]domain.RoomSummary, error) {
	roomIDs, err := d.memberships.RoomsFor(userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.RoomSummary, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		room, err := d.rooms.GetRoom(roomID)
		if err != nil {
			// A membership row pointing at a deleted room is a gateway
			// contract violation; skip it rather than failing the list.
			d.log.Warn("Dangling membership", "room_id", roomID, "user_id", userID)
			continue
		}
		summaries = append(summaries, domain.RoomSummary{ID: room.ID, Name: room.Name})
	}
	return summaries, nil
}

// RoomDetailFor joins the room with its member ids and messages,
// newest-first.
func (d *Directory) RoomDetailFor(roomID domain.RoomID) (domain.RoomDetail, error) {
	room, err := d.rooms.GetRoom(roomID)
	if err != nil {
		return domain.RoomDetail{}, err
	}
	members, err := d.memberships.MembersOf(roomID)
	if err != nil {
		return domain.RoomDetail{}, err
	}
	messages, err := d.messages.GetMessages(roomID)
	if err != nil {
		return domain.RoomDetail{}, err
	}
	return domain.RoomDetail{
		ID:        room.ID,
		Name:      room.Name,
		CreatorID: room.CreatorID,
		UserIDs:   members,
		Messages: lo.Map(messages, func(m domain.Message, _ int) domain.PublicMessage {
			return m.Public()
		}),
	}, nil
}

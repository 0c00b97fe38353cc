package services

import (
	"log/slog"
	"testing"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/moderation"
	"chat-relay/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newMessageService(t *testing.T, ctrl *gomock.Controller) (
	*MessageService,
	*mocks.MockIMessageRepository,
	*mocks.MockIRoomRepository,
	*mocks.MockIUserRepository,
) {
	t.Helper()
	moderator, err := moderation.NewModerator([]string{"badger"}, '*')
	require.NoError(t, err)

	messages := mocks.NewMockIMessageRepository(ctrl)
	rooms := mocks.NewMockIRoomRepository(ctrl)
	users := mocks.NewMockIUserRepository(ctrl)
	svc := NewMessageService(messages, rooms, users, moderator, slog.Default())
	return svc, messages, rooms, users
}

func TestMessageService_Append(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("should censor before the durable write", func(t *testing.T) {
		req := require.New(t)
		svc, messages, rooms, users := newMessageService(t, ctrl)

		rooms.EXPECT().GetRoom("room-1").Return(domain.Room{ID: "room-1"}, nil)
		users.EXPECT().GetUserByID("alice").Return(repositories.User{ID: "alice"}, nil)
		messages.EXPECT().
			StoreMessage("room-1", "alice", "the ****** is loose").
			Return(domain.Message{Text: "the ****** is loose"}, nil)

		stored, err := svc.Append("room-1", "alice", "the badger is loose")
		req.NoError(err)
		req.Equal("the ****** is loose", stored.Text)
	})

	t.Run("should reject blank text without touching storage", func(t *testing.T) {
		req := require.New(t)
		svc, messages, rooms, _ := newMessageService(t, ctrl)

		rooms.EXPECT().GetRoom(gomock.Any()).Times(0)
		messages.EXPECT().StoreMessage(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Append("room-1", "alice", "   ")
		req.ErrorIs(err, errors.ErrValidationFailed)
	})

	t.Run("should reject unknown room", func(t *testing.T) {
		req := require.New(t)
		svc, messages, rooms, _ := newMessageService(t, ctrl)

		rooms.EXPECT().GetRoom("ghost").Return(domain.Room{}, errors.ErrNotFound)
		messages.EXPECT().StoreMessage(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Append("ghost", "alice", "hello")
		req.ErrorIs(err, errors.ErrNotFound)
	})
}

func TestMessageService_Edit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("should censor the replacement text", func(t *testing.T) {
		req := require.New(t)
		svc, messages, _, _ := newMessageService(t, ctrl)
		id := uuid.New()

		messages.EXPECT().
			UpdateText(id, "****** says hi").
			Return(domain.Message{ID: id, Text: "****** says hi"}, nil)

		updated, err := svc.Edit(id, "badger says hi")
		req.NoError(err)
		req.Equal("****** says hi", updated.Text)
	})

	t.Run("should reject blank replacement", func(t *testing.T) {
		req := require.New(t)
		svc, messages, _, _ := newMessageService(t, ctrl)

		messages.EXPECT().UpdateText(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Edit(uuid.New(), "")
		req.ErrorIs(err, errors.ErrValidationFailed)
	})
}

func TestMessageService_Remove(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, messages, _, _ := newMessageService(t, ctrl)
	id := uuid.New()

	messages.EXPECT().DeleteMessage(id).Return(nil)
	req.NoError(svc.Remove(id))

	messages.EXPECT().DeleteMessage(id).Return(errors.ErrNotFound)
	req.ErrorIs(svc.Remove(id), errors.ErrNotFound)
}

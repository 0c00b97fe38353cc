package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chat-relay/auth"
	"chat-relay/directory"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/moderation"
	"chat-relay/presence"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"chat-relay/search"
	"chat-relay/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

type harness struct {
	router    *Router
	tokens    *auth.TokenManager
	users     repositories.IUserRepository
	directory *directory.Directory
	index     *search.Index
	ack       uint64
}

// newHarness wires the full stack over temp storage and starts the router
// loop plus the event pipeline under a test-scoped context.
func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.Default()

	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	index, err := search.NewIndex(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	moderator, err := moderation.NewModerator([]string{"badger"}, '*')
	require.NoError(t, err)

	users := repositories.NewUserRepository(db)
	rooms := repositories.NewRoomRepository(db)
	memberships := repositories.NewMembershipRepository(db)
	messages := repositories.NewMessageRepository(db, log, nil)

	tokens := auth.NewTokenManager("router-test-key", time.Hour)
	messageService := services.NewMessageService(messages, rooms, users, moderator, log)
	roomDirectory := directory.NewDirectory(rooms, memberships, messages, users, log)
	registry := presence.NewRegistry()

	events := make(chan event.DomainEvent, 64)
	router := NewRouter(log, registry, roomDirectory, messageService, users, tokens, index, events, 64, 50)
	fanoutWorker := workers.NewEventFanout(log, events, time.Second, search.NewSink(index, log))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = router.Run(ctx) }()
	go func() { _ = fanoutWorker.Run(ctx) }()

	return &harness{
		router:    router,
		tokens:    tokens,
		users:     users,
		directory: roomDirectory,
		index:     index,
	}
}

func (h *harness) addUser(t *testing.T, firstName string) repositories.User {
	t.Helper()
	user, err := h.users.CreateUser(firstName, "Tester", firstName+"@example.com", "hash")
	require.NoError(t, err)
	return user
}

func (h *harness) nextAck() uint64 {
	h.ack++
	return h.ack
}

// connect opens a test connection and registers it for userID. The ack and
// the broadcast to others are left in the respective send buffers for the
// caller to drain or ignore.
func (h *harness) connect(t *testing.T, userID string) *Conn {
	t.Helper()
	token, err := h.tokens.Generate(userID)
	require.NoError(t, err)

	conn := newConn(nil, h.router, 16, slog.Default())
	h.router.Submit(conn, ClientFrame{
		Event: EventNewConnection,
		Ack:   h.nextAck(),
		Token: token,
		Data:  marshal(t, NewConnectionPayload{Identity: Identity{ID: userID}}),
	})

	response := waitForAck(t, conn)
	require.True(t, response.OK, "presence registration failed: %s", response.Message)
	return conn
}

func (h *harness) submit(t *testing.T, conn *Conn, eventName string, payload any) Response {
	t.Helper()
	h.router.Submit(conn, ClientFrame{
		Event: eventName,
		Ack:   h.nextAck(),
		Data:  marshal(t, payload),
	})
	return waitForAck(t, conn)
}

func marshal(t *testing.T, payload any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

type testFrame struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

// waitFrame blocks until the connection receives a frame with the wanted
// event name, discarding unrelated broadcasts along the way.
func waitFrame(t *testing.T, conn *Conn, eventName string) testFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-conn.send:
			var frame testFrame
			require.NoError(t, json.Unmarshal(raw, &frame))
			if frame.Event == eventName {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %q frame received in time", eventName)
		}
	}
}

func waitForAck(t *testing.T, conn *Conn) Response {
	t.Helper()
	frame := waitFrame(t, conn, EventAck)
	var response struct {
		OK      bool            `json:"ok"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &response))
	return Response{OK: response.OK, Data: response.Data, Message: response.Message}
}

func decodeData[T any](t *testing.T, data any) T {
	t.Helper()
	raw, ok := data.(json.RawMessage)
	require.True(t, ok)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func expectNoFrame(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case raw := <-conn.send:
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(150 * time.Millisecond):
	}
}

func Test_NewConnection_RegistersAndNotifiesOthers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	aliceConn := h.connect(t, alice.ID)

	bobConn := h.connect(t, bob.ID)

	// Alice learns that bob came online; bob does not hear about himself
	frame := waitFrame(t, aliceConn, EventUsersList)
	var payload UsersListPayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.Equal("update", payload.ChangeType)
	req.Len(payload.Users, 1)
	req.Equal(bob.ID, payload.Users[0].ID)
	req.True(payload.Users[0].IsOnline)

	expectNoFrame(t, bobConn)
}

func Test_NewConnection_RejectsInvalidToken(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")

	conn := newConn(nil, h.router, 16, slog.Default())
	h.router.Submit(conn, ClientFrame{
		Event: EventNewConnection,
		Ack:   h.nextAck(),
		Token: "not-a-token",
		Data:  marshal(t, NewConnectionPayload{Identity: Identity{ID: alice.ID}}),
	})

	response := waitForAck(t, conn)
	req.False(response.OK)
	req.Contains(response.Message, "unauthorized")
}

func Test_NewConnection_RejectsIdentityMismatch(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	// A valid token for alice must not register a connection claiming bob
	token, err := h.tokens.Generate(alice.ID)
	req.NoError(err)

	conn := newConn(nil, h.router, 16, slog.Default())
	h.router.Submit(conn, ClientFrame{
		Event: EventNewConnection,
		Ack:   h.nextAck(),
		Token: token,
		Data:  marshal(t, NewConnectionPayload{Identity: Identity{ID: bob.ID}}),
	})

	response := waitForAck(t, conn)
	req.False(response.OK)
}

func Test_Unauthenticated_EventsRejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	conn := newConn(nil, h.router, 16, slog.Default())
	h.router.Submit(conn, ClientFrame{Event: EventGetUsers, Ack: h.nextAck()})

	response := waitForAck(t, conn)
	req.False(response.OK)
	req.Contains(response.Message, "unauthorized")
}

func Test_ClientMessage_FanoutToConnectedMembersOnly(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")
	carol := h.addUser(t, "carol")

	room, _, err := h.directory.CreateRoom("general", alice.ID, []string{bob.ID, carol.ID})
	req.NoError(err)

	aliceConn := h.connect(t, alice.ID)
	bobConn := h.connect(t, bob.ID)
	// carol stays offline

	response := h.submit(t, aliceConn, EventClientMessage, ClientMessagePayload{
		RoomID: room.ID,
		Text:   "hello everyone",
	})
	req.True(response.OK)
	sent := decodeData[domain.PublicMessage](t, response.Data)
	req.Equal("hello everyone", sent.Text)
	req.Equal(alice.ID, sent.SenderID)

	// Both connected members receive the broadcast, sender included
	for _, conn := range []*Conn{aliceConn, bobConn} {
		frame := waitFrame(t, conn, EventServerMessage)
		var payload ServerMessagePayload
		req.NoError(json.Unmarshal(frame.Data, &payload))
		req.Equal(room.ID, payload.RoomID)
		req.Equal("hello everyone", payload.Message.Text)
	}

	// Durable before broadcast: the log already holds the message
	detail, err := h.directory.RoomDetailFor(room.ID)
	req.NoError(err)
	req.Len(detail.Messages, 1)
}

func Test_ClientMessage_RejectedForNonMember(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	mallory := h.addUser(t, "mallory")

	room, _, err := h.directory.CreateRoom("private", alice.ID, nil)
	req.NoError(err)

	malloryConn := h.connect(t, mallory.ID)

	response := h.submit(t, malloryConn, EventClientMessage, ClientMessagePayload{
		RoomID: room.ID,
		Text:   "let me in",
	})
	req.False(response.OK)
	req.Contains(response.Message, "unauthorized")

	// Nothing must have been persisted
	detail, err := h.directory.RoomDetailFor(room.ID)
	req.NoError(err)
	req.Empty(detail.Messages)
}

func Test_ClientMessage_TextIsCensored(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")

	room, _, err := h.directory.CreateRoom("general", alice.ID, nil)
	req.NoError(err)

	aliceConn := h.connect(t, alice.ID)

	response := h.submit(t, aliceConn, EventClientMessage, ClientMessagePayload{
		RoomID: room.ID,
		Text:   "a wild badger appeared",
	})
	req.True(response.OK)
	sent := decodeData[domain.PublicMessage](t, response.Data)
	req.Equal("a wild ****** appeared", sent.Text)
}

func Test_EditMessage_SenderOnly(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	room, _, err := h.directory.CreateRoom("general", alice.ID, []string{bob.ID})
	req.NoError(err)

	aliceConn := h.connect(t, alice.ID)
	bobConn := h.connect(t, bob.ID)

	response := h.submit(t, aliceConn, EventClientMessage, ClientMessagePayload{
		RoomID: room.ID,
		Text:   "tyop in here",
	})
	req.True(response.OK)
	sent := decodeData[domain.PublicMessage](t, response.Data)

	// Bob is a member but not the sender
	response = h.submit(t, bobConn, EventEditMessage, EditMessagePayload{
		MessageID: sent.ID,
		Text:      "rewritten by bob",
		RoomID:    room.ID,
	})
	req.False(response.OK)
	req.Contains(response.Message, "unauthorized")

	// The sender may edit; everyone gets the updated body
	response = h.submit(t, aliceConn, EventEditMessage, EditMessagePayload{
		MessageID: sent.ID,
		Text:      "typo is fixed",
		RoomID:    room.ID,
	})
	req.True(response.OK)

	frame := waitFrame(t, bobConn, EventServerEdited)
	var payload ServerMessagePayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.Equal(sent.ID, payload.Message.ID)
	req.Equal("typo is fixed", payload.Message.Text)

	detail, err := h.directory.RoomDetailFor(room.ID)
	req.NoError(err)
	req.Len(detail.Messages, 1)
	req.Equal("typo is fixed", detail.Messages[0].Text)
}

func Test_RemoveMessage_AnyMemberMayDelete(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	room, _, err := h.directory.CreateRoom("general", alice.ID, []string{bob.ID})
	req.NoError(err)

	aliceConn := h.connect(t, alice.ID)
	bobConn := h.connect(t, bob.ID)

	response := h.submit(t, aliceConn, EventClientMessage, ClientMessagePayload{
		RoomID: room.ID,
		Text:   "please remove this",
	})
	req.True(response.OK)
	sent := decodeData[domain.PublicMessage](t, response.Data)

	// Bob did not write the message but belongs to the room
	response = h.submit(t, bobConn, EventRemoveMessage, RemoveMessagePayload{
		MessageID: sent.ID,
		RoomID:    room.ID,
	})
	req.True(response.OK)

	frame := waitFrame(t, aliceConn, EventRemoveMessage)
	var payload RemovedMessagePayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.Equal(sent.ID, payload.MessageID)
	req.Equal(room.ID, payload.RoomID)

	detail, err := h.directory.RoomDetailFor(room.ID)
	req.NoError(err)
	req.Empty(detail.Messages)
}

func Test_CreateChatRoom_NotifiesEveryMember(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	aliceConn := h.connect(t, alice.ID)
	bobConn := h.connect(t, bob.ID)

	response := h.submit(t, aliceConn, EventCreateChatRoom, CreateChatRoomPayload{
		Name:      "new room",
		MemberIDs: []string{bob.ID},
	})
	req.True(response.OK)
	detail := decodeData[domain.RoomDetail](t, response.Data)
	req.Equal("new room", detail.Name)
	req.Equal(alice.ID, detail.CreatorID)
	req.ElementsMatch([]string{alice.ID, bob.ID}, detail.UserIDs)

	for _, conn := range []*Conn{aliceConn, bobConn} {
		frame := waitFrame(t, conn, EventRoomsList)
		var payload RoomsListPayload
		req.NoError(json.Unmarshal(frame.Data, &payload))
		req.Equal("add", payload.ChangeType)
		req.Equal(detail.ID, payload.Room.ID)
	}
}

func Test_GetUserChatRooms_ListsOnlyOwnRooms(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	shared, _, err := h.directory.CreateRoom("shared", alice.ID, []string{bob.ID})
	req.NoError(err)
	_, _, err = h.directory.CreateRoom("alice only", alice.ID, nil)
	req.NoError(err)

	bobConn := h.connect(t, bob.ID)

	response := h.submit(t, bobConn, EventGetUserChatRooms, struct{}{})
	req.True(response.OK)
	summaries := decodeData[[]domain.RoomSummary](t, response.Data)
	req.Len(summaries, 1)
	req.Equal(shared.ID, summaries[0].ID)
}

func Test_GetChatRoom_RequiresMembership(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	mallory := h.addUser(t, "mallory")

	room, _, err := h.directory.CreateRoom("private", alice.ID, nil)
	req.NoError(err)

	malloryConn := h.connect(t, mallory.ID)

	response := h.submit(t, malloryConn, EventGetChatRoom, GetChatRoomPayload{RoomID: room.ID})
	req.False(response.OK)
	req.Contains(response.Message, "unauthorized")
}

func Test_GetUsers_ReflectsPresence(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	h.addUser(t, "bob")

	aliceConn := h.connect(t, alice.ID)

	response := h.submit(t, aliceConn, EventGetUsers, struct{}{})
	req.True(response.OK)
	users := decodeData[[]domain.PublicUser](t, response.Data)
	req.Len(users, 2)

	for _, user := range users {
		if user.ID == alice.ID {
			req.True(user.IsOnline)
		} else {
			req.False(user.IsOnline)
		}
	}
}

func Test_SecondConnectionSupersedes(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")

	room, _, err := h.directory.CreateRoom("general", alice.ID, nil)
	req.NoError(err)

	oldConn := h.connect(t, alice.ID)
	freshConn := h.connect(t, alice.ID)

	response := h.submit(t, freshConn, EventClientMessage, ClientMessagePayload{
		RoomID: room.ID,
		Text:   "only the new connection hears this",
	})
	req.True(response.OK)

	waitFrame(t, freshConn, EventServerMessage)
	expectNoFrame(t, oldConn)
}

func Test_Disconnect_BroadcastsOffline(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	aliceConn := h.connect(t, alice.ID)
	bobConn := h.connect(t, bob.ID)

	// Drain the online broadcast for bob before disconnecting him
	waitFrame(t, aliceConn, EventUsersList)

	h.router.Disconnect(bobConn)

	frame := waitFrame(t, aliceConn, EventUsersList)
	var payload UsersListPayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.Len(payload.Users, 1)
	req.Equal(bob.ID, payload.Users[0].ID)
	req.False(payload.Users[0].IsOnline)

	// Idempotent: a second disconnect must not broadcast again
	h.router.Disconnect(bobConn)
	expectNoFrame(t, aliceConn)
}

func Test_Disconnect_SupersededConnectionStaysOnline(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	oldConn := h.connect(t, alice.ID)
	freshConn := h.connect(t, alice.ID)
	bobConn := h.connect(t, bob.ID)

	// The replaced connection closing must not flap alice offline
	h.router.Disconnect(oldConn)
	expectNoFrame(t, bobConn)

	h.router.Disconnect(freshConn)
	frame := waitFrame(t, bobConn, EventUsersList)
	var payload UsersListPayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.Equal(alice.ID, payload.Users[0].ID)
	req.False(payload.Users[0].IsOnline)
}

func Test_SearchMessages_ScopedAndIndexedAsync(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")

	room, _, err := h.directory.CreateRoom("general", alice.ID, nil)
	req.NoError(err)
	other, _, err := h.directory.CreateRoom("other", alice.ID, nil)
	req.NoError(err)

	aliceConn := h.connect(t, alice.ID)

	response := h.submit(t, aliceConn, EventClientMessage, ClientMessagePayload{
		RoomID: room.ID,
		Text:   "the deployment finished",
	})
	req.True(response.OK)
	response = h.submit(t, aliceConn, EventClientMessage, ClientMessagePayload{
		RoomID: other.ID,
		Text:   "deployment still pending elsewhere",
	})
	req.True(response.OK)

	// Indexing happens behind the fanout worker, so poll until visible
	req.Eventually(func() bool {
		response := h.submit(t, aliceConn, EventSearchMessages, SearchMessagesPayload{
			RoomID: room.ID,
			Query:  "deployment",
		})
		if !response.OK {
			return false
		}
		hits := decodeData[[]search.Hit](t, response.Data)
		return len(hits) == 1 && strings.Contains(hits[0].Text, "finished")
	}, 3*time.Second, 100*time.Millisecond)
}

func Test_UnknownEvent_FailsTheAck(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.addUser(t, "alice")

	aliceConn := h.connect(t, alice.ID)

	response := h.submit(t, aliceConn, "teleport", struct{}{})
	req.False(response.OK)
	req.Equal("unknown event", response.Message)
}

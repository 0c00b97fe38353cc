package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-relay/auth"
	"chat-relay/directory"
	"chat-relay/domain/event"
	"chat-relay/moderation"
	"chat-relay/presence"
	"chat-relay/repositories"
	"chat-relay/search"
	"chat-relay/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *auth.TokenManager) {
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

	tokens := auth.NewTokenManager("server-test-key", time.Hour)
	authService := services.NewAuthService(users, tokens)
	messageService := services.NewMessageService(messages, rooms, users, moderator, log)
	roomDirectory := directory.NewDirectory(rooms, memberships, messages, users, log)

	events := make(chan event.DomainEvent, 16)
	router := NewRouter(log, presence.NewRegistry(), roomDirectory, messageService, users, tokens, index, events, 16, 50)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = router.Run(ctx) }()

	server := httptest.NewServer(NewServer(log, router, authService, 16).Handler())
	t.Cleanup(server.Close)
	return server, tokens
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_RegisterAndLogin(t *testing.T) {
	req := require.New(t)
	server, tokens := newTestServer(t)

	register := auth.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  "ComplexPass123!",
	}

	resp := postJSON(t, server.URL+"/auth/register", register)
	req.Equal(http.StatusCreated, resp.StatusCode)

	var registered struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&registered))
	req.NotEmpty(registered.Token)
	req.NotEmpty(registered.User.ID)

	// The issued token must resolve back to the new account
	claims, err := tokens.Validate(registered.Token)
	req.NoError(err)
	req.Equal(registered.User.ID, claims.UserID)

	// Duplicate email
	resp = postJSON(t, server.URL+"/auth/register", register)
	req.Equal(http.StatusConflict, resp.StatusCode)

	// Login with the right password
	resp = postJSON(t, server.URL+"/auth/login", auth.LoginRequest{
		Email:    register.Email,
		Password: register.Password,
	})
	req.Equal(http.StatusOK, resp.StatusCode)

	// Wrong password
	resp = postJSON(t, server.URL+"/auth/login", auth.LoginRequest{
		Email:    register.Email,
		Password: "WrongPass123!",
	})
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RegisterRejectsWeakPassword(t *testing.T) {
	req := require.New(t)
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/auth/register", auth.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  "short",
	})
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestServer_MalformedBody(t *testing.T) {
	req := require.New(t)
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/auth/register", "application/json", strings.NewReader("{"))
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

// End to end through the websocket: register over HTTP, upgrade, register
// presence, exchange one message between two live connections.
func TestServer_WebsocketRoundTrip(t *testing.T) {
	req := require.New(t)
	server, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	type session struct {
		userID string
		token  string
		ws     *websocket.Conn
	}

	open := func(firstName, email string) session {
		resp := postJSON(t, server.URL+"/auth/register", auth.RegisterRequest{
			FirstName: firstName,
			LastName:  "Tester",
			Email:     email,
			Password:  "ComplexPass123!",
		})
		req.Equal(http.StatusCreated, resp.StatusCode)
		var registered struct {
			Token string `json:"token"`
			User  struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		req.NoError(json.NewDecoder(resp.Body).Decode(&registered))

		ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		req.NoError(err)
		t.Cleanup(func() { _ = ws.Close() })

		data, err := json.Marshal(NewConnectionPayload{Identity: Identity{ID: registered.User.ID}})
		req.NoError(err)
		req.NoError(ws.WriteJSON(ClientFrame{
			Event: EventNewConnection,
			Ack:   1,
			Token: registered.Token,
			Data:  data,
		}))

		return session{userID: registered.User.ID, token: registered.Token, ws: ws}
	}

	readUntil := func(ws *websocket.Conn, eventName string) ServerFrame {
		deadline := time.Now().Add(3 * time.Second)
		for {
			req.NoError(ws.SetReadDeadline(deadline))
			var frame ServerFrame
			req.NoError(ws.ReadJSON(&frame))
			if frame.Event == eventName {
				return frame
			}
		}
	}

	alice := open("Alice", "alice@example.com")
	readUntil(alice.ws, EventAck)
	bob := open("Bob", "bob@example.com")
	readUntil(bob.ws, EventAck)

	// Alice creates a room with bob and posts into it
	data, err := json.Marshal(CreateChatRoomPayload{Name: "general", MemberIDs: []string{bob.userID}})
	req.NoError(err)
	req.NoError(alice.ws.WriteJSON(ClientFrame{Event: EventCreateChatRoom, Ack: 2, Data: data}))

	roomFrame := readUntil(bob.ws, EventRoomsList)
	var roomsPayload RoomsListPayload
	raw, err := json.Marshal(roomFrame.Data)
	req.NoError(err)
	req.NoError(json.Unmarshal(raw, &roomsPayload))
	roomID := roomsPayload.Room.ID

	data, err = json.Marshal(ClientMessagePayload{RoomID: roomID, Text: "hello over the wire"})
	req.NoError(err)
	req.NoError(alice.ws.WriteJSON(ClientFrame{Event: EventClientMessage, Ack: 3, Data: data}))

	messageFrame := readUntil(bob.ws, EventServerMessage)
	var messagePayload ServerMessagePayload
	raw, err = json.Marshal(messageFrame.Data)
	req.NoError(err)
	req.NoError(json.Unmarshal(raw, &messagePayload))
	req.Equal("hello over the wire", messagePayload.Message.Text)
	req.Equal(alice.userID, messagePayload.Message.SenderID)
}

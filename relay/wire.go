// Package relay is the protocol layer: it owns the websocket connections,
// validates and authorizes inbound events, invokes the directory and message
// log, and fans resulting events out to every reachable room member.
package relay

import (
	"encoding/json"

	"chat-relay/domain"
)

// Client-sent event names. They mirror the reference protocol.
const (
	EventNewConnection    = "newConnection"
	EventGetUsers         = "getUsers"
	EventGetUserChatRooms = "getUserChatRooms"
	EventGetChatRoom      = "getChatRoom"
	EventCreateChatRoom   = "createChatRoom"
	EventClientMessage    = "clientMessage"
	EventEditMessage      = "editClientMessage"
	EventRemoveMessage    = "removeClientMessage"
	EventSearchMessages   = "searchMessages"
)

// Server-sent event names. removeClientMessage is reused verbatim for the
// removal broadcast, as the reference does.
const (
	EventAck           = "ack"
	EventServerMessage = "serverMessage"
	EventServerEdited  = "serverEditedMessage"
	EventUsersList     = "usersListEvent"
	EventRoomsList     = "chatRoomsListEvent"
)

// ClientFrame is one inbound websocket frame. Ack is the caller-supplied
// correlation handle: when non-zero, the router answers exactly once with an
// ack frame carrying the same value.
type ClientFrame struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack,omitempty"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is one outbound websocket frame.
type ServerFrame struct {
	Event string `json:"event"`
	Ack   uint64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Response is the reply shape routed through a correlation handle: either
// {ok:true, data} or {ok:false, message}.
type Response struct {
	OK      bool   `json:"ok"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type Identity struct {
	ID        string `json:"id" validate:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type NewConnectionPayload struct {
	Identity Identity `json:"identity" validate:"required"`
}

type GetChatRoomPayload struct {
	RoomID domain.RoomID `json:"roomId" validate:"required"`
}

type CreateChatRoomPayload struct {
	Name      string   `json:"name" validate:"required"`
	MemberIDs []string `json:"memberIds" validate:"required,min=1"`
}

type ClientMessagePayload struct {
	RoomID domain.RoomID `json:"roomId" validate:"required"`
	Text   string        `json:"message" validate:"required"`
}

type EditMessagePayload struct {
	MessageID string        `json:"messageId" validate:"required"`
	Text      string        `json:"message" validate:"required"`
	RoomID    domain.RoomID `json:"roomId" validate:"required"`
}

type RemoveMessagePayload struct {
	MessageID string        `json:"messageId" validate:"required"`
	RoomID    domain.RoomID `json:"roomId" validate:"required"`
}

type SearchMessagesPayload struct {
	RoomID domain.RoomID `json:"roomId" validate:"required"`
	Query  string        `json:"query" validate:"required"`
}

// Broadcast payloads. Only wire-safe projections cross the socket; internal
// entities with credentials or email never do.

type ServerMessagePayload struct {
	Message domain.PublicMessage `json:"message"`
	RoomID  domain.RoomID        `json:"roomId"`
}

type RemovedMessagePayload struct {
	MessageID string        `json:"messageId"`
	RoomID    domain.RoomID `json:"roomId"`
}

type UsersListPayload struct {
	ChangeType string              `json:"changeType"` // "update" or "remove"
	Users      []domain.PublicUser `json:"users"`
}

type RoomsListPayload struct {
	ChangeType string            `json:"changeType"` // "add"
	Room       domain.RoomDetail `json:"room"`
}

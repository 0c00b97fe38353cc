package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"chat-relay/search"
	"chat-relay/services"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type envelope struct {
	conn  *Conn
	frame ClientFrame
}

// Router is the protocol state machine. All inbound frames from every
// connection are serialized through its single Run loop, so no two events
// interleave mid-handler; gateway calls inside a handler are synchronous and
// complete before the next event is taken. The durable write of a mutating
// event therefore always precedes its fanout.
type Router struct {
	log       *slog.Logger
	presence  contract.IPresence
	directory contract.IDirectory
	messages  services.IMessageService
	users     repositories.IUserRepository
	tokens    *auth.TokenManager
	index     *search.Index

	events      chan event.DomainEvent
	inbox       chan envelope
	searchLimit int
	validate    *validator.Validate
}

func NewRouter(
	log *slog.Logger,
	presence contract.IPresence,
	directory contract.IDirectory,
	messages services.IMessageService,
	users repositories.IUserRepository,
	tokens *auth.TokenManager,
	index *search.Index,
	events chan event.DomainEvent,
	bufferSize, searchLimit int,
) *Router {
	return &Router{
		log:         log,
		presence:    presence,
		directory:   directory,
		messages:    messages,
		users:       users,
		tokens:      tokens,
		index:       index,
		events:      events,
		inbox:       make(chan envelope, bufferSize),
		searchLimit: searchLimit,
		validate:    validator.New(),
	}
}

// Submit hands one inbound frame to the router loop. A full inbox drops the
// frame rather than blocking the connection's read pump.
func (r *Router) Submit(conn *Conn, frame ClientFrame) {
	select {
	case r.inbox <- envelope{conn: conn, frame: frame}:
	default:
		r.log.Warn("Router inbox full, dropping frame", "event", frame.Event, "conn_id", conn.ID())
	}
}

// Run processes inbound events one at a time to completion.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Stopping router")
			return nil
		case env := <-r.inbox:
			r.handleFrame(ctx, env.conn, env.frame)
		}
	}
}

func (r *Router) handleFrame(ctx context.Context, conn *Conn, frame ClientFrame) {
	if conn.user() == "" && frame.Event != EventNewConnection {
		r.log.Debug("Rejecting event from unauthenticated connection",
			"event", frame.Event, "conn_id", conn.ID())
		r.reply(conn, frame.Ack, Response{OK: false, Message: errors.ErrUnauthorized.Error()})
		return
	}

	switch frame.Event {
	case EventNewConnection:
		r.handleNewConnection(conn, frame)
	case EventGetUsers:
		r.handleGetUsers(conn, frame)
	case EventGetUserChatRooms:
		r.handleGetUserChatRooms(conn, frame)
	case EventGetChatRoom:
		r.handleGetChatRoom(conn, frame)
	case EventCreateChatRoom:
		r.handleCreateChatRoom(conn, frame)
	case EventClientMessage:
		r.handleClientMessage(conn, frame)
	case EventEditMessage:
		r.handleEditMessage(conn, frame)
	case EventRemoveMessage:
		r.handleRemoveMessage(conn, frame)
	case EventSearchMessages:
		r.handleSearchMessages(ctx, conn, frame)
	default:
		r.log.Debug("Unknown event", "event", frame.Event, "conn_id", conn.ID())
		r.reply(conn, frame.Ack, Response{OK: false, Message: "unknown event"})
	}
}

// handleNewConnection moves a connection from unauthenticated to registered.
// The identity is taken from the validated token, never from the payload
// alone; a mismatch between the two is rejected.
func (r *Router) handleNewConnection(conn *Conn, frame ClientFrame) {
	var payload NewConnectionPayload
	if err := r.decode(frame.Data, &payload); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	claims, err := r.tokens.Validate(frame.Token)
	if err != nil {
		r.log.Warn("Presence registration with invalid token", "conn_id", conn.ID(), "error", err)
		r.reply(conn, frame.Ack, Response{OK: false, Message: errors.ErrUnauthorized.Error()})
		return
	}
	if claims.UserID != payload.Identity.ID {
		r.log.Warn("Token subject does not match claimed identity",
			"token_user", claims.UserID, "claimed", payload.Identity.ID)
		r.reply(conn, frame.Ack, Response{OK: false, Message: errors.ErrUnauthorized.Error()})
		return
	}

	user, err := r.users.GetUserByID(claims.UserID)
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	conn.setUser(user.ID)
	// A later connection for the same user silently supersedes the earlier
	// one for fanout targeting.
	r.presence.Register(user.ID, conn)

	r.log.Info("User is now online", "user_id", user.ID, "conn_id", conn.ID())

	// Tell everyone else so online indicators update globally.
	r.broadcastUsersList(UsersListPayload{
		ChangeType: "update",
		Users:      []domain.PublicUser{user.Domain().Public(true)},
	}, conn.ID())
	r.publish(event.PresenceChanged{UserID: user.ID, Online: true, At: time.Now().UTC()})

	r.reply(conn, frame.Ack, Response{OK: true, Data: user.Domain().Public(true)})
}

func (r *Router) handleGetUsers(conn *Conn, frame ClientFrame) {
	stored, err := r.users.ListUsers()
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	publicUsers := lo.Map(stored, func(u repositories.User, _ int) domain.PublicUser {
		return u.Domain().Public(r.presence.IsOnline(u.ID))
	})
	r.reply(conn, frame.Ack, Response{OK: true, Data: publicUsers})
}

func (r *Router) handleGetUserChatRooms(conn *Conn, frame ClientFrame) {
	summaries, err := r.directory.RoomSummaryFor(conn.user())
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	if summaries == nil {
		summaries = []domain.RoomSummary{}
	}
	r.reply(conn, frame.Ack, Response{OK: true, Data: summaries})
}

func (r *Router) handleGetChatRoom(conn *Conn, frame ClientFrame) {
	var payload GetChatRoomPayload
	if err := r.decode(frame.Data, &payload); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	if err := r.requireMember(payload.RoomID, conn.user()); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	detail, err := r.directory.RoomDetailFor(payload.RoomID)
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	r.reply(conn, frame.Ack, Response{OK: true, Data: detail})
}

func (r *Router) handleCreateChatRoom(conn *Conn, frame ClientFrame) {
	var payload CreateChatRoomPayload
	if err := r.decode(frame.Data, &payload); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	room, memberIDs, err := r.directory.CreateRoom(payload.Name, conn.user(), payload.MemberIDs)
	if err != nil {
		r.log.Warn("Room creation failed", "name", payload.Name, "error", err)
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	detail := domain.RoomDetail{
		ID:        room.ID,
		Name:      room.Name,
		CreatorID: room.CreatorID,
		UserIDs:   memberIDs,
		Messages:  []domain.PublicMessage{},
	}

	// The member set comes from the creation result, not a re-query: it is
	// complete by construction since all rows landed in one transaction.
	data := marshalFrame(EventRoomsList, RoomsListPayload{ChangeType: "add", Room: detail})
	r.deliverTo(memberIDs, EventRoomsList, data)

	r.publish(event.RoomCreated{Room: room, MemberIDs: memberIDs})
	r.reply(conn, frame.Ack, Response{OK: true, Data: detail})
}

func (r *Router) handleClientMessage(conn *Conn, frame ClientFrame) {
	var payload ClientMessagePayload
	if err := r.decode(frame.Data, &payload); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	if err := r.requireMember(payload.RoomID, conn.user()); err != nil {
		r.log.Warn("Rejected message", "room_id", payload.RoomID, "user_id", conn.user(), "error", err)
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	message, err := r.messages.Append(payload.RoomID, conn.user(), payload.Text)
	if err != nil {
		r.log.Warn("Message append failed", "room_id", payload.RoomID, "error", err)
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	data := marshalFrame(EventServerMessage, ServerMessagePayload{
		Message: message.Public(),
		RoomID:  message.RoomID,
	})
	r.fanout(message.RoomID, EventServerMessage, data)

	r.publish(event.MessageSent{Message: message})
	r.reply(conn, frame.Ack, Response{OK: true, Data: message.Public()})
}

// handleEditMessage rewrites a message body. Only the original sender may
// edit; the stored room, not the client-supplied one, scopes authorization
// and fanout so a forged roomId cannot redirect the broadcast.
func (r *Router) handleEditMessage(conn *Conn, frame ClientFrame) {
	var payload EditMessagePayload
	if err := r.decode(frame.Data, &payload); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(fmt.Errorf("%w: bad message id", errors.ErrValidationFailed)))
		return
	}

	current, err := r.messages.Get(messageID)
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	if err := r.requireMember(current.RoomID, conn.user()); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	if current.SenderID != conn.user() {
		r.reply(conn, frame.Ack, errResponse(
			fmt.Errorf("%w: only the sender may edit a message", errors.ErrUnauthorized)))
		return
	}

	updated, err := r.messages.Edit(messageID, payload.Text)
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	data := marshalFrame(EventServerEdited, ServerMessagePayload{
		Message: updated.Public(),
		RoomID:  updated.RoomID,
	})
	r.fanout(updated.RoomID, EventServerEdited, data)

	r.publish(event.MessageEdited{Message: updated})
	r.reply(conn, frame.Ack, Response{OK: true, Data: updated.Public()})
}

// handleRemoveMessage deletes permanently. Any member of the room may
// delete, not just the sender.
func (r *Router) handleRemoveMessage(conn *Conn, frame ClientFrame) {
	var payload RemoveMessagePayload
	if err := r.decode(frame.Data, &payload); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(fmt.Errorf("%w: bad message id", errors.ErrValidationFailed)))
		return
	}

	current, err := r.messages.Get(messageID)
	if err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	if err := r.requireMember(current.RoomID, conn.user()); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	if err := r.messages.Remove(messageID); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	data := marshalFrame(EventRemoveMessage, RemovedMessagePayload{
		MessageID: payload.MessageID,
		RoomID:    current.RoomID,
	})
	r.fanout(current.RoomID, EventRemoveMessage, data)

	r.publish(event.MessageDeleted{MessageID: payload.MessageID, RoomID: current.RoomID})
	r.reply(conn, frame.Ack, Response{OK: true})
}

func (r *Router) handleSearchMessages(ctx context.Context, conn *Conn, frame ClientFrame) {
	var payload SearchMessagesPayload
	if err := r.decode(frame.Data, &payload); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}
	if err := r.requireMember(payload.RoomID, conn.user()); err != nil {
		r.reply(conn, frame.Ack, errResponse(err))
		return
	}

	hits, err := r.index.Search(ctx, payload.RoomID, payload.Query, r.searchLimit)
	if err != nil {
		r.log.Error("Search failed", "room_id", payload.RoomID, "error", err)
		r.reply(conn, frame.Ack, Response{OK: false, Message: "internal error"})
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	r.reply(conn, frame.Ack, Response{OK: true, Data: hits})
}

// Disconnect runs the close path for one connection: exactly once, even if
// it races with in-flight operations. An operation completing afterwards
// simply finds no live connection to answer, which is safe because its
// effects were already durable.
func (r *Router) Disconnect(conn *Conn) {
	conn.disconnectOnce.Do(func() {
		defer conn.close()

		userID := conn.user()
		if userID == "" {
			return
		}
		// No-op if a newer connection already superseded this one.
		r.presence.Unregister(conn.ID())
		if r.presence.IsOnline(userID) {
			return
		}

		r.log.Info("User went offline", "user_id", userID, "conn_id", conn.ID())
		user, err := r.users.GetUserByID(userID)
		if err != nil {
			r.log.Warn("Offline broadcast skipped", "user_id", userID, "error", err)
			return
		}
		r.broadcastUsersList(UsersListPayload{
			ChangeType: "update",
			Users:      []domain.PublicUser{user.Domain().Public(false)},
		}, conn.ID())
		r.publish(event.PresenceChanged{UserID: userID, Online: false, At: time.Now().UTC()})
	})
}

// requireMember is the authorization gate in front of every room-scoped
// operation.
func (r *Router) requireMember(roomID domain.RoomID, userID string) error {
	ok, err := r.directory.IsMember(roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %s is not a member of room %s", errors.ErrUnauthorized, userID, roomID)
	}
	return nil
}

// fanout resolves the room's current member set and emits the frame to every
// member with a live connection. Members with none are skipped deliberately;
// per-target results are aggregated and logged rather than assumed
// successful.
func (r *Router) fanout(roomID domain.RoomID, eventName string, data []byte) {
	members, err := r.directory.MembersOf(roomID)
	if err != nil {
		r.log.Error("Fanout aborted, member set unavailable", "room_id", roomID, "error", err)
		return
	}
	delivered, offline, dropped := r.deliverTo(members, eventName, data)
	r.log.Debug("Fanout complete",
		"event", eventName,
		"room_id", roomID,
		"delivered", delivered,
		"offline", offline,
		"dropped", dropped)
	if dropped > 0 {
		r.log.Warn("Fanout dropped frames on saturated connections",
			"event", eventName, "room_id", roomID, "dropped", dropped)
	}
}

func (r *Router) deliverTo(userIDs []string, eventName string, data []byte) (delivered, offline, dropped int) {
	for _, userID := range userIDs {
		sink, ok := r.presence.Lookup(userID)
		if !ok {
			offline++
			continue
		}
		if sink.Deliver(data) {
			delivered++
		} else {
			dropped++
			r.log.Warn("Frame dropped", "event", eventName, "user_id", userID)
		}
	}
	return delivered, offline, dropped
}

// broadcastUsersList targets every connected user, not just room members, so
// online indicators can update globally. The originating connection is
// excluded; it learns its own state from the ack.
func (r *Router) broadcastUsersList(payload UsersListPayload, excludeConnID string) {
	data := marshalFrame(EventUsersList, payload)
	for _, sink := range r.presence.Snapshot() {
		if sink.ID() == excludeConnID {
			continue
		}
		sink.Deliver(data)
	}
}

// publish hands a domain event to the pipeline sinks. Best effort: a full
// channel drops the event rather than stalling the loop.
func (r *Router) publish(evt event.DomainEvent) {
	select {
	case r.events <- evt:
	default:
		r.log.Debug("Domain event lost", "event", evt.Name())
	}
}

func (r *Router) decode(data json.RawMessage, payload any) error {
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidationFailed, err)
	}
	if err := r.validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidationFailed, err)
	}
	return nil
}

// reply invokes the correlation handle exactly once. Events sent without an
// ack get no reply; their outcome is observable through broadcasts only.
func (r *Router) reply(conn *Conn, ack uint64, response Response) {
	if ack == 0 {
		return
	}
	data, err := json.Marshal(ServerFrame{Event: EventAck, Ack: ack, Data: response})
	if err != nil {
		r.log.Error("Failed to marshal reply", "error", err)
		return
	}
	conn.Deliver(data)
}

func errResponse(err error) Response {
	reply := errors.MapToReply(err)
	return Response{OK: reply.OK, Message: reply.Message}
}

func marshalFrame(eventName string, payload any) []byte {
	data, _ := json.Marshal(ServerFrame{Event: eventName, Data: payload})
	return data
}

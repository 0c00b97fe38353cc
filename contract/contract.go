//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives domain events. Implementations must not block the
// caller beyond what the passed context allows.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// ConnectionSink is the delivery end of one live client connection.
// Deliver is fire-and-forget: a full or closed connection drops the frame.
type ConnectionSink interface {
	ID() string
	Deliver(frame []byte) bool
}

// IPresence maps an online user identity to its single live connection.
type IPresence interface {
	Register(userID string, sink ConnectionSink)
	Lookup(userID string) (ConnectionSink, bool)
	Unregister(connID string)
	IsOnline(userID string) bool
	Snapshot() []ConnectionSink
}

// IDirectory resolves room membership before every broadcast.
type IDirectory interface {
	MembersOf(roomID domain.RoomID) ([]string, error)
	IsMember(roomID domain.RoomID, userID string) (bool, error)
	CreateRoom(name, creatorID string, memberIDs []string) (domain.Room, []string, error)
	RoomSummaryFor(userID string) ([]domain.RoomSummary, error)
	RoomDetailFor(roomID domain.RoomID) (domain.RoomDetail, error)
}

// Package event defines the domain events published by the router after each
// durable write. They feed the permanent sinks (search index, telemetry);
// connection fanout does not go through them.
package event

import (
	"time"

	"chat-relay/domain"
)

type DomainEvent interface {
	Name() string
}

type MessageSent struct {
	Message domain.Message
}

func (MessageSent) Name() string { return "MessageSent" }

type MessageEdited struct {
	Message domain.Message
}

func (MessageEdited) Name() string { return "MessageEdited" }

type MessageDeleted struct {
	MessageID string
	RoomID    domain.RoomID
}

func (MessageDeleted) Name() string { return "MessageDeleted" }

type RoomCreated struct {
	Room      domain.Room
	MemberIDs []string
}

func (RoomCreated) Name() string { return "RoomCreated" }

type PresenceChanged struct {
	UserID string
	Online bool
	At     time.Time
}

func (PresenceChanged) Name() string { return "PresenceChanged" }

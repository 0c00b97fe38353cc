package domain

import "time"

type RoomID = string

// Room is a chat room shell. Messages and memberships are owned by the
// persistence layer and joined in on demand.
type Room struct {
	ID        RoomID
	Name      string
	CreatorID string
	CreatedAt time.Time
}

// Membership links one user to one room. A user holds at most one
// membership per room; the room owns its memberships and deletes them
// when it is deleted.
type Membership struct {
	RoomID     RoomID
	UserID     string
	LastReadAt time.Time
}

// RoomSummary is the room-list projection: id and name only.
type RoomSummary struct {
	ID   RoomID `json:"id"`
	Name string `json:"name"`
}

// RoomDetail is the full projection served when a client opens a room.
// Messages are ordered newest-first.
type RoomDetail struct {
	ID        RoomID          `json:"id"`
	Name      string          `json:"name"`
	CreatorID string          `json:"creatorId"`
	UserIDs   []string        `json:"userIds"`
	Messages  []PublicMessage `json:"messages"`
}

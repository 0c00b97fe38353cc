// Package domain contains core concepts of the chat relay.
// No runtime, network, or storage logic should be added here.
package domain

import "time"

// User is a registered account. IsOnline is derived from the presence
// registry at read time; it is never stored.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	CreatedAt time.Time
}

// PublicUser is the wire-safe projection of a User. Credentials and email
// never cross the socket.
type PublicUser struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsOnline  bool   `json:"isOnline"`
}

func (u User) Public(online bool) PublicUser {
	return PublicUser{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsOnline:  online,
	}
}

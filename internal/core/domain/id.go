package domain

import (
	"github.com/google/uuid"
)

// ConnectionID identifies one gateway channel for its lifetime. A client that
// reconnects gets a fresh one.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func (id ConnectionID) String() string {
	return string(id)
}

// RoomID is the opaque, caller-supplied room key. Unguessable by convention
// (clients generate random ids for shareable links), not enforced here.
type RoomID string

func (id RoomID) String() string {
	return string(id)
}

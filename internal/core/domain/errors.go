package domain

import "errors"

var (
	// ErrAlreadyJoined rejects a second join-room on the same channel. A
	// channel belongs to exactly one room for its whole lifetime.
	ErrAlreadyJoined = errors.New("channel already joined a room")

	// ErrNotJoined rejects signaling events from a channel that never joined.
	ErrNotJoined = errors.New("channel has not joined a room")

	ErrEmptyRoomID = errors.New("room id cannot be empty")
)

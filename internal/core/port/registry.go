package port

import "github.com/quotewise/callbridge/internal/core/domain"

// RoomRegistry tracks which connections belong to which room. The signaling
// service is its sole mutator; nothing else may write to it.
type RoomRegistry interface {
	// Join adds connID to roomID, creating the room if absent. Idempotent.
	Join(roomID domain.RoomID, connID domain.ConnectionID)

	// Leave removes connID from roomID and drops the room entry once empty.
	// No-op if the room or member does not exist.
	Leave(roomID domain.RoomID, connID domain.ConnectionID)

	// Members returns the current member connection ids of roomID.
	Members(roomID domain.RoomID) []domain.ConnectionID

	// RoomCount reports how many rooms currently have at least one member.
	RoomCount() int
}

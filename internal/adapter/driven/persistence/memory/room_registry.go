package memory

import (
	"sync"

	"github.com/quotewise/callbridge/internal/core/domain"
)

// RoomRegistry is the in-memory room membership table. Nothing is persisted:
// a process restart silently drops every room, which invalidates all
// in-progress calls.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.ConnectionID]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
	}
}

func (r *RoomRegistry) Join(roomID domain.RoomID, connID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[domain.ConnectionID]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
}

// Leave deletes the room entry once its last member leaves, so a long-lived
// process never accumulates empty rooms.
func (r *RoomRegistry) Leave(roomID domain.RoomID, connID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

func (r *RoomRegistry) Members(roomID domain.RoomID) []domain.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (r *RoomRegistry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

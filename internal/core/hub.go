package core

import (
	"sync"

	"github.com/strelka-im/realtime/internal/domain"
)

// Hub owns the live set of rooms. Rooms are created on demand and dropped
// when their last member leaves; the double-checked lock keeps GetOrCreate
// cheap on the hot path.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]*Room)}
}

func (h *Hub) GetOrCreate(id domain.RoomID) *Room {
	h.mu.RLock()
	room, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok = h.rooms[id]; ok {
		return room
	}
	room = NewRoom(id)
	h.rooms[id] = room
	return room
}

func (h *Hub) Get(id domain.RoomID) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[id]
	return room, ok
}

// DropIfEmpty removes the room when it has no members left.
func (h *Hub) DropIfEmpty(id domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[id]; ok && room.Len() == 0 {
		delete(h.rooms, id)
	}
}

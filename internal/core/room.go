package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/domain"
)

// Room is a threadsafe named multicast group of sessions.
// It never closes adapter-owned connections.
type Room struct {
	id    domain.RoomID
	mu    sync.RWMutex
	bySID map[SessionID]SignalConnection
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{id: id, bySID: make(map[SessionID]SignalConnection)}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *Room) Add(sid SessionID, conn SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = conn
}

func (r *Room) Remove(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySID, sid)
}

func (r *Room) Has(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

// Emit delivers data to every member except the excluded sessions.
func (r *Room) Emit(data Frame, exclude ...SessionID) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, conn := range r.bySID {
		if excluded(sid, exclude) {
			continue
		}
		if err := conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).
		Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("emit result")
	return res
}

func excluded(sid SessionID, exclude []SessionID) bool {
	for _, ex := range exclude {
		if sid == ex {
			return true
		}
	}
	return false
}

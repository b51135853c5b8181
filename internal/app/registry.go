package app

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
)

type sessionEntry struct {
	conn   core.SignalConnection
	userID domain.UserID
	authed bool
	rooms  map[domain.RoomID]struct{}
}

// Registry owns the mapping from logical users to live transport sessions
// and the room membership of every session. All mutation goes through its
// mutex; handlers never touch the maps directly.
type Registry struct {
	mu       sync.RWMutex
	hub      *core.Hub
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]map[core.SessionID]struct{}
}

func NewRegistry(hub *core.Hub) *Registry {
	return &Registry{
		hub:      hub,
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]map[core.SessionID]struct{}),
	}
}

// Register creates a session in the unauthenticated state.
func (r *Registry) Register(conn core.SignalConnection) core.SessionID {
	sid := core.SessionID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		conn:  conn,
		rooms: make(map[domain.RoomID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session registered")
	return sid
}

// Authenticate binds a verified user identity to a session and joins the
// session to that user's room. Idempotent per session; a user may hold many
// concurrently authenticated sessions.
func (r *Registry) Authenticate(sid core.SessionID, userID domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("authenticate: unknown session")
		return
	}
	if e.authed {
		return
	}
	e.authed = true
	e.userID = userID

	set, ok := r.users[userID]
	if !ok {
		set = make(map[core.SessionID]struct{})
		r.users[userID] = set
	}
	set[sid] = struct{}{}

	roomID := domain.UserRoom(userID)
	e.rooms[roomID] = struct{}{}
	r.hub.GetOrCreate(roomID).Add(sid, e.conn)

	log.Info().Str("module", "app.registry").Str("sid", string(sid)).
		Str("user", string(userID)).Msg("session authenticated")
}

// JoinRoom adds the session to a conversation room. No-op when the session
// is unknown, unauthenticated, or already a member.
func (r *Registry) JoinRoom(sid core.SessionID, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || !e.authed {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).
			Str("room", string(roomID)).Msg("join: unknown or unauthenticated session")
		return
	}
	if _, member := e.rooms[roomID]; member {
		return
	}
	e.rooms[roomID] = struct{}{}
	r.hub.GetOrCreate(roomID).Add(sid, e.conn)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).
		Str("room", string(roomID)).Msg("joined room")
}

// LeaveRoom removes the session from a conversation room. No-op when the
// membership is already in the requested state.
func (r *Registry) LeaveRoom(sid core.SessionID, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	if _, member := e.rooms[roomID]; !member {
		return
	}
	delete(e.rooms, roomID)
	if room, exists := r.hub.Get(roomID); exists {
		room.Remove(sid)
	}
	r.hub.DropIfEmpty(roomID)
}

// Deregister removes the session from all rooms. It returns the owning user
// (zero when never authenticated) and whether this was that user's last
// remaining session, so the caller can decide on an offline transition.
func (r *Registry) Deregister(sid core.SessionID) (userID domain.UserID, lastSession bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.sessions[sid]
	if !found {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("deregister: unknown session")
		return "", false, false
	}
	for roomID := range e.rooms {
		if room, exists := r.hub.Get(roomID); exists {
			room.Remove(sid)
		}
		r.hub.DropIfEmpty(roomID)
	}
	delete(r.sessions, sid)

	if e.authed {
		set := r.users[e.userID]
		delete(set, sid)
		if len(set) == 0 {
			delete(r.users, e.userID)
			lastSession = true
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).
		Str("user", string(e.userID)).Bool("last", lastSession).Msg("session deregistered")
	return e.userID, lastSession, true
}

// ConnOf returns the transport connection of a session, so teardown can
// close it after the session state is gone.
func (r *Registry) ConnOf(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// UserOf returns the authenticated identity of a session.
func (r *Registry) UserOf(sid core.SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || !e.authed {
		return "", false
	}
	return e.userID, true
}

// SessionCount returns how many live sessions a user currently holds.
func (r *Registry) SessionCount(userID domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// snapshot is a stable view of all live connections for global broadcasts.
func (r *Registry) snapshot() map[core.SessionID]core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[core.SessionID]core.SignalConnection, len(r.sessions))
	for sid, e := range r.sessions {
		out[sid] = e.conn
	}
	return out
}

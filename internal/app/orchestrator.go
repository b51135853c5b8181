package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
)

var (
	ErrNotAuthenticated = errors.New("session not authenticated")
	ErrNotParticipant   = errors.New("user is not a conversation participant")
)

// Authenticator is the authentication collaborator: it turns an opaque token
// into a verified user. The orchestrator trusts the returned identity for
// the lifetime of the session.
type Authenticator interface {
	Verify(token string) (domain.User, error)
}

// ParticipantSource is the persistence collaborator's narrow surface: the
// participant set of a conversation, used only to validate room joins.
type ParticipantSource interface {
	Participants(ctx context.Context, cid domain.ConversationID) ([]domain.UserID, error)
}

// Orchestrator drives the connect / authenticate / disconnect flows across
// the registry, presence and typing trackers, and the relay.
type Orchestrator struct {
	Registry *Registry
	Fanout   *Fanout
	Presence *Presence
	Typing   *Typing
	Relay    *Relay

	Auth         Authenticator
	Participants ParticipantSource // nil means joins are not validated

	// Typing cleanup on disconnect is an orchestration concern; the registry
	// contract stays exactly sessions and rooms.
	typingMu sync.Mutex
	typing   map[core.SessionID]map[domain.ConversationID]struct{}
}

func NewOrchestrator(reg *Registry, fan *Fanout, pres *Presence, typ *Typing, relay *Relay, auth Authenticator, parts ParticipantSource) *Orchestrator {
	o := &Orchestrator{
		Registry:     reg,
		Fanout:       fan,
		Presence:     pres,
		Typing:       typ,
		Relay:        relay,
		Auth:         auth,
		Participants: parts,
		typing:       make(map[core.SessionID]map[domain.ConversationID]struct{}),
	}
	fan.OnBackpressure(func(sid core.SessionID) {
		o.Disconnect(context.Background(), sid)
	})
	return o
}

// Connect registers a fresh transport session.
func (o *Orchestrator) Connect(conn core.SignalConnection) core.SessionID {
	return o.Registry.Register(conn)
}

// AuthenticateSession verifies the token, binds the identity to the session
// and marks the user online. Returns the verified user so the adapter can
// acknowledge and seed the client's presence view.
func (o *Orchestrator) AuthenticateSession(ctx context.Context, sid core.SessionID, token string) (domain.User, error) {
	user, err := o.Auth.Verify(token)
	if err != nil {
		return domain.User{}, err
	}
	o.Registry.Authenticate(sid, user.ID)
	o.Presence.MarkOnline(ctx, user.ID, sid)
	return user, nil
}

// Heartbeat refreshes the session owner's presence record.
func (o *Orchestrator) Heartbeat(ctx context.Context, sid core.SessionID) {
	uid, ok := o.Registry.UserOf(sid)
	if !ok {
		return
	}
	o.Presence.Heartbeat(ctx, uid, sid)
}

// JoinConversation validates the session owner against the conversation's
// participant set before joining the room.
func (o *Orchestrator) JoinConversation(ctx context.Context, sid core.SessionID, cid domain.ConversationID) error {
	uid, ok := o.Registry.UserOf(sid)
	if !ok {
		return ErrNotAuthenticated
	}
	if o.Participants != nil {
		participants, err := o.Participants.Participants(ctx, cid)
		if err != nil {
			return err
		}
		if !containsUser(participants, uid) {
			return ErrNotParticipant
		}
	}
	o.Registry.JoinRoom(sid, domain.ConversationRoom(cid))
	return nil
}

func (o *Orchestrator) LeaveConversation(sid core.SessionID, cid domain.ConversationID) {
	o.Registry.LeaveRoom(sid, domain.ConversationRoom(cid))
}

// StartTyping records the typing fact and remembers which conversations the
// session is typing in, so disconnects can clean up immediately instead of
// waiting for the TTL.
func (o *Orchestrator) StartTyping(ctx context.Context, sid core.SessionID, cid domain.ConversationID, displayName string) {
	uid, ok := o.Registry.UserOf(sid)
	if !ok {
		return
	}
	o.typingMu.Lock()
	set, exists := o.typing[sid]
	if !exists {
		set = make(map[domain.ConversationID]struct{})
		o.typing[sid] = set
	}
	set[cid] = struct{}{}
	o.typingMu.Unlock()

	o.Typing.StartTyping(ctx, cid, uid, displayName, sid)
}

func (o *Orchestrator) StopTyping(ctx context.Context, sid core.SessionID, cid domain.ConversationID) {
	uid, ok := o.Registry.UserOf(sid)
	if !ok {
		return
	}
	o.typingMu.Lock()
	if set, exists := o.typing[sid]; exists {
		delete(set, cid)
		if len(set) == 0 {
			delete(o.typing, sid)
		}
	}
	o.typingMu.Unlock()

	o.Typing.StopTyping(ctx, cid, uid, sid)
}

// Disconnect tears a session down: rooms, typing records, the transport
// connection and, when it was the user's last session, the presence record.
// Safe to call for sessions that already disappeared. Closing the connection
// matters for backpressure kicks, which arrive while the socket itself is
// still healthy — without it the client would linger as a deregistered
// zombie, never told it was dropped.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) {
	o.typingMu.Lock()
	typingConvs := o.typing[sid]
	delete(o.typing, sid)
	o.typingMu.Unlock()

	conn, hasConn := o.Registry.ConnOf(sid)
	uid, lastSession, ok := o.Registry.Deregister(sid)
	if !ok {
		return
	}
	for cid := range typingConvs {
		o.Typing.StopTyping(ctx, cid, uid, sid)
	}
	if uid != "" && lastSession {
		o.Presence.MarkOffline(ctx, uid)
	}
	if hasConn {
		conn.Close()
	}
	log.Info().Str("module", "app.orchestrator").Str("sid", string(sid)).
		Str("user", string(uid)).Msg("session disconnected")
}

// Signal relays one handshake message on behalf of a session.
func (o *Orchestrator) Signal(sid core.SessionID, env domain.Envelope) {
	o.Relay.Relay(sid, env)
}

func containsUser(users []domain.UserID, uid domain.UserID) bool {
	for _, u := range users {
		if u == uid {
			return true
		}
	}
	return false
}

package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
)

// Fanout routes outbound events to the sessions that should receive them.
// Frames are encoded once per emit; per-recipient order is preserved by each
// connection's send buffer. Sessions that cannot keep up are reported to the
// kick callback instead of ever blocking an emit.
type Fanout struct {
	reg *Registry
	hub *core.Hub

	// onBackpressure is invoked outside any registry lock for every session
	// whose send buffer overflowed. Wired by the orchestrator to a full
	// disconnect so a stalled client cannot wedge delivery for its rooms.
	onBackpressure func(core.SessionID)
}

func NewFanout(reg *Registry, hub *core.Hub) *Fanout {
	return &Fanout{reg: reg, hub: hub}
}

func (f *Fanout) OnBackpressure(fn func(core.SessionID)) { f.onBackpressure = fn }

// EmitToUser delivers the event to every live session of one user
// (zero, one, or many). Missing user rooms are routine: the target went
// offline mid-flight.
func (f *Fanout) EmitToUser(userID domain.UserID, env domain.Envelope) int {
	room, ok := f.hub.Get(domain.UserRoom(userID))
	if !ok {
		log.Debug().Str("module", "app.fanout").Str("user", string(userID)).
			Str("kind", env.Kind).Msg("no live sessions for user, dropping")
		return 0
	}
	return f.emit(room, env)
}

// EmitToConversation delivers the event to every session that has the
// conversation open, optionally excluding the originating session so a
// client does not receive its own echo.
func (f *Fanout) EmitToConversation(convID domain.ConversationID, env domain.Envelope, exclude ...core.SessionID) int {
	room, ok := f.hub.Get(domain.ConversationRoom(convID))
	if !ok {
		return 0
	}
	return f.emit(room, env, exclude...)
}

// BroadcastExcept delivers the event to all connected sessions except one.
// Used for global online/offline announcements; cost is O(total connections)
// per call.
func (f *Fanout) BroadcastExcept(exclude core.SessionID, env domain.Envelope) int {
	frame, err := encode(env)
	if err != nil {
		return 0
	}
	sent := 0
	var dropped []core.SessionID
	for sid, conn := range f.reg.snapshot() {
		if sid == exclude {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			dropped = append(dropped, sid)
			continue
		}
		sent++
	}
	f.kick(dropped)
	return sent
}

func (f *Fanout) emit(room *core.Room, env domain.Envelope, exclude ...core.SessionID) int {
	frame, err := encode(env)
	if err != nil {
		return 0
	}
	res := room.Emit(frame, exclude...)
	f.kick(res.Dropped)
	return res.SentTo
}

func (f *Fanout) kick(dropped []core.SessionID) {
	if f.onBackpressure == nil {
		return
	}
	for _, sid := range dropped {
		log.Warn().Str("module", "app.fanout").Str("sid", string(sid)).Msg("kicking backpressured session")
		f.onBackpressure(sid)
	}
}

func encode(env domain.Envelope) (core.Frame, error) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.fanout").Str("kind", env.Kind).Msg("encode envelope")
		return nil, err
	}
	return core.Frame(b), nil
}

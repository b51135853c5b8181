package app

import (
	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
)

// Relay forwards call-setup messages from one user's session to another's.
// It is stateless: undeliverable messages are dropped, never queued — an
// unanswered call is the caller's timeout problem, not a retry problem here.
type Relay struct {
	reg *Registry
	fan *Fanout
}

func NewRelay(reg *Registry, fan *Fanout) *Relay {
	return &Relay{reg: reg, fan: fan}
}

// Relay forwards a signaling envelope to the target user's room. The sender
// field is always overwritten with the authenticated identity of the
// originating session; a client-supplied sender is never trusted.
func (r *Relay) Relay(from core.SessionID, env domain.Envelope) {
	if !domain.IsSignaling(env.Kind) {
		log.Warn().Str("module", "app.relay").Str("kind", env.Kind).Msg("not a signaling kind, dropping")
		return
	}
	r.forward(from, env)
}

// RelayCallEnd notifies the remote user that the call was hung up locally.
func (r *Relay) RelayCallEnd(from core.SessionID, target domain.UserID, cid domain.ConversationID) {
	r.forward(from, domain.Envelope{
		Kind:           domain.KindCallEnded,
		TargetUserID:   target,
		ConversationID: cid,
	})
}

// RelayCallRejected notifies the remote user that the call was declined.
func (r *Relay) RelayCallRejected(from core.SessionID, target domain.UserID, cid domain.ConversationID) {
	r.forward(from, domain.Envelope{
		Kind:           domain.KindCallRejected,
		TargetUserID:   target,
		ConversationID: cid,
	})
}

func (r *Relay) forward(from core.SessionID, env domain.Envelope) {
	uid, ok := r.reg.UserOf(from)
	if !ok {
		log.Warn().Str("module", "app.relay").Str("sid", string(from)).
			Str("kind", env.Kind).Msg("unauthenticated session, dropping")
		return
	}
	if env.TargetUserID == "" {
		log.Warn().Str("module", "app.relay").Str("kind", env.Kind).Msg("no target, dropping")
		return
	}
	env.FromUserID = uid

	sent := r.fan.EmitToUser(env.TargetUserID, env)
	if sent == 0 {
		// Routine: target went offline mid-flight. Not an error to the sender.
		log.Debug().Str("module", "app.relay").Str("kind", env.Kind).
			Str("target", string(env.TargetUserID)).Msg("target offline, dropped")
	}
}

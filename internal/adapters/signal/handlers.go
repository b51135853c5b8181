package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
)

func (ctl *SessionWSController) handleAuthenticate(ctx context.Context, sid core.SessionID, c *WsSignalConn, env domain.Envelope) {
	var p domain.AuthPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.sendError(c, "malformed authenticate payload")
		return
	}

	user, err := ctl.Orch.AuthenticateSession(ctx, sid, p.Token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("authentication failed")
		ctl.sendError(c, "authentication failed")
		return
	}
	ctl.rememberName(sid, user.DisplayName)

	ctl.sendEnvelope(c, domain.Envelope{
		Kind: domain.KindAuthenticated,
		Payload: domain.MustPayload(domain.AuthenticatedPayload{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
		}),
	})

	// Seed the client's presence view so it does not have to wait for
	// individual online events.
	online, err := ctl.Orch.Presence.ListOnline(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("list online")
		return
	}
	ctl.sendEnvelope(c, domain.Envelope{
		Kind:    domain.KindOnlineUsers,
		Payload: domain.MustPayload(domain.OnlineUsersPayload{Users: online}),
	})
}

func (ctl *SessionWSController) handleJoin(ctx context.Context, sid core.SessionID, c *WsSignalConn, env domain.Envelope) {
	if err := ctl.Orch.JoinConversation(ctx, sid, env.ConversationID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).
			Str("conversation", string(env.ConversationID)).Msg("join rejected")
		ctl.sendError(c, "join rejected")
	}
}

// handleStartTyping throttles per session: clients refresh the indicator on
// every keystroke, and an unthrottled client could flood the conversation.
func (ctl *SessionWSController) handleStartTyping(ctx context.Context, sid core.SessionID, env domain.Envelope) {
	if !ctl.typingLimiter.Allow(sid) {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("typing throttled")
		return
	}
	ctl.Orch.StartTyping(ctx, sid, env.ConversationID, ctl.nameOf(sid))
}

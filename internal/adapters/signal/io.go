package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *SessionWSController) writePump(ctx context.Context, c *WsSignalConn) {
	pinger := time.NewTicker(ctl.opts.PingPeriod)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-pinger.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SessionWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(context.Background(), sid)
		ctl.typingLimiter.Forget(sid)
		ctl.forgetName(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleEnvelope(ctx, sid, c, data)
		}
	}
}

func (ctl *SessionWSController) handleEnvelope(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "malformed envelope")
		return
	}

	switch env.Kind {
	case domain.KindAuthenticate:
		ctl.handleAuthenticate(ctx, sid, c, env)
	case domain.KindHeartbeat:
		ctl.Orch.Heartbeat(ctx, sid)
	case domain.KindPing:
		ctl.sendEnvelope(c, domain.Envelope{Kind: domain.KindPong})
	case domain.KindJoinRoom:
		ctl.handleJoin(ctx, sid, c, env)
	case domain.KindLeaveRoom:
		ctl.Orch.LeaveConversation(sid, env.ConversationID)
	case domain.KindStartTyping:
		ctl.handleStartTyping(ctx, sid, env)
	case domain.KindStopTyping:
		ctl.Orch.StopTyping(ctx, sid, env.ConversationID)
	case domain.KindOffer, domain.KindAnswer, domain.KindCandidate:
		ctl.Orch.Signal(sid, env)
	case domain.KindCallEnd:
		ctl.Orch.Relay.RelayCallEnd(sid, env.TargetUserID, env.ConversationID)
	case domain.KindCallReject:
		ctl.Orch.Relay.RelayCallRejected(sid, env.TargetUserID, env.ConversationID)
	default:
		log.Warn().Str("module", "signal").Str("kind", env.Kind).Msg("unknown envelope kind")
		ctl.sendError(c, "unknown kind: "+env.Kind)
	}
}

func (ctl *SessionWSController) sendEnvelope(c *WsSignalConn, env domain.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEnvelope marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SessionWSController) sendError(c *WsSignalConn, reason string) {
	ctl.sendEnvelope(c, domain.Envelope{
		Kind:    domain.KindError,
		Payload: domain.MustPayload(domain.ErrorPayload{Reason: reason}),
	})
}

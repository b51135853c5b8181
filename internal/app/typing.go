package app

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
	"github.com/strelka-im/realtime/internal/store"
)

const typingKeyPrefix = "typing:"

func typingKey(cid domain.ConversationID, uid domain.UserID) string {
	return typingKeyPrefix + string(cid) + ":" + string(uid)
}

func typingConvPrefix(cid domain.ConversationID) string {
	return typingKeyPrefix + string(cid) + ":"
}

// TypingUser is one live typing record in a conversation.
type TypingUser struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

// Typing maintains short-lived per-conversation typing facts. A client that
// stops refreshing is indistinguishable from one that explicitly stopped
// once the TTL elapses; only the explicit path fires an immediate event.
type Typing struct {
	kv  store.KV
	fan *Fanout
	ttl time.Duration
}

func NewTyping(kv store.KV, fan *Fanout, ttl time.Duration) *Typing {
	return &Typing{kv: kv, fan: fan, ttl: ttl}
}

// StartTyping writes or refreshes the typing record and notifies everyone
// with the conversation open, except the originating session.
func (t *Typing) StartTyping(ctx context.Context, cid domain.ConversationID, uid domain.UserID, displayName string, origin core.SessionID) {
	if _, err := t.kv.SetTTL(ctx, typingKey(cid, uid), displayName, t.ttl); err != nil {
		log.Warn().Err(err).Str("module", "app.typing").Str("user", string(uid)).Msg("store unavailable, typing write skipped")
		return
	}
	t.fan.EmitToConversation(cid, domain.Envelope{
		Kind:           domain.KindUserTyping,
		ConversationID: cid,
		Payload:        domain.MustPayload(domain.TypingPayload{UserID: uid, DisplayName: displayName}),
	}, origin)
}

// StopTyping deletes the typing record immediately rather than waiting for
// expiry, and announces the stop when a record actually existed.
func (t *Typing) StopTyping(ctx context.Context, cid domain.ConversationID, uid domain.UserID, origin core.SessionID) {
	removed, err := t.kv.Del(ctx, typingKey(cid, uid))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.typing").Str("user", string(uid)).Msg("store unavailable, typing delete skipped")
		return
	}
	if !removed {
		return
	}
	t.fan.EmitToConversation(cid, domain.Envelope{
		Kind:           domain.KindUserStopTyping,
		ConversationID: cid,
		Payload:        domain.MustPayload(domain.TypingPayload{UserID: uid}),
	}, origin)
}

// ListTyping returns a snapshot of who is typing in the conversation.
func (t *Typing) ListTyping(ctx context.Context, cid domain.ConversationID) ([]TypingUser, error) {
	prefix := typingConvPrefix(cid)
	records, err := t.kv.ScanPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]TypingUser, 0, len(records))
	for key, name := range records {
		uid := strings.TrimPrefix(key, prefix)
		out = append(out, TypingUser{UserID: domain.UserID(uid), DisplayName: name})
	}
	return out, nil
}

package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
	"github.com/strelka-im/realtime/internal/store"
)

const (
	presenceKeyPrefix = "presence:user:"
	presenceOnlineSet = "presence:online"
	presenceValue     = "online"
)

func presenceKey(uid domain.UserID) string { return presenceKeyPrefix + string(uid) }

// Presence maintains online/offline facts in the shared ephemeral store.
// Records self-expire when heartbeats stop, which covers crashed clients and
// network partitions that never deliver a clean disconnect. Store failures
// degrade: presence becomes unavailable but session handlers keep running.
type Presence struct {
	kv  store.KV
	fan *Fanout
	ttl time.Duration
}

func NewPresence(kv store.KV, fan *Fanout, ttl time.Duration) *Presence {
	return &Presence{kv: kv, fan: fan, ttl: ttl}
}

// MarkOnline writes or refreshes the presence record. The online transition
// event fires only on a genuine offline-to-online edge, never on refresh.
// origin is the session that triggered the transition and is excluded from
// the announcement.
func (p *Presence) MarkOnline(ctx context.Context, uid domain.UserID, origin core.SessionID) {
	created, err := p.kv.SetTTL(ctx, presenceKey(uid), presenceValue, p.ttl)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(uid)).Msg("store unavailable, presence write skipped")
		return
	}
	if err := p.kv.SetAdd(ctx, presenceOnlineSet, string(uid)); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(uid)).Msg("online set add failed")
	}
	if !created {
		return
	}
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("user online")
	p.fan.BroadcastExcept(origin, domain.Envelope{
		Kind:    domain.KindOnline,
		Payload: domain.MustPayload(domain.PresencePayload{UserID: uid}),
	})
}

// Heartbeat refreshes the presence record. Equivalent to MarkOnline; the
// created flag from the store keeps a still-online refresh from re-emitting
// the transition event.
func (p *Presence) Heartbeat(ctx context.Context, uid domain.UserID, origin core.SessionID) {
	p.MarkOnline(ctx, uid, origin)
}

// MarkOffline deletes the presence record and announces the transition.
// Called on last-session disconnect; TTL expiry covers the unclean paths.
// The record may have expired moments before a clean disconnect; the online
// set membership still marks the user as announced-online, so the event
// fires when either was live. Otherwise the eager set removal here would
// also hide the expiry from the sweeper and the transition would be lost.
func (p *Presence) MarkOffline(ctx context.Context, uid domain.UserID) {
	removed, err := p.kv.Del(ctx, presenceKey(uid))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(uid)).Msg("store unavailable, presence delete skipped")
		return
	}
	wasListed, err := p.kv.SetRemove(ctx, presenceOnlineSet, string(uid))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(uid)).Msg("online set remove failed")
	}
	if !removed && !wasListed {
		return
	}
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Msg("user offline")
	p.fan.BroadcastExcept("", domain.Envelope{
		Kind:    domain.KindOffline,
		Payload: domain.MustPayload(domain.PresencePayload{UserID: uid}),
	})
}

// ListOnline returns the users with a live presence record. The online set
// is cross-checked against the TTL keys: an expired record is authoritative
// offline even when no explicit offline event fired, so stale set members
// are pruned on read.
func (p *Presence) ListOnline(ctx context.Context) ([]domain.UserID, error) {
	members, err := p.kv.SetMembers(ctx, presenceOnlineSet)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		_, live, err := p.kv.Get(ctx, presenceKey(domain.UserID(m)))
		if err != nil {
			return nil, err
		}
		if !live {
			if _, err := p.kv.SetRemove(ctx, presenceOnlineSet, m); err != nil {
				log.Warn().Err(err).Str("module", "app.presence").Str("user", m).Msg("prune failed")
			}
			continue
		}
		out = append(out, domain.UserID(m))
	}
	return out, nil
}

// sweep announces offline for users whose record expired without a clean
// disconnect, keeping TTL expiry equivalent to an explicit MarkOffline.
func (p *Presence) sweep(ctx context.Context) {
	members, err := p.kv.SetMembers(ctx, presenceOnlineSet)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Msg("sweep: store unavailable")
		return
	}
	for _, m := range members {
		_, live, err := p.kv.Get(ctx, presenceKey(domain.UserID(m)))
		if err != nil || live {
			continue
		}
		removed, err := p.kv.SetRemove(ctx, presenceOnlineSet, m)
		if err != nil || !removed {
			// A concurrent MarkOffline won the removal and announced already.
			continue
		}
		log.Info().Str("module", "app.presence").Str("user", m).Msg("presence expired, user offline")
		p.fan.BroadcastExcept("", domain.Envelope{
			Kind:    domain.KindOffline,
			Payload: domain.MustPayload(domain.PresencePayload{UserID: domain.UserID(m)}),
		})
	}
}

// RunSweeper reconciles expired presence records every interval until ctx
// is done.
func (p *Presence) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strelka-im/realtime/internal/domain"
)

func TestHeartbeatEmitsSingleOnlineTransition(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	observer := &fakeConn{}
	s.reg.Register(observer)

	s.pres.MarkOnline(ctx, "alice", "origin-sid")
	s.pres.Heartbeat(ctx, "alice", "origin-sid")
	s.pres.Heartbeat(ctx, "alice", "origin-sid")

	assert.Equal(t, 1, observer.countKind(t, domain.KindOnline),
		"refreshes must not re-emit the online transition")
}

func TestMarkOfflineEmitsOnceAndClearsRecord(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	observer := &fakeConn{}
	s.reg.Register(observer)

	s.pres.MarkOnline(ctx, "alice", "")
	s.pres.MarkOffline(ctx, "alice")
	s.pres.MarkOffline(ctx, "alice") // already offline, no second event

	assert.Equal(t, 1, observer.countKind(t, domain.KindOffline))

	online, err := s.pres.ListOnline(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestListOnlineTreatsExpiredKeyAsOffline(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	s.pres.MarkOnline(ctx, "alice", "")
	s.pres.MarkOnline(ctx, "bob", "")

	// Simulate TTL expiry: the record vanishes while the online set still
	// holds the member.
	_, err := s.kv.Del(ctx, presenceKey("alice"))
	require.NoError(t, err)

	online, err := s.pres.ListOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, online)

	// The stale member was pruned, not just hidden.
	members, err := s.kv.SetMembers(ctx, presenceOnlineSet)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

func TestSweepAnnouncesExpiredUsersOffline(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	observer := &fakeConn{}
	s.reg.Register(observer)

	s.pres.MarkOnline(ctx, "alice", "")
	_, err := s.kv.Del(ctx, presenceKey("alice"))
	require.NoError(t, err)

	s.pres.sweep(ctx)
	s.pres.sweep(ctx) // second pass finds nothing to announce

	assert.Equal(t, 1, observer.countKind(t, domain.KindOffline))
}

func TestMarkOfflineAfterExpiryStillAnnounces(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	observer := &fakeConn{}
	s.reg.Register(observer)

	s.pres.MarkOnline(ctx, "alice", "")

	// The record expired just before the clean disconnect. The set
	// membership is the last trace of the announced-online state; losing
	// it here must not swallow the offline event, because the sweeper can
	// never see the user again either.
	_, err := s.kv.Del(ctx, presenceKey("alice"))
	require.NoError(t, err)

	s.pres.MarkOffline(ctx, "alice")
	assert.Equal(t, 1, observer.countKind(t, domain.KindOffline))

	s.pres.sweep(ctx)
	s.pres.MarkOffline(ctx, "alice")
	assert.Equal(t, 1, observer.countKind(t, domain.KindOffline), "no duplicates afterwards")
}

func TestOnlineAfterExpiryIsATransitionAgain(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	observer := &fakeConn{}
	s.reg.Register(observer)

	s.pres.MarkOnline(ctx, "alice", "")
	_, err := s.kv.Del(ctx, presenceKey("alice"))
	require.NoError(t, err)

	s.pres.Heartbeat(ctx, "alice", "")

	assert.Equal(t, 2, observer.countKind(t, domain.KindOnline))
}

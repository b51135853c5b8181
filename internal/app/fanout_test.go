package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
)

func TestEmitToUserReachesAllSessions(t *testing.T) {
	s := newTestStack(t)
	c1, c2, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	sid1 := s.reg.Register(c1)
	sid2 := s.reg.Register(c2)
	sidO := s.reg.Register(other)
	s.reg.Authenticate(sid1, "alice")
	s.reg.Authenticate(sid2, "alice")
	s.reg.Authenticate(sidO, "bob")

	sent := s.fan.EmitToUser("alice", domain.Envelope{Kind: "test"})

	assert.Equal(t, 2, sent)
	assert.Len(t, c1.envelopes(t), 1)
	assert.Len(t, c2.envelopes(t), 1)
	assert.Empty(t, other.envelopes(t))
}

func TestEmitToUserWithNoSessionsDropsSilently(t *testing.T) {
	s := newTestStack(t)
	assert.Equal(t, 0, s.fan.EmitToUser("nobody", domain.Envelope{Kind: "test"}))
}

func TestEmitToConversationExcludesOrigin(t *testing.T) {
	s := newTestStack(t)
	origin, peer := &fakeConn{}, &fakeConn{}
	sidA := s.reg.Register(origin)
	sidB := s.reg.Register(peer)
	s.reg.Authenticate(sidA, "alice")
	s.reg.Authenticate(sidB, "bob")
	s.reg.JoinRoom(sidA, domain.ConversationRoom("c1"))
	s.reg.JoinRoom(sidB, domain.ConversationRoom("c1"))

	sent := s.fan.EmitToConversation("c1", domain.Envelope{Kind: domain.KindUserTyping}, sidA)

	assert.Equal(t, 1, sent)
	assert.Empty(t, origin.envelopes(t), "origin must not receive its own echo")
	assert.Len(t, peer.envelopes(t), 1)
}

func TestBroadcastExceptSkipsOneSession(t *testing.T) {
	s := newTestStack(t)
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	sid1 := s.reg.Register(c1)
	s.reg.Register(c2)
	s.reg.Register(c3)

	sent := s.fan.BroadcastExcept(sid1, domain.Envelope{Kind: domain.KindOnline})

	assert.Equal(t, 2, sent)
	assert.Empty(t, c1.envelopes(t))
}

func TestBackpressuredSessionIsKicked(t *testing.T) {
	s := newTestStack(t)
	slow := &fakeConn{full: true}
	sid := s.reg.Register(slow)
	s.reg.Authenticate(sid, "alice")

	var kicked []core.SessionID
	s.fan.OnBackpressure(func(k core.SessionID) { kicked = append(kicked, k) })

	s.fan.EmitToUser("alice", domain.Envelope{Kind: "test"})

	require.Len(t, kicked, 1)
	assert.Equal(t, sid, kicked[0])
}

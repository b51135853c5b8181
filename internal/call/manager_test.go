package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strelka-im/realtime/internal/domain"
)

func newTestManager(t *testing.T, rig *callRig, self domain.User) *Manager {
	t.Helper()
	m := NewManager(self, rig.sig, rig.media, rig.factory, Config{})
	t.Cleanup(m.Close)
	return m
}

// incomingRecorder captures incoming calls handed to the observer.
type incomingRecorder struct {
	mu    sync.Mutex
	calls []*IncomingCall
}

func (r *incomingRecorder) record(ic *IncomingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ic)
}

func (r *incomingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *incomingRecorder) last(t *testing.T) *IncomingCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls)
	return r.calls[len(r.calls)-1]
}

func offerFrom(from domain.UserID, conv domain.ConversationID, name string) domain.Envelope {
	return domain.Envelope{
		Kind:           domain.KindOffer,
		ConversationID: conv,
		FromUserID:     from,
		Payload:        domain.MustPayload(domain.OfferPayload{SDP: "v=0 remote-offer", DisplayName: name}),
	}
}

func TestManagerStartRejectsDuplicate(t *testing.T) {
	rig := newCallRig()
	m := newTestManager(t, rig, domain.User{ID: "alice", DisplayName: "Alice"})

	sess, err := m.Start(context.Background(), "conv-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, StateCalling, sess.State())

	_, err = m.Start(context.Background(), "conv-1", "bob")
	assert.ErrorIs(t, err, ErrCallInProgress)

	sess.Hangup()
	again, err := m.Start(context.Background(), "conv-1", "bob")
	require.NoError(t, err, "ended session frees the slot")
	assert.NotSame(t, sess, again)
}

func TestManagerRingsOnIncomingOffer(t *testing.T) {
	rig := newCallRig()
	m := newTestManager(t, rig, domain.User{ID: "bob", DisplayName: "Bob"})
	rec := &incomingRecorder{}
	m.OnIncoming(rec.record)

	rig.sig.deliver(offerFrom("alice", "conv-1", "Alice"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, testWait, 10*time.Millisecond)
	ic := rec.last(t)
	assert.Equal(t, domain.UserID("alice"), ic.RemoteUser)
	assert.Equal(t, "Alice", ic.DisplayName)
	assert.Equal(t, domain.ConversationID("conv-1"), ic.ConversationID)
	assert.Equal(t, StateRinging, ic.Session().State())

	require.NoError(t, ic.Accept())
	assert.Equal(t, 1, rig.sig.countKind(domain.KindAnswer))
}

func TestManagerRoutesAnswerAndCandidates(t *testing.T) {
	rig := newCallRig()
	m := newTestManager(t, rig, domain.User{ID: "alice", DisplayName: "Alice"})

	_, err := m.Start(context.Background(), "conv-1", "bob")
	require.NoError(t, err)

	rig.sig.deliver(domain.Envelope{
		Kind:       domain.KindAnswer,
		FromUserID: "bob",
		Payload:    domain.MustPayload(domain.AnswerPayload{SDP: "v=0 remote-answer"}),
	})
	rig.sig.deliver(domain.Envelope{
		Kind:       domain.KindCandidate,
		FromUserID: "bob",
		Payload:    domain.MustPayload(domain.CandidatePayload{Candidate: "routed-1"}),
	})

	require.Eventually(t, func() bool {
		applied := rig.peer(t, 0).candidates()
		return len(applied) == 1 && applied[0].Candidate == "routed-1"
	}, testWait, 10*time.Millisecond)

	// A candidate from a user with no session is dropped, not queued.
	rig.sig.deliver(domain.Envelope{
		Kind:       domain.KindCandidate,
		FromUserID: "mallory",
		Payload:    domain.MustPayload(domain.CandidatePayload{Candidate: "stray"}),
	})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rig.peer(t, 0).candidates(), 1)
}

func TestManagerRemoteTeardown(t *testing.T) {
	rig := newCallRig()
	m := newTestManager(t, rig, domain.User{ID: "alice", DisplayName: "Alice"})

	sess, err := m.Start(context.Background(), "conv-1", "bob")
	require.NoError(t, err)

	rig.sig.deliver(domain.Envelope{Kind: domain.KindCallEnded, FromUserID: "bob"})

	require.Eventually(t, func() bool {
		return sess.State() == StateEnded
	}, testWait, 10*time.Millisecond)
	assert.Zero(t, rig.sig.countKind(domain.KindCallEnd), "no echo back to the remote")

	_, live := m.SessionWith("bob")
	assert.False(t, live, "ended session leaves the table")
}

func TestGlareSmallerIDKeepsOutboundCall(t *testing.T) {
	rig := newCallRig()
	m := newTestManager(t, rig, domain.User{ID: "alice", DisplayName: "Alice"})
	rec := &incomingRecorder{}
	m.OnIncoming(rec.record)

	sess, err := m.Start(context.Background(), "conv-1", "bob")
	require.NoError(t, err)

	// bob dialed at the same time; alice < bob so our outbound call wins.
	rig.sig.deliver(offerFrom("bob", "conv-1", "Bob"))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StateCalling, sess.State())
	assert.Zero(t, rec.count(), "losing offer never surfaces")
	current, ok := m.SessionWith("bob")
	require.True(t, ok)
	assert.Same(t, sess, current)
}

func TestGlareLargerIDAbandonsAndRings(t *testing.T) {
	rig := newCallRig()
	m := newTestManager(t, rig, domain.User{ID: "bob", DisplayName: "Bob"})
	rec := &incomingRecorder{}
	m.OnIncoming(rec.record)

	outbound, err := m.Start(context.Background(), "conv-1", "alice")
	require.NoError(t, err)

	// alice dialed at the same time; alice < bob so her call wins and our
	// attempt is dropped without notifying her.
	rig.sig.deliver(offerFrom("alice", "conv-1", "Alice"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, testWait, 10*time.Millisecond)
	assert.Equal(t, StateEnded, outbound.State())
	assert.Zero(t, rig.sig.countKind(domain.KindCallEnd))
	assert.Zero(t, rig.sig.countKind(domain.KindCallReject))

	incoming := rec.last(t).Session()
	assert.Equal(t, StateRinging, incoming.State())
	current, ok := m.SessionWith("alice")
	require.True(t, ok)
	assert.Same(t, incoming, current)
}

func TestManagerCloseHangsUpLiveCalls(t *testing.T) {
	rig := newCallRig()
	m := NewManager(domain.User{ID: "alice", DisplayName: "Alice"}, rig.sig, rig.media, rig.factory, Config{})

	sess, err := m.Start(context.Background(), "conv-1", "bob")
	require.NoError(t, err)

	m.Close()
	assert.Equal(t, StateEnded, sess.State())
	assert.Equal(t, 1, rig.sig.countKind(domain.KindCallEnd))
}

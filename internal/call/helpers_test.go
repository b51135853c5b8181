package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/strelka-im/realtime/internal/domain"
)

const testWait = 2 * time.Second

// fakeSignaler records outbound envelopes and lets tests inject inbound
// ones through the subscription channel.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []domain.Envelope
	ch   chan domain.Envelope

	cancelOnce sync.Once
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{ch: make(chan domain.Envelope, 16)}
}

func (f *fakeSignaler) Send(env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSignaler) Subscribe() (<-chan domain.Envelope, func()) {
	return f.ch, func() {
		f.cancelOnce.Do(func() { close(f.ch) })
	}
}

func (f *fakeSignaler) deliver(env domain.Envelope) {
	f.ch <- env
}

func (f *fakeSignaler) sentOfKind(kind string) []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Envelope
	for _, env := range f.sent {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeSignaler) countKind(kind string) int {
	return len(f.sentOfKind(kind))
}

// fakePeer is a scriptable PeerConnection. Transport transitions are driven
// by the test through connect and lose.
type fakePeer struct {
	mu         sync.Mutex
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	tracks     int
	closed     bool
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localDesc = &desc
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, ci)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fireState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (p *fakePeer) connect()    { p.fireState(webrtc.PeerConnectionStateConnected) }
func (p *fakePeer) lose()       { p.fireState(webrtc.PeerConnectionStateDisconnected) }
func (p *fakePeer) candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(p.applied))
	copy(out, p.applied)
	return out
}

// fakeMedia hands out fakeMediaSessions and counts releases.
type fakeMedia struct {
	mu       sync.Mutex
	err      error
	sessions []*fakeMediaSession
}

type fakeMediaSession struct {
	mu       sync.Mutex
	muted    bool
	released int
}

func (f *fakeMedia) Acquire(context.Context) (MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sess := &fakeMediaSession{}
	f.sessions = append(f.sessions, sess)
	return sess, nil
}

func (f *fakeMedia) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeMedia) session(t *testing.T, i int) *fakeMediaSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		t.Fatalf("media session %d never acquired", i)
	}
	return f.sessions[i]
}

func (s *fakeMediaSession) Tracks() []webrtc.TrackLocal { return nil }

func (s *fakeMediaSession) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *fakeMediaSession) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *fakeMediaSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

func (s *fakeMediaSession) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// callRig bundles the fakes behind a session or manager under test.
type callRig struct {
	sig   *fakeSignaler
	media *fakeMedia

	mu    sync.Mutex
	peers []*fakePeer
}

func newCallRig() *callRig {
	return &callRig{sig: newFakeSignaler(), media: &fakeMedia{}}
}

func (r *callRig) factory() (PeerConnection, error) {
	p := &fakePeer{}
	r.mu.Lock()
	r.peers = append(r.peers, p)
	r.mu.Unlock()
	return p, nil
}

func (r *callRig) peer(t *testing.T, i int) *fakePeer {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.peers) {
		t.Fatalf("peer %d never constructed", i)
	}
	return r.peers[i]
}

// changeRecorder captures state transitions delivered to the observer.
type changeRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (c *changeRecorder) record(change StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
}

func (c *changeRecorder) all() []StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StateChange, len(c.changes))
	copy(out, c.changes)
	return out
}

func (c *changeRecorder) countState(s State) int {
	n := 0
	for _, ch := range c.all() {
		if ch.State == s {
			n++
		}
	}
	return n
}

func fastConfig() Config {
	return Config{
		RingTimeout:       50 * time.Millisecond,
		ReconnectWindow:   30 * time.Millisecond,
		ReconnectAttempts: 2,
	}
}

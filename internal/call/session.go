package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrCallEnded         = errors.New("call already ended")
)

// Session drives one call attempt between the local user and one remote
// user. It owns the peer connection, the acquired media, the candidate
// queue, and all timers. Media is released exactly once, during the
// transition into ended — consumers never stop tracks themselves.
type Session struct {
	convID     domain.ConversationID
	remote     domain.UserID
	remoteName string
	selfName   string
	dir        Direction
	cfg        Config
	sig        Signaler
	newPeer    PeerFactory
	media      MediaSource

	mu             sync.Mutex
	state          State
	peer           PeerConnection
	mediaSess      MediaSession
	pendingOffer   *webrtc.SessionDescription
	queued         []webrtc.ICECandidateInit
	remoteDescSet  bool
	ringTimer      *time.Timer
	reconnectTimer *time.Timer
	reconnectsLeft int
	connectedAt    time.Time
	onChange       func(StateChange)
	onEnded        func(*Session)
}

func newSession(convID domain.ConversationID, remote domain.UserID, remoteName, selfName string,
	dir Direction, sig Signaler, media MediaSource, newPeer PeerFactory, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		convID:         convID,
		remote:         remote,
		remoteName:     remoteName,
		selfName:       selfName,
		dir:            dir,
		cfg:            cfg,
		sig:            sig,
		media:          media,
		newPeer:        newPeer,
		reconnectsLeft: cfg.ReconnectAttempts,
	}
}

func (s *Session) ConversationID() domain.ConversationID { return s.convID }
func (s *Session) Remote() domain.UserID                 { return s.remote }
func (s *Session) RemoteName() string                    { return s.remoteName }
func (s *Session) Direction() Direction                  { return s.dir }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Duration reports how long the call has been connected. Zero before the
// transport first reported connected; reconnection recovery does not reset
// the counter.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectedAt.IsZero() {
		return 0
	}
	return time.Since(s.connectedAt)
}

// OnStateChange registers the transition observer. At most one observer is
// active; registering again replaces the previous one.
func (s *Session) OnStateChange(fn func(StateChange)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetMuted toggles the local audio without touching track lifecycle.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	media := s.mediaSess
	s.mu.Unlock()
	if media != nil {
		media.SetMuted(muted)
	}
}

// dial runs the outgoing flow: media, peer connection, offer, ring timer.
// Any failure lands the session in ended with the reason attached.
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.mu.Unlock()

	peer, err := s.setupMediaAndPeer(ctx)
	if err != nil {
		s.end(err.Error(), "")
		return err
	}

	offer, err := peer.CreateOffer()
	if err == nil {
		err = peer.SetLocalDescription(offer)
	}
	if err != nil {
		s.end("create offer: "+err.Error(), "")
		return err
	}

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrCallEnded
	}
	s.state = StateCalling
	s.armRingTimerLocked()
	cb := s.onChange
	s.mu.Unlock()

	s.sendSignal(domain.KindOffer, domain.MustPayload(domain.OfferPayload{
		SDP:         offer.SDP,
		DisplayName: s.selfName,
	}))
	log.Info().Str("module", "call").Str("remote", string(s.remote)).Msg("calling")
	notify(cb, StateChange{State: StateCalling})
	return nil
}

// ring runs the incoming flow: store the offer for Accept, start the
// no-answer timer.
func (s *Session) ring(offer webrtc.SessionDescription) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateRinging
	s.pendingOffer = &offer
	s.armRingTimerLocked()
	cb := s.onChange
	s.mu.Unlock()

	log.Info().Str("module", "call").Str("remote", string(s.remote)).Msg("ringing")
	notify(cb, StateChange{State: StateRinging})
}

// Accept answers a ringing call. The no-answer timer keeps running until
// the transport reports a genuine connected state: sending the answer is
// not the same as the handshake succeeding. The stored offer is consumed
// under the lock, so a racing second Accept is rejected instead of
// acquiring media again.
func (s *Session) Accept() error {
	s.mu.Lock()
	if s.state != StateRinging || s.pendingOffer == nil {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	offer := s.pendingOffer
	s.pendingOffer = nil
	s.mu.Unlock()

	peer, err := s.setupMediaAndPeer(context.Background())
	if err != nil {
		// The caller's machine still needs to terminate; a failed accept
		// behaves as a rejection towards the peer.
		s.end(err.Error(), domain.KindCallReject)
		return err
	}

	if err := peer.SetRemoteDescription(*offer); err != nil {
		s.end("apply offer: "+err.Error(), domain.KindCallReject)
		return err
	}
	s.flushQueuedCandidates()

	answer, err := peer.CreateAnswer()
	if err == nil {
		err = peer.SetLocalDescription(answer)
	}
	if err != nil {
		s.end("create answer: "+err.Error(), domain.KindCallReject)
		return err
	}

	s.sendSignal(domain.KindAnswer, domain.MustPayload(domain.AnswerPayload{SDP: answer.SDP}))
	log.Info().Str("module", "call").Str("remote", string(s.remote)).Msg("answer sent")
	return nil
}

// Reject declines a ringing call.
func (s *Session) Reject() {
	s.end("rejected", domain.KindCallReject)
}

// Hangup terminates the call locally. Safe to call repeatedly and
// concurrently with timers; the peer is notified exactly once.
func (s *Session) Hangup() {
	s.end("hung up", domain.KindCallEnd)
}

// setupMediaAndPeer acquires local media and builds the peer connection,
// wiring candidate and transport-state callbacks. Ownership of both moves
// to the session so end() can release them exactly once.
func (s *Session) setupMediaAndPeer(ctx context.Context) (PeerConnection, error) {
	media, err := s.media.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		media.Release()
		return nil, ErrCallEnded
	}
	s.mediaSess = media
	s.mu.Unlock()

	peer, err := s.newPeer()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		_ = peer.Close()
		return nil, ErrCallEnded
	}
	s.peer = peer
	s.mu.Unlock()

	peer.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		s.sendCandidate(ci)
	})
	peer.OnConnectionStateChange(s.onTransportState)

	for _, track := range media.Tracks() {
		if err := peer.AddTrack(track); err != nil {
			return nil, err
		}
	}
	return peer, nil
}

// handleAnswer applies the remote answer. Only meaningful while calling;
// anything else is a late or duplicate message and is dropped.
func (s *Session) handleAnswer(sdp string) {
	s.mu.Lock()
	if s.state != StateCalling || s.peer == nil {
		s.mu.Unlock()
		return
	}
	peer := s.peer
	s.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := peer.SetRemoteDescription(answer); err != nil {
		s.end("apply answer: "+err.Error(), domain.KindCallEnd)
		return
	}
	s.flushQueuedCandidates()
}

// handleCandidate applies a remote network candidate, or queues it when the
// remote description has not been applied yet. Early candidates are
// unusable but must not be dropped.
func (s *Session) handleCandidate(ci webrtc.ICECandidateInit) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	if !s.remoteDescSet || s.peer == nil {
		s.queued = append(s.queued, ci)
		s.mu.Unlock()
		return
	}
	peer := s.peer
	s.mu.Unlock()

	if err := peer.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("add candidate")
	}
}

// flushQueuedCandidates drains the queue in receipt order, exactly once,
// right after the remote description is applied. Later candidates apply
// directly.
func (s *Session) flushQueuedCandidates() {
	s.mu.Lock()
	s.remoteDescSet = true
	queued := s.queued
	s.queued = nil
	peer := s.peer
	s.mu.Unlock()

	for _, ci := range queued {
		if err := peer.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("flush candidate")
		}
	}
}

// handleRemoteEnd and handleRemoteReject terminate without notifying the
// peer back — it initiated the teardown.
func (s *Session) handleRemoteEnd()    { s.end("remote hung up", "") }
func (s *Session) handleRemoteReject() { s.end("remote rejected", "") }

// abandon quietly drops an outbound attempt that lost a glare tie-break.
// No peer notification: our offer is superseded by the incoming call.
func (s *Session) abandon() { s.end("superseded", "") }

// onTransportState reacts to the underlying transport. A connected report
// cancels the no-answer timer even when it races with timer expiry: the
// state guard makes the later arrival a no-op in terminal state.
func (s *Session) onTransportState(st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.becomeConnected()
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		s.onTransportLost()
	case webrtc.PeerConnectionStateClosed:
		s.end("transport closed", "")
	}
}

func (s *Session) becomeConnected() {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	alreadyConnected := s.state == StateConnected
	s.state = StateConnected
	if s.connectedAt.IsZero() {
		s.connectedAt = time.Now()
	}
	cb := s.onChange
	s.mu.Unlock()

	if alreadyConnected {
		// Reconnection recovery; no transition to report.
		return
	}
	log.Info().Str("module", "call").Str("remote", string(s.remote)).Msg("connected")
	notify(cb, StateChange{State: StateConnected})
}

// onTransportLost starts a reconnection grace window instead of ending the
// call outright. The session stays in connected during the grace period;
// a recovery cancels the timer, exhaustion ends the call.
func (s *Session) onTransportLost() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	if s.reconnectsLeft <= 0 {
		s.mu.Unlock()
		s.end("connection lost", "")
		return
	}
	s.reconnectsLeft--
	left := s.reconnectsLeft
	s.stopReconnectTimerLocked()
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectWindow, s.onReconnectTimeout)
	s.mu.Unlock()

	log.Warn().Str("module", "call").Str("remote", string(s.remote)).
		Int("attempts_left", left).Msg("transport lost, waiting for recovery")
}

func (s *Session) onReconnectTimeout() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	if s.reconnectsLeft > 0 {
		s.reconnectsLeft--
		s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectWindow, s.onReconnectTimeout)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.end("connection lost", "")
}

// onRingTimeout fires when nobody answered within the window: an unanswered
// outgoing call behaves as a local hang-up, an unanswered incoming call as
// a local rejection.
func (s *Session) onRingTimeout() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	switch st {
	case StateCalling:
		log.Info().Str("module", "call").Str("remote", string(s.remote)).Msg("no answer")
		s.end("no answer", domain.KindCallEnd)
	case StateRinging:
		log.Info().Str("module", "call").Str("remote", string(s.remote)).Msg("missed call")
		s.end("no answer", domain.KindCallReject)
	}
}

func (s *Session) armRingTimerLocked() {
	s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, s.onRingTimeout)
}

func (s *Session) stopTimersLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.stopReconnectTimerLocked()
}

func (s *Session) stopReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// end is the single transition into the terminal state. It is the only
// place media is released and the only place a teardown notification can be
// sent, so races between user actions, timers, and transport events resolve
// to exactly one of each.
func (s *Session) end(reason, notifyKind string) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.stopTimersLocked()
	media := s.mediaSess
	s.mediaSess = nil
	peer := s.peer
	s.peer = nil
	s.pendingOffer = nil
	s.queued = nil
	cb := s.onChange
	onEnded := s.onEnded
	s.mu.Unlock()

	if media != nil {
		media.Release()
	}
	if peer != nil {
		_ = peer.Close()
	}
	if notifyKind != "" {
		s.sendControl(notifyKind)
	}
	log.Info().Str("module", "call").Str("remote", string(s.remote)).
		Str("reason", reason).Msg("call ended")
	notify(cb, StateChange{State: StateEnded, Reason: reason})
	if onEnded != nil {
		onEnded(s)
	}
}

func (s *Session) sendCandidate(ci webrtc.ICECandidateInit) {
	s.mu.Lock()
	ended := s.state == StateEnded
	s.mu.Unlock()
	if ended {
		return
	}
	s.sendSignal(domain.KindCandidate, domain.MustPayload(domain.CandidatePayload{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}))
}

func (s *Session) sendSignal(kind string, payload json.RawMessage) {
	err := s.sig.Send(domain.Envelope{
		Kind:           kind,
		ConversationID: s.convID,
		TargetUserID:   s.remote,
		Payload:        payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Str("kind", kind).Msg("signal send")
	}
}

func (s *Session) sendControl(kind string) {
	s.sendSignal(kind, nil)
}

func notify(cb func(StateChange), change StateChange) {
	if cb != nil {
		cb(change)
	}
}

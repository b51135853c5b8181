package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/domain"
)

var ErrCallInProgress = errors.New("call with this user already in progress")

// Manager routes signaling traffic to per-remote sessions and owns their
// lifecycle. One session per remote user at a time; ended sessions drop out
// of the table via the session's terminal hook.
type Manager struct {
	self    domain.User
	sig     Signaler
	media   MediaSource
	newPeer PeerFactory
	cfg     Config

	mu         sync.Mutex
	sessions   map[domain.UserID]*Session
	onIncoming func(*IncomingCall)

	cancelSub func()
	done      chan struct{}
}

func NewManager(self domain.User, sig Signaler, media MediaSource, newPeer PeerFactory, cfg Config) *Manager {
	m := &Manager{
		self:     self,
		sig:      sig,
		media:    media,
		newPeer:  newPeer,
		cfg:      cfg.withDefaults(),
		sessions: make(map[domain.UserID]*Session),
		done:     make(chan struct{}),
	}
	ch, cancel := sig.Subscribe()
	m.cancelSub = cancel
	go m.dispatchLoop(ch)
	return m
}

// OnIncoming registers the incoming-call observer. At most one observer is
// active; registering again replaces the previous one.
func (m *Manager) OnIncoming(fn func(*IncomingCall)) {
	m.mu.Lock()
	m.onIncoming = fn
	m.mu.Unlock()
}

// Start dials remote in the given conversation. At most one live call per
// remote user.
func (m *Manager) Start(ctx context.Context, convID domain.ConversationID, remote domain.UserID) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[remote]; ok && existing.State() != StateEnded {
		m.mu.Unlock()
		return nil, ErrCallInProgress
	}
	sess := newSession(convID, remote, "", m.self.DisplayName, DirectionOutgoing,
		m.sig, m.media, m.newPeer, m.cfg)
	sess.onEnded = m.remove
	m.sessions[remote] = sess
	m.mu.Unlock()

	if err := sess.dial(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// SessionWith returns the live session with the given user, if any.
func (m *Manager) SessionWith(remote domain.UserID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[remote]
	return sess, ok
}

// Close hangs up every live call and stops the dispatch loop.
func (m *Manager) Close() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		live = append(live, sess)
	}
	m.mu.Unlock()

	for _, sess := range live {
		sess.Hangup()
	}
	m.cancelSub()
	<-m.done
}

func (m *Manager) dispatchLoop(ch <-chan domain.Envelope) {
	defer close(m.done)
	for env := range ch {
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env domain.Envelope) {
	switch env.Kind {
	case domain.KindOffer:
		m.handleOffer(env)
	case domain.KindAnswer:
		var p domain.AnswerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("bad answer payload")
			return
		}
		if sess, ok := m.SessionWith(env.FromUserID); ok {
			sess.handleAnswer(p.SDP)
		}
	case domain.KindCandidate:
		var p domain.CandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("bad candidate payload")
			return
		}
		if sess, ok := m.SessionWith(env.FromUserID); ok {
			sess.handleCandidate(webrtc.ICECandidateInit{
				Candidate:     p.Candidate,
				SDPMid:        p.SDPMid,
				SDPMLineIndex: p.SDPMLineIndex,
			})
		}
	case domain.KindCallEnded:
		if sess, ok := m.SessionWith(env.FromUserID); ok {
			sess.handleRemoteEnd()
		}
	case domain.KindCallRejected:
		if sess, ok := m.SessionWith(env.FromUserID); ok {
			sess.handleRemoteReject()
		}
	default:
		log.Debug().Str("module", "call").Str("kind", env.Kind).Msg("ignoring envelope")
	}
}

// handleOffer creates a ringing session for the caller. When both sides
// dialed each other at the same time, the side with the smaller user ID
// keeps its outbound call: the smaller side ignores the incoming offer, the
// larger side quietly abandons its attempt and rings instead. Both peers
// converge on the same single call.
func (m *Manager) handleOffer(env domain.Envelope) {
	from := env.FromUserID
	var p domain.OfferPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad offer payload")
		return
	}

	m.mu.Lock()
	if existing, ok := m.sessions[from]; ok && existing.State() != StateEnded {
		if existing.State() == StateCalling && m.self.ID > from {
			m.mu.Unlock()
			existing.abandon()
			m.mu.Lock()
		} else {
			m.mu.Unlock()
			log.Debug().Str("module", "call").Str("remote", string(from)).
				Msg("offer ignored, call already in progress")
			return
		}
	}
	sess := newSession(env.ConversationID, from, p.DisplayName, m.self.DisplayName,
		DirectionIncoming, m.sig, m.media, m.newPeer, m.cfg)
	sess.onEnded = m.remove
	m.sessions[from] = sess
	onIncoming := m.onIncoming
	m.mu.Unlock()

	sess.ring(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if onIncoming != nil {
		onIncoming(&IncomingCall{
			ConversationID: env.ConversationID,
			RemoteUser:     from,
			DisplayName:    p.DisplayName,
			session:        sess,
		})
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if m.sessions[s.remote] == s {
		delete(m.sessions, s.remote)
	}
	m.mu.Unlock()
}

// Package call drives a peer-to-peer call through its lifecycle on the
// client side. It is deliberately standalone: coupling to the session layer
// is via the Signaler interface only, and the peer connection and media
// capture sit behind small interfaces so the state machine is testable
// without devices or a network.
package call

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/strelka-im/realtime/internal/domain"
)

// Signaler is the only surface the call package needs from the session
// layer: fire-and-forget sends towards a remote user, and a subscription to
// the envelopes addressed to us.
type Signaler interface {
	Send(env domain.Envelope) error
	Subscribe() (ch <-chan domain.Envelope, cancel func())
}

// PeerConnection abstracts the WebRTC peer connection underneath a session.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	Close() error
}

// PeerFactory builds a fresh PeerConnection per call attempt.
type PeerFactory func() (PeerConnection, error)

// State is the lifecycle position of one call session. Ended is terminal;
// starting over means constructing a new session.
type State int32

const (
	StateIdle State = iota
	StateCalling
	StateRinging
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// StateChange is delivered to the registered observer on every transition.
type StateChange struct {
	State  State
	Reason string
}

// Config carries the session timers. Zero values fall back to the defaults
// below.
type Config struct {
	RingTimeout       time.Duration
	ReconnectWindow   time.Duration
	ReconnectAttempts int
}

const (
	DefaultRingTimeout       = 60 * time.Second
	DefaultReconnectWindow   = 5 * time.Second
	DefaultReconnectAttempts = 3
)

func (c Config) withDefaults() Config {
	if c.RingTimeout <= 0 {
		c.RingTimeout = DefaultRingTimeout
	}
	if c.ReconnectWindow <= 0 {
		c.ReconnectWindow = DefaultReconnectWindow
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	return c
}

// IncomingCall surfaces a ringing call to the consuming UI. Accept and
// Reject are the only valid responses; both are single-shot.
type IncomingCall struct {
	ConversationID domain.ConversationID
	RemoteUser     domain.UserID
	DisplayName    string

	session *Session
}

func (ic *IncomingCall) Accept() error { return ic.session.Accept() }
func (ic *IncomingCall) Reject()       { ic.session.Reject() }

// Session returns the underlying session, e.g. to register a state observer
// before accepting.
func (ic *IncomingCall) Session() *Session { return ic.session }

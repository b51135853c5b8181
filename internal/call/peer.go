package call

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// pionPeer adapts *webrtc.PeerConnection to the PeerConnection interface.
type pionPeer struct {
	pc *webrtc.PeerConnection
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// NewPeerFactory builds PeerConnections from a shared API (media engine,
// interceptors) and configuration. api may be nil to use the pion defaults.
func NewPeerFactory(api *webrtc.API, cfg webrtc.Configuration) PeerFactory {
	return func() (PeerConnection, error) {
		var (
			pc  *webrtc.PeerConnection
			err error
		)
		if api != nil {
			pc, err = api.NewPeerConnection(cfg)
		} else {
			pc, err = webrtc.NewPeerConnection(cfg)
		}
		if err != nil {
			return nil, err
		}
		return &pionPeer{pc: pc}, nil
	}
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

// ensureTransceivers adds a recvonly audio transceiver when no local track
// was attached, so the SDP always carries a valid m-line with ICE
// credentials.
func (p *pionPeer) ensureTransceivers() {
	if len(p.pc.GetSenders()) > 0 {
		return
	}
	if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Warn().Err(err).Str("module", "call.peer").Msg("add recvonly transceiver")
	}
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.ensureTransceivers()
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.ensureTransceivers()
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

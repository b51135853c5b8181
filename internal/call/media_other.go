//go:build !linux || !cgo

package call

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// NewDeviceStack builds a receive-only stack on platforms without a
// mediadevices capture driver. Offers and answers still carry valid audio
// m-lines via the recvonly transceiver the peer factory adds when no local
// track is present.
func NewDeviceStack() (MediaSource, PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return &recvOnlySource{}, NewPeerFactory(api, DefaultWebRTCConfig()), nil
}

type recvOnlySource struct{}

func (recvOnlySource) Acquire(_ context.Context) (MediaSession, error) {
	return &recvOnlySession{}, nil
}

type recvOnlySession struct {
	mu    sync.Mutex
	muted bool
}

func (s *recvOnlySession) Tracks() []webrtc.TrackLocal { return nil }

func (s *recvOnlySession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *recvOnlySession) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *recvOnlySession) Release() {}

//go:build linux && cgo

package call

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// NewDeviceStack builds a microphone-backed MediaSource together with a
// PeerFactory that shares its codec configuration. The two must be built as
// a pair: tracks from mediadevices only negotiate against a media engine
// populated by the same codec selector.
func NewDeviceStack() (MediaSource, PeerFactory, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}
	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	src := &deviceSource{selector: selector}
	return src, NewPeerFactory(api, DefaultWebRTCConfig()), nil
}

type deviceSource struct {
	selector *mediadevices.CodecSelector
}

func (d *deviceSource) Acquire(_ context.Context) (MediaSession, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, classifyMediaError(err)
	}
	tracks := stream.GetTracks()
	log.Info().Str("module", "call.media").Int("tracks", len(tracks)).Msg("local media captured")
	return &deviceSession{tracks: tracks}, nil
}

// classifyMediaError maps driver failures onto the package sentinels so the
// UI gets an actionable reason.
func classifyMediaError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	default:
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
}

type deviceSession struct {
	tracks []mediadevices.Track

	mu    sync.Mutex
	muted bool
	done  bool
}

func (s *deviceSession) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *deviceSession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *deviceSession) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *deviceSession) Release() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	for _, t := range s.tracks {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "call.media").Msg("track close")
		}
	}
}

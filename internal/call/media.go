package call

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// Media acquisition errors. These are surfaced to the UI with the call
// already transitioned to ended — never as a half-initialized session.
var (
	ErrNoDevice         = errors.New("no capture device available")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceBusy       = errors.New("capture device in use")
)

// MediaSource acquires local capture for one call attempt.
type MediaSource interface {
	Acquire(ctx context.Context) (MediaSession, error)
}

// MediaSession is acquired media for the duration of one call. Release is
// called exactly once by the session, during the transition into ended;
// consumers must never stop tracks themselves.
type MediaSession interface {
	Tracks() []webrtc.TrackLocal
	SetMuted(muted bool)
	Muted() bool
	Release()
}

package core

import "errors"

// Frame is an encoded wire message ready for one recipient session.
type Frame []byte

type SessionID string

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts a session's transport endpoint.
// Owned by the adapter; the adapter must Close() it. TrySend never blocks:
// it queues the frame on the connection's send buffer or fails with
// ErrBackpressure. The buffer preserves per-recipient delivery order.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats and backpressured sessions so the
// caller can apply a policy (kick, drop) without the room blocking.
type PublishResult struct {
	SentTo  int
	Dropped []SessionID
}

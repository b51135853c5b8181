// Package store provides the shared ephemeral state store used for presence
// and typing facts. Keys self-expire; a missing key is authoritative negative
// state, never an error. All writes are idempotent upserts so concurrent
// server instances can repeat them safely without coordination.
package store

import (
	"context"
	"time"
)

// KV is a TTL-capable key/value store with unordered string sets.
type KV interface {
	// SetTTL upserts key with value and ttl. It reports created=true only
	// when the key did not exist before the call, which lets callers tell a
	// genuine state transition from a refresh.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) (created bool, err error)

	// Get returns the value for key. ok is false when the key is absent or
	// has expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Del removes key. removed is false when the key was already absent.
	Del(ctx context.Context, key string) (removed bool, err error)

	// SetAdd / SetRemove / SetMembers operate on an unordered string set.
	// SetRemove reports whether the member was present, which lets callers
	// tell a genuine state transition from a repeated removal.
	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) (removed bool, err error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ScanPrefix returns all live keys with the given prefix and their values.
	ScanPrefix(ctx context.Context, prefix string) (map[string]string, error)
}

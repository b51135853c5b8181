package app

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/domain"
	"github.com/strelka-im/realtime/internal/store"
)

// fakeConn records frames in delivery order.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) envelopes(t *testing.T) []domain.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) countKind(t *testing.T, kind string) int {
	t.Helper()
	n := 0
	for _, env := range c.envelopes(t) {
		if env.Kind == kind {
			n++
		}
	}
	return n
}

// staticAuth verifies tokens of the form "tok-<userID>".
type staticAuth struct{}

func (staticAuth) Verify(token string) (domain.User, error) {
	var id string
	if _, err := fmt.Sscanf(token, "tok-%s", &id); err != nil {
		return domain.User{}, fmt.Errorf("bad token %q", token)
	}
	return domain.User{ID: domain.UserID(id), DisplayName: "User " + id}, nil
}

type testStack struct {
	kv    *store.Memory
	hub   *core.Hub
	reg   *Registry
	fan   *Fanout
	pres  *Presence
	typ   *Typing
	relay *Relay
	orch  *Orchestrator
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	kv := store.NewMemory()
	hub := core.NewHub()
	reg := NewRegistry(hub)
	fan := NewFanout(reg, hub)
	pres := NewPresence(kv, fan, 300*time.Second)
	typ := NewTyping(kv, fan, 10*time.Second)
	relay := NewRelay(reg, fan)
	orch := NewOrchestrator(reg, fan, pres, typ, relay, staticAuth{}, nil)
	return &testStack{kv: kv, hub: hub, reg: reg, fan: fan, pres: pres, typ: typ, relay: relay, orch: orch}
}

package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process KV for single-node deployments and tests. Expiry is
// enforced lazily on every read; a janitor can additionally sweep in the
// background so idle keys do not accumulate.
type Memory struct {
	mu   sync.Mutex
	keys map[string]memEntry
	sets map[string]map[string]struct{}
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		keys: make(map[string]memEntry),
		sets: make(map[string]map[string]struct{}),
		now:  time.Now,
	}
}

// live reports whether key exists and has not expired, pruning it if it has.
// Callers must hold mu.
func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.keys[key]
	if !ok {
		return memEntry{}, false
	}
	if m.now().After(e.expiresAt) {
		delete(m.keys, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) SetTTL(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.live(key)
	m.keys[key] = memEntry{value: value, expiresAt: m.now().Add(ttl)}
	return !existed, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	delete(m.keys, key)
	return ok, nil
}

func (m *Memory) SetAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (m *Memory) SetRemove(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return false, nil
	}
	if _, present := s[member]; !present {
		return false, nil
	}
	delete(s, member)
	if len(s) == 0 {
		delete(m.sets, key)
	}
	return true, nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sets[key]
	out := make([]string, 0, len(s))
	for member := range s {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) ScanPrefix(_ context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for key := range m.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e, ok := m.live(key); ok {
			out[key] = e.value
		}
	}
	return out, nil
}

// RunJanitor prunes expired keys every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			for key := range m.keys {
				m.live(key)
			}
			m.mu.Unlock()
		}
	}
}

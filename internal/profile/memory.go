package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. It copies profiles on the way in and
// out so callers can't mutate stored state, and is safe for concurrent use.
// Suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

// Lookup returns a copy of the user's profile, or (nil, nil) if absent.
func (m *MemoryStore) Lookup(_ context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return clone(p), nil
}

// Save stores a copy of the profile, replacing any previous one.
func (m *MemoryStore) Save(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[p.UserID] = clone(p)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func clone(p *Profile) *Profile {
	out := &Profile{
		UserID:              p.UserID,
		ExperimentBucketMap: make(map[string]Decision, len(p.ExperimentBucketMap)),
	}
	for k, v := range p.ExperimentBucketMap {
		out.ExperimentBucketMap[k] = v
	}
	return out
}

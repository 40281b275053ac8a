// Package snapshot holds the process's current configuration index and swaps
// it atomically on datafile reload. Decision calls read the snapshot without
// synchronization; a reload always installs a wholly new index, never a
// mutation of the one being served.
package snapshot

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/variantlabs/decider/internal/project"
)

// Holder is an atomic reference to the active configuration index together
// with the fingerprint of the datafile bytes it was built from.
type Holder struct {
	current atomic.Pointer[project.Config]
	fp      atomic.Uint64

	mu   sync.Mutex
	subs map[chan string]struct{}
}

// NewHolder returns an empty holder. Load returns nil until the first Update.
func NewHolder() *Holder {
	return &Holder{subs: make(map[chan string]struct{})}
}

// Load returns the active configuration index, or nil if none was installed.
func (h *Holder) Load() *project.Config {
	return h.current.Load()
}

// Fingerprint returns the fingerprint of the raw datafile behind the active
// index.
func (h *Holder) Fingerprint() uint64 {
	return h.fp.Load()
}

// Update installs a new configuration index and notifies subscribers with
// its revision.
func (h *Holder) Update(cfg *project.Config, fingerprint uint64) {
	h.current.Store(cfg)
	h.fp.Store(fingerprint)
	h.publish(cfg.Revision())
}

// Subscribe registers a listener for reload notifications and returns its
// channel plus an unsubscribe func. The channel carries the new revision.
// Unsubscribing more than once is a no-op.
func (h *Holder) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, unsub
}

// publish notifies all listeners without blocking; slow listeners miss the
// update instead of stalling the reload.
func (h *Holder) publish(revision string) {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- revision:
		default:
		}
	}
	h.mu.Unlock()
}

// Fingerprint hashes raw datafile bytes. Reloads whose fingerprint matches
// the active one are skipped without rebuilding the index.
func Fingerprint(raw []byte) uint64 {
	return xxhash.Sum64(raw)
}

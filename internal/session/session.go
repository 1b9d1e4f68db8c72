// Package session tracks per-user dialog sessions: an id and a monotonically
// increasing turn counter, both expiring after a period of inactivity.
// Sessions are disposable; losing one only restarts the turn counter.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session is the current dialog session of a user.
type Session struct {
	ID     string
	UserID int64
	Turn   int
}

// Store creates and advances sessions.
type Store interface {
	// Touch returns the user's session after advancing its turn, creating
	// the session when absent or expired, and refreshes its TTL.
	Touch(ctx context.Context, userID int64) (Session, error)
	// Reset discards the user's session.
	Reset(ctx context.Context, userID int64) error
}

func newID() string { return ulid.Make().String() }

// ----------------------------------------------------------------------------
// In-memory

type memEntry struct {
	sess    Session
	expires time.Time
}

// MemoryStore keeps sessions in a map. Expired entries are dropped lazily on
// access and swept every sweepEvery touches.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[int64]*memEntry
	touches int
}

const sweepEvery = 256

// NewMemoryStore returns an empty store with the given idle TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[int64]*memEntry)}
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, userID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.touches++
	if m.touches%sweepEvery == 0 {
		for id, e := range m.entries {
			if !now.Before(e.expires) {
				delete(m.entries, id)
			}
		}
	}

	e, ok := m.entries[userID]
	if !ok || !now.Before(e.expires) {
		e = &memEntry{sess: Session{ID: newID(), UserID: userID}}
		m.entries[userID] = e
	}
	e.sess.Turn++
	e.expires = now.Add(m.ttl)
	return e.sess, nil
}

// Reset implements Store.
func (m *MemoryStore) Reset(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live and not-yet-swept entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

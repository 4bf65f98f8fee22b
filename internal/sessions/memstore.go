package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

// MemoryStore is an in-memory Store for running without a database.
// Sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]*Session)}
}

// FindOpenSession returns the most recently seen session for the
// aircraft and channel, or nil.
func (s *MemoryStore) FindOpenSession(ctx context.Context, icao string, source adsb.Source, since time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Session
	for _, sess := range s.sessions {
		if sess.ICAO != icao || sess.Source != source || sess.LastSeen.Before(since) {
			continue
		}
		if best == nil || sess.LastSeen.After(best.LastSeen) {
			best = sess
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

// CreateSession stores a new session and assigns its id.
func (s *MemoryStore) CreateSession(ctx context.Context, sess *Session) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	copied := *sess
	copied.ID = s.nextID
	s.sessions[copied.ID] = &copied
	return copied.ID, nil
}

// UpdateSession overwrites a stored session.
func (s *MemoryStore) UpdateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[copied.ID] = &copied
	return nil
}

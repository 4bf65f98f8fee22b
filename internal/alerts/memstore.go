package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for running without a database.
// Rules and history do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	rules   map[int64]*Rule
	history []*HistoryEntry
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[int64]*Rule)}
}

func (s *MemoryStore) ListAlertRules(ctx context.Context) ([]*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) CreateAlertRule(ctx context.Context, r *Rule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	copied := *r
	copied.ID = s.nextID
	s.rules[copied.ID] = &copied
	return copied.ID, nil
}

func (s *MemoryStore) UpdateAlertRule(ctx context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return fmt.Errorf("alert rule %d not found", r.ID)
	}
	copied := *r
	s.rules[r.ID] = &copied
	return nil
}

func (s *MemoryStore) DeleteAlertRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("alert rule %d not found", id)
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) TouchAlertRule(ctx context.Context, id int64, triggeredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rules[id]; ok {
		t := triggeredAt
		r.LastTriggered = &t
	}
	return nil
}

func (s *MemoryStore) AppendAlertHistory(ctx context.Context, entry *HistoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	copied.ID = int64(len(s.history) + 1)
	s.history = append(s.history, &copied)
	return copied.ID, nil
}

// ListAlertHistory returns up to limit entries, newest first.
func (s *MemoryStore) ListAlertHistory(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*HistoryEntry, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *s.history[i]
		out = append(out, &copied)
	}
	return out, nil
}

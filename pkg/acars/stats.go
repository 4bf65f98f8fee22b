package acars

import (
	"fmt"
	"sync"
	"time"
)

// ringCapacity is the default size of the recent-messages ring.
const ringCapacity = 1000

// Stats tracks per-source ingest counters, per-frequency message counts,
// and a rolling last-hour timestamp list. All methods are safe for
// concurrent use.
type Stats struct {
	mu          sync.Mutex
	total       map[Source]int64
	errors      map[Source]int64
	duplicates  map[Source]int64
	frequencies map[string]int64
	lastHour    []time.Time
}

// NewStats creates an empty statistics tracker.
func NewStats() *Stats {
	return &Stats{
		total:       make(map[Source]int64),
		errors:      make(map[Source]int64),
		duplicates:  make(map[Source]int64),
		frequencies: make(map[string]int64),
	}
}

// RecordMessage counts one accepted message.
func (s *Stats) RecordMessage(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[msg.Source]++
	if msg.FrequencyMHz > 0 {
		s.frequencies[fmt.Sprintf("%.3f", msg.FrequencyMHz)]++
	}
	s.lastHour = append(s.lastHour, msg.Timestamp)
}

// RecordError counts one malformed datagram.
func (s *Stats) RecordError(source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[source]++
}

// RecordDuplicate counts one deduplicated message.
func (s *Stats) RecordDuplicate(source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates[source]++
}

// SourceCounts holds the per-source counter triple.
type SourceCounts struct {
	Total      int64 `json:"total"`
	Errors     int64 `json:"errors"`
	Duplicates int64 `json:"duplicates"`
}

// Snapshot is a point-in-time view of the statistics surface.
type Snapshot struct {
	Sources     map[Source]SourceCounts `json:"sources"`
	Frequencies map[string]int64        `json:"frequencies"`
	LastHour    int                     `json:"last_hour"`
}

// Snapshot returns current counters. The rolling last-hour list is pruned
// on read.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	kept := s.lastHour[:0]
	for _, ts := range s.lastHour {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.lastHour = kept

	snap := Snapshot{
		Sources:     make(map[Source]SourceCounts),
		Frequencies: make(map[string]int64, len(s.frequencies)),
		LastHour:    len(s.lastHour),
	}
	for src := range s.total {
		snap.Sources[src] = SourceCounts{
			Total:      s.total[src],
			Errors:     s.errors[src],
			Duplicates: s.duplicates[src],
		}
	}
	for src := range s.errors {
		if _, ok := snap.Sources[src]; !ok {
			snap.Sources[src] = SourceCounts{Errors: s.errors[src]}
		}
	}
	for freq, n := range s.frequencies {
		snap.Frequencies[freq] = n
	}
	return snap
}

// Duplicates returns the duplicate counter for one source.
func (s *Stats) Duplicates(source Source) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates[source]
}

// Ring is a fixed-capacity buffer of recent messages, read newest-first.
type Ring struct {
	mu       sync.Mutex
	messages []*Message
	next     int
	full     bool
	capacity int
}

// NewRing creates a ring with the given capacity (default when cap <= 0).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = ringCapacity
	}
	return &Ring{
		messages: make([]*Message, capacity),
		capacity: capacity,
	}
}

// Push appends a message, evicting the oldest when full.
func (r *Ring) Push(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages[r.next] = msg
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit messages, newest first. limit <= 0 returns
// everything buffered.
func (r *Ring) Recent(limit int) []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = r.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*Message, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + r.capacity) % r.capacity
		out = append(out, r.messages[idx])
	}
	return out
}

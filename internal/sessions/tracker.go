// Package sessions groups aircraft sightings into continuity sessions:
// consecutive sightings of one ICAO on one radio channel belong to the
// same session while the gap between them stays under the continuity
// window.
package sessions

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/monitoring"
	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

const (
	// ContinuityWindow is the maximum gap that re-attaches a sighting to
	// an open session.
	ContinuityWindow = 5 * time.Minute

	// cacheMaxAge is how long an unused cache entry survives.
	cacheMaxAge = 10 * time.Minute

	// sweepInterval is how often stale cache entries are dropped.
	sweepInterval = 5 * time.Minute
)

// Session aggregates the sightings of one ICAO within a continuity window.
// Min aggregates only ever decrease during a session's life, max
// aggregates only ever increase.
type Session struct {
	ID             int64        `json:"id"`
	ICAO           string       `json:"icao"`
	Callsign       string       `json:"callsign"`
	Source         adsb.Source  `json:"source"`
	FirstSeen      time.Time    `json:"first_seen"`
	LastSeen       time.Time    `json:"last_seen"`
	TotalPositions int64        `json:"total_positions"`
	MinAltitude    *float64     `json:"min_altitude,omitempty"`
	MaxAltitude    *float64     `json:"max_altitude,omitempty"`
	MinDistanceNM  *float64     `json:"min_distance_nm,omitempty"`
	MaxDistanceNM  *float64     `json:"max_distance_nm,omitempty"`
	MinSignal      *float64     `json:"min_signal,omitempty"`
	MaxSignal      *float64     `json:"max_signal,omitempty"`
	MaxVerticalFpm float64      `json:"max_vertical_fpm"`
	Military       bool         `json:"military"`
	AircraftType   string       `json:"aircraft_type,omitempty"`
}

// Store is the persistence surface the tracker needs.
type Store interface {
	// FindOpenSession returns the session for this ICAO/source whose
	// last_seen is at or after since, or nil when none is open.
	FindOpenSession(ctx context.Context, icao string, source adsb.Source, since time.Time) (*Session, error)

	// CreateSession inserts a new session and returns its durable id.
	CreateSession(ctx context.Context, s *Session) (int64, error)

	// UpdateSession persists the session's current aggregates.
	UpdateSession(ctx context.Context, s *Session) error
}

type cacheEntry struct {
	session  *Session
	lastUsed time.Time
}

// Tracker maintains the open-session mapping (ICAO, source) -> session.
type Tracker struct {
	mu    sync.Mutex
	store Store
	cache map[string]*cacheEntry
}

// NewTracker creates a tracker backed by the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store: store,
		cache: make(map[string]*cacheEntry),
	}
}

func cacheKey(icao string, source adsb.Source) string {
	return icao + "|" + string(source)
}

// Track attaches one observation to its session, opening a new one when
// the continuity window has lapsed. Returns the session id and whether a
// new session was opened this call.
func (t *Tracker) Track(ctx context.Context, obs *adsb.Observation, distanceNM *float64) (int64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := obs.SeenAt
	key := cacheKey(obs.ICAO, obs.Source)

	if entry, ok := t.cache[key]; ok {
		if now.Sub(entry.session.LastSeen) <= ContinuityWindow {
			applyObservation(entry.session, obs, distanceNM)
			entry.lastUsed = now
			if err := t.store.UpdateSession(ctx, entry.session); err != nil {
				monitoring.StoreErrors.WithLabelValues("session_update").Inc()
				return entry.session.ID, false, fmt.Errorf("failed to update session: %w", err)
			}
			return entry.session.ID, false, nil
		}
		// Continuity lapsed; the cached session is closed.
		delete(t.cache, key)
	}

	// Adopt any open session from storage before creating a new one, so
	// a process restart does not fragment sessions.
	existing, err := t.store.FindOpenSession(ctx, obs.ICAO, obs.Source, now.Add(-ContinuityWindow))
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up open session: %w", err)
	}
	if existing != nil {
		applyObservation(existing, obs, distanceNM)
		t.cache[key] = &cacheEntry{session: existing, lastUsed: now}
		if err := t.store.UpdateSession(ctx, existing); err != nil {
			monitoring.StoreErrors.WithLabelValues("session_update").Inc()
			return existing.ID, false, fmt.Errorf("failed to update session: %w", err)
		}
		return existing.ID, false, nil
	}

	session := newSession(obs, distanceNM)
	id, err := t.store.CreateSession(ctx, session)
	if err != nil {
		monitoring.StoreErrors.WithLabelValues("session_create").Inc()
		return 0, false, fmt.Errorf("failed to create session: %w", err)
	}
	session.ID = id
	t.cache[key] = &cacheEntry{session: session, lastUsed: now}
	monitoring.Debugf("session_open icao=%s source=%s id=%d", obs.ICAO, obs.Source, id)

	return id, true, nil
}

// newSession builds a session seeded with one observation.
func newSession(obs *adsb.Observation, distanceNM *float64) *Session {
	s := &Session{
		ICAO:         obs.ICAO,
		Callsign:     obs.Callsign,
		Source:       obs.Source,
		FirstSeen:    obs.SeenAt,
		LastSeen:     obs.SeenAt,
		Military:     obs.Military,
		AircraftType: obs.Type,
	}
	applyAggregates(s, obs, distanceNM)
	s.TotalPositions = 1
	return s
}

// applyObservation folds one observation into an open session.
func applyObservation(s *Session, obs *adsb.Observation, distanceNM *float64) {
	if obs.SeenAt.After(s.LastSeen) {
		s.LastSeen = obs.SeenAt
	}
	s.TotalPositions++
	if obs.Callsign != "" {
		s.Callsign = obs.Callsign
	}
	if obs.Military {
		s.Military = true
	}
	if s.AircraftType == "" && obs.Type != "" {
		s.AircraftType = obs.Type
	}
	applyAggregates(s, obs, distanceNM)
}

func applyAggregates(s *Session, obs *adsb.Observation, distanceNM *float64) {
	if obs.BaroAltitude != nil {
		s.MinAltitude = minPtr(s.MinAltitude, *obs.BaroAltitude)
		s.MaxAltitude = maxPtr(s.MaxAltitude, *obs.BaroAltitude)
	}
	if distanceNM != nil {
		s.MinDistanceNM = minPtr(s.MinDistanceNM, *distanceNM)
		s.MaxDistanceNM = maxPtr(s.MaxDistanceNM, *distanceNM)
	}
	if obs.Signal != nil {
		s.MinSignal = minPtr(s.MinSignal, *obs.Signal)
		s.MaxSignal = maxPtr(s.MaxSignal, *obs.Signal)
	}
	if obs.VerticalRate != nil {
		if vs := math.Abs(*obs.VerticalRate); vs > s.MaxVerticalFpm {
			s.MaxVerticalFpm = vs
		}
	}
}

func minPtr(cur *float64, v float64) *float64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

func maxPtr(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}

// Sweep drops cache entries that have not been used within the max age.
// Returns the number of entries removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, entry := range t.cache {
		if now.Sub(entry.lastUsed) > cacheMaxAge {
			delete(t.cache, key)
			removed++
		}
	}
	return removed
}

// CacheSize returns the number of cached open sessions.
func (t *Tracker) CacheSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

// RunSweeper periodically sweeps the cache until the context is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := t.Sweep(now); removed > 0 {
				log.Printf("Session cache sweep removed %d stale entries", removed)
			}
		}
	}
}

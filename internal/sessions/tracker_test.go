package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

// memStore is an in-memory session store for tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	nextID   int64
	creates  int
	updates  int
	finds    int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[int64]*Session), nextID: 1}
}

func (m *memStore) FindOpenSession(ctx context.Context, icao string, source adsb.Source, since time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	for _, s := range m.sessions {
		if s.ICAO == icao && s.Source == source && !s.LastSeen.Before(since) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateSession(ctx context.Context, s *Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	id := m.nextID
	m.nextID++
	copied := *s
	copied.ID = id
	m.sessions[id] = &copied
	return id, nil
}

func (m *memStore) UpdateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func obsAt(icao string, ts time.Time, altitude float64) *adsb.Observation {
	return &adsb.Observation{
		ICAO:         icao,
		Source:       adsb.Source1090,
		SeenAt:       ts,
		BaroAltitude: &altitude,
	}
}

// TestTrackOpensAndReuses verifies one session spans sightings within the
// continuity window.
func TestTrackOpensAndReuses(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	base := time.Now().UTC()

	id1, isNew, err := tracker.Track(ctx, obsAt("A12345", base, 10000), nil)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if !isNew {
		t.Error("Expected first sighting to open a session")
	}

	id2, isNew, err := tracker.Track(ctx, obsAt("A12345", base.Add(2*time.Minute), 12000), nil)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if isNew {
		t.Error("Expected second sighting within window to reuse session")
	}
	if id1 != id2 {
		t.Errorf("Expected same session id, got %d and %d", id1, id2)
	}

	s := store.sessions[id1]
	if s.TotalPositions != 2 {
		t.Errorf("Expected total_positions 2, got %d", s.TotalPositions)
	}
}

// TestTrackOpensNewAfterGap verifies the 5-minute continuity window.
func TestTrackOpensNewAfterGap(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	base := time.Now().UTC()

	id1, _, err := tracker.Track(ctx, obsAt("A12345", base, 10000), nil)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	id2, isNew, err := tracker.Track(ctx, obsAt("A12345", base.Add(6*time.Minute), 10000), nil)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if !isNew {
		t.Error("Expected a new session after a 6-minute gap")
	}
	if id1 == id2 {
		t.Error("Expected a different session id after the gap")
	}
}

// TestTrackAdoptsFromStore verifies a cold cache adopts the open DB
// session instead of fragmenting.
func TestTrackAdoptsFromStore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	base := time.Now().UTC()

	seeded := &Session{
		ICAO:      "A12345",
		Source:    adsb.Source1090,
		FirstSeen: base.Add(-2 * time.Minute),
		LastSeen:  base.Add(-2 * time.Minute),
	}
	id, _ := store.CreateSession(ctx, seeded)

	tracker := NewTracker(store)
	got, isNew, err := tracker.Track(ctx, obsAt("A12345", base, 10000), nil)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if isNew {
		t.Error("Expected adoption of the open DB session")
	}
	if got != id {
		t.Errorf("Expected adopted id %d, got %d", id, got)
	}
}

// TestTrackSourcesAreIndependent verifies the (ICAO, source) key: the same
// airframe heard on 1090 and 978 holds two sessions.
func TestTrackSourcesAreIndependent(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	base := time.Now().UTC()

	obs978 := obsAt("A12345", base, 10000)
	obs978.Source = adsb.Source978

	id1090, _, _ := tracker.Track(ctx, obsAt("A12345", base, 10000), nil)
	id978, isNew, err := tracker.Track(ctx, obs978, nil)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if !isNew {
		t.Error("Expected a separate session per source")
	}
	if id1090 == id978 {
		t.Error("Expected distinct session ids per source")
	}
}

// TestAggregates verifies min aggregates never increase and max aggregates
// never decrease while a session is open.
func TestAggregates(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	base := time.Now().UTC()

	altitudes := []float64{10000, 8000, 12000, 9000}
	distances := []float64{20, 35, 15, 25}
	for i, alt := range altitudes {
		obs := obsAt("A12345", base.Add(time.Duration(i)*time.Second), alt)
		cs := ""
		if i == 2 {
			cs = "ASA123"
		}
		obs.Callsign = cs
		vr := float64(-500 * (i + 1))
		obs.VerticalRate = &vr
		if _, _, err := tracker.Track(ctx, obs, &distances[i]); err != nil {
			t.Fatalf("Track failed: %v", err)
		}
	}

	s := store.sessions[1]
	if s.MinAltitude == nil || *s.MinAltitude != 8000 {
		t.Errorf("Expected min altitude 8000, got %v", s.MinAltitude)
	}
	if s.MaxAltitude == nil || *s.MaxAltitude != 12000 {
		t.Errorf("Expected max altitude 12000, got %v", s.MaxAltitude)
	}
	if s.MinDistanceNM == nil || *s.MinDistanceNM != 15 {
		t.Errorf("Expected min distance 15, got %v", s.MinDistanceNM)
	}
	if s.MaxDistanceNM == nil || *s.MaxDistanceNM != 35 {
		t.Errorf("Expected max distance 35, got %v", s.MaxDistanceNM)
	}
	if s.MaxVerticalFpm != 2000 {
		t.Errorf("Expected max |VS| 2000, got %f", s.MaxVerticalFpm)
	}
	if s.Callsign != "ASA123" {
		t.Errorf("Expected latest non-empty callsign kept, got %q", s.Callsign)
	}
	if s.TotalPositions != 4 {
		t.Errorf("Expected total_positions 4, got %d", s.TotalPositions)
	}
}

// TestSweep verifies stale cache entries are dropped after 10 minutes.
func TestSweep(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()
	base := time.Now().UTC()

	tracker.Track(ctx, obsAt("A11111", base.Add(-15*time.Minute), 10000), nil)
	tracker.Track(ctx, obsAt("A22222", base.Add(-1*time.Minute), 10000), nil)

	if removed := tracker.Sweep(base); removed != 1 {
		t.Errorf("Expected 1 entry swept, got %d", removed)
	}
	if tracker.CacheSize() != 1 {
		t.Errorf("Expected 1 entry remaining, got %d", tracker.CacheSize())
	}
}

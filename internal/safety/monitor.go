package safety

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/monitoring"
	"github.com/skyfeeder/skyfeeder/pkg/adsb"
	"github.com/skyfeeder/skyfeeder/pkg/config"
	"github.com/skyfeeder/skyfeeder/pkg/geo"
)

const (
	// stateMaxAge is how long per-aircraft history survives without an
	// update before it is purged.
	stateMaxAge = 30 * time.Second

	// reversalLookback is how far back the reversal detector reaches for
	// the comparison vertical-rate sample.
	reversalLookback = 4 * time.Second

	// cooldownPeriod throttles repeated fires of the same non-emergency
	// condition.
	cooldownPeriod = 60 * time.Second

	// eventMaxIdle is how long an event survives without a refresh.
	eventMaxIdle = 5 * time.Minute

	// sweepInterval is the cadence of the expiry sweeper.
	sweepInterval = 30 * time.Second

	// minPairAltitudeFt excludes ground traffic from the proximity scan.
	minPairAltitudeFt = 500.0

	// takeoffSuppressAltFt and takeoffVSMinFpm classify climb/descent
	// pairs near a major airport as normal arrival/departure traffic.
	takeoffSuppressAltFt = 3000.0
	takeoffVSMinFpm      = 300.0
)

// Store persists events and acknowledgment overlays.
type Store interface {
	AppendSafetyEvent(ctx context.Context, e *Event) (int64, error)
	SaveAcknowledgment(ctx context.Context, eventID string, acknowledged bool) error
	DeleteAcknowledgment(ctx context.Context, eventID string) error
	LoadAcknowledgments(ctx context.Context) (map[string]bool, error)
}

// Publisher delivers events to fan-out subscribers.
type Publisher interface {
	Publish(topic, event string, payload interface{})
}

// Notifier pushes operator notifications. The notifier applies its own
// per-key cooldown, so the monitor calls it on every emit.
type Notifier interface {
	Notify(key, title, body string, severity Severity)
}

// vsSample is one vertical-rate history point.
type vsSample struct {
	at time.Time
	vs float64
}

// aircraftState is the per-ICAO detector state retained across cycles.
type aircraftState struct {
	vsHistory  []vsSample
	lastUpdate time.Time
}

// Monitor consumes the full aircraft list each poll cycle and maintains
// the live safety-event table.
type Monitor struct {
	mu        sync.Mutex
	cfg       config.SafetyConfig
	store     Store
	pub       Publisher
	notifier  Notifier
	states    map[string]*aircraftState
	events    map[string]*Event
	cooldowns map[string]time.Time
	priorAcks map[string]bool
}

// NewMonitor creates a monitor. store, pub and notifier may be nil; the
// corresponding side effect is skipped.
func NewMonitor(cfg config.SafetyConfig, store Store, pub Publisher, notifier Notifier) *Monitor {
	return &Monitor{
		cfg:       cfg,
		store:     store,
		pub:       pub,
		notifier:  notifier,
		states:    make(map[string]*aircraftState),
		events:    make(map[string]*Event),
		cooldowns: make(map[string]time.Time),
		priorAcks: make(map[string]bool),
	}
}

// LoadPersistedAcks restores acknowledgment overlays from storage so a
// condition that survives a restart comes back still acknowledged.
func (m *Monitor) LoadPersistedAcks(ctx context.Context) {
	if m.store == nil {
		return
	}
	acks, err := m.store.LoadAcknowledgments(ctx)
	if err != nil {
		log.Printf("Failed to load persisted acknowledgments: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.priorAcks = acks
	if len(acks) > 0 {
		log.Printf("✓ Restored %d persisted safety acknowledgments", len(acks))
	}
}

// Check runs all detectors against one poll cycle's aircraft list and
// returns the events emitted this cycle (new or refreshed).
func (m *Monitor) Check(ctx context.Context, observations []*adsb.Observation, now time.Time) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeStates(now)

	var emitted []*Event
	for _, obs := range observations {
		state := m.updateState(obs, now)

		if e := m.detectEmergencySquawk(obs, now); e != nil {
			emitted = append(emitted, m.storeEvent(ctx, e, now))
		}
		if e := m.detectExtremeVS(obs, now); e != nil {
			emitted = append(emitted, m.storeEvent(ctx, e, now))
		}
		if e := m.detectReversal(obs, state, now); e != nil {
			emitted = append(emitted, m.storeEvent(ctx, e, now))
		}
	}

	for _, e := range m.detectProximity(observations, now) {
		emitted = append(emitted, m.storeEvent(ctx, e, now))
	}

	return emitted
}

// purgeStates drops per-aircraft state not updated within the max age.
func (m *Monitor) purgeStates(now time.Time) {
	for icao, state := range m.states {
		if now.Sub(state.lastUpdate) > stateMaxAge {
			delete(m.states, icao)
		}
	}
}

// updateState folds one observation into the per-ICAO history.
func (m *Monitor) updateState(obs *adsb.Observation, now time.Time) *aircraftState {
	state, ok := m.states[obs.ICAO]
	if !ok {
		state = &aircraftState{}
		m.states[obs.ICAO] = state
	}
	state.lastUpdate = now

	if obs.VerticalRate != nil {
		state.vsHistory = append(state.vsHistory, vsSample{at: now, vs: *obs.VerticalRate})
		cutoff := now.Add(-stateMaxAge)
		for len(state.vsHistory) > 0 && state.vsHistory[0].at.Before(cutoff) {
			state.vsHistory = state.vsHistory[1:]
		}
	}
	return state
}

// allowFire consults and installs the cooldown entry for one key.
func (m *Monitor) allowFire(key string, now time.Time) bool {
	if last, ok := m.cooldowns[key]; ok && now.Sub(last) < cooldownPeriod {
		return false
	}
	m.cooldowns[key] = now
	return true
}

// detectEmergencySquawk fires on the three emergency transponder codes.
// Emergencies bypass cooldown; the stable event id deduplicates repeats.
func (m *Monitor) detectEmergencySquawk(obs *adsb.Observation, now time.Time) *Event {
	if !obs.EmergencySquawk() {
		return nil
	}

	severity := SeverityCritical
	meaning := "general emergency"
	switch obs.Squawk {
	case "7500":
		meaning = "unlawful interference"
	case "7600":
		severity = SeverityWarning
		meaning = "radio failure"
	}

	return &Event{
		Type:     EventSquawkEmergency,
		Severity: severity,
		ICAO:     obs.ICAO,
		Message:  fmt.Sprintf("%s squawking %s (%s)", displayName(obs), obs.Squawk, meaning),
		Details: map[string]interface{}{
			"squawk":  obs.Squawk,
			"meaning": meaning,
		},
		Aircraft: snapshotOf(obs),
	}
}

// detectExtremeVS fires when |vertical rate| crosses the extreme
// threshold, with severity stepping up at 7000 and 8000 fpm.
func (m *Monitor) detectExtremeVS(obs *adsb.Observation, now time.Time) *Event {
	if obs.VerticalRate == nil {
		return nil
	}
	vs := *obs.VerticalRate
	if math.Abs(vs) < m.cfg.VSExtremeThresholdFpm {
		return nil
	}
	if !m.allowFire(EventExtremeVS+":"+obs.ICAO, now) {
		return nil
	}

	severity := SeverityLow
	switch {
	case math.Abs(vs) >= 8000:
		severity = SeverityCritical
	case math.Abs(vs) >= 7000:
		severity = SeverityWarning
	}

	direction := "climbing"
	if vs < 0 {
		direction = "descending"
	}

	return &Event{
		Type:     EventExtremeVS,
		Severity: severity,
		ICAO:     obs.ICAO,
		Message:  fmt.Sprintf("%s %s at %.0f fpm", displayName(obs), direction, math.Abs(vs)),
		Details: map[string]interface{}{
			"vertical_rate_fpm": vs,
		},
		Aircraft: snapshotOf(obs),
	}
}

// detectReversal compares the current vertical rate against the sample
// roughly four seconds earlier. A true sign reversal at TCAS magnitudes
// becomes tcas_ra; a large but sub-TCAS swing becomes vs_reversal. At
// most one event is emitted per detection.
func (m *Monitor) detectReversal(obs *adsb.Observation, state *aircraftState, now time.Time) *Event {
	if obs.VerticalRate == nil {
		return nil
	}
	cur := *obs.VerticalRate

	prev, ok := state.sampleNear(now.Add(-reversalLookback), now)
	if !ok || prev == 0 {
		return nil
	}
	// Opposite signs only; a magnitude change is not a reversal.
	if prev*cur >= 0 {
		return nil
	}

	// Normal takeoff rotation: low altitude, now climbing.
	if obs.BaroAltitude != nil && *obs.BaroAltitude < takeoffSuppressAltFt && cur > 0 {
		return nil
	}

	if math.Abs(prev) >= m.cfg.TCASVSThresholdFpm && math.Abs(cur) >= m.cfg.TCASVSThresholdFpm {
		if !m.allowFire(EventTCASRA+":"+obs.ICAO, now) {
			return nil
		}
		return &Event{
			Type:     EventTCASRA,
			Severity: SeverityCritical,
			ICAO:     obs.ICAO,
			Message: fmt.Sprintf("%s possible TCAS RA: VS reversed %.0f to %.0f fpm",
				displayName(obs), prev, cur),
			Details: map[string]interface{}{
				"previous_vs_fpm": prev,
				"current_vs_fpm":  cur,
			},
			Aircraft: snapshotOf(obs),
		}
	}

	if math.Abs(cur-prev) < m.cfg.VSChangeThresholdFpm {
		return nil
	}
	if !m.allowFire(EventVSReversal+":"+obs.ICAO, now) {
		return nil
	}

	severity := SeverityLow
	if math.Abs(cur-prev) >= 4000 {
		severity = SeverityWarning
	}

	return &Event{
		Type:     EventVSReversal,
		Severity: severity,
		ICAO:     obs.ICAO,
		Message: fmt.Sprintf("%s vertical rate reversed %.0f to %.0f fpm",
			displayName(obs), prev, cur),
		Details: map[string]interface{}{
			"previous_vs_fpm": prev,
			"current_vs_fpm":  cur,
			"change_fpm":      cur - prev,
		},
		Aircraft: snapshotOf(obs),
	}
}

// sampleNear returns the history sample closest to target, ignoring
// samples newer than latest minus two seconds (the current cycle's own
// sample must not compare against itself).
func (s *aircraftState) sampleNear(target, latest time.Time) (float64, bool) {
	ceiling := latest.Add(-2 * time.Second)
	best := -1
	var bestDiff time.Duration
	for i, sample := range s.vsHistory {
		if sample.at.After(ceiling) {
			continue
		}
		diff := sample.at.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if best == -1 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best == -1 {
		return 0, false
	}
	return s.vsHistory[best].vs, true
}

// detectProximity scans all unordered aircraft pairs for loss of
// separation.
func (m *Monitor) detectProximity(observations []*adsb.Observation, now time.Time) []*Event {
	// Only airborne aircraft with a position fix participate.
	var candidates []*adsb.Observation
	for _, obs := range observations {
		if !obs.HasPosition() || obs.BaroAltitude == nil || *obs.BaroAltitude < minPairAltitudeFt {
			continue
		}
		candidates = append(candidates, obs)
	}

	var events []*Event
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if e := m.checkPair(candidates[i], candidates[j], now); e != nil {
				events = append(events, e)
			}
		}
	}
	return events
}

// checkPair evaluates one unordered pair. Threshold comparisons are
// strict: a pair exactly at the limits does not emit.
func (m *Monitor) checkPair(a, b *adsb.Observation, now time.Time) *Event {
	posA, _ := a.Position()
	posB, _ := b.Position()

	dist := geo.DistanceNM(posA, posB)
	if dist >= m.cfg.ProximityThresholdNM {
		return nil
	}

	altDiff := math.Abs(*a.BaroAltitude - *b.BaroAltitude)
	if altDiff >= m.cfg.AltitudeDiffThresholdFt {
		return nil
	}

	if isTakeoffLandingPair(a, b, posA, posB) {
		return nil
	}

	if !m.allowFire(EventID(EventProximityConflict, a.ICAO, b.ICAO), now) {
		return nil
	}

	closure := geo.ClosureRateKts(posA, posB,
		floatOrZero(a.GroundSpeed), floatOrZero(a.Track),
		floatOrZero(b.GroundSpeed), floatOrZero(b.Track))

	severity := SeverityLow
	switch {
	case dist < 0.25 && altDiff < 300:
		severity = SeverityCritical
	case dist < 0.35 || altDiff < 400:
		severity = SeverityWarning
	}

	return &Event{
		Type:     EventProximityConflict,
		Severity: severity,
		ICAO:     a.ICAO,
		PeerICAO: b.ICAO,
		Message: fmt.Sprintf("%s and %s separated by %.2f nm / %.0f ft",
			displayName(a), displayName(b), dist, altDiff),
		Details: map[string]interface{}{
			"distance_nm":      dist,
			"altitude_diff_ft": altDiff,
			"closure_rate_kts": closure,
		},
		Aircraft: snapshotOf(a),
		Peer:     snapshotOf(b),
	}
}

// isTakeoffLandingPair recognizes a climbing/descending pair near a major
// airport as normal arrival and departure traffic.
func isTakeoffLandingPair(a, b *adsb.Observation, posA, posB geo.Point) bool {
	if *a.BaroAltitude >= takeoffSuppressAltFt || *b.BaroAltitude >= takeoffSuppressAltFt {
		return false
	}
	vsA := floatOrZero(a.VerticalRate)
	vsB := floatOrZero(b.VerticalRate)
	if vsA*vsB >= 0 {
		return false
	}
	if math.Abs(vsA) < takeoffVSMinFpm && math.Abs(vsB) < takeoffVSMinFpm {
		return false
	}
	return nearMajorAirport(posA) && nearMajorAirport(posB)
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// displayName prefers the callsign over the bare hex address.
func displayName(obs *adsb.Observation) string {
	if obs.Callsign != "" {
		return obs.Callsign
	}
	return obs.ICAO
}

// storeEvent inserts or merges an event under its deterministic id,
// persists new events, publishes, and notifies. Caller holds the lock.
func (m *Monitor) storeEvent(ctx context.Context, e *Event, now time.Time) *Event {
	id := EventID(e.Type, e.ICAO, e.PeerICAO)

	if existing, ok := m.events[id]; ok {
		existing.Severity = e.Severity
		existing.Message = e.Message
		existing.Details = e.Details
		existing.Aircraft = e.Aircraft
		existing.Peer = e.Peer
		existing.LastSeen = now
		m.publishAndNotify(existing)
		return existing
	}

	e.ID = id
	e.CreatedAt = now
	e.LastSeen = now
	if m.priorAcks[id] {
		e.Acknowledged = true
	}
	m.events[id] = e

	monitoring.SafetyEvents.WithLabelValues(e.Type).Inc()
	log.Printf("⚠ Safety event %s severity=%s: %s", e.Type, e.Severity, e.Message)

	if m.store != nil {
		dbID, err := m.store.AppendSafetyEvent(ctx, e)
		if err != nil {
			log.Printf("Failed to persist safety event %s: %v", id, err)
			monitoring.StoreErrors.WithLabelValues("safety_append").Inc()
		} else {
			e.DBID = dbID
		}
	}

	m.publishAndNotify(e)
	return e
}

func (m *Monitor) publishAndNotify(e *Event) {
	if m.pub != nil {
		m.pub.Publish("safety", "event", e.clone())
	}
	if m.notifier != nil {
		m.notifier.Notify(e.ID, "Safety: "+e.Type, e.Message, e.Severity)
	}
}

// Events returns the live event table, newest activity first.
func (m *Monitor) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// find resolves an event by deterministic id or by durable row id.
// Caller holds the lock.
func (m *Monitor) find(idOrDBID string) *Event {
	if e, ok := m.events[idOrDBID]; ok {
		return e
	}
	if dbID, err := strconv.ParseInt(idOrDBID, 10, 64); err == nil {
		for _, e := range m.events {
			if e.DBID == dbID {
				return e
			}
		}
	}
	return nil
}

// FindByDBID returns the live event with the given durable row id.
func (m *Monitor) FindByDBID(dbID int64) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.DBID == dbID {
			return e.clone()
		}
	}
	return nil
}

// Acknowledge tags an event as seen by an operator. The event keeps
// refreshing; only the flag changes.
func (m *Monitor) Acknowledge(ctx context.Context, idOrDBID string) error {
	return m.setAcknowledged(ctx, idOrDBID, true)
}

// Unacknowledge removes the operator tag.
func (m *Monitor) Unacknowledge(ctx context.Context, idOrDBID string) error {
	return m.setAcknowledged(ctx, idOrDBID, false)
}

func (m *Monitor) setAcknowledged(ctx context.Context, idOrDBID string, acked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.find(idOrDBID)
	if e == nil {
		return fmt.Errorf("safety event %q not found", idOrDBID)
	}
	e.Acknowledged = acked
	m.priorAcks[e.ID] = acked

	if m.store != nil {
		if err := m.store.SaveAcknowledgment(ctx, e.ID, acked); err != nil {
			return fmt.Errorf("failed to persist acknowledgment: %w", err)
		}
	}
	return nil
}

// Clear removes one event and its acknowledgment entry.
func (m *Monitor) Clear(ctx context.Context, idOrDBID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.find(idOrDBID)
	if e == nil {
		return fmt.Errorf("safety event %q not found", idOrDBID)
	}
	m.dropEvent(ctx, e)
	return nil
}

// ClearAll removes every live event.
func (m *Monitor) ClearAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := 0
	for _, e := range m.events {
		m.dropEvent(ctx, e)
		cleared++
	}
	return cleared
}

// dropEvent removes one event and its overlays. Caller holds the lock.
func (m *Monitor) dropEvent(ctx context.Context, e *Event) {
	delete(m.events, e.ID)
	delete(m.priorAcks, e.ID)
	if m.store != nil {
		if err := m.store.DeleteAcknowledgment(ctx, e.ID); err != nil {
			monitoring.Debugf("failed to delete acknowledgment %s: %v", e.ID, err)
		}
	}
}

// Sweep expires events idle beyond the max and prunes old cooldowns.
// Returns the number of events dropped.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for _, e := range m.events {
		if now.Sub(e.LastSeen) > eventMaxIdle {
			m.dropEvent(ctx, e)
			dropped++
		}
	}
	for key, at := range m.cooldowns {
		if now.Sub(at) > 2*cooldownPeriod {
			delete(m.cooldowns, key)
		}
	}
	return dropped
}

// RunSweeper expires idle events periodically until the context is
// cancelled.
func (m *Monitor) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if dropped := m.Sweep(ctx, now); dropped > 0 {
				monitoring.Debugf("safety sweep dropped %d expired events", dropped)
			}
		}
	}
}

// Package pipeline drives the ingest loop: poll the upstream
// aggregators, persist sightings and sessions, evaluate alerts on new
// sessions, run the safety detectors, and broadcast the cycle diff.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
	"github.com/skyfeeder/skyfeeder/internal/db"
	"github.com/skyfeeder/skyfeeder/internal/fanout"
	"github.com/skyfeeder/skyfeeder/internal/monitoring"
	"github.com/skyfeeder/skyfeeder/internal/safety"
	"github.com/skyfeeder/skyfeeder/internal/sessions"
	"github.com/skyfeeder/skyfeeder/pkg/adsb"
	"github.com/skyfeeder/skyfeeder/pkg/config"
	"github.com/skyfeeder/skyfeeder/pkg/geo"
)

// Fetcher is the upstream aircraft source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]*adsb.Observation, error)
}

// SightingStore appends persisted sightings.
type SightingStore interface {
	AppendSighting(ctx context.Context, s *db.Sighting) error
}

// Pipeline owns one poll loop. Within a cycle the order is fixed:
// process (sightings, sessions, alerts on new sessions), then safety,
// then fan-out, so an alert fired on a new session has its session id
// durable before subscribers observe the cycle.
type Pipeline struct {
	cfg       *config.Config
	station   geo.Point
	primary   Fetcher
	secondary Fetcher

	tracker   *sessions.Tracker
	engine    *alerts.Engine
	monitor   *safety.Monitor
	hub       *fanout.Hub
	differ    *fanout.Differ
	sightings SightingStore

	mu        sync.RWMutex
	current   []*adsb.Observation
	lastStore time.Time
}

// New creates a pipeline. secondary and sightings may be nil.
func New(cfg *config.Config, primary, secondary Fetcher, tracker *sessions.Tracker,
	engine *alerts.Engine, monitor *safety.Monitor, hub *fanout.Hub,
	sightings SightingStore) *Pipeline {

	p := &Pipeline{
		cfg:       cfg,
		station:   geo.Point{Latitude: cfg.Station.Latitude, Longitude: cfg.Station.Longitude},
		primary:   primary,
		secondary: secondary,
		tracker:   tracker,
		engine:    engine,
		monitor:   monitor,
		hub:       hub,
		differ:    fanout.NewDiffer(),
		sightings: sightings,
	}

	hub.SetSnapshot(fanout.TopicAircraft, func() interface{} { return p.Current() })
	hub.SetSnapshot(fanout.TopicSafety, func() interface{} { return monitor.Events() })
	return p
}

// Run polls on the configured cadence until the context is cancelled.
// A slow cycle never double-fires: the next tick simply arrives later.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Feed.PollingInterval())
	defer ticker.Stop()

	log.Printf("✓ Pipeline polling every %v (store gate %v)",
		p.cfg.Feed.PollingInterval(), p.cfg.Feed.DBStoreInterval())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// No partial cycles after shutdown begins.
			if ctx.Err() != nil {
				return
			}
			p.Cycle(ctx, now.UTC())
		}
	}
}

// Cycle runs one poll cycle at the given instant.
func (p *Pipeline) Cycle(ctx context.Context, now time.Time) {
	start := time.Now()
	monitoring.PollCycles.Inc()

	observations, ok := p.fetch(ctx)
	if ok {
		monitoring.PollLastSuccess.SetToCurrentTime()
	}
	monitoring.AircraftTracked.Set(float64(len(observations)))

	candidates := p.process(ctx, observations, now)
	if len(candidates) > 0 {
		p.engine.CheckAlerts(ctx, candidates, now)
	}

	p.monitor.Check(ctx, observations, now)

	cycle := p.differ.Next(observations)
	if err := p.hub.BroadcastCycle(ctx, cycle); err != nil {
		log.Printf("Fan-out broadcast failed: %v", err)
	}

	p.mu.Lock()
	p.current = observations
	p.mu.Unlock()

	monitoring.PollDuration.Observe(time.Since(start).Seconds())
}

// fetch pulls from both aggregators, primary first, and merges by ICAO
// with the primary winning. A failed source yields nothing; no retry
// within the tick.
func (p *Pipeline) fetch(ctx context.Context) ([]*adsb.Observation, bool) {
	merged, err := p.primary.Fetch(ctx)
	ok := err == nil
	if err != nil {
		log.Printf("⚠ Primary aircraft fetch failed: %v", err)
		monitoring.PollErrors.WithLabelValues(string(adsb.Source1090)).Inc()
		merged = nil
	}

	if p.secondary != nil {
		extra, err := p.secondary.Fetch(ctx)
		if err != nil {
			monitoring.Debugf("secondary aircraft fetch failed: %v", err)
			monitoring.PollErrors.WithLabelValues(string(adsb.Source978)).Inc()
		} else {
			seen := make(map[string]bool, len(merged))
			for _, obs := range merged {
				seen[obs.ICAO] = true
			}
			for _, obs := range extra {
				if !seen[obs.ICAO] {
					merged = append(merged, obs)
				}
			}
		}
	}

	return merged, ok
}

// process persists sessions every cycle and sightings on the store
// gate, and collects alert candidates from newly opened sessions. A
// store failure on one aircraft never stops the rest of the cycle.
func (p *Pipeline) process(ctx context.Context, observations []*adsb.Observation, now time.Time) []*alerts.Candidate {
	storeTick := now.Sub(p.lastStore) >= p.cfg.Feed.DBStoreInterval()
	if storeTick && len(observations) > 0 {
		p.lastStore = now
	}

	var candidates []*alerts.Candidate
	for _, obs := range observations {
		var distance *float64
		if pos, ok := obs.Position(); ok {
			d := geo.DistanceNM(p.station, pos)
			distance = &d
		}

		sessionID, isNew, err := p.tracker.Track(ctx, obs, distance)
		if err != nil {
			log.Printf("Failed to track session for %s: %v", obs.ICAO, err)
			continue
		}
		if isNew {
			candidates = append(candidates, &alerts.Candidate{
				Observation: obs,
				DistanceNM:  distance,
			})
		}

		if storeTick && p.sightings != nil {
			sighting := db.NewSighting(obs, distance, sessionID)
			if err := p.sightings.AppendSighting(ctx, sighting); err != nil {
				log.Printf("Failed to store sighting for %s: %v", obs.ICAO, err)
				monitoring.StoreErrors.WithLabelValues("sighting_append").Inc()
			}
		}
	}
	return candidates
}

// Current returns the most recent poll cycle's aircraft list.
func (p *Pipeline) Current() []*adsb.Observation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*adsb.Observation, len(p.current))
	copy(out, p.current)
	return out
}

package fanout

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

// Change-detection thresholds. The aircraft stream is coarse; the
// positions stream is tight enough for smooth map rendering.
const (
	aircraftLatLonDeg = 0.001
	aircraftAltFt     = 100.0
	aircraftTrackDeg  = 5.0

	positionLatLonDeg = 0.0001
	positionAltFt     = 25.0
	positionTrackDeg  = 1.0
	positionSpeedKts  = 5.0
)

// PositionDelta is the lightweight frame on the positions stream.
type PositionDelta struct {
	ICAO         string   `json:"icao"`
	Callsign     string   `json:"callsign,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	Track        *float64 `json:"track,omitempty"`
	GroundSpeed  *float64 `json:"ground_speed,omitempty"`
	VerticalRate *float64 `json:"vertical_rate,omitempty"`
}

func deltaOf(obs *adsb.Observation) *PositionDelta {
	return &PositionDelta{
		ICAO:         obs.ICAO,
		Callsign:     obs.Callsign,
		Latitude:     obs.Latitude,
		Longitude:    obs.Longitude,
		Altitude:     obs.BaroAltitude,
		Track:        obs.Track,
		GroundSpeed:  obs.GroundSpeed,
		VerticalRate: obs.VerticalRate,
	}
}

// Cycle is one poll cycle's worth of fan-out work.
type Cycle struct {
	New       []*adsb.Observation
	Updated   []*adsb.Observation
	Removed   []string
	Positions []*PositionDelta
	Count     int
}

// Differ computes per-cycle aircraft diffs against the previous cycle.
// Not safe for concurrent use; the pipeline owns it.
type Differ struct {
	prev map[string]*adsb.Observation
}

// NewDiffer creates a differ with no history.
func NewDiffer() *Differ {
	return &Differ{prev: make(map[string]*adsb.Observation)}
}

// Next folds one poll cycle into the differ and returns the diff. An
// empty cycle yields count 0 and no new/update/remove entries: a feed
// outage must not read as a mass departure.
func (d *Differ) Next(current []*adsb.Observation) *Cycle {
	c := &Cycle{Count: len(current)}
	if len(current) == 0 {
		return c
	}

	seen := make(map[string]*adsb.Observation, len(current))
	for _, obs := range current {
		seen[obs.ICAO] = obs

		prev, ok := d.prev[obs.ICAO]
		if !ok {
			c.New = append(c.New, obs)
			c.Positions = append(c.Positions, deltaOf(obs))
			continue
		}
		if aircraftChanged(prev, obs) {
			c.Updated = append(c.Updated, obs)
		}
		if positionChanged(prev, obs) {
			c.Positions = append(c.Positions, deltaOf(obs))
		}
	}

	for icao := range d.prev {
		if _, ok := seen[icao]; !ok {
			c.Removed = append(c.Removed, icao)
		}
	}

	d.prev = seen
	return c
}

// aircraftChanged applies the coarse thresholds plus squawk identity.
func aircraftChanged(prev, cur *adsb.Observation) bool {
	if cur.Squawk != prev.Squawk {
		return true
	}
	return exceeds(prev.Latitude, cur.Latitude, aircraftLatLonDeg) ||
		exceeds(prev.Longitude, cur.Longitude, aircraftLatLonDeg) ||
		exceeds(prev.BaroAltitude, cur.BaroAltitude, aircraftAltFt) ||
		exceeds(prev.Track, cur.Track, aircraftTrackDeg)
}

// positionChanged applies the tight thresholds for the positions stream.
func positionChanged(prev, cur *adsb.Observation) bool {
	return exceeds(prev.Latitude, cur.Latitude, positionLatLonDeg) ||
		exceeds(prev.Longitude, cur.Longitude, positionLatLonDeg) ||
		exceeds(prev.BaroAltitude, cur.BaroAltitude, positionAltFt) ||
		exceeds(prev.Track, cur.Track, positionTrackDeg) ||
		exceeds(prev.GroundSpeed, cur.GroundSpeed, positionSpeedKts)
}

// exceeds reports whether the value moved by more than the threshold.
// Gaining or losing the value entirely counts as a change.
func exceeds(prev, cur *float64, threshold float64) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}
	return math.Abs(*cur-*prev) > threshold
}

// BroadcastCycle publishes one cycle's events concurrently. A failure
// in one category never blocks the others; the heartbeat goes out every
// cycle regardless, carrying the aircraft count.
func (h *Hub) BroadcastCycle(ctx context.Context, c *Cycle) error {
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		for _, obs := range c.New {
			h.Publish(TopicAircraft, "new", obs)
		}
		return nil
	})
	g.Go(func() error {
		for _, obs := range c.Updated {
			h.Publish(TopicAircraft, "update", obs)
		}
		return nil
	})
	g.Go(func() error {
		for _, icao := range c.Removed {
			h.Publish(TopicAircraft, "remove", map[string]string{"icao": icao})
		}
		return nil
	})
	g.Go(func() error {
		for _, delta := range c.Positions {
			h.Publish(TopicPositions, "update", delta)
		}
		return nil
	})
	g.Go(func() error {
		h.Publish(TopicAircraft, "heartbeat", map[string]interface{}{
			"count": c.Count,
			"time":  time.Now().UTC(),
		})
		return nil
	})
	g.Go(func() error {
		h.Publish(TopicStats, "cycle", map[string]int{
			"aircraft":  c.Count,
			"new":       len(c.New),
			"updated":   len(c.Updated),
			"removed":   len(c.Removed),
			"positions": len(c.Positions),
		})
		return nil
	})

	return g.Wait()
}

// Package safety watches the live aircraft picture for hazardous
// conditions: emergency squawks, extreme vertical rates, TCAS-like
// vertical-rate reversals, and proximity conflicts between aircraft pairs.
package safety

import (
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

// Severity classifies how urgent an event is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event types emitted by the monitor.
const (
	EventSquawkEmergency   = "squawk_emergency"
	EventExtremeVS         = "extreme_vs"
	EventTCASRA            = "tcas_ra"
	EventVSReversal        = "vs_reversal"
	EventProximityConflict = "proximity_conflict"
)

// Snapshot is the state of one involved aircraft at event time.
type Snapshot struct {
	ICAO         string   `json:"icao"`
	Callsign     string   `json:"callsign,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	GroundSpeed  *float64 `json:"ground_speed,omitempty"`
	Track        *float64 `json:"track,omitempty"`
	VerticalRate *float64 `json:"vertical_rate,omitempty"`
	Squawk       string   `json:"squawk,omitempty"`
}

// snapshotOf copies the event-relevant fields of an observation.
func snapshotOf(obs *adsb.Observation) *Snapshot {
	return &Snapshot{
		ICAO:         obs.ICAO,
		Callsign:     obs.Callsign,
		Latitude:     obs.Latitude,
		Longitude:    obs.Longitude,
		Altitude:     obs.BaroAltitude,
		GroundSpeed:  obs.GroundSpeed,
		Track:        obs.Track,
		VerticalRate: obs.VerticalRate,
		Squawk:       obs.Squawk,
	}
}

// Event is one live safety condition. Its identity is deterministic: the
// same condition on the same aircraft (or pair) always maps to the same
// id, which is what deduplicates repeated detector fires.
type Event struct {
	// ID is event_type:ICAO, or event_type:ICAO1:ICAO2 with the pair
	// sorted lexicographically so (A,B) and (B,A) collapse.
	ID string `json:"id"`

	// DBID is the durable row id, glued on after the event is stored.
	DBID int64 `json:"db_id,omitempty"`

	Type     string   `json:"event_type"`
	Severity Severity `json:"severity"`
	ICAO     string   `json:"icao"`
	PeerICAO string   `json:"peer_icao,omitempty"`

	// Message is the human-readable one-liner.
	Message string `json:"message"`

	// Details carries detector-specific structured fields.
	Details map[string]interface{} `json:"details,omitempty"`

	// Aircraft and Peer are snapshots of the involved aircraft at event
	// time; Peer is set for pair events only.
	Aircraft *Snapshot `json:"aircraft,omitempty"`
	Peer     *Snapshot `json:"peer,omitempty"`

	// CreatedAt is when the condition was first detected; LastSeen is
	// refreshed on every subsequent detection with the same id.
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`

	// Acknowledged is a non-destructive operator overlay: an
	// acknowledged event still exists and still refreshes.
	Acknowledged bool `json:"acknowledged"`
}

// EventID builds the deterministic event identity. For pair events the
// two ICAOs are sorted before joining.
func EventID(eventType, icao, peer string) string {
	if peer == "" {
		return eventType + ":" + icao
	}
	a, b := icao, peer
	if b < a {
		a, b = b, a
	}
	return eventType + ":" + a + ":" + b
}

// clone returns a deep-enough copy for handing outside the monitor's lock.
func (e *Event) clone() *Event {
	copied := *e
	if e.Details != nil {
		details := make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		copied.Details = details
	}
	return &copied
}

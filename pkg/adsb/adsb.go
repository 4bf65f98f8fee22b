// Package adsb models ADS-B aircraft observations and fetches them from
// local aggregator endpoints (ultrafeeder/tar1090 on 1090 MHz, dump978 on
// 978 MHz UAT). All position data is in the WGS84 coordinate system.
package adsb

import (
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/geo"
)

// Source identifies the radio channel an observation arrived on.
type Source string

const (
	// Source1090 is the 1090 MHz Mode S / ADS-B downlink (ultrafeeder/tar1090).
	Source1090 Source = "1090"

	// Source978 is the 978 MHz UAT downlink (dump978).
	Source978 Source = "978"
)

// Observation is a single aircraft state vector from one poll cycle.
// Observations are created by the client, never mutated, and consumed by
// every downstream component.
type Observation struct {
	// ICAO is the 24-bit ICAO aircraft address as 6 uppercase hex
	// characters (e.g., "A12345"). Always non-empty.
	ICAO string

	// Callsign is the flight number or registration, trimmed of padding.
	// Empty when the aircraft has not broadcast one.
	Callsign string

	// Latitude/Longitude in decimal degrees. Either both are set or both
	// are nil; an aircraft without a position fix carries nil.
	Latitude  *float64
	Longitude *float64

	// BaroAltitude is barometric altitude in feet MSL. The upstream
	// "ground" sentinel is mapped to 0 with OnGround set.
	BaroAltitude *float64

	// GeomAltitude is geometric (GPS) altitude in feet.
	GeomAltitude *float64

	// OnGround is set when the upstream altitude field carried the
	// "ground" sentinel.
	OnGround bool

	// GroundSpeed in knots.
	GroundSpeed *float64

	// Track is the ground track in degrees (0-360, 0 = North).
	Track *float64

	// VerticalRate in feet per minute (positive = climbing). Barometric
	// rate when available, geometric rate otherwise.
	VerticalRate *float64

	// Squawk is the 4-digit octal transponder code, empty if unknown.
	Squawk string

	// Signal is the receiver signal strength in dBFS (RSSI).
	Signal *float64

	// Type is the airframe type designator (e.g., "B738"), if known.
	Type string

	// Category is the ADS-B emitter category code (e.g., "A3").
	Category string

	// Military is derived from the upstream database flag word.
	Military bool

	// Source is the radio channel this observation arrived on.
	Source Source

	// SeenAt is the poll timestamp, adjusted for the upstream age field.
	SeenAt time.Time
}

// HasPosition reports whether the observation carries a position fix.
func (o *Observation) HasPosition() bool {
	return o.Latitude != nil && o.Longitude != nil
}

// Position returns the observation's position. ok is false when the
// aircraft has no position fix.
func (o *Observation) Position() (geo.Point, bool) {
	if !o.HasPosition() {
		return geo.Point{}, false
	}
	return geo.Point{Latitude: *o.Latitude, Longitude: *o.Longitude}, true
}

// EmergencySquawk reports whether the transponder code is one of the three
// emergency codes: 7500 (hijack), 7600 (radio failure), 7700 (emergency).
func (o *Observation) EmergencySquawk() bool {
	switch o.Squawk {
	case "7500", "7600", "7700":
		return true
	}
	return false
}

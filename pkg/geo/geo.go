// Package geo provides the great-circle math used throughout the feeder:
// station-to-aircraft ranges, inter-aircraft separation, and closure rates.
// All positions use the WGS84 coordinate system (same as GPS).
package geo

import "math"

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusNM is the Earth's mean radius in nautical miles (WGS84)
	EarthRadiusNM = 3440.065

	// FeetToMeters converts feet to meters
	FeetToMeters = 0.3048

	// MetersToFeet converts meters to feet
	MetersToFeet = 3.28084
)

// Point is a position on Earth's surface.
type Point struct {
	// Latitude in decimal degrees (-90 to +90). Positive = North.
	Latitude float64

	// Longitude in decimal degrees (-180 to +180). Positive = East.
	Longitude float64
}

// DistanceNM returns the great-circle distance between two points in
// nautical miles, computed with the haversine formula.
func DistanceNM(a, b Point) float64 {
	lat1 := a.Latitude * DegreesToRadians
	lat2 := b.Latitude * DegreesToRadians
	dLat := (b.Latitude - a.Latitude) * DegreesToRadians
	dLon := (b.Longitude - a.Longitude) * DegreesToRadians

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusNM * c
}

// BearingDeg returns the initial great-circle bearing from a to b in degrees
// (0-360, 0 = North, 90 = East).
func BearingDeg(a, b Point) float64 {
	lat1 := a.Latitude * DegreesToRadians
	lat2 := b.Latitude * DegreesToRadians
	dLon := (b.Longitude - a.Longitude) * DegreesToRadians

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	brg := math.Atan2(y, x) * RadiansToDegrees
	return math.Mod(brg+360.0, 360.0)
}

// ClosureRateKts returns the rate in knots at which two aircraft are closing
// on each other. Each aircraft's velocity vector (ground speed at its track)
// is projected onto the bearing between the pair; the scalar components that
// bring the aircraft together sum into the closure rate. A negative result
// means the pair is diverging.
//
// trackA/trackB are ground tracks in degrees; speeds are in knots.
func ClosureRateKts(posA, posB Point, speedA, trackA, speedB, trackB float64) float64 {
	// Bearing from A to B: component of A's velocity along it closes the gap,
	// component of B's velocity along it opens the gap.
	brg := BearingDeg(posA, posB) * DegreesToRadians

	va := speedA * math.Cos(trackA*DegreesToRadians-brg)
	vb := speedB * math.Cos(trackB*DegreesToRadians-brg)

	return va - vb
}

// TrackDeltaDeg returns the signed smallest angular difference between two
// tracks in degrees, handling the 360/0 wrap-around.
func TrackDeltaDeg(from, to float64) float64 {
	d := math.Mod(to-from, 360.0)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}

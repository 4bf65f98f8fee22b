package safety

import "github.com/skyfeeder/skyfeeder/pkg/geo"

// Airport is a major airport used for takeoff/landing suppression.
type Airport struct {
	ICAO     string
	Name     string
	Location geo.Point
}

// majorAirports is the fixed list used by the proximity detector to
// recognize normal arrival/departure traffic. Crossing climb/descent
// pairs within 5 nm of any of these fields are not conflicts.
var majorAirports = []Airport{
	{"KSEA", "Seattle-Tacoma Intl", geo.Point{Latitude: 47.4489, Longitude: -122.3094}},
	{"KBFI", "Boeing Field", geo.Point{Latitude: 47.5300, Longitude: -122.3019}},
	{"KPAE", "Paine Field", geo.Point{Latitude: 47.9063, Longitude: -122.2816}},
	{"KPDX", "Portland Intl", geo.Point{Latitude: 45.5887, Longitude: -122.5975}},
	{"KSFO", "San Francisco Intl", geo.Point{Latitude: 37.6213, Longitude: -122.3790}},
	{"KOAK", "Oakland Intl", geo.Point{Latitude: 37.7214, Longitude: -122.2208}},
	{"KSJC", "San Jose Intl", geo.Point{Latitude: 37.3639, Longitude: -121.9289}},
	{"KLAX", "Los Angeles Intl", geo.Point{Latitude: 33.9416, Longitude: -118.4085}},
	{"KSAN", "San Diego Intl", geo.Point{Latitude: 32.7338, Longitude: -117.1933}},
	{"KLAS", "Harry Reid Intl", geo.Point{Latitude: 36.0840, Longitude: -115.1537}},
	{"KPHX", "Phoenix Sky Harbor", geo.Point{Latitude: 33.4373, Longitude: -112.0078}},
	{"KDEN", "Denver Intl", geo.Point{Latitude: 39.8561, Longitude: -104.6737}},
	{"KDFW", "Dallas/Fort Worth Intl", geo.Point{Latitude: 32.8998, Longitude: -97.0403}},
	{"KIAH", "Houston George Bush", geo.Point{Latitude: 29.9902, Longitude: -95.3368}},
	{"KORD", "Chicago O'Hare Intl", geo.Point{Latitude: 41.9742, Longitude: -87.9073}},
	{"KMSP", "Minneapolis-St Paul Intl", geo.Point{Latitude: 44.8848, Longitude: -93.2223}},
	{"KDTW", "Detroit Metro", geo.Point{Latitude: 42.2162, Longitude: -83.3554}},
	{"KATL", "Hartsfield-Jackson Atlanta", geo.Point{Latitude: 33.6407, Longitude: -84.4277}},
	{"KMIA", "Miami Intl", geo.Point{Latitude: 25.7959, Longitude: -80.2870}},
	{"KJFK", "John F Kennedy Intl", geo.Point{Latitude: 40.6413, Longitude: -73.7781}},
	{"KEWR", "Newark Liberty Intl", geo.Point{Latitude: 40.6895, Longitude: -74.1745}},
	{"KBOS", "Boston Logan Intl", geo.Point{Latitude: 42.3656, Longitude: -71.0096}},
	{"KSLC", "Salt Lake City Intl", geo.Point{Latitude: 40.7899, Longitude: -111.9791}},
	{"CYVR", "Vancouver Intl", geo.Point{Latitude: 49.1967, Longitude: -123.1815}},
	{"CYYZ", "Toronto Pearson Intl", geo.Point{Latitude: 43.6777, Longitude: -79.6248}},
}

// airportSuppressionRadiusNM is the distance within which arrival and
// departure traffic is expected to cross vertically.
const airportSuppressionRadiusNM = 5.0

// nearMajorAirport reports whether a position lies within the suppression
// radius of any major airport.
func nearMajorAirport(p geo.Point) bool {
	for _, ap := range majorAirports {
		if geo.DistanceNM(p, ap.Location) <= airportSuppressionRadiusNM {
			return true
		}
	}
	return false
}

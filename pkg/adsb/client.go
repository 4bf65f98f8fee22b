package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Tar1090AircraftURL builds the aircraft.json URL for an ultrafeeder/tar1090
// base URL (e.g., "http://ultrafeeder:8080").
func Tar1090AircraftURL(base string) string {
	return strings.TrimRight(base, "/") + "/tar1090/data/aircraft.json"
}

// Dump978AircraftURL builds the aircraft.json URL for a dump978 base URL.
func Dump978AircraftURL(base string) string {
	return strings.TrimRight(base, "/") + "/data/aircraft.json"
}

// Client fetches aircraft.json from one aggregator endpoint and converts
// the wire records into Observations tagged with the client's source channel.
type Client struct {
	// url is the full aircraft.json URL
	url string

	// source tags every observation this client produces
	source Source

	// httpClient enforces the bounded request timeout
	httpClient *http.Client
}

// NewClient creates a client for a single aircraft.json endpoint.
// url should be a complete endpoint URL (see Tar1090AircraftURL and
// Dump978AircraftURL).
func NewClient(url string, source Source, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		source: source,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Source returns the radio channel this client is tagged with.
func (c *Client) Source() Source {
	return c.source
}

// Fetch retrieves the current aircraft list. Records without a usable ICAO
// address are skipped; invalid positions are dropped from the observation
// rather than failing the fetch.
func (c *Client) Fetch(ctx context.Context) ([]*Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aircraft data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &UpstreamError{
			URL:        c.url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var wire aircraftJSON
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to parse aircraft.json: %w", err)
	}

	now := time.Now().UTC()
	observations := make([]*Observation, 0, len(wire.Aircraft))
	for _, ac := range wire.Aircraft {
		obs, ok := convertAircraft(ac, c.source, now)
		if !ok {
			continue
		}
		observations = append(observations, &obs)
	}

	return observations, nil
}

// UpstreamError is returned when an aggregator responds with a non-200
// status. Callers log and skip the tick rather than retrying.
type UpstreamError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// aircraftJSON is the wire shape of readsb-style aircraft.json.
type aircraftJSON struct {
	// Now is the file generation timestamp (Unix seconds, fractional)
	Now float64 `json:"now"`

	// Messages is the total Mode S message count since startup
	Messages int64 `json:"messages"`

	// Aircraft is the array of aircraft records
	Aircraft []wireAircraft `json:"aircraft"`
}

// wireAircraft is a single record in aircraft.json. Most fields are
// optional on the wire; the narrowing into Observation happens once here.
type wireAircraft struct {
	// Hex is the ICAO Mode S hex code; TIS-B synthetic targets carry a
	// "~" prefix
	Hex string `json:"hex"`

	// Flight is the callsign, space-padded to 8 characters
	Flight *string `json:"flight"`

	// Lat/Lon in decimal degrees
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	// AltBaro is barometric altitude in feet, or the string "ground"
	AltBaro interface{} `json:"alt_baro"`

	// AltGeom is geometric altitude in feet
	AltGeom *float64 `json:"alt_geom"`

	// Gs is ground speed in knots
	Gs *float64 `json:"gs"`

	// Track is ground track in degrees
	Track *float64 `json:"track"`

	// BaroRate/GeomRate are vertical rates in feet/minute
	BaroRate *float64 `json:"baro_rate"`
	GeomRate *float64 `json:"geom_rate"`

	// Squawk is the 4-digit octal transponder code
	Squawk *string `json:"squawk"`

	// Category is the ADS-B emitter category (e.g., "A3")
	Category *string `json:"category"`

	// AircraftType is the airframe type designator (e.g., "B738")
	AircraftType *string `json:"t"`

	// DBFlags is a flag word from the aircraft database; bit 0 = military
	DBFlags *int `json:"dbFlags"`

	// Rssi is signal strength in dBFS
	Rssi *float64 `json:"rssi"`

	// Seen is seconds since the last message from this aircraft
	Seen *float64 `json:"seen"`
}

// convertAircraft narrows a wire record into an Observation. Returns
// ok=false for records that cannot be used (missing or synthetic ICAO).
func convertAircraft(ac wireAircraft, source Source, now time.Time) (Observation, bool) {
	hex := strings.TrimSpace(ac.Hex)
	if hex == "" || strings.HasPrefix(hex, "~") {
		return Observation{}, false
	}

	obs := Observation{
		ICAO:   strings.ToUpper(hex),
		Source: source,
		SeenAt: now,
	}

	if ac.Flight != nil {
		obs.Callsign = strings.TrimSpace(*ac.Flight)
	}

	// Position: require both coordinates in range, otherwise drop the pair.
	if ac.Lat != nil && ac.Lon != nil &&
		*ac.Lat >= -90 && *ac.Lat <= 90 && *ac.Lon >= -180 && *ac.Lon <= 180 {
		lat, lon := *ac.Lat, *ac.Lon
		obs.Latitude = &lat
		obs.Longitude = &lon
	}

	// Barometric altitude can be the string "ground".
	switch v := ac.AltBaro.(type) {
	case float64:
		alt := v
		obs.BaroAltitude = &alt
	case string:
		if v == "ground" {
			zero := 0.0
			obs.BaroAltitude = &zero
			obs.OnGround = true
		}
	}

	if ac.AltGeom != nil {
		alt := *ac.AltGeom
		obs.GeomAltitude = &alt
	}
	if ac.Gs != nil {
		gs := *ac.Gs
		obs.GroundSpeed = &gs
	}
	if ac.Track != nil {
		trk := *ac.Track
		obs.Track = &trk
	}

	// Vertical rate: barometric preferred, geometric as fallback.
	if ac.BaroRate != nil {
		vr := *ac.BaroRate
		obs.VerticalRate = &vr
	} else if ac.GeomRate != nil {
		vr := *ac.GeomRate
		obs.VerticalRate = &vr
	}

	if ac.Squawk != nil {
		obs.Squawk = strings.TrimSpace(*ac.Squawk)
	}
	if ac.Category != nil {
		obs.Category = *ac.Category
	}
	if ac.AircraftType != nil {
		obs.Type = strings.TrimSpace(*ac.AircraftType)
	}
	if ac.DBFlags != nil {
		obs.Military = *ac.DBFlags&1 != 0
	}
	if ac.Rssi != nil {
		rssi := *ac.Rssi
		obs.Signal = &rssi
	}

	// Adjust the poll timestamp by the upstream age field.
	if ac.Seen != nil && *ac.Seen > 0 {
		obs.SeenAt = now.Add(-time.Duration(*ac.Seen * float64(time.Second)))
	}

	return obs, true
}

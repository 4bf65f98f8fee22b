package adsb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// floatPtr returns a pointer to a float64 (helper for test data).
func floatPtr(f float64) *float64 {
	return &f
}

func intPtr(i int) *int {
	return &i
}

// TestAircraftURLs tests endpoint URL construction.
func TestAircraftURLs(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{
			name:     "Tar1090 base",
			got:      Tar1090AircraftURL("http://ultrafeeder:8080"),
			expected: "http://ultrafeeder:8080/tar1090/data/aircraft.json",
		},
		{
			name:     "Tar1090 trailing slash",
			got:      Tar1090AircraftURL("http://ultrafeeder:8080/"),
			expected: "http://ultrafeeder:8080/tar1090/data/aircraft.json",
		},
		{
			name:     "Dump978 base",
			got:      Dump978AircraftURL("http://dump978:8978"),
			expected: "http://dump978:8978/data/aircraft.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.got)
			}
		})
	}
}

// TestFetch tests fetching and converting aircraft.json.
func TestFetch(t *testing.T) {
	t.Run("Successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"now": 1723000000.5,
				"messages": 123456,
				"aircraft": [
					{
						"hex": "a12345",
						"flight": "UAL123  ",
						"lat": 47.6, "lon": -122.3,
						"alt_baro": 30000, "alt_geom": 30350,
						"gs": 450.0, "track": 90.0, "baro_rate": -64,
						"squawk": "1200", "category": "A3", "t": "B738",
						"rssi": -12.3
					},
					{
						"hex": "ae1482",
						"lat": 47.7, "lon": -122.1,
						"alt_baro": 25000,
						"dbFlags": 1
					},
					{
						"hex": "abcdef",
						"alt_baro": "ground",
						"squawk": "7700"
					},
					{
						"hex": "~2f00a1",
						"lat": 47.0, "lon": -122.0
					},
					{
						"hex": "b00bad",
						"lat": 95.0, "lon": -122.0,
						"alt_baro": 10000
					}
				]
			}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, Source1090, 5*time.Second)
		obs, err := client.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}

		// The "~" synthetic target is dropped entirely.
		if len(obs) != 4 {
			t.Fatalf("Expected 4 observations, got %d", len(obs))
		}

		first := obs[0]
		if first.ICAO != "A12345" {
			t.Errorf("Expected ICAO A12345, got %s", first.ICAO)
		}
		if first.Callsign != "UAL123" {
			t.Errorf("Expected trimmed callsign UAL123, got %q", first.Callsign)
		}
		if !first.HasPosition() {
			t.Fatal("Expected position")
		}
		if *first.Latitude != 47.6 || *first.Longitude != -122.3 {
			t.Errorf("Unexpected position: %f, %f", *first.Latitude, *first.Longitude)
		}
		if first.BaroAltitude == nil || *first.BaroAltitude != 30000 {
			t.Error("Expected baro altitude 30000")
		}
		if first.GeomAltitude == nil || *first.GeomAltitude != 30350 {
			t.Error("Expected geom altitude 30350")
		}
		if first.VerticalRate == nil || *first.VerticalRate != -64 {
			t.Error("Expected vertical rate -64")
		}
		if first.Squawk != "1200" || first.Category != "A3" || first.Type != "B738" {
			t.Errorf("Unexpected identity fields: %s/%s/%s", first.Squawk, first.Category, first.Type)
		}
		if first.Military {
			t.Error("Expected civilian aircraft")
		}
		if first.Source != Source1090 {
			t.Errorf("Expected source 1090, got %s", first.Source)
		}

		military := obs[1]
		if !military.Military {
			t.Error("Expected dbFlags bit 0 to set military")
		}

		ground := obs[2]
		if !ground.OnGround {
			t.Error("Expected ground sentinel to set OnGround")
		}
		if ground.BaroAltitude == nil || *ground.BaroAltitude != 0 {
			t.Error("Expected ground sentinel to map altitude to 0")
		}
		if ground.HasPosition() {
			t.Error("Expected no position for aircraft without lat/lon")
		}
		if !ground.EmergencySquawk() {
			t.Error("Expected 7700 to be an emergency squawk")
		}

		// Out-of-range latitude drops the position, not the observation.
		badPos := obs[3]
		if badPos.HasPosition() {
			t.Error("Expected out-of-range position to be dropped")
		}
		if badPos.BaroAltitude == nil || *badPos.BaroAltitude != 10000 {
			t.Error("Expected altitude to survive position drop")
		}
	})

	t.Run("Geom rate fallback", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"aircraft": [{"hex": "a00001", "geom_rate": 1280}]}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, Source1090, 5*time.Second)
		obs, err := client.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(obs) != 1 {
			t.Fatalf("Expected 1 observation, got %d", len(obs))
		}
		if obs[0].VerticalRate == nil || *obs[0].VerticalRate != 1280 {
			t.Error("Expected geom_rate fallback for vertical rate")
		}
	})

	t.Run("Seen adjusts timestamp", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"aircraft": [{"hex": "a00001", "seen": 10.0}]}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, Source1090, 5*time.Second)
		before := time.Now().UTC()
		obs, err := client.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(obs) != 1 {
			t.Fatalf("Expected 1 observation, got %d", len(obs))
		}

		age := before.Sub(obs[0].SeenAt)
		if age < 9*time.Second || age > 12*time.Second {
			t.Errorf("Expected SeenAt ~10s in the past, got age %v", age)
		}
	})

	t.Run("Upstream error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("bad gateway"))
		}))
		defer server.Close()

		client := NewClient(server.URL, Source978, 5*time.Second)
		_, err := client.Fetch(context.Background())
		if err == nil {
			t.Fatal("Expected error, got nil")
		}

		ue, ok := err.(*UpstreamError)
		if !ok {
			t.Fatalf("Expected *UpstreamError, got %T", err)
		}
		if ue.StatusCode != http.StatusBadGateway {
			t.Errorf("Expected status 502, got %d", ue.StatusCode)
		}
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		defer server.Close()

		client := NewClient(server.URL, Source1090, 5*time.Second)
		_, err := client.Fetch(context.Background())
		if err == nil {
			t.Fatal("Expected parse error, got nil")
		}
	})

	t.Run("Context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{"aircraft": []}`))
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		client := NewClient(server.URL, Source1090, 5*time.Second)
		_, err := client.Fetch(ctx)
		if err == nil {
			t.Fatal("Expected context error, got nil")
		}
	})
}

// TestConvertAircraft tests wire-record narrowing edge cases.
func TestConvertAircraft(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name   string
		wire   wireAircraft
		wantOK bool
		check  func(t *testing.T, obs Observation)
	}{
		{
			name:   "Empty hex skipped",
			wire:   wireAircraft{Hex: "  "},
			wantOK: false,
		},
		{
			name:   "Hex uppercased",
			wire:   wireAircraft{Hex: "abc123"},
			wantOK: true,
			check: func(t *testing.T, obs Observation) {
				if obs.ICAO != "ABC123" {
					t.Errorf("Expected ABC123, got %s", obs.ICAO)
				}
			},
		},
		{
			name:   "Lat without lon dropped",
			wire:   wireAircraft{Hex: "a00001", Lat: floatPtr(47.5)},
			wantOK: true,
			check: func(t *testing.T, obs Observation) {
				if obs.HasPosition() {
					t.Error("Expected half a position to be dropped")
				}
			},
		},
		{
			name:   "Military flag word",
			wire:   wireAircraft{Hex: "ae0001", DBFlags: intPtr(9)},
			wantOK: true,
			check: func(t *testing.T, obs Observation) {
				if !obs.Military {
					t.Error("Expected bit 0 of dbFlags to mean military")
				}
			},
		},
		{
			name:   "Non-military flag word",
			wire:   wireAircraft{Hex: "a00001", DBFlags: intPtr(8)},
			wantOK: true,
			check: func(t *testing.T, obs Observation) {
				if obs.Military {
					t.Error("Expected bit 0 clear to mean civilian")
				}
			},
		},
		{
			name:   "Unexpected alt_baro type ignored",
			wire:   wireAircraft{Hex: "a00001", AltBaro: true},
			wantOK: true,
			check: func(t *testing.T, obs Observation) {
				if obs.BaroAltitude != nil {
					t.Error("Expected nil altitude for unexpected type")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, ok := convertAircraft(tt.wire, Source1090, now)
			if ok != tt.wantOK {
				t.Fatalf("convertAircraft ok = %v, expected %v", ok, tt.wantOK)
			}
			if tt.check != nil {
				tt.check(t, obs)
			}
		})
	}
}

// TestEmergencySquawk tests the three emergency transponder codes.
func TestEmergencySquawk(t *testing.T) {
	tests := []struct {
		squawk   string
		expected bool
	}{
		{"7500", true},
		{"7600", true},
		{"7700", true},
		{"1200", false},
		{"7000", false},
		{"", false},
	}

	for _, tt := range tests {
		obs := Observation{ICAO: "A12345", Squawk: tt.squawk}
		if got := obs.EmergencySquawk(); got != tt.expected {
			t.Errorf("EmergencySquawk(%q) = %v, expected %v", tt.squawk, got, tt.expected)
		}
	}
}

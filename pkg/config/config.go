// Package config holds the complete daemon configuration.
// Configuration is loaded from a JSON file with environment overrides;
// invalid configuration refuses to start the daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Station      StationConfig      `json:"station"`
	Feed         FeedConfig         `json:"feed"`
	Safety       SafetyConfig       `json:"safety"`
	ACARS        ACARSConfig        `json:"acars"`
	Notification NotificationConfig `json:"notification"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// JWTSecret enables websocket subscriber authentication when non-empty.
	// Should be supplied via SKYFEEDER_JWT_SECRET rather than the file.
	JWTSecret string `json:"jwt_secret,omitempty"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// StationConfig is the receiver site. Sighting distances and alert "distance"
// fields are computed relative to this point.
type StationConfig struct {
	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`

	// Name is a friendly identifier for this station
	Name string `json:"name"`
}

// FeedConfig contains the upstream aggregator polling settings.
type FeedConfig struct {
	// UltrafeederURL is the primary 1090 MHz aggregator base URL.
	// Aircraft are fetched from {url}/tar1090/data/aircraft.json.
	UltrafeederURL string `json:"ultrafeeder_url"`

	// Dump978URL is the optional 978 MHz UAT aggregator base URL.
	// Aircraft are fetched from {url}/data/aircraft.json.
	Dump978URL string `json:"dump978_url,omitempty"`

	// PollingIntervalSeconds is how often to poll the aggregators (default: 2)
	PollingIntervalSeconds float64 `json:"polling_interval_seconds"`

	// DBStoreIntervalSeconds gates sighting/session persistence (default: 15).
	// Observations between stores still flow to safety, alerts and fan-out.
	DBStoreIntervalSeconds float64 `json:"db_store_interval_seconds"`

	// RequestTimeoutSeconds bounds each upstream fetch (default: 10)
	RequestTimeoutSeconds float64 `json:"request_timeout_seconds"`
}

// SafetyConfig contains the safety detector thresholds.
type SafetyConfig struct {
	// VSChangeThresholdFpm is the minimum |ΔVS| for a vs_reversal event (default: 1000)
	VSChangeThresholdFpm float64 `json:"vs_change_threshold_fpm"`

	// VSExtremeThresholdFpm is the minimum |VS| for an extreme_vs event (default: 6000)
	VSExtremeThresholdFpm float64 `json:"vs_extreme_threshold_fpm"`

	// TCASVSThresholdFpm is the minimum |VS| on both sides of a reversal
	// for a tcas_ra event (default: 1500)
	TCASVSThresholdFpm float64 `json:"tcas_vs_threshold_fpm"`

	// ProximityThresholdNM is the maximum separation for a proximity
	// conflict (default: 0.5). A pair exactly at the threshold does not emit.
	ProximityThresholdNM float64 `json:"proximity_threshold_nm"`

	// AltitudeDiffThresholdFt is the maximum |Δaltitude| for a proximity
	// conflict (default: 500)
	AltitudeDiffThresholdFt float64 `json:"altitude_diff_threshold_ft"`
}

// ACARSConfig contains the ACARS/VDL2 UDP ingest settings.
type ACARSConfig struct {
	// Enabled starts the UDP listeners when true
	Enabled bool `json:"enabled"`

	// ACARSPort is the UDP port for flat acarsdec JSON (default: 5550)
	ACARSPort int `json:"acars_port"`

	// VDLM2Port is the UDP port for VDL2 JSON, flat or dumpvdl2-nested (default: 5555)
	VDLM2Port int `json:"vdlm2_port"`
}

// NotificationConfig contains the push notification settings.
type NotificationConfig struct {
	// Enabled turns notification egress on
	Enabled bool `json:"enabled"`

	// AppriseURLs is the list of notifier URLs (telegram://, pushover://, ...)
	AppriseURLs []string `json:"apprise_urls"`

	// CooldownSeconds is the minimum gap between sends for the same event key (default: 300)
	CooldownSeconds int `json:"cooldown_seconds"`
}

// PollingInterval returns the polling cadence as a duration.
func (f FeedConfig) PollingInterval() time.Duration {
	return time.Duration(f.PollingIntervalSeconds * float64(time.Second))
}

// DBStoreInterval returns the persistence gate as a duration.
func (f FeedConfig) DBStoreInterval() time.Duration {
	return time.Duration(f.DBStoreIntervalSeconds * float64(time.Second))
}

// RequestTimeout returns the per-fetch timeout as a duration.
func (f FeedConfig) RequestTimeout() time.Duration {
	return time.Duration(f.RequestTimeoutSeconds * float64(time.Second))
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "skyfeeder",
			Username:     "skyfeeder",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Station: StationConfig{
			Name: "Primary Station",
		},
		Feed: FeedConfig{
			UltrafeederURL:         "http://ultrafeeder",
			PollingIntervalSeconds: 2,
			DBStoreIntervalSeconds: 15,
			RequestTimeoutSeconds:  10,
		},
		Safety: SafetyConfig{
			VSChangeThresholdFpm:    1000,
			VSExtremeThresholdFpm:   6000,
			TCASVSThresholdFpm:      1500,
			ProximityThresholdNM:    0.5,
			AltitudeDiffThresholdFt: 500,
		},
		ACARS: ACARSConfig{
			Enabled:   false,
			ACARSPort: 5550,
			VDLM2Port: 5555,
		},
		Notification: NotificationConfig{
			Enabled:         false,
			CooldownSeconds: 300,
		},
	}
}

// Validate checks config invariants. A violation refuses startup.
func (c *Config) Validate() error {
	if c.Station.Latitude < -90 || c.Station.Latitude > 90 {
		return fmt.Errorf("station latitude %f out of range [-90, 90]", c.Station.Latitude)
	}
	if c.Station.Longitude < -180 || c.Station.Longitude > 180 {
		return fmt.Errorf("station longitude %f out of range [-180, 180]", c.Station.Longitude)
	}
	if strings.TrimSpace(c.Feed.UltrafeederURL) == "" {
		return fmt.Errorf("ultrafeeder_url is required")
	}
	if c.Feed.PollingIntervalSeconds <= 0 {
		return fmt.Errorf("polling_interval_seconds must be positive, got %f", c.Feed.PollingIntervalSeconds)
	}
	if c.Feed.DBStoreIntervalSeconds < c.Feed.PollingIntervalSeconds {
		return fmt.Errorf("db_store_interval_seconds (%f) must be >= polling_interval_seconds (%f)",
			c.Feed.DBStoreIntervalSeconds, c.Feed.PollingIntervalSeconds)
	}
	if c.Safety.ProximityThresholdNM <= 0 {
		return fmt.Errorf("proximity_threshold_nm must be positive, got %f", c.Safety.ProximityThresholdNM)
	}
	if c.Safety.AltitudeDiffThresholdFt <= 0 {
		return fmt.Errorf("altitude_diff_threshold_ft must be positive, got %f", c.Safety.AltitudeDiffThresholdFt)
	}
	if c.Safety.VSExtremeThresholdFpm <= 0 || c.Safety.TCASVSThresholdFpm <= 0 || c.Safety.VSChangeThresholdFpm <= 0 {
		return fmt.Errorf("safety vertical-rate thresholds must be positive")
	}
	if c.ACARS.Enabled {
		if c.ACARS.ACARSPort <= 0 || c.ACARS.ACARSPort > 65535 {
			return fmt.Errorf("acars_port %d out of range", c.ACARS.ACARSPort)
		}
		if c.ACARS.VDLM2Port <= 0 || c.ACARS.VDLM2Port > 65535 {
			return fmt.Errorf("vdlm2_port %d out of range", c.ACARS.VDLM2Port)
		}
	}
	if c.Notification.Enabled && len(c.Notification.AppriseURLs) == 0 {
		return fmt.Errorf("notification enabled but no apprise_urls configured")
	}
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides.
// This allows sensitive data like passwords to be kept out of config files
// and supports fully env-driven deployments.
func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("SKYFEEDER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("SKYFEEDER_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("SKYFEEDER_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("SKYFEEDER_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v, ok := lookupFloat("SKYFEEDER_FEEDER_LAT"); ok {
		c.Station.Latitude = v
	}
	if v, ok := lookupFloat("SKYFEEDER_FEEDER_LON"); ok {
		c.Station.Longitude = v
	}
	if v := os.Getenv("SKYFEEDER_ULTRAFEEDER_URL"); v != "" {
		c.Feed.UltrafeederURL = v
	}
	if v := os.Getenv("SKYFEEDER_DUMP978_URL"); v != "" {
		c.Feed.Dump978URL = v
	}
	if v, ok := lookupFloat("SKYFEEDER_POLLING_INTERVAL"); ok {
		c.Feed.PollingIntervalSeconds = v
	}
	if v, ok := lookupFloat("SKYFEEDER_DB_STORE_INTERVAL"); ok {
		c.Feed.DBStoreIntervalSeconds = v
	}
	if v, ok := lookupFloat("SKYFEEDER_SAFETY_VS_CHANGE"); ok {
		c.Safety.VSChangeThresholdFpm = v
	}
	if v, ok := lookupFloat("SKYFEEDER_SAFETY_VS_EXTREME"); ok {
		c.Safety.VSExtremeThresholdFpm = v
	}
	if v, ok := lookupFloat("SKYFEEDER_SAFETY_TCAS_VS"); ok {
		c.Safety.TCASVSThresholdFpm = v
	}
	if v, ok := lookupFloat("SKYFEEDER_SAFETY_PROXIMITY_NM"); ok {
		c.Safety.ProximityThresholdNM = v
	}
	if v, ok := lookupFloat("SKYFEEDER_SAFETY_ALTITUDE_DIFF_FT"); ok {
		c.Safety.AltitudeDiffThresholdFt = v
	}
	if v := os.Getenv("SKYFEEDER_ACARS_ENABLED"); v != "" {
		c.ACARS.Enabled = isTruthy(v)
	}
	if v, ok := lookupInt("SKYFEEDER_ACARS_PORT"); ok {
		c.ACARS.ACARSPort = v
	}
	if v, ok := lookupInt("SKYFEEDER_VDLM2_PORT"); ok {
		c.ACARS.VDLM2Port = v
	}
	if v := os.Getenv("SKYFEEDER_APPRISE_URLS"); v != "" {
		urls := []string{}
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		c.Notification.AppriseURLs = urls
		c.Notification.Enabled = len(urls) > 0
	}
	if v, ok := lookupInt("SKYFEEDER_NOTIFICATION_COOLDOWN"); ok {
		c.Notification.CooldownSeconds = v
	}
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

// Sighting is one persisted aircraft observation, tied to the session
// that was open when it was seen.
type Sighting struct {
	ID           int64
	ICAO         string
	Callsign     string
	Source       adsb.Source
	Latitude     *float64
	Longitude    *float64
	BaroAltitude *float64
	GeomAltitude *float64
	GroundSpeed  *float64
	Track        *float64
	VerticalRate *float64
	Squawk       string
	Type         string
	Category     string
	Military     bool
	OnGround     bool
	Signal       *float64
	DistanceNM   *float64
	SessionID    int64
	SeenAt       time.Time
}

// NewSighting builds a sighting row from an observation and its derived
// values.
func NewSighting(obs *adsb.Observation, distanceNM *float64, sessionID int64) *Sighting {
	return &Sighting{
		ICAO:         obs.ICAO,
		Callsign:     obs.Callsign,
		Source:       obs.Source,
		Latitude:     obs.Latitude,
		Longitude:    obs.Longitude,
		BaroAltitude: obs.BaroAltitude,
		GeomAltitude: obs.GeomAltitude,
		GroundSpeed:  obs.GroundSpeed,
		Track:        obs.Track,
		VerticalRate: obs.VerticalRate,
		Squawk:       obs.Squawk,
		Type:         obs.Type,
		Category:     obs.Category,
		Military:     obs.Military,
		OnGround:     obs.OnGround,
		Signal:       obs.Signal,
		DistanceNM:   distanceNM,
		SessionID:    sessionID,
		SeenAt:       obs.SeenAt,
	}
}

// SightingRepository handles sighting persistence.
type SightingRepository struct {
	db *DB
}

// NewSightingRepository creates a sighting repository.
func NewSightingRepository(db *DB) *SightingRepository {
	return &SightingRepository{db: db}
}

// AppendSighting stores one sighting row.
func (r *SightingRepository) AppendSighting(ctx context.Context, s *Sighting) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sightings (
			icao, callsign, source, latitude, longitude,
			altitude_ft, geom_altitude_ft, ground_speed_kts, track_deg,
			vertical_rate_fpm, squawk, aircraft_type, category,
			military, on_ground, signal_dbfs, distance_nm, session_id, seen_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)`,
		s.ICAO, nullString(s.Callsign), string(s.Source),
		nullFloat(s.Latitude), nullFloat(s.Longitude),
		nullFloat(s.BaroAltitude), nullFloat(s.GeomAltitude),
		nullFloat(s.GroundSpeed), nullFloat(s.Track),
		nullFloat(s.VerticalRate), nullString(s.Squawk),
		nullString(s.Type), nullString(s.Category),
		s.Military, s.OnGround, nullFloat(s.Signal),
		nullFloat(s.DistanceNM), nullInt(s.SessionID), s.SeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sighting: %w", err)
	}
	return nil
}

// CountSightingsSince returns the number of sightings newer than the
// cutoff. Used by the stats surface.
func (r *SightingRepository) CountSightingsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sightings WHERE seen_at > $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sightings: %w", err)
	}
	return count, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

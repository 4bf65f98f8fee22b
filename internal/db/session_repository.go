package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/sessions"
	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

// SessionRepository persists aircraft sessions. Implements
// sessions.Store.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// FindOpenSession returns the most recent session for this ICAO/source
// whose last_seen is at or after since, or nil when none is open.
func (r *SessionRepository) FindOpenSession(ctx context.Context, icao string, source adsb.Source, since time.Time) (*sessions.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, icao, callsign, source, first_seen, last_seen,
		        total_positions, min_altitude_ft, max_altitude_ft,
		        min_distance_nm, max_distance_nm, min_signal_dbfs,
		        max_signal_dbfs, max_vertical_fpm, military, aircraft_type
		 FROM sessions
		 WHERE icao = $1 AND source = $2 AND last_seen >= $3
		 ORDER BY last_seen DESC
		 LIMIT 1`,
		icao, string(source), since,
	)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open session: %w", err)
	}
	return s, nil
}

// CreateSession inserts a new session and returns its durable id.
func (r *SessionRepository) CreateSession(ctx context.Context, s *sessions.Session) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sessions (
			icao, callsign, source, first_seen, last_seen,
			total_positions, min_altitude_ft, max_altitude_ft,
			min_distance_nm, max_distance_nm, min_signal_dbfs,
			max_signal_dbfs, max_vertical_fpm, military, aircraft_type
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		) RETURNING id`,
		s.ICAO, nullString(s.Callsign), string(s.Source),
		s.FirstSeen, s.LastSeen, s.TotalPositions,
		nullFloat(s.MinAltitude), nullFloat(s.MaxAltitude),
		nullFloat(s.MinDistanceNM), nullFloat(s.MaxDistanceNM),
		nullFloat(s.MinSignal), nullFloat(s.MaxSignal),
		s.MaxVerticalFpm, s.Military, nullString(s.AircraftType),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// UpdateSession persists the session's current aggregates.
func (r *SessionRepository) UpdateSession(ctx context.Context, s *sessions.Session) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET
			callsign = $2, last_seen = $3, total_positions = $4,
			min_altitude_ft = $5, max_altitude_ft = $6,
			min_distance_nm = $7, max_distance_nm = $8,
			min_signal_dbfs = $9, max_signal_dbfs = $10,
			max_vertical_fpm = $11, military = $12, aircraft_type = $13
		 WHERE id = $1`,
		s.ID, nullString(s.Callsign), s.LastSeen, s.TotalPositions,
		nullFloat(s.MinAltitude), nullFloat(s.MaxAltitude),
		nullFloat(s.MinDistanceNM), nullFloat(s.MaxDistanceNM),
		nullFloat(s.MinSignal), nullFloat(s.MaxSignal),
		s.MaxVerticalFpm, s.Military, nullString(s.AircraftType),
	)
	if err != nil {
		return fmt.Errorf("failed to update session %d: %w", s.ID, err)
	}
	return nil
}

// scanSession reads one session row.
func scanSession(row *sql.Row) (*sessions.Session, error) {
	var (
		s        sessions.Session
		callsign sql.NullString
		acType   sql.NullString
		source   string
		minAlt   sql.NullFloat64
		maxAlt   sql.NullFloat64
		minDist  sql.NullFloat64
		maxDist  sql.NullFloat64
		minSig   sql.NullFloat64
		maxSig   sql.NullFloat64
	)

	err := row.Scan(&s.ID, &s.ICAO, &callsign, &source, &s.FirstSeen,
		&s.LastSeen, &s.TotalPositions, &minAlt, &maxAlt, &minDist,
		&maxDist, &minSig, &maxSig, &s.MaxVerticalFpm, &s.Military, &acType)
	if err != nil {
		return nil, err
	}

	s.Callsign = callsign.String
	s.AircraftType = acType.String
	s.Source = adsb.Source(source)
	s.MinAltitude = floatPtrOf(minAlt)
	s.MaxAltitude = floatPtrOf(maxAlt)
	s.MinDistanceNM = floatPtrOf(minDist)
	s.MaxDistanceNM = floatPtrOf(maxDist)
	s.MinSignal = floatPtrOf(minSig)
	s.MaxSignal = floatPtrOf(maxSig)
	return &s, nil
}

func floatPtrOf(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/safety"
)

// SafetyRepository persists safety events and acknowledgment overlays.
// Implements safety.Store.
type SafetyRepository struct {
	db *DB
}

// NewSafetyRepository creates a safety repository.
func NewSafetyRepository(db *DB) *SafetyRepository {
	return &SafetyRepository{db: db}
}

// AppendSafetyEvent stores one event and returns the durable row id the
// monitor glues back onto the in-memory event.
func (r *SafetyRepository) AppendSafetyEvent(ctx context.Context, e *safety.Event) (int64, error) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event details: %w", err)
	}
	aircraft, err := json.Marshal(e.Aircraft)
	if err != nil {
		return 0, fmt.Errorf("failed to encode aircraft snapshot: %w", err)
	}
	peer, err := json.Marshal(e.Peer)
	if err != nil {
		return 0, fmt.Errorf("failed to encode peer snapshot: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO safety_events (
			event_id, event_type, severity, icao, peer_icao,
			message, details, aircraft, peer, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		e.ID, e.Type, string(e.Severity), e.ICAO, nullString(e.PeerICAO),
		e.Message, details, aircraft, peer, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert safety event: %w", err)
	}
	return id, nil
}

// SaveAcknowledgment upserts the acknowledgment overlay for one event id.
func (r *SafetyRepository) SaveAcknowledgment(ctx context.Context, eventID string, acknowledged bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO safety_acks (event_id, acknowledged, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO UPDATE SET
			acknowledged = EXCLUDED.acknowledged,
			updated_at = EXCLUDED.updated_at`,
		eventID, acknowledged, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save acknowledgment: %w", err)
	}
	return nil
}

// DeleteAcknowledgment removes the overlay for one event id.
func (r *SafetyRepository) DeleteAcknowledgment(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM safety_acks WHERE event_id = $1`, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete acknowledgment: %w", err)
	}
	return nil
}

// LoadAcknowledgments returns every persisted acknowledgment overlay,
// keyed by event id.
func (r *SafetyRepository) LoadAcknowledgments(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id, acknowledged FROM safety_acks`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load acknowledgments: %w", err)
	}
	defer rows.Close()

	acks := make(map[string]bool)
	for rows.Next() {
		var (
			eventID string
			acked   bool
		)
		if err := rows.Scan(&eventID, &acked); err != nil {
			return nil, fmt.Errorf("failed to scan acknowledgment row: %w", err)
		}
		acks[eventID] = acked
	}
	return acks, rows.Err()
}

// CountSafetyEventsSince returns the number of events created after the
// cutoff, grouped by type. Used by the stats surface.
func (r *SafetyRepository) CountSafetyEventsSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM safety_events
		 WHERE created_at > $1 GROUP BY event_type`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count safety events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			eventType string
			count     int64
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan safety count row: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

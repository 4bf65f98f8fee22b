package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/acars"
)

// AcarsRepository persists normalized ACARS messages. Implements
// acars.Store.
type AcarsRepository struct {
	db *DB
}

// NewAcarsRepository creates an ACARS repository.
func NewAcarsRepository(db *DB) *AcarsRepository {
	return &AcarsRepository{db: db}
}

// AppendAcarsMessage stores one normalized message.
func (r *AcarsRepository) AppendAcarsMessage(ctx context.Context, m *acars.Message) error {
	decoded, err := json.Marshal(m.DecodedFields)
	if err != nil {
		return fmt.Errorf("failed to encode decoded fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO acars_messages (
			source, message_time, frequency_mhz, channel, icao,
			registration, callsign, label, block_id, msg_number,
			ack, mode, text, signal_level, error_count,
			ground_station, decoded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		          $11, $12, $13, $14, $15, $16, $17)`,
		string(m.Source), m.Timestamp, m.FrequencyMHz, m.Channel,
		nullString(m.ICAO), nullString(m.Registration),
		nullString(m.Callsign), nullString(m.Label),
		nullString(m.BlockID), nullString(m.MessageNumber),
		nullString(m.Ack), nullString(m.Mode), nullString(m.Text),
		m.SignalLevel, m.ErrorCount, nullString(m.GroundStation), decoded,
	)
	if err != nil {
		return fmt.Errorf("failed to insert acars message: %w", err)
	}
	return nil
}

// CountAcarsMessagesSince returns per-source message counts newer than
// the cutoff. Used by the stats surface.
func (r *AcarsRepository) CountAcarsMessagesSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM acars_messages
		 WHERE message_time > $1 GROUP BY source`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count acars messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			source string
			count  int64
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan acars count row: %w", err)
		}
		counts[source] = count
	}
	return counts, rows.Err()
}

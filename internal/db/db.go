// Package db is the durable sink: PostgreSQL-backed repositories for
// sightings, sessions, safety events, alert rules, and ACARS messages.
// Every write tolerates transient failure per call; an error is logged
// and counted by the caller, never allowed to poison the next cycle.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/skyfeeder/skyfeeder/pkg/config"
)

//go:embed schema.sql
var schemaSQL embed.FS

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Bounded pool; store writes are serialized per connection.
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB, config: cfg}, nil
}

// InitSchema creates or updates the database schema.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Retention windows for CleanupOldData.
const (
	sightingRetention     = 24 * time.Hour
	acarsRetention        = 7 * 24 * time.Hour
	safetyEventRetention  = 30 * 24 * time.Hour
	alertHistoryRetention = 30 * 24 * time.Hour
	sessionRetention      = 7 * 24 * time.Hour
)

// CleanupOldData removes rows past their retention window.
// Should be called periodically to prevent unbounded growth.
func (db *DB) CleanupOldData(ctx context.Context) error {
	now := time.Now().UTC()

	cleanups := []struct {
		name  string
		query string
		arg   time.Time
	}{
		{"sightings", `DELETE FROM sightings WHERE seen_at < $1`, now.Add(-sightingRetention)},
		{"acars messages", `DELETE FROM acars_messages WHERE message_time < $1`, now.Add(-acarsRetention)},
		{"safety events", `DELETE FROM safety_events WHERE created_at < $1`, now.Add(-safetyEventRetention)},
		{"alert history", `DELETE FROM alert_history WHERE triggered_at < $1`, now.Add(-alertHistoryRetention)},
		{"sessions", `DELETE FROM sessions WHERE last_seen < $1`, now.Add(-sessionRetention)},
	}

	for _, c := range cleanups {
		if _, err := db.ExecContext(ctx, c.query, c.arg); err != nil {
			return fmt.Errorf("failed to clean up old %s: %w", c.name, err)
		}
	}

	return nil
}

// GetStats returns database statistics for the stats surface.
func (db *DB) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	now := time.Now().UTC()

	counts := []struct {
		key   string
		query string
		arg   time.Time
	}{
		{"sightings_last_hour", `SELECT COUNT(*) FROM sightings WHERE seen_at > $1`, now.Add(-time.Hour)},
		{"open_sessions", `SELECT COUNT(*) FROM sessions WHERE last_seen > $1`, now.Add(-5 * time.Minute)},
		{"safety_events_24h", `SELECT COUNT(*) FROM safety_events WHERE created_at > $1`, now.Add(-24 * time.Hour)},
		{"alerts_fired_24h", `SELECT COUNT(*) FROM alert_history WHERE triggered_at > $1`, now.Add(-24 * time.Hour)},
		{"acars_last_hour", `SELECT COUNT(*) FROM acars_messages WHERE message_time > $1`, now.Add(-time.Hour)},
	}

	for _, c := range counts {
		var count int64
		if err := db.QueryRowContext(ctx, c.query, c.arg).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.key, err)
		}
		stats[c.key] = count
	}

	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sightings`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count sightings: %w", err)
	}
	stats["sighting_records"] = total

	return stats, nil
}

// RunRetentionCleaner runs CleanupOldData on a fixed cadence until the
// context is cancelled.
func (db *DB) RunRetentionCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupOldData(ctx); err != nil {
				log.Printf("Retention cleanup failed: %v", err)
			}
		}
	}
}

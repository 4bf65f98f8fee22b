package db

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/config"
)

// ReconnectWithRetry attempts to connect to the database with
// exponential backoff, capped at 60 seconds between attempts.
// maxRetries of 0 retries forever.
func ReconnectWithRetry(cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++
		log.Printf("Database connection attempt %d...", attempt)

		db, err := Connect(cfg)
		if err == nil {
			log.Println("✓ Database connected")
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			log.Printf("Failed to connect after %d attempts", attempt)
			return nil, err
		}

		log.Printf("Connection failed: %v (retry in %v)", err, delay)
		time.Sleep(delay)

		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// EnsureConnection checks that the connection is alive and reconnects
// if needed. Returns the active connection, original or new.
func (db *DB) EnsureConnection() (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Printf("Database connection lost: %v, reconnecting...", err)
		db.Close()
		return ReconnectWithRetry(db.config, 3, 1*time.Second)
	}
	return db, nil
}

// HealthCheck reports whether the database is ready for operations.
func (db *DB) HealthCheck(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(checkCtx, "SELECT 1").Scan(&result); err != nil {
		log.Printf("Database health check failed: %v", err)
		return false
	}
	return result == 1
}

// WithRetry executes a database operation, retrying only on
// connection-class failures. Other errors return immediately.
func WithRetry(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnectionError(err) {
			return err
		}

		if attempt < maxRetries {
			waitTime := time.Duration(attempt+1) * time.Second
			log.Printf("Database operation failed (attempt %d/%d): %v (retry in %v)",
				attempt+1, maxRetries+1, err, waitTime)
			time.Sleep(waitTime)
		}
	}

	return lastErr
}

// isConnectionError classifies transport-level failures worth retrying.
func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"broken pipe",
		"no connection",
		"connection reset",
		"eof",
		"timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

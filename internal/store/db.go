package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig sizes the database/sql pool in front of pgx.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	// ConnectAttempts is how many pings Open makes before giving up.
	ConnectAttempts int
	RetryDelay      time.Duration
}

func DefaultPool() PoolConfig {
	return PoolConfig{
		MaxOpen:         20,
		MaxIdle:         10,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		ConnectAttempts: 5,
		RetryDelay:      time.Second,
	}
}

// Open connects with the default pool.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return OpenPool(ctx, databaseURL, DefaultPool())
}

// OpenPool connects through the pgx driver and waits for the server to
// answer, so the API can start alongside a database that is still booting.
func OpenPool(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetConnMaxIdleTime(pool.MaxIdleTime)

	if err := waitForPing(ctx, db, pool.ConnectAttempts, pool.RetryDelay); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func waitForPing(ctx context.Context, db pinger, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("ping db after %d attempts: %w", attempts, err)
}

// Package db provides PostgreSQL persistence for job records and per-owner
// templates. Every mutation of a job is republished through a Notifier so
// subscribers can follow pipeline progress without polling.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notifier receives job record mutations. Implementations must not block;
// the store calls Publish synchronously after each successful write.
type Notifier interface {
	Publish(event JobEvent)
}

// EventType identifies the kind of job record mutation.
type EventType string

// Mutation kinds emitted by the store.
const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// JobEvent describes one job record mutation. Previous is nil for inserts.
type JobEvent struct {
	Type     EventType `json:"event_type"`
	Previous *Job      `json:"previous,omitempty"`
	Current  *Job      `json:"current,omitempty"`
}

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool     *pgxpool.Pool
	notifier Notifier
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// SetNotifier attaches the change notifier that receives job mutations.
// Must be called before the first write; a nil notifier disables publishing.
func (db *DB) SetNotifier(n Notifier) {
	db.notifier = n
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *DB) publish(event JobEvent) {
	if db.notifier != nil {
		db.notifier.Publish(event)
	}
}

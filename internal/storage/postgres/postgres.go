// Package postgres stores push subscriptions and webhooks in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// DB owns the connection pool shared by the stores in this package.
type DB struct {
	db *sql.DB
}

// Open connects and pings the database.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{db: db}, nil
}

// RunMigrations creates the tables if they don't exist and applies column
// additions for databases created by older releases.
func (d *DB) RunMigrations(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	migrations := []string{
		`ALTER TABLE push_subscriptions ADD COLUMN IF NOT EXISTS expiration_time TIMESTAMP WITH TIME ZONE;`,
		`ALTER TABLE webhooks ADD COLUMN IF NOT EXISTS last_error TEXT;`,
	}
	for _, migration := range migrations {
		if _, err := d.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

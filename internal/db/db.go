package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"realtime-service/internal/config"
	"realtime-service/internal/logger"
)

// Connect opens the Postgres pool, retrying with exponential backoff until
// cfg.ConnectTimeout elapses.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*sqlx.DB, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout

	var database *sqlx.DB
	attempt := 0
	operation := func() error {
		attempt++
		conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		if err != nil {
			log.Warn("database not ready", logger.Int("attempt", attempt), logger.Error(err))
			return err
		}
		database = conn
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		database.SetMaxOpenConns(cfg.MaxOpenConns)
		database.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	database.SetConnMaxIdleTime(5 * time.Minute)
	return database, nil
}

// Migrate creates the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB, log *logger.Logger) error {
	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	log.Info("database migrations applied", logger.Int("count", len(migrations)))
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS threads (
            id SERIAL PRIMARY KEY,
            last_snippet TEXT NOT NULL DEFAULT '',
            last_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS thread_participants (
            thread_id INT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            PRIMARY KEY(thread_id, user_id)
        );`,
	`CREATE INDEX IF NOT EXISTS thread_participants_user_idx ON thread_participants(user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            thread_id INT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            receiver_id INT,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS messages_thread_id_idx ON messages(thread_id, id);`,
	`CREATE TABLE IF NOT EXISTS read_cursors (
            thread_id INT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            last_read_message_id BIGINT NOT NULL DEFAULT 0,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(thread_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS unread_counters (
            user_id INT PRIMARY KEY,
            message_unread INT NOT NULL DEFAULT 0 CHECK (message_unread >= 0),
            notification_unread INT NOT NULL DEFAULT 0 CHECK (notification_unread >= 0)
        );`,
	`CREATE TABLE IF NOT EXISTS notifications (
            id BIGSERIAL PRIMARY KEY,
            user_id INT NOT NULL,
            type TEXT NOT NULL,
            title TEXT NOT NULL,
            body TEXT NOT NULL DEFAULT '',
            action_url TEXT,
            read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications(user_id, id DESC);`,
}

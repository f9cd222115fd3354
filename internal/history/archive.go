// Package history is the local Postgres archive of chat messages. The core
// caches fetched history pages and live agent stream messages here so the UI
// can render a transcript while offline. The archive is a cache: every
// failure is logged and swallowed, never load-bearing.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Message is one archived chat message.
type Message struct {
	ID   string
	Role string // "user" or "agent"
	Body string
	Ts   int64
}

// Archive is the Postgres-backed message cache.
type Archive struct {
	db *sql.DB
}

// Open connects to Postgres with the given URL (postgres://...), verifies the
// connection, and applies pending migrations.
func Open(databaseURL string) (*Archive, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: postgres connection failed: %w", err)
	}

	if err := runMigrations(databaseURL); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

func runMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("history: init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// SaveMessage upserts one message for the user. Duplicate IDs (a history
// page overlapping live messages) are ignored.
func (a *Archive) SaveMessage(ctx context.Context, userID string, m Message) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO messages (id, user_id, role, body, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, userID, m.Role, m.Body, m.Ts)
	if err != nil {
		return fmt.Errorf("history: save message: %w", err)
	}
	return nil
}

// SavePage archives a fetched history page.
func (a *Archive) SavePage(ctx context.Context, userID string, msgs []Message) error {
	for _, m := range msgs {
		if err := a.SaveMessage(ctx, userID, m); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to limit of the user's newest messages in chronological
// order (oldest first).
func (a *Archive) Recent(ctx context.Context, userID string, limit int) ([]Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, body, ts FROM (
			SELECT id, role, body, ts FROM messages
			WHERE user_id = $1
			ORDER BY ts DESC
			LIMIT $2
		) newest ORDER BY ts ASC`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Body, &m.Ts); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Clear removes all archived messages for the user. Called on logout.
func (a *Archive) Clear(ctx context.Context, userID string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

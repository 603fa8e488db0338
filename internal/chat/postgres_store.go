package chat

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store using PostgreSQL. Message IDs come from
// the table's bigserial, which gives the monotonic ordering After relies on.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed message log
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, msg *Message) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO messages (sender, content, is_agent, is_mod)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, msg.Sender, msg.Content, msg.IsAgent, msg.IsModerator).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]*Message, error) {
	// newest N, flipped back to chronological order
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, sender, content, is_agent, is_mod, created_at FROM (
			SELECT id, sender, content, is_agent, is_mod, created_at
			FROM messages ORDER BY id DESC LIMIT $1
		) last ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return scanMessages(rows)
}

func (p *PostgresStore) After(ctx context.Context, after int64) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, sender, content, is_agent, is_mod, created_at
		FROM messages WHERE id > $1 ORDER BY id ASC LIMIT $2
	`, after, MaxAfterResults)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages after %d: %w", after, err)
	}
	return scanMessages(rows)
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Content, &msg.IsAgent, &msg.IsModerator, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

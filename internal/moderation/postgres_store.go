package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ban store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, ban *Ban) error {
	var key sql.NullString
	if ban.Key != "" {
		key = sql.NullString{String: ban.Key, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bans (name, key, reason, banned_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lower(name)) DO UPDATE SET
			key = EXCLUDED.key,
			reason = EXCLUDED.reason,
			banned_by = EXCLUDED.banned_by,
			created_at = EXCLUDED.created_at
	`, ban.Name, key, ban.Reason, ban.IssuedBy, ban.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ban: %w", err)
	}
	return nil
}

func (p *PostgresStore) Remove(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, `
		DELETE FROM bans WHERE lower(name) = $1
	`, strings.ToLower(name)); err != nil {
		return fmt.Errorf("failed to remove ban: %w", err)
	}
	return nil
}

func (p *PostgresStore) FindByNameOrKey(ctx context.Context, name, key string) (*Ban, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT name, key, reason, banned_by, created_at
		FROM bans
		WHERE lower(name) = $1 OR ($2 <> '' AND key = $2)
		LIMIT 1
	`, strings.ToLower(name), key)

	ban, err := scanBan(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrBanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ban: %w", err)
	}
	return ban, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Ban, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, key, reason, banned_by, created_at
		FROM bans ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	var bans []*Ban
	for rows.Next() {
		ban, err := scanBan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}
		bans = append(bans, ban)
	}
	return bans, rows.Err()
}

func scanBan(scan func(...any) error) (*Ban, error) {
	var ban Ban
	var key sql.NullString
	if err := scan(&ban.Name, &key, &ban.Reason, &ban.IssuedBy, &ban.CreatedAt); err != nil {
		return nil, err
	}
	ban.Key = key.String
	return &ban, nil
}

package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
// The accounts table carries a unique index on lower(name), so concurrent
// registrations of the same name resolve to exactly one winner at the
// constraint, not in application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, acct *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (key, name, tier, is_moderator, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acct.Key, acct.Name, acct.Tier, acct.IsModerator, acct.Active, acct.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByKey(ctx context.Context, key string) (*Account, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT key, name, tier, is_moderator, active, created_at
		FROM accounts WHERE key = $1
	`, key))
}

func (p *PostgresStore) GetByName(ctx context.Context, name string) (*Account, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT key, name, tier, is_moderator, active, created_at
		FROM accounts WHERE lower(name) = $1
	`, strings.ToLower(name)))
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Account, error) {
	var acct Account
	err := row.Scan(&acct.Key, &acct.Name, &acct.Tier, &acct.IsModerator, &acct.Active, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acct, nil
}

func (p *PostgresStore) Deactivate(ctx context.Context, name string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET active = false WHERE lower(name) = $1
	`, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) Upsert(ctx context.Context, acct *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (key, name, tier, is_moderator, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			tier = EXCLUDED.tier,
			is_moderator = EXCLUDED.is_moderator,
			active = EXCLUDED.active
	`, acct.Key, acct.Name, acct.Tier, acct.IsModerator, acct.Active, acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

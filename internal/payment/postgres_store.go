package payment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. The payments table has
// tx_ref as its primary key, which is what makes Consume race-safe.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Consume(ctx context.Context, rec *Record) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO payments (tx_ref, method, amount, verified)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, rec.TxRef, rec.Method, rec.Amount, rec.Verified).Scan(&rec.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrTxConsumed
		}
		return fmt.Errorf("failed to consume payment: %w", err)
	}
	return nil
}

func (p *PostgresStore) Release(ctx context.Context, txRef string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM payments WHERE tx_ref = $1`, txRef); err != nil {
		return fmt.Errorf("failed to release payment: %w", err)
	}
	return nil
}

func (p *PostgresStore) AttachKey(ctx context.Context, txRef, key string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments SET key = $2 WHERE tx_ref = $1
	`, txRef, key)
	if err != nil {
		return fmt.Errorf("failed to attach key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, txRef string) (*Record, error) {
	var rec Record
	var key sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT tx_ref, method, amount, key, verified, created_at
		FROM payments WHERE tx_ref = $1
	`, txRef).Scan(&rec.TxRef, &rec.Method, &rec.Amount, &key, &rec.Verified, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	rec.Key = key.String
	return &rec, nil
}

func (p *PostgresStore) CountVerified(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE verified`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}

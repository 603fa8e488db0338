package payment

import "context"

// Store is the consumed-payment ledger. Consume must enforce tx_ref
// uniqueness with a storage constraint so concurrent claims of the same
// transaction serialize to one winner.
type Store interface {
	Consume(ctx context.Context, rec *Record) error
	Release(ctx context.Context, txRef string) error
	AttachKey(ctx context.Context, txRef, key string) error
	Get(ctx context.Context, txRef string) (*Record, error)
	CountVerified(ctx context.Context) (int, error)
}

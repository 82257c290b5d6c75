package db

import (
	"context"
	"database/sql"

	"esign-backend/internal/shared/util"
)

type txCtxKey struct{}

// ContextWithTx returns a context carrying the transaction so repositories
// called within a Runner scope share it.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// QuerierFrom returns the context's transaction if one is active, otherwise
// the given pool.
func QuerierFrom(ctx context.Context, database *sql.DB) Querier {
	if tx, ok := ctx.Value(txCtxKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return database
}

// Runner executes fn inside a transaction scope serialised per lock key.
// The scope guarantees all-or-nothing semantics for the store operations fn
// performs and, when lockKey is non-empty, that no other scope holding the
// same key runs concurrently.
type Runner interface {
	InTx(ctx context.Context, lockKey string, fn func(ctx context.Context) error) error
}

// PGRunner implements Runner over a Postgres pool using transaction-scoped
// advisory locks.
type PGRunner struct {
	DB *sql.DB
}

func (r *PGRunner) InTx(ctx context.Context, lockKey string, fn func(ctx context.Context) error) error {
	return InTx(ctx, r.DB, func(tx *sql.Tx) error {
		if lockKey != "" {
			if err := AdvisoryLock(ctx, tx, lockKey); err != nil {
				return err
			}
		}
		return fn(ContextWithTx(ctx, tx))
	})
}

// MemoryRunner implements Runner for in-memory repositories. Mutations apply
// eagerly; the keyed mutex provides the per-key serialisation the append
// protocol relies on.
type MemoryRunner struct {
	Locks *util.KeyedMutex
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{Locks: util.NewKeyedMutex()}
}

func (r *MemoryRunner) InTx(ctx context.Context, lockKey string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lockKey != "" {
		unlock := r.Locks.Lock(lockKey)
		defer unlock()
	}
	return fn(ctx)
}

package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
// Repositories run every statement through a Querier so the same code works
// inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// TxManager runs a function inside a database transaction.
type TxManager interface {
	// RunInTx begins a transaction, stores it in the context passed to fn and
	// commits when fn returns nil. Any error (or panic) rolls back.
	// Calls nested inside an active transaction join it.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	// RunInSnapshot runs fn in a read-only REPEATABLE READ transaction, so
	// every query sees the same committed state. Nested calls join the
	// active transaction.
	RunInSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}

type contextKey string

const txKey contextKey = "pgxTx"

// WithTx stores a transaction in the context.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext retrieves the active transaction, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

// Querier returns the transaction carried by ctx, or the pool when there is none.
func (db *DB) Querier(ctx context.Context) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db.Pool
}

var _ TxManager = (*DB)(nil)

// RunInTx implements TxManager.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.runTx(ctx, pgx.TxOptions{}, fn)
}

// RunInSnapshot implements TxManager.
func (db *DB) RunInSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (db *DB) runTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.Pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			// The request context may already be cancelled; rollback must still reach the server.
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

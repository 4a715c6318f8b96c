// internal/repository/postgres/db.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"lingua-billing/internal/pkg/retry"
	"lingua-billing/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	_ repository.Store = (*DB)(nil)
	_ repository.Tx    = (*pgTx)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries holds every statement; it runs against the pool or a transaction.
type queries struct {
	q querier
}

type DB struct {
	queries
	pool        *pgxpool.Pool
	retry       retry.Config
	lockTimeout string
	logger      *zap.Logger
}

type pgTx struct {
	queries
}

func NewDB(pool *pgxpool.Pool, logger *zap.Logger) *DB {
	return &DB{
		queries:     queries{q: pool},
		pool:        pool,
		retry:       retry.DefaultConfig(),
		lockTimeout: "5s",
		logger:      logger,
	}
}

func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// WithinTx runs fn in a transaction, retrying a bounded number of times on
// serialization failures, deadlocks and lock timeouts.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return retry.Do(ctx, db.retry, IsRetryable, func(attempt int) error {
		if attempt > 1 {
			db.logger.Warn("retrying transaction after transient storage error", zap.Int("attempt", attempt))
		}

		tx, err := db.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+db.lockTimeout+"'"); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}

		if err := fn(ctx, &pgTx{queries{q: tx}}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// IsRetryable reports SQLSTATEs worth another attempt: serialization_failure,
// deadlock_detected and lock_not_available.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

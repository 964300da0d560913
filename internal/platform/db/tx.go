package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes treated as transient contention.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// ErrRetriesExhausted wraps the last transient failure once every attempt has been used.
var ErrRetriesExhausted = errors.New("platform/db: transaction retries exhausted")

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TxOptions tunes WithRetryTx. Zero values fall back to defaults.
type TxOptions struct {
	MaxAttempts int
	BaseBackoff time.Duration
	LockTimeout time.Duration
}

func (o TxOptions) withDefaults() TxOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	return o
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	return WithRetryTx(ctx, pool, TxOptions{MaxAttempts: 1}, fn)
}

// WithRetryTx runs fn in a RepeatableRead transaction and replays the whole unit of work when
// PostgreSQL reports lock contention, a deadlock or a serialization failure.
func WithRetryTx(ctx context.Context, pool Beginner, opts TxOptions, fn func(pgx.Tx) error) error {
	opts = opts.withDefaults()
	return Retry(ctx, opts, func(ctx context.Context) error {
		return runTx(ctx, pool, opts.LockTimeout, fn)
	})
}

// Retry calls fn until it succeeds, fails with a non-transient error, or runs out of attempts.
// Backoff doubles per attempt with jitter.
func Retry(ctx context.Context, opts TxOptions, fn func(context.Context) error) error {
	opts = opts.withDefaults()
	backoff := opts.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		wait := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// IsTransient reports whether err is a retryable contention failure.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

func runTx(ctx context.Context, pool Beginner, lockTimeout time.Duration, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

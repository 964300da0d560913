package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore remembers client supplied request keys per module together with the
// reference of the resource the first request produced.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyConflict indicates the key was claimed by a request that has not finished yet.
var ErrIdempotencyConflict = errors.New("idempotent request already in progress")

// Claim reserves key for module. When the key already completed, its reference is returned with
// done=true so callers can replay the original result.
func (s *IdempotencyStore) Claim(ctx context.Context, module, key string) (ref string, done bool, err error) {
	if s == nil || s.pool == nil {
		return "", false, errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return "", false, errors.New("idempotency module and key required")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO idempotency_keys (module, key, created_at) VALUES ($1, $2, $3)`, module, key, time.Now())
	if err == nil {
		return "", false, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false, err
	}
	var stored *string
	if err := s.pool.QueryRow(ctx, `SELECT ref FROM idempotency_keys WHERE module=$1 AND key=$2`, module, key).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, ErrIdempotencyConflict
		}
		return "", false, err
	}
	if stored == nil || *stored == "" {
		return "", false, ErrIdempotencyConflict
	}
	return *stored, true, nil
}

// Complete attaches the produced reference to a claimed key.
func (s *IdempotencyStore) Complete(ctx context.Context, module, key, ref string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET ref=$3 WHERE module=$1 AND key=$2`, module, key, ref)
	return err
}

// Release drops a claim, typically after the guarded operation failed.
func (s *IdempotencyStore) Release(ctx context.Context, module, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE module=$1 AND key=$2`, module, key)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.pool == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}

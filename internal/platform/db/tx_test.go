package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(&pgconn.PgError{Code: "55P03"}))
	require.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsTransient(&pgconn.PgError{Code: "40P01"}))
	require.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsTransient(errors.New("boom")))
}

func TestRetryReplaysTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), TxOptions{MaxAttempts: 3, BaseBackoff: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "55P03"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), TxOptions{MaxAttempts: 3, BaseBackoff: time.Millisecond}, func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, 3, calls)
}

func TestRetrySurfacesPermanentErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), TxOptions{MaxAttempts: 3, BaseBackoff: time.Millisecond}, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

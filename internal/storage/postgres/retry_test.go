package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type retryableErr struct{}

func (retryableErr) Error() string     { return "connection reset before send" }
func (retryableErr) SafeToRetry() bool { return true }

func TestRetryRead(t *testing.T) {
	logger := zap.NewNop()

	t.Run("retries transient errors until success", func(t *testing.T) {
		calls := 0
		err := retryRead(context.Background(), logger, "test", func() error {
			calls++
			if calls < 3 {
				return retryableErr{}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		calls := 0
		err := retryRead(context.Background(), logger, "test", func() error {
			calls++
			return retryableErr{}
		})
		assert.ErrorIs(t, err, retryableErr{})
		assert.Equal(t, readAttempts, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		calls := 0
		permanent := errors.New("syntax error at or near")
		err := retryRead(context.Background(), logger, "test", func() error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("does not retry no rows", func(t *testing.T) {
		calls := 0
		err := retryRead(context.Background(), logger, "test", func() error {
			calls++
			return pgx.ErrNoRows
		})
		assert.ErrorIs(t, err, pgx.ErrNoRows)
		assert.Equal(t, 1, calls)
	})
}

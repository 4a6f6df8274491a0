package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	readAttempts = 3
	readBackoff  = 50 * time.Millisecond
)

// retryRead runs an idempotent read up to readAttempts times while the failure is one pgx
// classifies as safe to retry. Writes must not go through here.
func retryRead(ctx context.Context, logger *zap.Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) || attempt == readAttempts {
			return err
		}

		logger.Warn("Transient database error, retrying read",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * readBackoff):
		}
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

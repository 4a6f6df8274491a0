package token

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *LicenseToken) (uuid.UUID, error)
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("subscription not found")

type Repository interface {
	Create(ctx context.Context, sub *Subscription) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByAPIKeyHash(ctx context.Context, keyHash string) (*Subscription, error)
}

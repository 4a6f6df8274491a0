package alert

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("security alert not found")

const MaxListLimit = 100

type Repository interface {
	Create(ctx context.Context, a *Alert) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	// List returns alerts newest first, capped at MaxListLimit.
	List(ctx context.Context, filter Filter) ([]*Alert, error)
	Resolve(ctx context.Context, id uuid.UUID, res Resolution) error
}

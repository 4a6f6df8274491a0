package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const MaxRecentLimit = 100

type Repository interface {
	Create(ctx context.Context, e *Entry) (uuid.UUID, error)
	// FindRecentOtherDevice returns the most recent entry for the key made after since by a
	// fingerprint other than the given one, or nil when there is none.
	FindRecentOtherDevice(ctx context.Context, apiKeyHash, fingerprint string, since time.Time) (*Entry, error)
	// Stats aggregates every entry of the subscription.
	Stats(ctx context.Context, subscriptionID uuid.UUID) (*Stats, error)
	// ListRecent returns the newest entries of the subscription first, capped at MaxRecentLimit.
	ListRecent(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*Entry, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

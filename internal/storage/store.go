package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/domain/token"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
)

// Store groups the licensing repositories behind one handle so a decision and its writes can
// share a transaction.
type Store interface {
	Subscriptions() subscription.Repository
	Devices() device.Repository
	Alerts() alert.Repository
	Tokens() token.Repository
	Usage() usage.Repository

	// WithSubscriptionLock runs fn while holding an exclusive lock on the subscription. The Store
	// passed to fn must be used for every read and write that belongs to the decision. An error
	// returned by fn aborts the unit of work. Returns subscription.ErrNotFound for unknown ids.
	WithSubscriptionLock(ctx context.Context, subscriptionID uuid.UUID, fn func(tx Store) error) error
}

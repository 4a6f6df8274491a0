package device

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("device activation not found")
	ErrAlreadyExists = errors.New("device already registered for subscription")
)

type Repository interface {
	Create(ctx context.Context, act *Activation) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Activation, error)
	FindByFingerprint(ctx context.Context, subscriptionID uuid.UUID, fingerprint string) (*Activation, error)
	CountActive(ctx context.Context, subscriptionID uuid.UUID) (int, error)
	// UpdateStatus persists Status, ApprovedBy, ApprovedAt and RejectionReason.
	UpdateStatus(ctx context.Context, act *Activation) error
	Touch(ctx context.Context, id uuid.UUID, ipAddress string, seenAt time.Time) error
	ListPending(ctx context.Context) ([]*PendingActivation, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Activation, error)
}

package token

import (
	"time"

	"github.com/google/uuid"
)

// LicenseToken records one issuance. Several rows may exist per device.
type LicenseToken struct {
	ID             uuid.UUID `db:"id"`
	SubscriptionID uuid.UUID `db:"subscription_id"`
	Fingerprint    string    `db:"device_fingerprint"`
	Token          string    `db:"token"`
	ExpiresAt      time.Time `db:"expires_at"`
	CreatedAt      time.Time `db:"created_at"`
}

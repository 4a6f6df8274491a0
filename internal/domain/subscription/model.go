package subscription

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Subscription is owned by billing; licensing only reads its status, seat limit and summary fields.
// APIKeyHash is the hex SHA-256 of the client's API key, the raw key is never stored.
type Subscription struct {
	ID             uuid.UUID `db:"id"`
	ClientID       uuid.UUID `db:"client_id"`
	CompanyName    string    `db:"company_name"`
	SystemName     string    `db:"system_name"`
	PlanName       string    `db:"plan_name"`
	DatabaseName   string    `db:"database_name"`
	APIKeyHash     string    `db:"api_key_hash"`
	APIKeyPrefix   string    `db:"api_key_prefix"`
	Status         Status    `db:"status"`
	MaxActivations int       `db:"max_activations"`
	StartDate      time.Time `db:"start_date"`
	EndDate        time.Time `db:"end_date"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

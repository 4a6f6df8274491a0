package usage

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one validated API call. Fingerprint is empty for calls that did not present a device.
type Entry struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SubscriptionID uuid.UUID `db:"subscription_id" json:"subscription_id"`
	APIKeyHash     string    `db:"api_key_hash" json:"-"`
	Endpoint       string    `db:"endpoint" json:"endpoint"`
	Method         string    `db:"method" json:"method"`
	IPAddress      string    `db:"ip_address" json:"ip_address"`
	UserAgent      string    `db:"user_agent" json:"user_agent"`
	Fingerprint    string    `db:"device_fingerprint" json:"device_fingerprint,omitempty"`
	RequestedAt    time.Time `db:"request_timestamp" json:"request_timestamp"`
}

// Stats aggregates a subscription's whole usage log. ActiveDays counts distinct UTC dates.
type Stats struct {
	TotalRequests int64      `json:"total_requests"`
	UniqueIPs     int64      `json:"unique_ips"`
	ActiveDays    int64      `json:"active_days"`
	LastRequest   *time.Time `json:"last_request"`
}

package device

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const DefaultDeviceName = "Unknown Device"

// Activation binds one device fingerprint to a subscription. The pair is unique and rows are
// never deleted, only moved between statuses.
type Activation struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	SubscriptionID   uuid.UUID       `db:"subscription_id" json:"subscription_id"`
	Fingerprint      string          `db:"device_fingerprint" json:"device_fingerprint"`
	DeviceName       string          `db:"device_name" json:"device_name"`
	DeviceInfo       json.RawMessage `db:"device_info" json:"device_info,omitempty"`
	Status           Status          `db:"status" json:"status"`
	IPAddress        string          `db:"ip_address" json:"ip_address"`
	FirstActivatedAt time.Time       `db:"first_activated" json:"first_activated"`
	LastSeenAt       time.Time       `db:"last_seen" json:"last_seen"`
	ApprovedBy       *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason  *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
}

// PendingActivation is an activation awaiting review, joined with the owning subscription.
type PendingActivation struct {
	Activation
	CompanyName    string `json:"company_name"`
	SystemName     string `json:"system_name"`
	MaxActivations int    `json:"max_activations"`
	ActiveCount    int    `json:"active_count"`
}

// NameFromInfo reads the optional device_name field of client supplied device metadata.
func NameFromInfo(info json.RawMessage) string {
	if len(info) == 0 {
		return DefaultDeviceName
	}
	var meta struct {
		DeviceName string `json:"device_name"`
	}
	if err := json.Unmarshal(info, &meta); err != nil || meta.DeviceName == "" {
		return DefaultDeviceName
	}
	return meta.DeviceName
}

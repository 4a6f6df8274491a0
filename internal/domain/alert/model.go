package alert

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeDeviceLimitExceeded Type = "device_limit_exceeded"
	TypeRapidActivations    Type = "rapid_activations"
	TypeConcurrentUse       Type = "concurrent_use"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

const DefaultActionTaken = "none"

// Alert is an append-only record of a policy condition firing. Only the review fields change
// after creation.
type Alert struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	SubscriptionID  uuid.UUID       `db:"subscription_id" json:"subscription_id"`
	Type            Type            `db:"alert_type" json:"alert_type"`
	Severity        Severity        `db:"severity" json:"severity"`
	Details         json.RawMessage `db:"details" json:"details"`
	Fingerprint     string          `db:"device_fingerprint" json:"device_fingerprint"`
	IPAddress       string          `db:"ip_address" json:"ip_address"`
	Status          Status          `db:"status" json:"status"`
	ReviewedBy      *string         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ActionTaken     *string         `db:"action_taken" json:"action_taken,omitempty"`
	ResolutionNotes *string         `db:"resolution_notes" json:"resolution_notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`

	CompanyName string `db:"-" json:"company_name,omitempty"`
	SystemName  string `db:"-" json:"system_name,omitempty"`
}

func New(subscriptionID uuid.UUID, typ Type, severity Severity, details any, fingerprint, ip string) (*Alert, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return &Alert{
		SubscriptionID: subscriptionID,
		Type:           typ,
		Severity:       severity,
		Details:        raw,
		Fingerprint:    fingerprint,
		IPAddress:      ip,
		Status:         StatusOpen,
	}, nil
}

type Filter struct {
	SubscriptionID *uuid.UUID
	Status         *Status
	Severity       *Severity
	Type           *Type
	Limit          int
}

type Resolution struct {
	ReviewedBy      string
	ReviewedAt      time.Time
	ActionTaken     string
	ResolutionNotes *string
}

package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/licensetoken"
)

type ActivateDeviceRequest struct {
	APIKey            string          `json:"api_key" binding:"required"`
	DeviceFingerprint string          `json:"device_fingerprint" binding:"required,max=255"`
	DeviceInfo        json.RawMessage `json:"device_info" swaggertype:"object"`
}

type ActivateDeviceResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Status    string     `json:"status"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type ValidateKeyRequest struct {
	APIKey            string          `json:"api_key" binding:"required"`
	DeviceFingerprint string          `json:"device_fingerprint" binding:"omitempty,max=255"`
	DeviceInfo        json.RawMessage `json:"device_info" swaggertype:"object"`
}

type SubscriptionSummary struct {
	ID           uuid.UUID `json:"id"`
	CompanyName  string    `json:"company_name"`
	SystemName   string    `json:"system_name"`
	DatabaseName string    `json:"database_name"`
	EndDate      time.Time `json:"end_date"`
}

func NewSubscriptionSummary(sub *subscription.Subscription) *SubscriptionSummary {
	return &SubscriptionSummary{
		ID:           sub.ID,
		CompanyName:  sub.CompanyName,
		SystemName:   sub.SystemName,
		DatabaseName: sub.DatabaseName,
		EndDate:      sub.EndDate,
	}
}

type ValidateKeyResponse struct {
	Success      bool                 `json:"success"`
	Valid        bool                 `json:"valid"`
	Token        string               `json:"token,omitempty"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
	Subscription *SubscriptionSummary `json:"subscription"`
}

// ClientErrorResponse is the failure body of the client-facing licensing routes.
type ClientErrorResponse struct {
	Success bool   `json:"success"`
	Valid   *bool  `json:"valid,omitempty"`
	Message string `json:"message"`
}

type VerifyTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type TokenPayloadResponse struct {
	SubscriptionID string    `json:"sub_id"`
	Device         string    `json:"device"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func NewTokenPayloadResponse(p *licensetoken.Payload) *TokenPayloadResponse {
	if p == nil {
		return nil
	}
	return &TokenPayloadResponse{
		SubscriptionID: p.SubscriptionID,
		Device:         p.Device,
		IssuedAt:       p.Issued(),
		ExpiresAt:      p.Expires(),
	}
}

type VerifyTokenResponse struct {
	Valid   bool                  `json:"valid"`
	Reason  string                `json:"reason,omitempty"`
	Payload *TokenPayloadResponse `json:"payload,omitempty"`
}

package dto

import (
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
)

type ListAlertsQuery struct {
	Status         string `form:"status" binding:"omitempty,oneof=open resolved"`
	Severity       string `form:"severity" binding:"omitempty,oneof=low medium high critical"`
	AlertType      string `form:"alert_type" binding:"omitempty,max=64"`
	SubscriptionID string `form:"subscription_id" binding:"omitempty,uuid"`
	Limit          int    `form:"limit" binding:"omitempty,gte=1,lte=100"`
}

type ResolveAlertRequest struct {
	ActionTaken     string  `json:"action_taken" binding:"omitempty,max=100"`
	ResolutionNotes *string `json:"resolution_notes" binding:"omitempty,max=2000"`
}

type RejectDeviceRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

type AlertListResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Alerts  []*alert.Alert `json:"alerts"`
}

type AlertResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Alert   *alert.Alert `json:"alert"`
}

type PendingDevicesResponse struct {
	Success bool                        `json:"success"`
	Count   int                         `json:"count"`
	Devices []*device.PendingActivation `json:"devices"`
}

type DeviceListResponse struct {
	Success bool                 `json:"success"`
	Count   int                  `json:"count"`
	Devices []*device.Activation `json:"devices"`
}

type DeviceDecisionResponse struct {
	Success        bool               `json:"success"`
	Message        string             `json:"message"`
	Device         *device.Activation `json:"device"`
	ActiveCount    int                `json:"active_count"`
	MaxActivations int                `json:"max_activations"`
}

type SubscriptionSecurityResponse struct {
	Success        bool                 `json:"success"`
	Subscription   *SubscriptionSummary `json:"subscription"`
	Status         subscription.Status  `json:"status"`
	PlanName       string               `json:"plan_name"`
	MaxActivations int                  `json:"max_activations"`
	ActiveCount    int                  `json:"active_count"`
	PendingCount   int                  `json:"pending_count"`
	Devices        []*device.Activation `json:"devices"`
	OpenAlerts     []*alert.Alert       `json:"open_alerts"`
}

type SubscriptionUsageResponse struct {
	Success      bool                 `json:"success"`
	Subscription *SubscriptionSummary `json:"subscription"`
	Stats        *usage.Stats         `json:"stats"`
	RecentLogs   []*usage.Entry       `json:"recent_logs"`
}

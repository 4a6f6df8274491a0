package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/handler/dto"
	"github.com/makkenzo/device-licensing-api/internal/handler/middleware"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"github.com/makkenzo/device-licensing-api/internal/service"
	"go.uber.org/zap"
)

// SecurityHandler serves the admin device review and security alert routes. Errors go through
// ErrorHandlerMiddleware.
type SecurityHandler struct {
	service *service.SecurityAdminService
	logger  *zap.Logger
}

func NewSecurityHandler(service *service.SecurityAdminService, logger *zap.Logger) *SecurityHandler {
	return &SecurityHandler{
		service: service,
		logger:  logger.Named("SecurityHandler"),
	}
}

func (h *SecurityHandler) ListAlerts(c *gin.Context) {
	var q dto.ListAlertsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err)
		return
	}

	filter := alert.Filter{Limit: q.Limit}
	if q.Status != "" {
		st := alert.Status(q.Status)
		filter.Status = &st
	}
	if q.Severity != "" {
		sev := alert.Severity(q.Severity)
		filter.Severity = &sev
	}
	if q.AlertType != "" {
		typ := alert.Type(q.AlertType)
		filter.Type = &typ
	}
	if q.SubscriptionID != "" {
		id, err := uuid.Parse(q.SubscriptionID)
		if err != nil {
			_ = c.Error(fmt.Errorf("%w: invalid subscription_id", ierr.ErrValidation))
			return
		}
		filter.SubscriptionID = &id
	}

	alerts, err := h.service.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.AlertListResponse{Success: true, Count: len(alerts), Alerts: alerts})
}

func (h *SecurityHandler) ResolveAlert(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	adminID, ok := approverID(c)
	if !ok {
		return
	}

	var req dto.ResolveAlertRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	resolved, err := h.service.ResolveAlert(c.Request.Context(), id, adminID, req.ActionTaken, req.ResolutionNotes)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.AlertResponse{Success: true, Message: "Alert resolved", Alert: resolved})
}

func (h *SecurityHandler) ListPendingDevices(c *gin.Context) {
	devices, err := h.service.ListPendingDevices(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.PendingDevicesResponse{Success: true, Count: len(devices), Devices: devices})
}

func (h *SecurityHandler) ApproveDevice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	adminID, ok := approverID(c)
	if !ok {
		return
	}

	decision, err := h.service.ApproveDevice(c.Request.Context(), id, adminID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newDecisionResponse("Device approved", decision))
}

func (h *SecurityHandler) RejectDevice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	adminID, ok := approverID(c)
	if !ok {
		return
	}

	var req dto.RejectDeviceRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	decision, err := h.service.RejectDevice(c.Request.Context(), id, req.Reason, adminID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newDecisionResponse("Device rejected", decision))
}

func (h *SecurityHandler) RevokeDevice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	adminID, ok := approverID(c)
	if !ok {
		return
	}

	decision, err := h.service.RevokeDevice(c.Request.Context(), id, adminID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newDecisionResponse("Device revoked", decision))
}

func (h *SecurityHandler) ListSubscriptionDevices(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	devices, err := h.service.ListSubscriptionDevices(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.DeviceListResponse{Success: true, Count: len(devices), Devices: devices})
}

func (h *SecurityHandler) GetSubscriptionSecurity(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	overview, err := h.service.GetSubscriptionSecurity(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.SubscriptionSecurityResponse{
		Success:        true,
		Subscription:   dto.NewSubscriptionSummary(overview.Subscription),
		Status:         overview.Subscription.Status,
		PlanName:       overview.Subscription.PlanName,
		MaxActivations: overview.Subscription.MaxActivations,
		ActiveCount:    overview.ActiveCount,
		PendingCount:   overview.PendingCount,
		Devices:        overview.Devices,
		OpenAlerts:     overview.OpenAlerts,
	})
}

func (h *SecurityHandler) GetSubscriptionUsage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	report, err := h.service.GetSubscriptionUsage(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.SubscriptionUsageResponse{
		Success:      true,
		Subscription: dto.NewSubscriptionSummary(report.Subscription),
		Stats:        report.Stats,
		RecentLogs:   report.Recent,
	})
}

func newDecisionResponse(message string, d *service.DeviceDecision) dto.DeviceDecisionResponse {
	return dto.DeviceDecisionResponse{
		Success:        true,
		Message:        message,
		Device:         d.Activation,
		ActiveCount:    d.ActiveCount,
		MaxActivations: d.MaxActivations,
	}
}

// bindOptionalJSON binds a request body whose fields are all optional. An empty body, fixed length
// or chunked, leaves obj at its zero value.
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return binding.Validator.ValidateStruct(obj)
	}
	return err
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(fmt.Errorf("%w: invalid %s format", ierr.ErrValidation, name))
		return uuid.Nil, false
	}
	return id, true
}

func approverID(c *gin.Context) (string, bool) {
	claims := middleware.GetAdminClaims(c)
	if claims == nil || claims.AdminID == "" {
		_ = c.Error(fmt.Errorf("%w: admin identity missing", ierr.ErrUnauthorized))
		return "", false
	}
	return claims.AdminID, true
}

package handler

import (
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/handler/dto"
	"github.com/makkenzo/device-licensing-api/internal/handler/middleware"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"github.com/makkenzo/device-licensing-api/internal/licensetoken"
	"github.com/makkenzo/device-licensing-api/internal/service"
	"go.uber.org/zap"
)

// LicensingHandler serves the routes called by licensed client applications.
type LicensingHandler struct {
	service *service.ActivationService
	logger  *zap.Logger
}

func NewLicensingHandler(service *service.ActivationService, logger *zap.Logger) *LicensingHandler {
	return &LicensingHandler{
		service: service,
		logger:  logger.Named("LicensingHandler"),
	}
}

func (h *LicensingHandler) ActivateDevice(c *gin.Context) {
	var req dto.ActivateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Failed to bind activation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ClientErrorResponse{Message: "API key and device fingerprint are required"})
		return
	}

	res, err := h.service.ActivateDevice(c.Request.Context(), service.ActivateDeviceInput{
		APIKey:      req.APIKey,
		Fingerprint: req.DeviceFingerprint,
		DeviceInfo:  req.DeviceInfo,
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		h.respondError(c, err, nil)
		return
	}

	status := http.StatusOK
	if res.Status == device.StatusPending {
		status = http.StatusAccepted
	}

	c.JSON(status, dto.ActivateDeviceResponse{
		Success:   true,
		Message:   res.Message,
		Status:    string(res.Status),
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *LicensingHandler) ValidateKey(c *gin.Context) {
	invalid := false

	var req dto.ValidateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Failed to bind validation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ClientErrorResponse{Valid: &invalid, Message: "API key is required"})
		return
	}

	res, err := h.service.ValidateAPIKey(c.Request.Context(), service.ValidateInput{
		APIKey:      req.APIKey,
		Fingerprint: req.DeviceFingerprint,
		DeviceInfo:  req.DeviceInfo,
		IPAddress:   c.ClientIP(),
		Path:        c.Request.URL.Path,
		Method:      c.Request.Method,
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		h.respondError(c, err, &invalid)
		return
	}

	c.JSON(http.StatusOK, dto.ValidateKeyResponse{
		Success:      true,
		Valid:        true,
		Token:        res.Token,
		ExpiresAt:    res.ExpiresAt,
		Subscription: dto.NewSubscriptionSummary(res.Subscription),
	})
}

func (h *LicensingHandler) VerifyToken(c *gin.Context) {
	var req dto.VerifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.VerifyTokenResponse{Reason: "Token is required"})
		return
	}

	payload, err := h.service.VerifyToken(c.Request.Context(), req.Token)
	if err != nil {
		if !errors.Is(err, ierr.ErrInvalidToken) {
			h.respondError(c, err, nil)
			return
		}
		resp := dto.VerifyTokenResponse{Reason: ierr.Message(err)}
		if errors.Is(err, licensetoken.ErrTokenExpired) {
			resp.Payload = dto.NewTokenPayloadResponse(payload)
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	c.JSON(http.StatusOK, dto.VerifyTokenResponse{
		Valid:   true,
		Payload: dto.NewTokenPayloadResponse(payload),
	})
}

func (h *LicensingHandler) respondError(c *gin.Context, err error, valid *bool) {
	status, _ := middleware.StatusForError(err)

	message := "An unexpected error occurred."
	if status >= http.StatusInternalServerError {
		h.logger.Error("Licensing request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		message = capitalize(ierr.Message(err))
	}

	c.JSON(status, dto.ClientErrorResponse{Valid: valid, Message: message})
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

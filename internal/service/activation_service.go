package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/makkenzo/device-licensing-api/internal/config"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/domain/token"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"github.com/makkenzo/device-licensing-api/internal/licensetoken"
	"github.com/makkenzo/device-licensing-api/internal/metrics"
	"github.com/makkenzo/device-licensing-api/internal/storage"
	"github.com/makkenzo/device-licensing-api/internal/util"
	"go.uber.org/zap"
)

const defaultConcurrentUseWindow = time.Hour

type ActivateDeviceInput struct {
	APIKey      string
	Fingerprint string
	DeviceInfo  json.RawMessage
	IPAddress   string
}

type ActivateDeviceResult struct {
	Status    device.Status
	Message   string
	Token     string
	ExpiresAt *time.Time
}

type ValidateInput struct {
	APIKey      string
	Fingerprint string
	DeviceInfo  json.RawMessage
	IPAddress   string
	Path        string
	Method      string
	UserAgent   string
}

type ValidateResult struct {
	Subscription   *subscription.Subscription
	Token          string
	ExpiresAt      *time.Time
	ConcurrentUse  bool
	DeviceVerified bool
}

type ActivationService struct {
	store    storage.Store
	issuer   *licensetoken.Issuer
	notifier AlertNotifier
	window   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewActivationService(store storage.Store, issuer *licensetoken.Issuer, notifier AlertNotifier, cfg config.LicenseConfig, logger *zap.Logger) *ActivationService {
	window := cfg.ConcurrentUseWindow
	if window <= 0 {
		window = defaultConcurrentUseWindow
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ActivationService{
		store:    store,
		issuer:   issuer,
		notifier: notifier,
		window:   window,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Named("ActivationService"),
	}
}

// WithClock replaces the service clock.
func (s *ActivationService) WithClock(now func() time.Time) *ActivationService {
	s.now = now
	return s
}

func (s *ActivationService) resolveSubscription(ctx context.Context, apiKey string) (*subscription.Subscription, error) {
	sub, err := s.store.Subscriptions().FindByAPIKeyHash(ctx, util.HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			s.logger.Info("Unknown API key presented", zap.String("prefix", util.APIKeyPrefix(apiKey)))
			return nil, fmt.Errorf("%w: invalid or inactive API key", ierr.ErrUnauthorized)
		}
		return nil, fmt.Errorf("lookup subscription by api key: %w", err)
	}
	if !sub.IsActive() {
		s.logger.Info("Inactive subscription presented", zap.String("subscription_id", sub.ID.String()), zap.String("status", string(sub.Status)))
		return nil, fmt.Errorf("%w: invalid or inactive API key", ierr.ErrUnauthorized)
	}
	return sub, nil
}

// ActivateDevice binds a fingerprint to the subscription behind the API key. The seat check and
// the insert happen under the subscription lock, so concurrent activations cannot both take the
// last seat.
func (s *ActivationService) ActivateDevice(ctx context.Context, in ActivateDeviceInput) (*ActivateDeviceResult, error) {
	if in.APIKey == "" || in.Fingerprint == "" {
		return nil, fmt.Errorf("%w: API key and device fingerprint are required", ierr.ErrValidation)
	}

	sub, err := s.resolveSubscription(ctx, in.APIKey)
	if err != nil {
		metrics.DeviceActivations.WithLabelValues("unauthorized").Inc()
		return nil, err
	}

	log := s.logger.With(zap.String("subscription_id", sub.ID.String()), zap.String("fingerprint", in.Fingerprint))

	var (
		result  *ActivateDeviceResult
		denial  error
		created []*alert.Alert
	)

	err = s.store.WithSubscriptionLock(ctx, sub.ID, func(tx storage.Store) error {
		existing, err := tx.Devices().FindByFingerprint(ctx, sub.ID, in.Fingerprint)
		switch {
		case err == nil:
			result, denial = existingDeviceOutcome(existing)
			return nil
		case errors.Is(err, device.ErrNotFound):
		default:
			return fmt.Errorf("lookup device activation: %w", err)
		}

		activeCount, err := tx.Devices().CountActive(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("count active devices: %w", err)
		}

		if activeCount >= sub.MaxActivations {
			a, err := alert.New(sub.ID, alert.TypeDeviceLimitExceeded, alert.SeverityHigh, map[string]any{
				"message":       "Device limit exceeded",
				"current_count": activeCount,
				"max_allowed":   sub.MaxActivations,
				"new_device":    in.DeviceInfo,
			}, in.Fingerprint, in.IPAddress)
			if err != nil {
				return err
			}
			if _, err := tx.Alerts().Create(ctx, a); err != nil {
				return fmt.Errorf("record device limit alert: %w", err)
			}
			created = append(created, a)
			denial = fmt.Errorf("%w: device activation limit reached (%d devices maximum). Please contact support or deactivate an existing device",
				ierr.ErrForbidden, sub.MaxActivations)
			return nil
		}

		event := device.EventRequestApproval
		if activeCount == 0 {
			event = device.EventAutoApprove
		}
		status, err := device.Transition(device.StatusAbsent, event)
		if err != nil {
			return err
		}

		now := s.now()
		act := &device.Activation{
			SubscriptionID:   sub.ID,
			Fingerprint:      in.Fingerprint,
			DeviceName:       device.NameFromInfo(in.DeviceInfo),
			DeviceInfo:       in.DeviceInfo,
			Status:           status,
			IPAddress:        in.IPAddress,
			FirstActivatedAt: now,
			LastSeenAt:       now,
		}
		if _, err := tx.Devices().Create(ctx, act); err != nil {
			return fmt.Errorf("create device activation: %w", err)
		}

		if status == device.StatusActive {
			result = &ActivateDeviceResult{Status: device.StatusActive, Message: "Device activated successfully"}
			return nil
		}

		a, err := alert.New(sub.ID, alert.TypeRapidActivations, alert.SeverityMedium, map[string]any{
			"message":     "New device activation request",
			"device_info": in.DeviceInfo,
			"company":     sub.CompanyName,
		}, in.Fingerprint, in.IPAddress)
		if err != nil {
			return err
		}
		if _, err := tx.Alerts().Create(ctx, a); err != nil {
			return fmt.Errorf("record activation request alert: %w", err)
		}
		created = append(created, a)
		result = &ActivateDeviceResult{Status: device.StatusPending, Message: "Device activation request submitted. Awaiting admin approval."}
		return nil
	})
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or inactive API key", ierr.ErrUnauthorized)
		}
		log.Error("Device activation failed", zap.Error(err))
		metrics.DeviceActivations.WithLabelValues("error").Inc()
		return nil, err
	}

	s.notify(ctx, created)

	if denial != nil {
		log.Warn("Device activation denied", zap.String("reason", ierr.Message(denial)))
		metrics.DeviceActivations.WithLabelValues("denied").Inc()
		return nil, denial
	}

	if result.Status == device.StatusActive {
		issued, err := s.issueToken(ctx, sub, in.Fingerprint)
		if err != nil {
			return nil, err
		}
		expires := issued.Payload.Expires()
		result.Token = issued.Token
		result.ExpiresAt = &expires
	}

	log.Info("Device activation processed", zap.String("status", string(result.Status)), zap.String("message", result.Message))
	metrics.DeviceActivations.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

func existingDeviceOutcome(existing *device.Activation) (*ActivateDeviceResult, error) {
	switch existing.Status {
	case device.StatusActive:
		return &ActivateDeviceResult{Status: device.StatusActive, Message: "Device already activated"}, nil
	case device.StatusPending:
		return &ActivateDeviceResult{Status: device.StatusPending, Message: "Device activation is pending admin approval"}, nil
	case device.StatusRejected:
		return nil, fmt.Errorf("%w: device activation was rejected by administrator", ierr.ErrForbidden)
	case device.StatusRevoked:
		return nil, fmt.Errorf("%w: device access has been revoked", ierr.ErrForbidden)
	}
	return nil, fmt.Errorf("%w: device is in unknown state %q", ierr.ErrForbidden, existing.Status)
}

// ValidateAPIKey re-checks the key and, when a fingerprint is presented, the device binding. Every
// successful call is logged and a fingerprinted call gets a fresh license token. Concurrent use is
// recorded as an alert but does not fail the call.
func (s *ActivationService) ValidateAPIKey(ctx context.Context, in ValidateInput) (*ValidateResult, error) {
	if in.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ierr.ErrValidation)
	}

	sub, err := s.resolveSubscription(ctx, in.APIKey)
	if err != nil {
		metrics.KeyValidations.WithLabelValues("unauthorized").Inc()
		return nil, err
	}

	now := s.now()
	keyHash := util.HashAPIKey(in.APIKey)
	result := &ValidateResult{Subscription: sub}

	if in.Fingerprint != "" {
		dev, err := s.store.Devices().FindByFingerprint(ctx, sub.ID, in.Fingerprint)
		if err != nil {
			if errors.Is(err, device.ErrNotFound) {
				metrics.KeyValidations.WithLabelValues("device_not_activated").Inc()
				return nil, fmt.Errorf("%w: device not activated. Please activate this device first", ierr.ErrForbidden)
			}
			return nil, fmt.Errorf("lookup device activation: %w", err)
		}

		if dev.Status != device.StatusActive {
			metrics.KeyValidations.WithLabelValues("device_" + string(dev.Status)).Inc()
			switch dev.Status {
			case device.StatusPending:
				return nil, fmt.Errorf("%w: device activation is pending admin approval", ierr.ErrForbidden)
			case device.StatusRejected:
				return nil, fmt.Errorf("%w: device has been rejected by administrator", ierr.ErrForbidden)
			case device.StatusRevoked:
				return nil, fmt.Errorf("%w: device access has been revoked", ierr.ErrForbidden)
			default:
				return nil, fmt.Errorf("%w: device is not active", ierr.ErrForbidden)
			}
		}

		if err := s.store.Devices().Touch(ctx, dev.ID, in.IPAddress, now); err != nil {
			return nil, fmt.Errorf("update device last seen: %w", err)
		}
		result.DeviceVerified = true

		concurrent, err := s.detectConcurrentUse(ctx, sub, keyHash, in, now)
		if err != nil {
			return nil, err
		}
		result.ConcurrentUse = concurrent
	}

	entry := &usage.Entry{
		SubscriptionID: sub.ID,
		APIKeyHash:     keyHash,
		Endpoint:       in.Path,
		Method:         in.Method,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		Fingerprint:    in.Fingerprint,
		RequestedAt:    now,
	}
	if _, err := s.store.Usage().Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("record api usage: %w", err)
	}

	if in.Fingerprint != "" {
		issued, err := s.issueToken(ctx, sub, in.Fingerprint)
		if err != nil {
			return nil, err
		}
		expires := issued.Payload.Expires()
		result.Token = issued.Token
		result.ExpiresAt = &expires
	}

	metrics.KeyValidations.WithLabelValues("valid").Inc()
	s.logger.Debug("API key validated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("fingerprint", in.Fingerprint),
		zap.Bool("concurrent_use", result.ConcurrentUse),
	)
	return result, nil
}

func (s *ActivationService) detectConcurrentUse(ctx context.Context, sub *subscription.Subscription, keyHash string, in ValidateInput, now time.Time) (bool, error) {
	other, err := s.store.Usage().FindRecentOtherDevice(ctx, keyHash, in.Fingerprint, now.Add(-s.window))
	if err != nil {
		return false, fmt.Errorf("query recent usage: %w", err)
	}
	if other == nil {
		return false, nil
	}

	minutes := int(math.Round(now.Sub(other.RequestedAt).Minutes()))
	a, err := alert.New(sub.ID, alert.TypeConcurrentUse, alert.SeverityCritical, map[string]any{
		"message":           "Concurrent use detected",
		"current_device":    in.Fingerprint,
		"current_ip":        in.IPAddress,
		"other_device":      other.Fingerprint,
		"other_ip":          other.IPAddress,
		"time_diff_minutes": minutes,
	}, in.Fingerprint, in.IPAddress)
	if err != nil {
		return false, err
	}
	if _, err := s.store.Alerts().Create(ctx, a); err != nil {
		return false, fmt.Errorf("record concurrent use alert: %w", err)
	}

	s.logger.Warn("Concurrent use detected",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("current_device", in.Fingerprint),
		zap.String("other_device", other.Fingerprint),
		zap.Int("time_diff_minutes", minutes),
	)
	s.notify(ctx, []*alert.Alert{a})
	return true, nil
}

func (s *ActivationService) issueToken(ctx context.Context, sub *subscription.Subscription, fingerprint string) (*licensetoken.Issued, error) {
	issued, err := s.issuer.Issue(sub.ID, fingerprint, s.now())
	if err != nil {
		return nil, fmt.Errorf("issue license token: %w", err)
	}

	record := &token.LicenseToken{
		SubscriptionID: sub.ID,
		Fingerprint:    fingerprint,
		Token:          issued.Token,
		ExpiresAt:      issued.Payload.Expires(),
	}
	if _, err := s.store.Tokens().Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist license token: %w", err)
	}

	metrics.TokensIssued.Inc()
	return issued, nil
}

// VerifyToken checks a license token's signature and expiry. An expired token is returned with
// its payload alongside the error.
func (s *ActivationService) VerifyToken(ctx context.Context, tok string) (*licensetoken.Payload, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: token is required", ierr.ErrValidation)
	}
	payload, err := s.issuer.Verify(tok, s.now())
	if err != nil {
		return payload, fmt.Errorf("%w: %w", ierr.ErrInvalidToken, err)
	}
	return payload, nil
}

func (s *ActivationService) notify(ctx context.Context, alerts []*alert.Alert) {
	for _, a := range alerts {
		metrics.SecurityAlerts.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		if err := s.notifier.Notify(ctx, a); err != nil {
			s.logger.Error("Failed to dispatch security alert notification",
				zap.String("alert_id", a.ID.String()),
				zap.String("alert_type", string(a.Type)),
				zap.Error(err),
			)
		}
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"github.com/makkenzo/device-licensing-api/internal/storage"
	"go.uber.org/zap"
)

const DefaultRejectionReason = "Rejected by administrator"

// DeviceDecision is the outcome of an admin action on a device. ActiveCount is recomputed after
// the change within the same transaction.
type DeviceDecision struct {
	Activation     *device.Activation
	ActiveCount    int
	MaxActivations int
}

type SubscriptionSecurity struct {
	Subscription *subscription.Subscription
	Devices      []*device.Activation
	OpenAlerts   []*alert.Alert
	ActiveCount  int
	PendingCount int
}

type SubscriptionUsage struct {
	Subscription *subscription.Subscription
	Stats        *usage.Stats
	Recent       []*usage.Entry
}

type SecurityAdminService struct {
	store  storage.Store
	now    func() time.Time
	logger *zap.Logger
}

func NewSecurityAdminService(store storage.Store, logger *zap.Logger) *SecurityAdminService {
	return &SecurityAdminService{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("SecurityAdminService"),
	}
}

func (s *SecurityAdminService) WithClock(now func() time.Time) *SecurityAdminService {
	s.now = now
	return s
}

// ApproveDevice activates a pending, rejected or revoked device. Approval is an operator override
// and does not re-check the seat limit.
func (s *SecurityAdminService) ApproveDevice(ctx context.Context, activationID uuid.UUID, approverID string) (*DeviceDecision, error) {
	decision, err := s.decide(ctx, activationID, device.EventApprove, func(act *device.Activation, now time.Time) {
		act.ApprovedBy = &approverID
		act.ApprovedAt = &now
		act.RejectionReason = nil
	})
	if err != nil {
		return nil, err
	}

	if decision.ActiveCount > decision.MaxActivations {
		s.logger.Warn("Approved device exceeds subscription seat limit",
			zap.String("activation_id", activationID.String()),
			zap.String("subscription_id", decision.Activation.SubscriptionID.String()),
			zap.Int("active_count", decision.ActiveCount),
			zap.Int("max_activations", decision.MaxActivations),
		)
	}
	return decision, nil
}

func (s *SecurityAdminService) RejectDevice(ctx context.Context, activationID uuid.UUID, reason, approverID string) (*DeviceDecision, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectionReason
	}
	return s.decide(ctx, activationID, device.EventReject, func(act *device.Activation, now time.Time) {
		act.ApprovedBy = &approverID
		act.ApprovedAt = &now
		act.RejectionReason = &reason
	})
}

func (s *SecurityAdminService) RevokeDevice(ctx context.Context, activationID uuid.UUID, approverID string) (*DeviceDecision, error) {
	return s.decide(ctx, activationID, device.EventRevoke, func(act *device.Activation, now time.Time) {
		act.ApprovedBy = &approverID
		act.ApprovedAt = &now
	})
}

func (s *SecurityAdminService) decide(ctx context.Context, activationID uuid.UUID, event device.Event, apply func(*device.Activation, time.Time)) (*DeviceDecision, error) {
	current, err := s.store.Devices().FindByID(ctx, activationID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return nil, fmt.Errorf("%w: device activation %s not found", ierr.ErrNotFound, activationID)
		}
		return nil, fmt.Errorf("lookup device activation: %w", err)
	}

	var decision *DeviceDecision
	err = s.store.WithSubscriptionLock(ctx, current.SubscriptionID, func(tx storage.Store) error {
		act, err := tx.Devices().FindByID(ctx, activationID)
		if err != nil {
			return err
		}

		next, err := device.Transition(act.Status, event)
		if err != nil {
			return fmt.Errorf("%w: cannot %s a device that is %s", ierr.ErrConflict, event, act.Status)
		}

		act.Status = next
		apply(act, s.now())
		if err := tx.Devices().UpdateStatus(ctx, act); err != nil {
			return fmt.Errorf("update device status: %w", err)
		}

		count, err := tx.Devices().CountActive(ctx, act.SubscriptionID)
		if err != nil {
			return fmt.Errorf("count active devices: %w", err)
		}
		sub, err := tx.Subscriptions().FindByID(ctx, act.SubscriptionID)
		if err != nil {
			return fmt.Errorf("lookup subscription: %w", err)
		}

		decision = &DeviceDecision{Activation: act, ActiveCount: count, MaxActivations: sub.MaxActivations}
		return nil
	})
	if err != nil {
		if errors.Is(err, device.ErrNotFound) || errors.Is(err, subscription.ErrNotFound) {
			return nil, fmt.Errorf("%w: device activation %s not found", ierr.ErrNotFound, activationID)
		}
		if !errors.Is(err, ierr.ErrConflict) {
			s.logger.Error("Device decision failed", zap.String("activation_id", activationID.String()), zap.String("event", string(event)), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Device decision applied",
		zap.String("activation_id", activationID.String()),
		zap.String("event", string(event)),
		zap.String("status", string(decision.Activation.Status)),
		zap.Int("active_count", decision.ActiveCount),
	)
	return decision, nil
}

func (s *SecurityAdminService) ListPendingDevices(ctx context.Context) ([]*device.PendingActivation, error) {
	return s.store.Devices().ListPending(ctx)
}

func (s *SecurityAdminService) ListSubscriptionDevices(ctx context.Context, subscriptionID uuid.UUID) ([]*device.Activation, error) {
	if _, err := s.findSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return s.store.Devices().ListBySubscription(ctx, subscriptionID)
}

func (s *SecurityAdminService) ListAlerts(ctx context.Context, filter alert.Filter) ([]*alert.Alert, error) {
	if filter.Limit <= 0 || filter.Limit > alert.MaxListLimit {
		filter.Limit = alert.MaxListLimit
	}
	return s.store.Alerts().List(ctx, filter)
}

func (s *SecurityAdminService) ResolveAlert(ctx context.Context, alertID uuid.UUID, reviewerID, actionTaken string, notes *string) (*alert.Alert, error) {
	actionTaken = strings.TrimSpace(actionTaken)
	if actionTaken == "" {
		actionTaken = alert.DefaultActionTaken
	}

	err := s.store.Alerts().Resolve(ctx, alertID, alert.Resolution{
		ReviewedBy:      reviewerID,
		ReviewedAt:      s.now(),
		ActionTaken:     actionTaken,
		ResolutionNotes: notes,
	})
	if err != nil {
		if errors.Is(err, alert.ErrNotFound) {
			return nil, fmt.Errorf("%w: security alert %s not found", ierr.ErrNotFound, alertID)
		}
		return nil, fmt.Errorf("resolve security alert: %w", err)
	}

	s.logger.Info("Security alert resolved",
		zap.String("alert_id", alertID.String()),
		zap.String("reviewed_by", reviewerID),
		zap.String("action_taken", actionTaken),
	)
	return s.store.Alerts().FindByID(ctx, alertID)
}

// GetSubscriptionSecurity summarizes seat usage, devices and open alerts for one subscription.
func (s *SecurityAdminService) GetSubscriptionSecurity(ctx context.Context, subscriptionID uuid.UUID) (*SubscriptionSecurity, error) {
	sub, err := s.findSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	devices, err := s.store.Devices().ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	open := alert.StatusOpen
	alerts, err := s.store.Alerts().List(ctx, alert.Filter{SubscriptionID: &subscriptionID, Status: &open, Limit: alert.MaxListLimit})
	if err != nil {
		return nil, err
	}

	out := &SubscriptionSecurity{Subscription: sub, Devices: devices, OpenAlerts: alerts}
	for _, d := range devices {
		switch d.Status {
		case device.StatusActive:
			out.ActiveCount++
		case device.StatusPending:
			out.PendingCount++
		}
	}
	return out, nil
}

// GetSubscriptionUsage reads back the usage log written by key validations: aggregate counters
// plus the most recent entries.
func (s *SecurityAdminService) GetSubscriptionUsage(ctx context.Context, subscriptionID uuid.UUID) (*SubscriptionUsage, error) {
	sub, err := s.findSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	stats, err := s.store.Usage().Stats(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}

	recent, err := s.store.Usage().ListRecent(ctx, subscriptionID, usage.MaxRecentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}

	return &SubscriptionUsage{Subscription: sub, Stats: stats, Recent: recent}, nil
}

func (s *SecurityAdminService) findSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil, fmt.Errorf("%w: subscription %s not found", ierr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lookup subscription: %w", err)
	}
	return sub, nil
}

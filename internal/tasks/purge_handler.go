package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/device-licensing-api/internal/metrics"
	"github.com/makkenzo/device-licensing-api/internal/storage"
	"go.uber.org/zap"
)

// PurgeHandler removes license tokens that expired more than tokenRetention ago and usage log
// entries older than usageRetention.
type PurgeHandler struct {
	store          storage.Store
	tokenRetention time.Duration
	usageRetention time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func NewPurgeHandler(store storage.Store, tokenRetention, usageRetention time.Duration, logger *zap.Logger) *PurgeHandler {
	return &PurgeHandler{
		store:          store,
		tokenRetention: tokenRetention,
		usageRetention: usageRetention,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger.Named("PurgeHandler"),
	}
}

func (h *PurgeHandler) WithClock(now func() time.Time) *PurgeHandler {
	h.now = now
	return h
}

func (h *PurgeHandler) ProcessTokenPurge(ctx context.Context, t *asynq.Task) error {
	if err := h.checkTask(t, TypeTokenPurge); err != nil {
		return err
	}

	cutoff := h.now().Add(-h.tokenRetention)
	h.logger.Info("Purging expired license tokens...", zap.Time("expired_before", cutoff))

	deleted, err := h.store.Tokens().DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		h.logger.Error("Failed to purge expired license tokens", zap.Error(err))
		return fmt.Errorf("repository error purging tokens: %w", err)
	}

	metrics.PurgedRows.WithLabelValues("license_tokens").Add(float64(deleted))
	h.logger.Info("License token purge finished", zap.Int64("deleted", deleted))
	return nil
}

func (h *PurgeHandler) ProcessUsagePurge(ctx context.Context, t *asynq.Task) error {
	if err := h.checkTask(t, TypeUsagePurge); err != nil {
		return err
	}

	cutoff := h.now().Add(-h.usageRetention)
	h.logger.Info("Purging old API usage entries...", zap.Time("older_than", cutoff))

	deleted, err := h.store.Usage().DeleteOlderThan(ctx, cutoff)
	if err != nil {
		h.logger.Error("Failed to purge API usage entries", zap.Error(err))
		return fmt.Errorf("repository error purging usage logs: %w", err)
	}

	metrics.PurgedRows.WithLabelValues("api_usage_logs").Add(float64(deleted))
	h.logger.Info("API usage purge finished", zap.Int64("deleted", deleted))
	return nil
}

func (h *PurgeHandler) checkTask(t *asynq.Task, want string) error {
	if t.Type() != want {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p PurgePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal payload for purge task", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

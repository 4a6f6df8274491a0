package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/events"
	"go.uber.org/zap"
)

// AlertNotifyHandler forwards security alerts to the event publisher, keyed by subscription so
// a subscription's alerts stay ordered within a partition.
type AlertNotifyHandler struct {
	publisher events.Publisher
	logger    *zap.Logger
}

func NewAlertNotifyHandler(publisher events.Publisher, logger *zap.Logger) *AlertNotifyHandler {
	return &AlertNotifyHandler{
		publisher: publisher,
		logger:    logger.Named("AlertNotifyHandler"),
	}
}

func (h *AlertNotifyHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeAlertNotify {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p AlertNotifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.Alert == nil {
		h.logger.Error("Failed to unmarshal payload for alert notification task", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}

	event, err := json.Marshal(p.Alert)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}

	if err := h.publisher.Publish(ctx, events.EventSecurityAlertCreated, event, p.Alert.SubscriptionID.String()); err != nil {
		h.logger.Warn("Failed to publish security alert, will retry",
			zap.String("alert_id", p.Alert.ID.String()),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("Security alert published",
		zap.String("alert_id", p.Alert.ID.String()),
		zap.String("alert_type", string(p.Alert.Type)),
		zap.String("severity", string(p.Alert.Severity)),
	)
	return nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AlertEnqueuer hands committed alerts to the worker queue.
type AlertEnqueuer struct {
	client Enqueuer
	logger *zap.Logger
}

func NewAlertEnqueuer(client Enqueuer, logger *zap.Logger) *AlertEnqueuer {
	return &AlertEnqueuer{
		client: client,
		logger: logger.Named("AlertEnqueuer"),
	}
}

func (e *AlertEnqueuer) Notify(ctx context.Context, a *alert.Alert) error {
	task, err := NewAlertNotifyTask(a)
	if err != nil {
		return fmt.Errorf("build alert notify task: %w", err)
	}

	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue alert notify task: %w", err)
	}

	e.logger.Debug("Alert notification enqueued",
		zap.String("alert_id", a.ID.String()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return nil
}

package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
)

const (
	TypeTokenPurge  = "license:tokens:purge"
	TypeUsagePurge  = "usage:logs:purge"
	TypeAlertNotify = "security:alert:notify"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type PurgePayload struct{}

// AlertNotifyPayload carries a committed alert to the notification handler.
type AlertNotifyPayload struct {
	Alert *alert.Alert `json:"alert"`
}

func NewTokenPurgeTask(opts ...asynq.Option) (*asynq.Task, error) {
	return newPurgeTask(TypeTokenPurge, opts...)
}

func NewUsagePurgeTask(opts ...asynq.Option) (*asynq.Task, error) {
	return newPurgeTask(TypeUsagePurge, opts...)
}

func newPurgeTask(typename string, opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(PurgePayload{})
	if err != nil {
		return nil, err
	}

	allOpts := append(opts, asynq.Unique(1*time.Hour), asynq.Queue(QueueLow))
	return asynq.NewTask(typename, payloadBytes, allOpts...), nil
}

// NewAlertNotifyTask routes critical alerts to the critical queue.
func NewAlertNotifyTask(a *alert.Alert, opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(AlertNotifyPayload{Alert: a})
	if err != nil {
		return nil, err
	}

	allOpts := append(opts, asynq.Queue(queueFor(a.Severity)), asynq.MaxRetry(5))
	return asynq.NewTask(TypeAlertNotify, payloadBytes, allOpts...), nil
}

func queueFor(severity alert.Severity) string {
	if severity == alert.SeverityCritical {
		return QueueCritical
	}
	return QueueDefault
}

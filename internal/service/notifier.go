package service

import (
	"context"

	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
)

// AlertNotifier fans a freshly committed security alert out to operators. Failures are logged by
// the caller and never fail the request that raised the alert.
type AlertNotifier interface {
	Notify(ctx context.Context, a *alert.Alert) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *alert.Alert) error { return nil }

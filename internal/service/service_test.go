package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/makkenzo/device-licensing-api/internal/config"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/licensetoken"
	"github.com/makkenzo/device-licensing-api/internal/storage/memstorage"
	"github.com/makkenzo/device-licensing-api/internal/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a *alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type testEnv struct {
	store      *memstorage.Store
	clock      *testClock
	notifier   *recordingNotifier
	activation *ActivationService
	admin      *SecurityAdminService
	issuer     *licensetoken.Issuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := memstorage.NewStore()
	store.SetClock(clock.Now)

	issuer, err := licensetoken.NewIssuer("test-token-secret", licensetoken.DefaultTTL)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	logger := zap.NewNop()

	return &testEnv{
		store:    store,
		clock:    clock,
		notifier: notifier,
		issuer:   issuer,
		activation: NewActivationService(store, issuer, notifier, config.LicenseConfig{ConcurrentUseWindow: time.Hour}, logger).
			WithClock(clock.Now),
		admin: NewSecurityAdminService(store, logger).WithClock(clock.Now),
	}
}

// seedSubscription creates a subscription and returns it with its raw API key.
func (e *testEnv) seedSubscription(t *testing.T, maxActivations int, status subscription.Status) (*subscription.Subscription, string) {
	t.Helper()

	key, prefix, hash, err := util.GenerateAPIKey()
	require.NoError(t, err)

	now := e.clock.Now()
	sub := &subscription.Subscription{
		CompanyName:    "Acme Logistics",
		SystemName:     "Fleet Desk",
		PlanName:       "standard",
		DatabaseName:   "acme_fleet",
		APIKeyHash:     hash,
		APIKeyPrefix:   prefix,
		Status:         status,
		MaxActivations: maxActivations,
		StartDate:      now.AddDate(0, -1, 0),
		EndDate:        now.AddDate(1, 0, 0),
	}
	_, err = e.store.Subscriptions().Create(context.Background(), sub)
	require.NoError(t, err)
	return sub, key
}

func (e *testEnv) alertsOfType(t *testing.T, typ alert.Type) []*alert.Alert {
	t.Helper()
	list, err := e.store.Alerts().List(context.Background(), alert.Filter{Type: &typ})
	require.NoError(t, err)
	return list
}

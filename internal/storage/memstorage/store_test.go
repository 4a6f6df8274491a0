package memstorage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/domain/token"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
	"github.com/makkenzo/device-licensing-api/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAbort = errors.New("abort")

type fixture struct {
	store   *Store
	sub     *subscription.Subscription
	dev     *device.Activation
	alertID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewStore()

	sub := &subscription.Subscription{
		CompanyName:    "Contoso",
		SystemName:     "Inventory",
		APIKeyHash:     "hash-1",
		APIKeyPrefix:   "sk_test",
		Status:         subscription.StatusActive,
		MaxActivations: 1,
		StartDate:      time.Now().AddDate(0, -1, 0),
		EndDate:        time.Now().AddDate(1, 0, 0),
	}
	_, err := store.Subscriptions().Create(ctx, sub)
	require.NoError(t, err)

	dev := &device.Activation{SubscriptionID: sub.ID, Fingerprint: "fp-a", Status: device.StatusPending}
	_, err = store.Devices().Create(ctx, dev)
	require.NoError(t, err)

	a, err := alert.New(sub.ID, alert.TypeDeviceLimitExceeded, alert.SeverityHigh, map[string]int{"max": 1}, "fp-a", "10.0.0.1")
	require.NoError(t, err)
	alertID, err := store.Alerts().Create(ctx, a)
	require.NoError(t, err)

	return &fixture{store: store, sub: sub, dev: dev, alertID: alertID}
}

func TestWithSubscriptionLock_RollsBackOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	err := f.store.WithSubscriptionLock(ctx, f.sub.ID, func(tx storage.Store) error {
		_, err := tx.Devices().Create(ctx, &device.Activation{SubscriptionID: f.sub.ID, Fingerprint: "fp-b", Status: device.StatusPending})
		require.NoError(t, err)

		a, err := alert.New(f.sub.ID, alert.TypeRapidActivations, alert.SeverityMedium, nil, "fp-b", "10.0.0.2")
		require.NoError(t, err)
		_, err = tx.Alerts().Create(ctx, a)
		require.NoError(t, err)

		approved := *f.dev
		approved.Status = device.StatusActive
		require.NoError(t, tx.Devices().UpdateStatus(ctx, &approved))
		require.NoError(t, tx.Devices().Touch(ctx, f.dev.ID, "10.0.0.9", now))

		require.NoError(t, tx.Alerts().Resolve(ctx, f.alertID, alert.Resolution{ReviewedBy: "admin", ReviewedAt: now, ActionTaken: "approved"}))

		_, err = tx.Tokens().Create(ctx, &token.LicenseToken{SubscriptionID: f.sub.ID, Fingerprint: "fp-a", Token: "t", ExpiresAt: now.Add(time.Hour)})
		require.NoError(t, err)
		_, err = tx.Usage().Create(ctx, &usage.Entry{SubscriptionID: f.sub.ID, IPAddress: "10.0.0.9", RequestedAt: now})
		require.NoError(t, err)

		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	_, err = f.store.Devices().FindByFingerprint(ctx, f.sub.ID, "fp-b")
	assert.ErrorIs(t, err, device.ErrNotFound)

	dev, err := f.store.Devices().FindByID(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusPending, dev.Status)
	assert.Empty(t, dev.IPAddress)

	alerts, err := f.store.Alerts().List(ctx, alert.Filter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.StatusOpen, alerts[0].Status)
	assert.Nil(t, alerts[0].ReviewedBy)

	assert.Zero(t, f.store.TokenCount(f.sub.ID, "fp-a"))
	assert.Empty(t, f.store.UsageEntries())
}

func TestWithSubscriptionLock_CommitsOnSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.WithSubscriptionLock(ctx, f.sub.ID, func(tx storage.Store) error {
		approved := *f.dev
		approved.Status = device.StatusActive
		return tx.Devices().UpdateStatus(ctx, &approved)
	})
	require.NoError(t, err)

	n, err := f.store.Devices().CountActive(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithSubscriptionLock_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown subscription", func(t *testing.T) {
		err := f.store.WithSubscriptionLock(ctx, uuid.New(), func(storage.Store) error { return nil })
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("nested lock", func(t *testing.T) {
		err := f.store.WithSubscriptionLock(ctx, f.sub.ID, func(tx storage.Store) error {
			return tx.WithSubscriptionLock(ctx, f.sub.ID, func(storage.Store) error { return nil })
		})
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		called := false
		err := f.store.WithSubscriptionLock(cctx, f.sub.ID, func(storage.Store) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestUsageRepo_StatsAndListRecent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		_, err := f.store.Usage().Create(ctx, &usage.Entry{
			SubscriptionID: f.sub.ID,
			IPAddress:      ip,
			RequestedAt:    base.Add(time.Duration(i) * 90 * time.Minute),
		})
		require.NoError(t, err)
	}

	stats, err := f.store.Usage().Stats(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalRequests)
	assert.EqualValues(t, 2, stats.UniqueIPs)
	assert.EqualValues(t, 2, stats.ActiveDays)
	require.NotNil(t, stats.LastRequest)
	assert.Equal(t, base.Add(3*time.Hour), *stats.LastRequest)

	recent, err := f.store.Usage().ListRecent(ctx, f.sub.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, base.Add(3*time.Hour), recent[0].RequestedAt)
	assert.Equal(t, base.Add(90*time.Minute), recent[1].RequestedAt)
}

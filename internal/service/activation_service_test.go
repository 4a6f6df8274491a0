package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"github.com/makkenzo/device-licensing-api/internal/licensetoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activate(t *testing.T, env *testEnv, key, fingerprint string) (*ActivateDeviceResult, error) {
	t.Helper()
	return env.activation.ActivateDevice(context.Background(), ActivateDeviceInput{
		APIKey:      key,
		Fingerprint: fingerprint,
		DeviceInfo:  json.RawMessage(fmt.Sprintf(`{"device_name":"%s-laptop","os":"windows"}`, fingerprint)),
		IPAddress:   "203.0.113.10",
	})
}

func validate(env *testEnv, key, fingerprint, ip string) (*ValidateResult, error) {
	return env.activation.ValidateAPIKey(context.Background(), ValidateInput{
		APIKey:      key,
		Fingerprint: fingerprint,
		IPAddress:   ip,
		Path:        "/api/v1/saas/validate-key",
		Method:      "POST",
		UserAgent:   "fleet-desk/3.2",
	})
}

func TestActivateDevice_SeatLimitScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, key := env.seedSubscription(t, 1, subscription.StatusActive)

	resA, err := activate(t, env, key, "device-a")
	require.NoError(t, err)
	assert.Equal(t, device.StatusActive, resA.Status)
	assert.NotEmpty(t, resA.Token)
	require.NotNil(t, resA.ExpiresAt)

	count, err := env.store.Devices().CountActive(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	resB, err := activate(t, env, key, "device-b")
	require.NoError(t, err)
	assert.Equal(t, device.StatusPending, resB.Status)
	assert.Empty(t, resB.Token)
	assert.Len(t, env.alertsOfType(t, alert.TypeRapidActivations), 1)

	_, err = activate(t, env, key, "device-c")
	require.Error(t, err)
	assert.ErrorIs(t, err, ierr.ErrForbidden)
	assert.Contains(t, ierr.Message(err), "limit reached (1 devices maximum)")

	limitAlerts := env.alertsOfType(t, alert.TypeDeviceLimitExceeded)
	require.Len(t, limitAlerts, 1)
	assert.Equal(t, alert.SeverityHigh, limitAlerts[0].Severity)
	assert.Equal(t, "device-c", limitAlerts[0].Fingerprint)

	var details map[string]any
	require.NoError(t, json.Unmarshal(limitAlerts[0].Details, &details))
	assert.EqualValues(t, 1, details["current_count"])
	assert.EqualValues(t, 1, details["max_allowed"])

	_, err = env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-c")
	assert.ErrorIs(t, err, device.ErrNotFound)

	assert.Equal(t, 2, env.notifier.Count(), "rapid activation and limit alerts are dispatched")

	t.Run("approving the pending device overrides the seat limit", func(t *testing.T) {
		b, err := env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-b")
		require.NoError(t, err)

		decision, err := env.admin.ApproveDevice(ctx, b.ID, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, device.StatusActive, decision.Activation.Status)
		assert.Equal(t, 2, decision.ActiveCount)
		assert.Equal(t, 1, decision.MaxActivations)
	})
}

func TestActivateDevice_ReactivationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, key := env.seedSubscription(t, 2, subscription.StatusActive)

	first, err := activate(t, env, key, "device-a")
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	second, err := activate(t, env, key, "device-a")
	require.NoError(t, err)

	assert.Equal(t, device.StatusActive, second.Status)
	assert.Equal(t, "Device already activated", second.Message)
	assert.NotEmpty(t, second.Token)
	assert.NotEqual(t, first.Token, second.Token)

	devices, err := env.store.Devices().ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	all, err := env.store.Alerts().List(ctx, alert.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 2, env.store.TokenCount(sub.ID, "device-a"))
}

func TestActivateDevice_PendingIsNotDuplicated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, key := env.seedSubscription(t, 3, subscription.StatusActive)

	_, err := activate(t, env, key, "device-a")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := activate(t, env, key, "device-b")
		require.NoError(t, err)
		assert.Equal(t, device.StatusPending, res.Status)
	}

	devices, err := env.store.Devices().ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Len(t, env.alertsOfType(t, alert.TypeRapidActivations), 1)
}

func TestActivateDevice_RejectedCannotReactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, key := env.seedSubscription(t, 3, subscription.StatusActive)

	_, err := activate(t, env, key, "device-a")
	require.NoError(t, err)
	_, err = activate(t, env, key, "device-b")
	require.NoError(t, err)

	b, err := env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-b")
	require.NoError(t, err)
	decision, err := env.admin.RejectDevice(ctx, b.ID, "", "admin-1")
	require.NoError(t, err)
	require.NotNil(t, decision.Activation.RejectionReason)
	assert.Equal(t, DefaultRejectionReason, *decision.Activation.RejectionReason)

	for i := 0; i < 3; i++ {
		_, err = activate(t, env, key, "device-b")
		assert.ErrorIs(t, err, ierr.ErrForbidden)
	}

	b, err = env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-b")
	require.NoError(t, err)
	assert.Equal(t, device.StatusRejected, b.Status)

	t.Run("revoked devices are refused too", func(t *testing.T) {
		a, err := env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-a")
		require.NoError(t, err)
		_, err = env.admin.RevokeDevice(ctx, a.ID, "admin-1")
		require.NoError(t, err)

		_, err = activate(t, env, key, "device-a")
		assert.ErrorIs(t, err, ierr.ErrForbidden)
		assert.Contains(t, ierr.Message(err), "revoked")
	})
}

func TestActivateDevice_ConcurrentRequestsRespectSeatLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, key := env.seedSubscription(t, 1, subscription.StatusActive)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		forbidden int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.activation.ActivateDevice(ctx, ActivateDeviceInput{
				APIKey:      key,
				Fingerprint: fmt.Sprintf("device-%02d", i),
				IPAddress:   "198.51.100.7",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Status == device.StatusActive:
				succeeded++
			case err != nil && isForbidden(err):
				forbidden++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, forbidden)

	count, err := env.store.Devices().CountActive(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, env.alertsOfType(t, alert.TypeDeviceLimitExceeded), attempts-1)
}

func isForbidden(err error) bool {
	return errors.Is(err, ierr.ErrForbidden)
}

func TestActivateDevice_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	_, key := env.seedSubscription(t, 1, subscription.StatusActive)
	_, cancelledKey := env.seedSubscription(t, 1, subscription.StatusCancelled)

	tests := []struct {
		name        string
		key         string
		fingerprint string
		want        error
	}{
		{name: "missing key", key: "", fingerprint: "device-a", want: ierr.ErrValidation},
		{name: "missing fingerprint", key: key, fingerprint: "", want: ierr.ErrValidation},
		{name: "unknown key", key: "sk_unknown_key", fingerprint: "device-a", want: ierr.ErrUnauthorized},
		{name: "inactive subscription", key: cancelledKey, fingerprint: "device-a", want: ierr.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := activate(t, env, tt.key, tt.fingerprint)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateAPIKey_DeviceStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, key := env.seedSubscription(t, 3, subscription.StatusActive)

	_, err := activate(t, env, key, "device-a")
	require.NoError(t, err)
	_, err = activate(t, env, key, "device-pending")
	require.NoError(t, err)
	_, err = activate(t, env, key, "device-rejected")
	require.NoError(t, err)

	rejected, err := env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-rejected")
	require.NoError(t, err)
	_, err = env.admin.RejectDevice(ctx, rejected.ID, "unknown machine", "admin-1")
	require.NoError(t, err)

	env.clock.Advance(10 * time.Minute)

	for _, fp := range []string{"device-pending", "device-rejected", "device-missing"} {
		t.Run(fp+" is forbidden", func(t *testing.T) {
			before, _ := env.store.Devices().FindByFingerprint(ctx, sub.ID, fp)

			_, err := validate(env, key, fp, "192.0.2.44")
			assert.ErrorIs(t, err, ierr.ErrForbidden)

			if before != nil {
				after, err := env.store.Devices().FindByFingerprint(ctx, sub.ID, fp)
				require.NoError(t, err)
				assert.Equal(t, before.LastSeenAt, after.LastSeenAt)
				assert.Equal(t, before.IPAddress, after.IPAddress)
			}
		})
	}

	t.Run("active device is touched and receives a token", func(t *testing.T) {
		res, err := validate(env, key, "device-a", "192.0.2.44")
		require.NoError(t, err)
		assert.True(t, res.DeviceVerified)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, sub.ID, res.Subscription.ID)
		assert.Equal(t, "acme_fleet", res.Subscription.DatabaseName)

		a, err := env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-a")
		require.NoError(t, err)
		assert.Equal(t, env.clock.Now(), a.LastSeenAt)
		assert.Equal(t, "192.0.2.44", a.IPAddress)
	})

	t.Run("no fingerprint skips device checks", func(t *testing.T) {
		res, err := validate(env, key, "", "192.0.2.50")
		require.NoError(t, err)
		assert.False(t, res.DeviceVerified)
		assert.Empty(t, res.Token)

		entries := env.store.UsageEntries()
		require.NotEmpty(t, entries)
		last := entries[len(entries)-1]
		assert.Empty(t, last.Fingerprint)
		assert.Equal(t, "/api/v1/saas/validate-key", last.Endpoint)
		assert.NotEqual(t, key, last.APIKeyHash)
	})

	t.Run("unknown key is unauthorized", func(t *testing.T) {
		_, err := validate(env, "sk_nope_nope", "device-a", "192.0.2.44")
		assert.ErrorIs(t, err, ierr.ErrUnauthorized)
	})
}

func TestValidateAPIKey_ConcurrentUseIsFlaggedNotBlocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, key := env.seedSubscription(t, 2, subscription.StatusActive)

	_, err := activate(t, env, key, "device-a")
	require.NoError(t, err)
	_, err = activate(t, env, key, "device-b")
	require.NoError(t, err)
	b, err := env.store.Devices().FindByFingerprint(ctx, sub.ID, "device-b")
	require.NoError(t, err)
	_, err = env.admin.ApproveDevice(ctx, b.ID, "admin-1")
	require.NoError(t, err)

	first, err := validate(env, key, "device-a", "10.1.1.1")
	require.NoError(t, err)
	assert.False(t, first.ConcurrentUse)

	env.clock.Advance(10 * time.Minute)
	second, err := validate(env, key, "device-b", "10.2.2.2")
	require.NoError(t, err)
	assert.True(t, second.ConcurrentUse)
	assert.NotEmpty(t, second.Token)

	alerts := env.alertsOfType(t, alert.TypeConcurrentUse)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.SeverityCritical, alerts[0].Severity)

	var details map[string]any
	require.NoError(t, json.Unmarshal(alerts[0].Details, &details))
	assert.Equal(t, "device-b", details["current_device"])
	assert.Equal(t, "device-a", details["other_device"])
	assert.Equal(t, "10.1.1.1", details["other_ip"])
	assert.EqualValues(t, 10, details["time_diff_minutes"])

	t.Run("outside the window nothing is flagged", func(t *testing.T) {
		env.clock.Advance(2 * time.Hour)
		res, err := validate(env, key, "device-a", "10.1.1.1")
		require.NoError(t, err)
		assert.False(t, res.ConcurrentUse)
		assert.Len(t, env.alertsOfType(t, alert.TypeConcurrentUse), 1)
	})
}

func TestVerifyToken(t *testing.T) {
	env := newTestEnv(t)
	sub, key := env.seedSubscription(t, 1, subscription.StatusActive)

	res, err := activate(t, env, key, "device-a")
	require.NoError(t, err)

	payload, err := env.activation.VerifyToken(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, sub.ID.String(), payload.SubscriptionID)
	assert.Equal(t, "device-a", payload.Device)
	assert.Equal(t, licensetoken.DefaultTTL.Milliseconds(), payload.ExpiresAt-payload.IssuedAt)

	env.clock.Advance(licensetoken.DefaultTTL + time.Second)
	_, err = env.activation.VerifyToken(context.Background(), res.Token)
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)

	_, err = env.activation.VerifyToken(context.Background(), "")
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

package licensetoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueRoundTrip(t *testing.T) {
	issuer, err := NewIssuer("test-secret", DefaultTTL)
	require.NoError(t, err)

	subID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issued, err := issuer.Issue(subID, "device-a", now)
	require.NoError(t, err)

	parts := strings.Split(issued.Token, ".")
	require.Len(t, parts, 2)

	raw, err := base64.StdEncoding.DecodeString(parts[0])
	require.NoError(t, err)

	var payload Payload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, subID.String(), payload.SubscriptionID)
	assert.Equal(t, "device-a", payload.Device)
	assert.Equal(t, int64(604_800_000), payload.ExpiresAt-payload.IssuedAt)
	assert.Len(t, parts[1], 64)

	verified, err := issuer.Verify(issued.Token, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, payload, *verified)
}

func TestVerifyRejections(t *testing.T) {
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issued, err := issuer.Issue(uuid.New(), "device-a", now)
	require.NoError(t, err)

	other, err := NewIssuer("other-secret", time.Hour)
	require.NoError(t, err)

	body, sig, _ := strings.Cut(issued.Token, ".")
	forgedPayload := base64.StdEncoding.EncodeToString([]byte(`{"sub_id":"x","device":"y","issued":0,"expires":9999999999999}`))

	tests := []struct {
		name    string
		issuer  *Issuer
		token   string
		at      time.Time
		wantErr error
	}{
		{name: "empty", issuer: issuer, token: "", at: now, wantErr: ErrMalformedToken},
		{name: "no separator", issuer: issuer, token: body, at: now, wantErr: ErrMalformedToken},
		{name: "non hex signature", issuer: issuer, token: body + ".zz", at: now, wantErr: ErrMalformedToken},
		{name: "wrong secret", issuer: other, token: issued.Token, at: now, wantErr: ErrInvalidSignature},
		{name: "swapped body", issuer: issuer, token: forgedPayload + "." + sig, at: now, wantErr: ErrInvalidSignature},
		{name: "expired", issuer: issuer, token: issued.Token, at: now.Add(time.Hour + time.Millisecond), wantErr: ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.issuer.Verify(tt.token, tt.at)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyAtExactExpiry(t *testing.T) {
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	now := time.UnixMilli(1_700_000_000_000)

	issued, err := issuer.Issue(uuid.New(), "device-a", now)
	require.NoError(t, err)

	_, err = issuer.Verify(issued.Token, now.Add(time.Hour))
	assert.NoError(t, err)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	assert.Error(t, err)
}

// Package licensetoken issues and verifies the signed, time-boxed tokens handed to activated
// devices.
//
// Wire format: base64(JSON payload) + "." + hex(HMAC-SHA256(secret, base64 body)). The body is
// only encoded, so anyone holding a token can read its payload; integrity comes from the MAC.
package licensetoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrMalformedToken   = errors.New("malformed license token")
	ErrInvalidSignature = errors.New("license token signature mismatch")
	ErrTokenExpired     = errors.New("license token expired")
)

// Payload timestamps are Unix milliseconds.
type Payload struct {
	SubscriptionID string `json:"sub_id"`
	Device         string `json:"device"`
	IssuedAt       int64  `json:"issued"`
	ExpiresAt      int64  `json:"expires"`
}

func (p Payload) Issued() time.Time {
	return time.UnixMilli(p.IssuedAt).UTC()
}

func (p Payload) Expires() time.Time {
	return time.UnixMilli(p.ExpiresAt).UTC()
}

type Issued struct {
	Token   string
	Payload Payload
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("license token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) Issue(subscriptionID uuid.UUID, fingerprint string, now time.Time) (*Issued, error) {
	issued := now.UnixMilli()
	payload := Payload{
		SubscriptionID: subscriptionID.String(),
		Device:         fingerprint,
		IssuedAt:       issued,
		ExpiresAt:      issued + i.ttl.Milliseconds(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal license token payload: %w", err)
	}

	body := base64.StdEncoding.EncodeToString(raw)
	return &Issued{
		Token:   body + "." + i.sign(body),
		Payload: payload,
	}, nil
}

// Verify checks the MAC in constant time before trusting any payload field, then rejects
// tokens whose expiry is before now.
func (i *Issuer) Verify(tok string, now time.Time) (*Payload, error) {
	sep := strings.LastIndexByte(tok, '.')
	if sep <= 0 || sep == len(tok)-1 {
		return nil, ErrMalformedToken
	}
	body, sig := tok[:sep], tok[sep+1:]

	gotMAC, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex", ErrMalformedToken)
	}
	if !hmac.Equal(gotMAC, i.mac(body)) {
		return nil, ErrInvalidSignature
	}

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: body is not base64", ErrMalformedToken)
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if now.UnixMilli() > payload.ExpiresAt {
		return &payload, ErrTokenExpired
	}
	return &payload, nil
}

func (i *Issuer) mac(body string) []byte {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(body))
	return h.Sum(nil)
}

func (i *Issuer) sign(body string) string {
	return hex.EncodeToString(i.mac(body))
}

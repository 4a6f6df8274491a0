package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/device-licensing-api/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingLimiter struct {
	keys    []string
	allowed bool
	err     error
}

func (l *recordingLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.keys = append(l.keys, key)
	return l.allowed, 300 * time.Millisecond, l.err
}

func newLimitedRouter(limiter Limiter, keyFn KeyFunc) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seenBody string

	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, "saas", keyFn, zap.NewNop()))
	router.POST("/echo", func(c *gin.Context) {
		raw, _ := io.ReadAll(c.Request.Body)
		seenBody = string(raw)
		c.Status(http.StatusNoContent)
	})
	return router, &seenBody
}

func TestRateLimitMiddleware_Keys(t *testing.T) {
	const body = `{"api_key":"sk_abc_secret","device_fingerprint":"fp-a"}`

	tests := []struct {
		name   string
		keyFn  KeyFunc
		header string
		ctype  string
		want   string
	}{
		{"ip by default", nil, "", "application/json", "saas:ip:192.0.2.1"},
		{"api key from body", APIKeyOrIPKey, "", "application/json", "saas:key:" + util.HashAPIKey("sk_abc_secret")},
		{"api key header wins", APIKeyOrIPKey, "sk_hdr_secret", "application/json", "saas:key:" + util.HashAPIKey("sk_hdr_secret")},
		{"non json body falls back to ip", APIKeyOrIPKey, "", "text/plain", "saas:ip:192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &recordingLimiter{allowed: true}
			router, seenBody := newLimitedRouter(limiter, tt.keyFn)

			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body))
			req.RemoteAddr = "192.0.2.1:4321"
			req.Header.Set("Content-Type", tt.ctype)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			require.Len(t, limiter.keys, 1)
			assert.Equal(t, tt.want, limiter.keys[0])
			assert.Equal(t, body, *seenBody)
		})
	}
}

func TestRateLimitMiddleware_Rejects(t *testing.T) {
	router, _ := newLimitedRouter(&recordingLimiter{allowed: false}, nil)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"message":"Too many requests, please try again later.","retry_after":1}`, w.Body.String())
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	router, _ := newLimitedRouter(&recordingLimiter{err: errors.New("redis down")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/makkenzo/device-licensing-api/internal/metrics"
	"github.com/makkenzo/device-licensing-api/internal/util"
	"go.uber.org/zap"
)

// Limiter is implemented by redis.SlidingWindowLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

const (
	apiKeyHeader      = "X-API-Key"
	maxPeekedBodySize = 64 << 10
)

// KeyFunc returns the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ClientIPKey buckets requests by caller IP.
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// APIKeyOrIPKey buckets requests by the hash of the API key they carry, from the X-API-Key header
// or the api_key field of a JSON body, and falls back to the caller IP. The body is restored for
// the handler.
func APIKeyOrIPKey(c *gin.Context) string {
	apiKey := c.GetHeader(apiKeyHeader)
	if apiKey == "" {
		apiKey = peekAPIKey(c)
	}
	if apiKey == "" {
		return ClientIPKey(c)
	}
	return "key:" + util.HashAPIKey(apiKey)
}

func peekAPIKey(c *gin.Context) string {
	if c.Request.Body == nil || c.ContentType() != binding.MIMEJSON {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekedBodySize))
	c.Request.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), c.Request.Body), c.Request.Body}
	if err != nil {
		return ""
	}

	var body struct {
		APIKey string `json:"api_key"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.APIKey
}

// RateLimitMiddleware limits requests within scope, bucketed by keyFn (caller IP when nil).
// Limiter failures let the request through.
func RateLimitMiddleware(limiter Limiter, scope string, keyFn KeyFunc, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("RateLimitMiddleware")
	if keyFn == nil {
		keyFn = ClientIPKey
	}
	return func(c *gin.Context) {
		key := scope + ":" + keyFn(c)

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Error("Rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			metrics.RateLimited.WithLabelValues(scope).Inc()
			log.Info("Request rate limited", zap.String("key", key), zap.Int("retry_after", seconds))

			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"message":     "Too many requests, please try again later.",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}

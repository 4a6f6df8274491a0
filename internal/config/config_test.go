package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
license:
  tokenSecret: file-secret
  concurrentUseWindow: 30m
auth:
  jwtSecret: jwt-secret
worker:
  purgeSchedule: "@every 1h"
`), 0o600))

	t.Setenv("LICENSE_TOKENTTL", "48h")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.License.TokenSecret)
	assert.Equal(t, 48*time.Hour, cfg.License.TokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.License.ConcurrentUseWindow)
	assert.Equal(t, "@every 1h", cfg.Worker.PurgeSchedule)
	assert.Equal(t, 90*24*time.Hour, cfg.Worker.UsageRetention)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.MaxRequests)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			License:   LicenseConfig{TokenSecret: "s", TokenTTL: time.Hour},
			Auth:      AuthConfig{JWTSecret: "j"},
			RateLimit: RateLimitConfig{Enabled: true, MaxRequests: 10},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing token secret", func(c *Config) { c.License.TokenSecret = "" }},
		{"non positive ttl", func(c *Config) { c.License.TokenTTL = 0 }},
		{"no admin auth", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"rate limit without budget", func(c *Config) { c.RateLimit.MaxRequests = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("oidc replaces local secret", func(t *testing.T) {
		c := valid()
		c.Auth.JWTSecret = ""
		c.Auth.OIDCIssuerURL = "https://issuer.example.com"
		assert.NoError(t, c.Validate())
	})
}

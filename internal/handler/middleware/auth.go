package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"github.com/makkenzo/device-licensing-api/internal/service"
	"go.uber.org/zap"
)

const (
	authorizationHeader   = "Authorization"
	bearerPrefix          = "Bearer "
	adminClaimsContextKey = "adminClaims"
)

// TokenValidator is implemented by service.AuthService.
type TokenValidator interface {
	ValidateToken(ctx context.Context, rawToken string) (*service.AdminClaims, error)
}

func AuthMiddleware(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		authHeader := c.GetHeader(authorizationHeader)
		if authHeader == "" {
			log.Debug("Authorization header is missing")
			_ = c.Error(fmt.Errorf("%w: authorization header required", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, bearerPrefix) {
			log.Debug("Authorization header format is invalid")
			_ = c.Error(fmt.Errorf("%w: invalid authorization header format", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		if tokenString == "" {
			log.Debug("Token is missing after Bearer prefix")
			_ = c.Error(fmt.Errorf("%w: token missing", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			log.Warn("Token validation failed", zap.Error(err))
			_ = c.Error(err)
			c.Abort()
			return
		}

		log.Debug("Admin token validated", zap.String("admin_id", claims.AdminID))
		c.Set(adminClaimsContextKey, claims)

		c.Next()
	}
}

func GetAdminClaims(c *gin.Context) *service.AdminClaims {
	value, exists := c.Get(adminClaimsContextKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*service.AdminClaims)
	if !ok {
		return nil
	}
	return claims
}

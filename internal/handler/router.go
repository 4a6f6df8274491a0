package handler

import (
	"github.com/gin-gonic/gin"
)

type Routes struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	Licensing *LicensingHandler
	Security  *SecurityHandler

	// AdminAuth guards the /admin group. ClientRateLimit, when set, guards the client routes.
	AdminAuth       gin.HandlerFunc
	ClientRateLimit gin.HandlerFunc
}

func RegisterRoutes(router gin.IRouter, r Routes) {
	if r.Health != nil {
		router.GET("/healthz", r.Health.Check)
	}

	apiV1 := router.Group("/api/v1")

	authRoutes := apiV1.Group("/auth")
	{
		authRoutes.POST("/login", r.Auth.Login)
	}

	saasRoutes := apiV1.Group("/saas")
	if r.ClientRateLimit != nil {
		saasRoutes.Use(r.ClientRateLimit)
	}
	{
		saasRoutes.POST("/activate-device", r.Licensing.ActivateDevice)
		saasRoutes.POST("/validate-key", r.Licensing.ValidateKey)
		saasRoutes.POST("/verify-token", r.Licensing.VerifyToken)
	}

	securityRoutes := apiV1.Group("/admin/security")
	securityRoutes.Use(r.AdminAuth)
	{
		securityRoutes.GET("/alerts", r.Security.ListAlerts)
		securityRoutes.POST("/alerts/:id/resolve", r.Security.ResolveAlert)

		securityRoutes.GET("/devices", r.Security.ListPendingDevices)
		securityRoutes.POST("/devices/:id/approve", r.Security.ApproveDevice)
		securityRoutes.POST("/devices/:id/reject", r.Security.RejectDevice)
		securityRoutes.POST("/devices/:id/revoke", r.Security.RevokeDevice)

		securityRoutes.GET("/subscriptions/:id", r.Security.GetSubscriptionSecurity)
		securityRoutes.GET("/subscriptions/:id/devices", r.Security.ListSubscriptionDevices)
		securityRoutes.GET("/subscriptions/:id/usage", r.Security.GetSubscriptionUsage)
	}
}

package server

import (
	"context"
	"net/http"
	"time"

	"timesheet-auth-svc/src/internal/dependency"
	"timesheet-auth-svc/src/internal/session"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 3 * time.Second

func SetupRoutes(deps *dependency.Manager) {
	router := deps.Router
	router.Use(enableCORS)

	setupHealthEndpoint(deps)
	setupPublicRoutes(router, deps)
	setupSessionRoutes(router, deps)
	setupAdminRoutes(router, deps)
}

func setupHealthEndpoint(deps *dependency.Manager) {
	router := deps.Router
	cfg := deps.Config

	router.GET("/health", func(c *gin.Context) {
		log.Debug("Health check endpoint requested")

		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		sessionStatus := deps.SessionStore.Health(ctx)
		userStatus := getStatus(isUserStoreConnected(ctx, deps))

		status, code := "ok", http.StatusOK
		if sessionStatus != session.Healthy || userStatus != "connected" {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":       status,
			"service":      cfg.App.Name,
			"version":      cfg.App.Version,
			"sessionStore": sessionStatus,
			"userStore":    userStatus,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	router.GET("/health/database", func(c *gin.Context) {
		log.Debug("Database health check endpoint requested")

		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		connected := isUserStoreConnected(ctx, deps)
		code := http.StatusOK
		if !connected {
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"service": cfg.App.Name,
			"components": gin.H{
				"database": gin.H{
					"driver": cfg.Database.Driver,
					"status": getStatus(connected),
				},
			},
		})
	})
}

func setupPublicRoutes(router *gin.Engine, deps *dependency.Manager) {
	handler := deps.AuthHandler

	router.GET("/api/login", setRouteName("login"), handler.Login)
	router.POST("/saml/acs", setRouteName("assertionConsumer"), handler.AssertionConsumer)
	router.GET("/api/logout", setRouteName("logout"), handler.Logout)
}

func setupSessionRoutes(router *gin.Engine, deps *dependency.Manager) {
	authMiddleware := deps.AuthMiddleware
	handler := deps.AuthHandler

	sessions := router.Group("/api/sessions")
	{
		sessions.GET("/current",
			setRouteName("currentSession"),
			authMiddleware.RequireAuth(),
			handler.CurrentSession)

		sessions.POST("/extend",
			setRouteName("extendSession"),
			authMiddleware.RequireAuth(),
			handler.ExtendSession)
	}
}

func setupAdminRoutes(router *gin.Engine, deps *dependency.Manager) {
	authMiddleware := deps.AuthMiddleware
	adminHandler := deps.AdminHandler
	userHandler := deps.UserHandler

	// Apply route name FIRST, then auth middlewares
	admin := router.Group("/api/admin")
	{
		admin.GET("/sessions/stats",
			setRouteName("getSessionStats"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			adminHandler.GetSessionStats)

		admin.GET("/sessions/active",
			setRouteName("getActiveSessions"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			adminHandler.GetActiveSessions)

		admin.POST("/sessions/revoke/:targetUserId",
			setRouteName("revokeUserSessions"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			adminHandler.RevokeUserSessions)

		admin.PATCH("/users/:id/activate",
			setRouteName("activateUser"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			userHandler.ActivateUser)

		admin.PATCH("/users/:id/deactivate",
			setRouteName("deactivateUser"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireAdminRights(),
			userHandler.DeactivateUser)
	}
}

func setRouteName(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("route_name", name)
		c.Next()
	}
}

func isUserStoreConnected(ctx context.Context, deps *dependency.Manager) bool {
	if err := deps.UserService.Ping(ctx); err != nil {
		log.WithError(err).Warn("User store health check failed")
		return false
	}
	return true
}

func enableCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}

	c.Next()
}

func getStatus(b bool) string {
	if b {
		return "connected"
	}
	return "disconnected"
}

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/backend/internal/handlers"
	"github.com/huangang/taskhub/backend/internal/middleware"
	"github.com/huangang/taskhub/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics(svc.registry))

	limited := svc.limiter.Middleware()

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", limited, svc.authHandler.Login)
			auth.POST("/refresh", limited, svc.authHandler.Refresh)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.DELETE("/auth/me", svc.authHandler.DeleteAccount)
			protected.POST("/auth/logout", svc.authHandler.Logout)

			protected.GET("/roles", svc.roleHandler.List)
			protected.GET("/roles/:id", svc.roleHandler.GetByID)

			// Projects
			protected.GET("/projects", svc.projectHandler.List)
			protected.POST("/projects", svc.projectHandler.Create)
			protected.GET("/projects/:id", svc.projectHandler.GetByID)
			protected.PUT("/projects/:id", svc.projectHandler.Update)
			protected.DELETE("/projects/:id", svc.projectHandler.Delete)

			// Membership
			protected.GET("/projects/:id/members", svc.memberHandler.List)
			protected.POST("/projects/:id/assign-role", svc.memberHandler.AssignRole)
			protected.POST("/projects/:id/kick", svc.memberHandler.Kick)
			protected.POST("/projects/:id/leave", svc.memberHandler.Leave)

			// Share links
			protected.GET("/projects/:id/share-links", svc.shareLinkHandler.List)
			protected.POST("/projects/:id/share-links", svc.shareLinkHandler.Create)
			protected.DELETE("/projects/:id/share-links/:linkID", svc.shareLinkHandler.Delete)
			protected.POST("/projects/:id/share-links/:linkID/deactivate", svc.shareLinkHandler.Deactivate)
			protected.POST("/projects/join/:token", limited, svc.shareLinkHandler.Join)

			// Audit trail
			protected.GET("/projects/:id/audit-logs", svc.systemLogHandler.ListForProject)
		}
	}
}
